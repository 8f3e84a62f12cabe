//go:build windows

package procinfo

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// memFree is windows.h's MEM_FREE; x/sys/windows defines the MEM_COMMIT/
// MEM_RESERVE states but not this one since it never needs to recognize
// a free region.
const memFree = 0x10000

type windowsSource struct{}

func newPlatformSource() source { return windowsSource{} }

// readRegions walks the address space with VirtualQuery, the same call
// Dk2014-hinako/hinako.go and other_examples's memmod_windows.go reach
// for when they need to reason about page state, and resolves each
// committed region's backing module path via Toolhelp32 snapshots.
func (windowsSource) readRegions() ([]Region, error) {
	modules, err := enumModules()
	if err != nil {
		modules = nil
	}

	var regions []Region
	var addr uintptr
	for {
		var mbi windows.MemoryBasicInformation
		err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi))
		if err != nil {
			break
		}
		if mbi.RegionSize == 0 {
			break
		}
		if mbi.State != memFree {
			regions = append(regions, Region{
				Base:  mbi.BaseAddress,
				Size:  mbi.RegionSize,
				Perms: protectString(mbi.Protect),
				Path:  modulePathFor(modules, mbi.BaseAddress),
			})
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= addr {
			break
		}
		addr = next
	}
	return regions, nil
}

func protectString(protect uint32) string {
	r, w, x := "-", "-", "-"
	switch protect &^ 0x100 { // strip PAGE_GUARD
	case windows.PAGE_READONLY:
		r = "r"
	case windows.PAGE_READWRITE:
		r, w = "r", "w"
	case windows.PAGE_EXECUTE:
		x = "x"
	case windows.PAGE_EXECUTE_READ:
		r, x = "r", "x"
	case windows.PAGE_EXECUTE_READWRITE:
		r, w, x = "r", "w", "x"
	}
	return r + w + x + "p"
}

func enumModules() ([]Module, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, 0)
	if err != nil {
		return nil, fmt.Errorf("procinfo: CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var modules []Module
	var entry windows.ModuleEntry32
	entry.Size = uint32(windows.SizeofModuleEntry32)
	if err := windows.Module32First(snap, &entry); err != nil {
		return modules, nil
	}
	for {
		modules = append(modules, Module{
			Base: entry.ModBaseAddr,
			Path: windows.UTF16ToString(entry.ExePath[:]),
		})
		if err := windows.Module32Next(snap, &entry); err != nil {
			break
		}
	}
	return modules, nil
}

func modulePathFor(modules []Module, addr uintptr) string {
	for _, m := range modules {
		if m.Base == addr {
			return m.Path
		}
	}
	return ""
}
