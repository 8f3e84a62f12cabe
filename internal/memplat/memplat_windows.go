//go:build windows

package memplat

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Windows has no FlushInstructionCache wrapper in golang.org/x/sys/windows,
// so it is bound the same way Dk2014-hinako/hinako.go binds it (a lazy
// kernel32.dll proc), upgraded from raw syscall.NewLazyDLL to the typed
// windows.NewLazySystemDLL the rest of x/sys/windows already uses.
var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstCache    = kernel32.NewProc("FlushInstructionCache")
	currentProcessHandle  windows.Handle
)

func init() {
	h, err := windows.GetCurrentProcess()
	if err == nil {
		currentProcessHandle = h
	}
}

func pageSize() int {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	if si.PageSize == 0 {
		return 4096
	}
	return int(si.PageSize)
}

func toWinProtect(p Perm) uint32 {
	switch p & (Read | Write | Execute) {
	case 0:
		return windows.PAGE_NOACCESS
	case Read:
		return windows.PAGE_READONLY
	case Read | Write:
		return windows.PAGE_READWRITE
	case Execute:
		return windows.PAGE_EXECUTE
	case Read | Execute:
		return windows.PAGE_EXECUTE_READ
	case Read | Write | Execute:
		return windows.PAGE_EXECUTE_READWRITE
	case Write:
		return windows.PAGE_READWRITE
	case Write | Execute:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func fromWinProtect(p uint32) Perm {
	switch p {
	case windows.PAGE_NOACCESS:
		return 0
	case windows.PAGE_READONLY:
		return Read
	case windows.PAGE_READWRITE:
		return Read | Write
	case windows.PAGE_EXECUTE:
		return Execute
	case windows.PAGE_EXECUTE_READ:
		return Read | Execute
	case windows.PAGE_EXECUTE_READWRITE:
		return Read | Write | Execute
	default:
		return 0
	}
}

func allocPages(size int, perm Perm, fixedAddr uintptr) (uintptr, error) {
	size = AlignUp(size)
	addr, err := windows.VirtualAlloc(fixedAddr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, toWinProtect(perm))
	if err != nil {
		return 0, &AllocError{Size: size, Perm: perm, Err: err}
	}
	return addr, nil
}

func setPermission(addr uintptr, size int, perm Perm) (Perm, error) {
	base := AlignDown(addr)
	size = AlignUp(size + int(addr-base))
	var old uint32
	if err := windows.VirtualProtect(base, uintptr(size), toWinProtect(perm), &old); err != nil {
		return 0, &ProtectError{Addr: addr, Size: size, Perm: perm, Err: err}
	}
	return fromWinProtect(old), nil
}

func freePages(addr uintptr, size int) error {
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("memplat: VirtualFree %#x: %w", addr, err)
	}
	return nil
}

func clearICache(start, end uintptr) {
	if currentProcessHandle == 0 {
		return
	}
	size := end - start
	procFlushInstCache.Call(uintptr(currentProcessHandle), start, size)
}
