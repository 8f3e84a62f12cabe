// Package importtable implements spec.md §9(iii)'s import-table replace:
// a mechanism separate from the inline-hook/registry path entirely — it
// never touches the callee's own prologue, only the caller-image's
// pointer table that resolves an imported symbol, so every call site in
// that one image is redirected without patching the callee at all.
// Grounded on original_source/include/dobby.h's DobbyImportTableReplace
// ("@note Only affects imports in the specified image, not all
// callers").
//
// Implemented for PE only. A Windows PE's import address table is a
// flat, statically laid-out array the loader fills in once at load
// time and never moves again, so finding "the pointer slot this image
// uses to call that symbol" is a file-format walk with no further
// runtime state to reason about. ELF's PLT/GOT and Mach-O's lazy/
// non-lazy pointer sections depend on the dynamic linker's own binding
// state (lazy binding may not have resolved a slot yet, and the
// indirection commonly goes through a PLT stub rather than a bare
// pointer a simple overwrite can redirect), which is a materially
// larger problem than this package's scope: Replace returns
// NotSupportedError for both rather than guess at a half-correct
// patch.
package importtable

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"github.com/xyproto/ihook/internal/patch"
	"github.com/xyproto/ihook/internal/procinfo"
	"github.com/xyproto/ihook/internal/symresolve"
)

// NotFoundError reports that symbol is not imported by image from dll.
type NotFoundError struct {
	Image, DLL, Symbol string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("importtable: %q is not imported from %q by %s", e.Symbol, e.DLL, e.Image)
}

// NotSupportedError reports a container format Replace has no import
// table walker for.
type NotSupportedError struct {
	Image string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("importtable: %s is not a PE image; import table replace is PE-only", e.Image)
}

const (
	importDescriptorSize = 20
	thunkSize32          = 4
	thunkSize64          = 8
	ordinalFlag32        = uint32(1) << 31
	ordinalFlag64        = uint64(1) << 63
)

// Replace redirects every call image makes to dll!symbol to fakeFunc,
// by overwriting that import's IAT slot. origFunc is the address the
// slot held before the overwrite — ordinarily the real dll!symbol entry
// point, which the caller can still invoke directly to chain through to
// it.
func Replace(provider procinfo.Provider, image, dll, symbol string, fakeFunc uintptr) (origFunc uintptr, err error) {
	f, err := pe.Open(image)
	if err != nil {
		return 0, &NotSupportedError{Image: image}
	}
	defer f.Close()

	base, err := symresolve.ModuleBase(provider, image)
	if err != nil {
		return 0, err
	}

	is64 := peIs64(f)
	thunkSize := thunkSize32
	if is64 {
		thunkSize = thunkSize64
	}

	dataDir := importDataDirectory(f)
	if dataDir.VirtualAddress == 0 {
		return 0, &NotFoundError{Image: image, DLL: dll, Symbol: symbol}
	}

	for off := uint32(0); off+importDescriptorSize <= dataDir.Size; off += importDescriptorSize {
		desc, err := readBytes(f, dataDir.VirtualAddress+off, importDescriptorSize)
		if err != nil {
			return 0, err
		}
		originalFirstThunk := binary.LittleEndian.Uint32(desc[0:4])
		nameRVA := binary.LittleEndian.Uint32(desc[12:16])
		firstThunk := binary.LittleEndian.Uint32(desc[16:20])
		if originalFirstThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			break // terminating null descriptor
		}
		if originalFirstThunk == 0 {
			continue // no INT to match names against; not handled
		}

		descDLL, err := readCString(f, nameRVA)
		if err != nil {
			return 0, err
		}
		if !strings.EqualFold(descDLL, dll) {
			continue
		}

		for i := uint32(0); ; i++ {
			intEntryRVA := originalFirstThunk + i*uint32(thunkSize)
			iatEntryRVA := firstThunk + i*uint32(thunkSize)
			entryBytes, err := readBytes(f, intEntryRVA, thunkSize)
			if err != nil {
				return 0, err
			}
			var entry uint64
			if is64 {
				entry = binary.LittleEndian.Uint64(entryBytes)
			} else {
				entry = uint64(binary.LittleEndian.Uint32(entryBytes))
			}
			if entry == 0 {
				break // end of this DLL's thunk array
			}
			isOrdinal := (is64 && entry&ordinalFlag64 != 0) || (!is64 && uint32(entry)&ordinalFlag32 != 0)
			if isOrdinal {
				continue
			}

			name, err := readCString(f, uint32(entry)+2) // skip the 2-byte Hint
			if err != nil {
				return 0, err
			}
			if name != symbol {
				continue
			}

			slotAddr := base + uintptr(iatEntryRVA)
			original := readSlot(slotAddr, is64)
			if err := writeSlot(slotAddr, fakeFunc, is64); err != nil {
				return 0, err
			}
			return original, nil
		}
	}
	return 0, &NotFoundError{Image: image, DLL: dll, Symbol: symbol}
}

func peIs64(f *pe.File) bool {
	_, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	return ok
}

// readSlot reads the pointer currently sitting in the runtime IAT slot at
// addr, the value Replace hands back as origFunc.
func readSlot(addr uintptr, is64 bool) uintptr {
	if is64 {
		return uintptr(*(*uint64)(unsafe.Pointer(addr)))
	}
	return uintptr(*(*uint32)(unsafe.Pointer(addr)))
}

// writeSlot overwrites the runtime IAT slot at addr with val, through
// internal/patch so the containing page is made writable (IATs are
// ordinarily read-only once the loader finishes binding) and the write
// is flushed the same way every other code/data patch in this engine is.
func writeSlot(addr uintptr, val uintptr, is64 bool) error {
	var buf []byte
	if is64 {
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(val))
	} else {
		buf = make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(val))
	}
	if err := patch.Patch(addr, buf); err != nil {
		return fmt.Errorf("importtable: writing IAT slot: %w", err)
	}
	return nil
}

func importDataDirectory(f *pe.File) pe.DataDirectory {
	const importDirectoryIndex = 1
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		return oh.DataDirectory[importDirectoryIndex]
	case *pe.OptionalHeader32:
		return oh.DataDirectory[importDirectoryIndex]
	default:
		return pe.DataDirectory{}
	}
}

// readBytes reads n bytes at rva from whichever section contains it.
func readBytes(f *pe.File, rva uint32, n int) ([]byte, error) {
	for _, sec := range f.Sections {
		if rva < sec.VirtualAddress || rva >= sec.VirtualAddress+sec.VirtualSize {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("importtable: reading section %s: %w", sec.Name, err)
		}
		start := rva - sec.VirtualAddress
		if int(start)+n > len(data) {
			return nil, fmt.Errorf("importtable: rva %#x+%d beyond section %s", rva, n, sec.Name)
		}
		return data[start : start+uint32(n)], nil
	}
	return nil, fmt.Errorf("importtable: rva %#x not mapped by any section", rva)
}

func readCString(f *pe.File, rva uint32) (string, error) {
	const maxLen = 512
	data, err := readBytes(f, rva, maxLen)
	if err != nil {
		// fall back to whatever's left in the containing section
		for _, sec := range f.Sections {
			if rva < sec.VirtualAddress || rva >= sec.VirtualAddress+sec.VirtualSize {
				continue
			}
			remaining := int(sec.VirtualAddress+sec.VirtualSize - rva)
			data, err = readBytes(f, rva, remaining)
			break
		}
		if err != nil {
			return "", err
		}
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}
