//go:build linux || freebsd

package memplat

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize/allocPages/setPermission/freePages are grounded on
// filewatcher_unix.go's golang.org/x/sys/unix usage in the teacher repo,
// and on other_examples' tinyrange-cc arm64/exec.go, which mmaps an
// anonymous RWX region the same way to run freshly assembled code.
//
// Address-hinted allocation (the near-allocation path, component B)
// needs the raw mmap syscall rather than the higher-level unix.Mmap
// wrapper, since that wrapper has no addr parameter.

func pageSize() int {
	return unix.Getpagesize()
}

func toProt(p Perm) int {
	prot := unix.PROT_NONE
	if p&Read != 0 {
		prot |= unix.PROT_READ
	}
	if p&Write != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&Execute != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func rawMmap(addr uintptr, size, prot, flags int) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size), uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}

func allocPages(size int, perm Perm, fixedAddr uintptr) (uintptr, error) {
	size = AlignUp(size)
	// fixedAddr is a placement hint (no MAP_FIXED): the kernel uses it
	// when that range is free and otherwise picks another address, so an
	// existing mapping is never replaced.
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	addr, err := rawMmap(fixedAddr, size, toProt(perm), flags)
	if err != nil {
		return 0, &AllocError{Size: size, Perm: perm, Err: err}
	}
	return addr, nil
}

func setPermission(addr uintptr, size int, perm Perm) (Perm, error) {
	base := AlignDown(addr)
	size = AlignUp(size + int(addr-base))
	// The previous protection is not queryable portably without parsing
	// /proc/self/maps, so we report ReadWriteExecute as a conservative
	// "assume the worst" previous value for exec blocks, since component
	// B never narrows an exec page's permission anyway. Component I does
	// not use the returned value: it sets Read|Execute after its write.
	prev := ReadWriteExecute
	if err := unix.Mprotect(unsafe.Slice((*byte)(unsafe.Pointer(base)), size), toProt(perm)); err != nil {
		return prev, &ProtectError{Addr: addr, Size: size, Perm: perm, Err: err}
	}
	return prev, nil
}

func freePages(addr uintptr, size int) error {
	size = AlignUp(size)
	if err := unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)); err != nil {
		return fmt.Errorf("memplat: munmap [%#x,%#x): %w", addr, addr+uintptr(size), err)
	}
	return nil
}

func clearICache(start, end uintptr) {
	archClearICache(start, end)
}
