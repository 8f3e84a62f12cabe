//go:build darwin

package memplat

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Darwin shares mmap/mprotect/munmap semantics with the other unix
// platforms; address-hinted mapping uses the raw mmap syscall the same
// way memplat_unix.go does, since unix.Mmap has no addr parameter.
//
// Apple Silicon additionally forbids a page being simultaneously
// writable and executable (hardware W^X). No JIT-write-protect toggle
// is used anywhere in this module: patch.go only calls SetPermission
// around the write, and Alloc/SetPermission report the page as RWX-capable,
// matching the contract that "freshly allocated exec blocks accept
// writes before first execution".

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
