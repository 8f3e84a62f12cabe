// Package memplat implements component A: the platform memory primitives
// every other layer of the engine is built on. Operations on
// non-page-aligned arguments widen to the enclosing pages, matching
// mmap/VirtualAlloc semantics on every supported OS.
package memplat

import "fmt"

// Perm is a bitset over the three page permissions the engine cares
// about. It intentionally mirrors mmap's PROT_* bits in spirit rather
// than value, since Windows has no equivalent bit layout.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Execute
)

// ReadWrite is the common "data page" permission set.
const ReadWrite = Read | Write

// ReadWriteExecute is the common "fresh exec page" permission set; pages
// allocated with it stay RWX for the process lifetime per component B's
// contract.
const ReadWriteExecute = Read | Write | Execute

func (p Perm) String() string {
	s := [3]byte{'-', '-', '-'}
	if p&Read != 0 {
		s[0] = 'r'
	}
	if p&Write != 0 {
		s[1] = 'w'
	}
	if p&Execute != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// AllocError and ProtectError distinguish the two platform failure modes
// spec.md §4.A calls out (MemoryAllocation vs MemoryProtection).
type AllocError struct {
	Size int
	Perm Perm
	Err  error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("memplat: allocate %d bytes perm=%s: %v", e.Size, e.Perm, e.Err)
}
func (e *AllocError) Unwrap() error { return e.Err }

type ProtectError struct {
	Addr uintptr
	Size int
	Perm Perm
	Err  error
}

func (e *ProtectError) Error() string {
	return fmt.Sprintf("memplat: set permission %s on [%#x,%#x): %v", e.Perm, e.Addr, e.Addr+uintptr(e.Size), e.Err)
}
func (e *ProtectError) Unwrap() error { return e.Err }

// PageSize returns the platform's native page size in bytes.
func PageSize() int {
	return pageSize()
}

// AlignDown rounds addr down to the enclosing page boundary.
func AlignDown(addr uintptr) uintptr {
	ps := uintptr(PageSize())
	return addr &^ (ps - 1)
}

// AlignUp rounds size up to a whole number of pages.
func AlignUp(size int) int {
	ps := PageSize()
	return (size + ps - 1) &^ (ps - 1)
}

// Alloc reserves a block of at least size bytes with the given
// permission. If fixedAddr is non-zero, the implementation attempts to
// place the block at that exact address (used by the near-allocation
// path in component B); a zero return with a non-nil error means the
// platform could not honor the request at all, not merely not at that
// address.
func Alloc(size int, perm Perm, fixedAddr uintptr) (uintptr, error) {
	return allocPages(size, perm, fixedAddr)
}

// SetPermission changes the protection of the pages covering
// [addr, addr+size) and returns the previous (enclosing-page) protection.
// Only the Windows implementation reports the real previous value; the
// unix and Darwin implementations always return ReadWriteExecute.
func SetPermission(addr uintptr, size int, perm Perm) (Perm, error) {
	return setPermission(addr, size, perm)
}

// Free releases a block previously returned by Alloc.
func Free(addr uintptr, size int) error {
	return freePages(addr, size)
}

// ClearICache invalidates the instruction cache for [start, end) so a
// thread that subsequently jumps into that range observes freshly written
// bytes rather than stale fetched instructions.
func ClearICache(start, end uintptr) {
	clearICache(start, end)
}
