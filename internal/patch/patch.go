// Package patch implements component I: the last step of installing a
// hook, overwriting the victim's first few bytes in place with a branch
// into the trampoline. Grounded on
// original_source/source/Backend/UserMode/ExecMemory/code-patch-tool-posix.cc's
// DobbyCodePatch: widen permissions to RWX across every page the patch
// spans, copy, restore to RX, flush the instruction cache — using
// internal/memplat for the three platform-specific steps the same way
// Dk2014-hinako/hinako.go's Patch does with syscall.Mprotect directly.
package patch

import (
	"unsafe"

	"github.com/xyproto/ihook/internal/memplat"
)

// Patch overwrites len(buffer) bytes at addr with buffer's contents.
// addr may straddle a page boundary; every page the range touches is
// widened to RWX before the copy and restored to RX afterward,
// regardless of what permission it held to begin with, matching the
// teacher source's own simplification.
func Patch(addr uintptr, buffer []byte) error {
	if addr == 0 || len(buffer) == 0 {
		return &InvalidArgumentError{}
	}
	if addr+uintptr(len(buffer)) < addr {
		return &InvalidArgumentError{}
	}

	ps := memplat.PageSize()
	startPage := memplat.AlignDown(addr)
	endPage := memplat.AlignDown(addr + uintptr(len(buffer)-1))

	for page := startPage; ; page += uintptr(ps) {
		if _, err := memplat.SetPermission(page, ps, memplat.ReadWriteExecute); err != nil {
			return &ProtectionError{Addr: page, Cause: err}
		}
		if page == endPage {
			break
		}
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buffer))
	copy(dst, buffer)

	var restoreErr error
	for page := startPage; ; page += uintptr(ps) {
		if _, err := memplat.SetPermission(page, ps, memplat.Read|memplat.Execute); err != nil {
			restoreErr = &ProtectionError{Addr: page, Cause: err}
		}
		if page == endPage {
			break
		}
	}

	memplat.ClearICache(addr, addr+uintptr(len(buffer)))

	return restoreErr
}

// InvalidArgumentError reports a nil address or empty buffer.
type InvalidArgumentError struct{}

func (e *InvalidArgumentError) Error() string { return "patch: invalid address or empty buffer" }

// ProtectionError wraps a memplat.SetPermission failure at a specific page.
type ProtectionError struct {
	Addr  uintptr
	Cause error
}

func (e *ProtectionError) Error() string {
	return "patch: permission change failed at " + uintptrHex(e.Addr) + ": " + e.Cause.Error()
}

func (e *ProtectionError) Unwrap() error { return e.Cause }

func uintptrHex(p uintptr) string {
	const hexdigits = "0123456789abcdef"
	if p == 0 {
		return "0x0"
	}
	buf := make([]byte, 0, 18)
	buf = append(buf, '0', 'x')
	started := false
	for shift := 60; shift >= 0; shift -= 4 {
		d := (p >> uint(shift)) & 0xF
		if d != 0 {
			started = true
		}
		if started {
			buf = append(buf, hexdigits[d])
		}
	}
	return string(buf)
}
