package patch

import (
	"math"
	"testing"
)

func TestPatchRejectsZeroAddrOrEmptyBuffer(t *testing.T) {
	if err := Patch(0, []byte{1}); err == nil {
		t.Fatalf("expected an error for a zero address")
	}
	if err := Patch(1, nil); err == nil {
		t.Fatalf("expected an error for an empty buffer")
	}
}

// TestPatchRejectsAddressOverflow covers spec.md §4.I's "reject
// address-overflow": an addr/len pair whose sum wraps past the top of
// the address space must be rejected before the page-walking loop ever
// computes an end page from it.
func TestPatchRejectsAddressOverflow(t *testing.T) {
	addr := uintptr(math.MaxUint64 - 3)
	buf := make([]byte, 8)
	err := Patch(addr, buf)
	if err == nil {
		t.Fatalf("expected an error for an overflowing addr+len")
	}
	if _, ok := err.(*InvalidArgumentError); !ok {
		t.Fatalf("expected *InvalidArgumentError, got %T: %v", err, err)
	}
}
