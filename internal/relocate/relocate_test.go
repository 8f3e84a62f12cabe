package relocate

import (
	"testing"
	"unsafe"

	"github.com/xyproto/ihook/internal/asm"
	"github.com/xyproto/ihook/internal/isa"
)

// TestRelocateX86PropagatesUnsupportedInstruction exercises the RET
// case directly: a RET ends a prologue before it has produced minBytes
// of relocatable instructions, and the relocator must report
// UnsupportedInstructionError rather than copy it or silently stop
// short.
func TestRelocateX86PropagatesUnsupportedInstruction(t *testing.T) {
	code := []byte{0xC3, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}
	srcAddr := uintptr(unsafe.Pointer(&code[0]))

	buf := asm.NewBuffer(0x1000)
	_, err := Relocate(isa.ArchX86_64, buf, srcAddr, 5)
	if err == nil {
		t.Fatalf("expected an error relocating across a leading RET")
	}
	uerr, ok := err.(*UnsupportedInstructionError)
	if !ok {
		t.Fatalf("expected *UnsupportedInstructionError, got %T: %v", err, err)
	}
	if uerr.Addr != srcAddr {
		t.Fatalf("UnsupportedInstructionError.Addr = %#x, want %#x", uerr.Addr, srcAddr)
	}
}

// TestRelocateX86CopiesPlainBytes is the companion happy path: NOPs
// carry no PC-relative operand and should be copied through verbatim.
func TestRelocateX86CopiesPlainBytes(t *testing.T) {
	code := []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}
	srcAddr := uintptr(unsafe.Pointer(&code[0]))

	buf := asm.NewBuffer(0x2000)
	consumed, err := Relocate(isa.ArchX86_64, buf, srcAddr, 5)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if consumed < 5 {
		t.Fatalf("consumed = %d, want at least 5", consumed)
	}
	if buf.Len() <= consumed {
		t.Fatalf("expected a tail branch appended after the %d copied bytes, buf.Len() = %d", consumed, buf.Len())
	}
}
