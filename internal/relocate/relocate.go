// Package relocate implements component E: walking a victim function's
// head, copying each instruction into a destination buffer, and
// re-materializing the handful of PC-relative forms whose semantics
// would otherwise break once moved. Grounded on
// Dk2014-hinako/hinako.go's disassemble/isBranchInst/getAsmPatchSize,
// the one piece of the retrieval pack that solves close to this exact
// problem (for x86), generalized here to all five ISAs and to actually
// relocate branches instead of just refusing to cross them.
package relocate

import (
	"fmt"

	"github.com/xyproto/ihook/internal/asm"
	armemit "github.com/xyproto/ihook/internal/asm/arm"
	arm64emit "github.com/xyproto/ihook/internal/asm/arm64"
	thumbemit "github.com/xyproto/ihook/internal/asm/thumb"
	x86emit "github.com/xyproto/ihook/internal/asm/x86"
	x64emit "github.com/xyproto/ihook/internal/asm/x86_64"
	"github.com/xyproto/ihook/internal/isa"
)

// UnsupportedInstructionError reports an instruction form the relocator
// does not know how to re-materialize at a new PC.
type UnsupportedInstructionError struct {
	Addr uintptr
	Text string
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("relocate: unsupported instruction at %#x: %s", e.Addr, e.Text)
}

// CodeTooShortError reports that fewer than minBytes of relocatable
// instructions were found before running off the end of src.
type CodeTooShortError struct {
	Available int
	Needed    int
}

func (e *CodeTooShortError) Error() string {
	return fmt.Sprintf("relocate: only %d bytes available, need %d", e.Available, e.Needed)
}

// Relocate walks instructions starting at srcAddr (whose bytes are
// already readable at that live address — hooking is always
// same-process, spec's Non-goals exclude other-process hotpatching),
// copying/re-materializing each one into buf until at least minBytes of
// source have been consumed, then appends a tail branch from
// buf's current position back to srcAddr+consumed using the same
// absolute-branch idiom the copied instructions used. It returns the
// number of source bytes consumed.
func Relocate(arch isa.Arch, buf *asm.Buffer, srcAddr uintptr, minBytes int) (int, error) {
	var consumed int
	var err error

	switch arch {
	case isa.ArchX86:
		consumed, err = relocateX86(buf, srcAddr, minBytes, false)
	case isa.ArchX86_64:
		consumed, err = relocateX86(buf, srcAddr, minBytes, true)
	case isa.ArchARM:
		consumed, err = relocateARM(buf, srcAddr, minBytes)
	case isa.ArchThumb:
		consumed, err = relocateThumb(buf, srcAddr, minBytes)
	case isa.ArchARM64:
		consumed, err = relocateARM64(buf, srcAddr, minBytes)
	default:
		return 0, fmt.Errorf("relocate: unsupported architecture %s", arch)
	}
	if err != nil {
		return 0, err
	}

	emitTailBranch(arch, buf, srcAddr+uintptr(consumed))
	return consumed, nil
}

// emitTailBranch closes the relocated head with an unconditional branch
// back into the victim at the point the copied instructions stopped.
// ARM, Thumb and ARM64 use their far-reach form, so there the relocated
// head may sit anywhere relative to the victim; x86/x86-64 use E9 rel32,
// which reaches ±2GiB, so the trampoline builder places the relocated
// head near the victim on those ISAs.
func emitTailBranch(arch isa.Arch, buf *asm.Buffer, target uintptr) {
	switch arch {
	case isa.ArchX86:
		x86emit.New(buf).EmitBranch(target)
	case isa.ArchX86_64:
		x64emit.New(buf).EmitBranch(target)
	case isa.ArchARM:
		armemit.New(buf).EmitFarBranch(target)
	case isa.ArchThumb:
		thumbemit.New(buf).EmitFarBranch(target)
	case isa.ArchARM64:
		arm64emit.New(buf).EmitFarBranch(target)
	}
}
