// Package arm is the ARM A32 half of component D. Unlike x86, ARM has a
// genuine near/far distinction (spec.md §4.F): near is a single direct
// B, range-limited to ±32MiB; far is a load-literal into a scratch
// register followed by an indirect branch, reaching any 32-bit address
// at the cost of an extra instruction and a 4-byte pool entry.
package arm

import "github.com/xyproto/ihook/internal/asm"

// scratchReg is R12 (IP), the "intra-procedure-call scratch register"
// the AAPCS already documents as call-clobbered, making it safe for the
// far-branch sequence to use without saving it first.
const scratchReg = 12

type Assembler struct {
	buf *asm.Buffer
}

func New(buf *asm.Buffer) *Assembler { return &Assembler{buf: buf} }

// EmitNearBranch writes an unconditional B (cond=AL) to target.
// Callers are responsible for verifying target is within ±32MiB first;
// the trampoline builder makes that choice based on near_trampoline
// before calling into this package at all.
func (a *Assembler) EmitNearBranch(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0xEA000000)
	a.buf.PatchAbsolute(instrOffset, asm.LinkARMImm24, target)
}

// EmitFarBranch writes `LDR R12, [PC, #0]`, then `BX R12`, then the
// 4-byte literal word holding target that the LDR loads.
func (a *Assembler) EmitFarBranch(target uintptr) {
	ldrOffset := a.buf.Len()
	a.buf.Write32(0xE59F0000 | (scratchReg << 12)) // LDR R12, [PC, #0] placeholder
	a.buf.Write32(0xE12FFF10 | scratchReg)         // BX R12

	lit := a.buf.NewLabel("arm_far_branch_literal")
	a.buf.Refer(lit, ldrOffset, asm.LinkARMLoadLiteral12, 0)
	a.buf.Bind(lit)
	a.buf.Write32(uint32(target))
}

// EmitBranchToLabel emits a near B whose target is a label bound later
// in the same buffer (the relocator's "branch back to S+copied_bytes").
func (a *Assembler) EmitBranchToLabel(l *asm.Label) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0xEA000000)
	a.buf.Refer(l, instrOffset, asm.LinkARMImm24, 0)
}

// EmitNearBranchWithLink writes an unconditional BL. Used by the
// relocator to re-materialize a call-with-link instruction at its new
// PC: BL's link-register write is architecturally "address of the
// instruction following this one", which is already correct once the
// instruction is simply copied to its new location with a recomputed
// displacement, so no manual LR setup is needed within NearRange.
func (a *Assembler) EmitNearBranchWithLink(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0xEB000000)
	a.buf.PatchAbsolute(instrOffset, asm.LinkARMImm24, target)
}

// NearRange is the ±32MiB reach of a single B imm24 instruction.
const NearRange = 32 << 20

// PatchSize is the near trampoline patch footprint (one B);
// FarPatchSize is the far one (LDR + BX + literal word). Component F
// picks between them by the runtime near/far flag.
const PatchSize = 4
const FarPatchSize = 12
