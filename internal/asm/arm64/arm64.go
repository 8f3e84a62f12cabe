// Package arm64 is the ARM64 half of component D, mirroring the arm
// package's near/far split at 64-bit width: near is a direct B (imm26,
// ±128MiB); far is a PC-relative literal load into a scratch register
// followed by an indirect branch, reaching any 64-bit address via an
// 8-byte pool entry.
package arm64

import "github.com/xyproto/ihook/internal/asm"

// scratchReg is X16 (IP0), the AAPCS64-designated intra-procedure-call
// scratch register real linker PLT veneers clobber for exactly this
// kind of long-branch stub.
const scratchReg = 16

type Assembler struct {
	buf *asm.Buffer
}

func New(buf *asm.Buffer) *Assembler { return &Assembler{buf: buf} }

// EmitNearBranch writes an unconditional B to target.
func (a *Assembler) EmitNearBranch(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0x14000000)
	a.buf.PatchAbsolute(instrOffset, asm.LinkARM64Imm26, target)
}

func (a *Assembler) EmitBranchToLabel(l *asm.Label) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0x14000000)
	a.buf.Refer(l, instrOffset, asm.LinkARM64Imm26, 0)
}

// EmitNearBranchWithLink writes an unconditional BL, for the same
// reason arm.EmitNearBranchWithLink needs no manual link-register setup:
// X30 is architecturally set to the following instruction's address.
func (a *Assembler) EmitNearBranchWithLink(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write32(0x94000000)
	a.buf.PatchAbsolute(instrOffset, asm.LinkARM64Imm26, target)
}

// EmitFarBranch writes `LDR X16, literal` + `BR X16`, with the 8-byte
// literal holding target appended immediately after.
func (a *Assembler) EmitFarBranch(target uintptr) {
	ldrOffset := a.buf.Len()
	a.buf.Write32(0x58000000 | scratchReg) // LDR X16, [pc, #0] placeholder
	a.buf.Write32(0xD61F0000 | (scratchReg << 5))

	lit := a.buf.NewLabel("arm64_far_branch_literal")
	a.buf.Refer(lit, ldrOffset, asm.LinkARM64LoadLiteral19, 0)
	a.buf.Bind(lit)
	a.buf.Write64(uint64(target))
}

// NearRange is the ±128MiB reach of a single B imm26 instruction.
const NearRange = 128 << 20

const PatchSize = 4
const FarPatchSize = 16
