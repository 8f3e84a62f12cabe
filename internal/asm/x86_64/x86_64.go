// Package x86_64 is the x86-64 half of component D: the small
// instruction subset the trampoline builder needs. The opcode itself
// (0xE9 + rel32) is identical to the teacher's jmpX86Unconditional in
// jmp.go; this package only adds the trampoline-specific bookkeeping
// (label back-patching, literal words) jmp.go never needed because it
// always emitted straight into a single function body with a
// known-immediately offset.
package x86_64

import "github.com/xyproto/ihook/internal/asm"

type Assembler struct {
	buf *asm.Buffer
}

func New(buf *asm.Buffer) *Assembler { return &Assembler{buf: buf} }

// EmitBranch writes an unconditional near jump (E9 rel32) to target.
// x86-64 has no separate near/far trampoline form (spec.md §4.F: "For
// x86 family, always near (E9 rel32)"), so this is the only branch this
// package emits.
func (a *Assembler) EmitBranch(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write8(0xE9)
	a.buf.Write32(0) // placeholder, patched below
	a.buf.PatchAbsolute(instrOffset, asm.LinkRel32, target)
}

// EmitBranchToLabel is used by the relocator when the destination isn't
// known yet (the instruction immediately following the relocated block).
func (a *Assembler) EmitBranchToLabel(l *asm.Label) {
	instrOffset := a.buf.Len()
	a.buf.Write8(0xE9)
	a.buf.Write32(0)
	a.buf.Refer(l, instrOffset, asm.LinkRel32, 0)
}

// PatchSize is the worst-case number of bytes this trampoline's patch
// occupies at the victim site: 5 bytes, the same E9 rel32 used for the
// forward branch.
const PatchSize = 5
