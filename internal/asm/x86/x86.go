// Package x86 is the 32-bit x86 half of component D. The encoding is
// identical to x86-64's (a rel32 jump reaches the same ±2GiB either
// way); it is kept as its own package because spec.md §4.D lists x86 and
// x86-64 as distinct supported ISAs and the relocator (E) needs to tell
// them apart when deciding register widths.
package x86

import "github.com/xyproto/ihook/internal/asm"

type Assembler struct {
	buf *asm.Buffer
}

func New(buf *asm.Buffer) *Assembler { return &Assembler{buf: buf} }

// EmitBranch writes an unconditional near jump (E9 rel32), grounded on
// the teacher's jmpX86Unconditional (jmp.go).
func (a *Assembler) EmitBranch(target uintptr) {
	instrOffset := a.buf.Len()
	a.buf.Write8(0xE9)
	a.buf.Write32(0)
	a.buf.PatchAbsolute(instrOffset, asm.LinkRel32, target)
}

func (a *Assembler) EmitBranchToLabel(l *asm.Label) {
	instrOffset := a.buf.Len()
	a.buf.Write8(0xE9)
	a.buf.Write32(0)
	a.buf.Refer(l, instrOffset, asm.LinkRel32, 0)
}

const PatchSize = 5
