// Package asm implements the shared half of component D: an append-only
// code buffer with a pseudo-label/back-reference mechanism, generalized
// across the five supported ISAs. Each ISA's own package
// (internal/asm/x86, x86_64, arm, thumb, arm64) wraps a Buffer with the
// specific instruction encodings the trampoline builder (F) and
// relocator (E) need.
//
// The style — a byte-appending Out with Write helpers gated by a verbose
// flag — is carried over from the teacher's jmp.go/mov.go Out type;
// Buffer plays the same role, generalized to also track label positions
// and pending back-references instead of writing straight to a process
// image.
package asm

import "fmt"

// LinkKind distinguishes the different "placeholder instruction" shapes
// a back-reference may need to rewrite once its target label is bound.
type LinkKind int

const (
	// LinkRel32 is an x86-family rel32 displacement already written as a
	// placeholder (zero) at instrOffset; target is absolute.
	LinkRel32 LinkKind = iota
	// LinkARMImm24 is an A32 B/BL imm24 field, word-scaled, PC+8-relative.
	LinkARMImm24
	// LinkARM64Imm26 is an ARM64 B imm26 field, word-scaled, PC-relative.
	LinkARM64Imm26
	// LinkARM64LoadLiteral19 is an ARM64 LDR (literal) imm19 field,
	// word-scaled, PC-relative, pointing at an 8-byte pool entry.
	LinkARM64LoadLiteral19
	// LinkARMLoadLiteral12 is an A32 LDR Rt,[PC,#imm12] field (imm12 is
	// always a positive byte offset in our usage; the assembler always
	// places the pool after the instruction).
	LinkARMLoadLiteral12
	// LinkThumbLoadLiteral8 is a 16-bit Thumb LDR Rt,[PC,#imm8*4].
	LinkThumbLoadLiteral8
)

// backref records one not-yet-resolved reference to a label.
type backref struct {
	instrOffset int
	kind        LinkKind
	extra       int // destination register, when the encoding needs one
}

// Label is a named position in a Buffer. It may be referenced before it
// is bound (a forward reference, recorded as a backref and patched by
// Bind) or after (resolved immediately against the already-known
// position).
type Label struct {
	name  string
	bound bool
	pos   int
	refs  []backref
}

// Buffer is the append-only, instruction-sized, random-access-rewrite
// code buffer spec.md §4.D requires. baseAddr is the address byte 0 will
// execute at once the buffer is copied into its final executable
// location; callers know this up front since component B hands out the
// destination block before assembly begins.
type Buffer struct {
	bytes    []byte
	baseAddr uintptr
	labels   map[string]*Label
}

func NewBuffer(baseAddr uintptr) *Buffer {
	return &Buffer{baseAddr: baseAddr, labels: make(map[string]*Label)}
}

func (b *Buffer) Len() int          { return len(b.bytes) }
func (b *Buffer) Bytes() []byte     { return b.bytes }
func (b *Buffer) BaseAddr() uintptr { return b.baseAddr }

// Addr returns the address the next-written byte will execute at.
func (b *Buffer) Addr() uintptr { return b.baseAddr + uintptr(len(b.bytes)) }

func (b *Buffer) Write8(v uint8) { b.bytes = append(b.bytes, v) }

// Append copies raw bytes verbatim, used by the relocator for
// instructions that carry no PC-relative operand and can simply be
// moved as-is.
func (b *Buffer) Append(data []byte) { b.bytes = append(b.bytes, data...) }

func (b *Buffer) Write32(v uint32) {
	b.bytes = append(b.bytes, uint8(v), uint8(v>>8), uint8(v>>16), uint8(v>>24))
}

func (b *Buffer) Write64(v uint64) {
	b.Write32(uint32(v))
	b.Write32(uint32(v >> 32))
}

// patch32 overwrites the 4 bytes at offset in place.
func (b *Buffer) patch32(offset int, v uint32) {
	b.bytes[offset] = uint8(v)
	b.bytes[offset+1] = uint8(v >> 8)
	b.bytes[offset+2] = uint8(v >> 16)
	b.bytes[offset+3] = uint8(v >> 24)
}

// Align pads with zero bytes until Len() is a multiple of n. It aligns
// the offset within the buffer, not the address baseAddr+Len().
func (b *Buffer) Align(n int) {
	for len(b.bytes)%n != 0 {
		b.Write8(0)
	}
}

// Bound reports whether l has been fixed to a position yet.
func (l *Label) Bound() bool { return l.bound }

// LabelAddr returns the absolute address a bound label sits at.
func (b *Buffer) LabelAddr(l *Label) (uintptr, bool) {
	if !l.bound {
		return 0, false
	}
	return b.baseAddr + uintptr(l.pos), true
}

// NewLabel creates an unbound label. Distinct calls with the same name
// are allowed (the relocator may label each source instruction by
// index); name is for diagnostics only.
func (b *Buffer) NewLabel(name string) *Label {
	l := &Label{name: name}
	return l
}

// Bind fixes l's position to the buffer's current length and patches
// every backref recorded against it while it was still forward-looking.
func (b *Buffer) Bind(l *Label) {
	l.pos = len(b.bytes)
	l.bound = true
	for _, r := range l.refs {
		b.patchRef(r, l.pos)
	}
	l.refs = nil
}

// Refer records a reference to l from the placeholder instruction at
// instrOffset. If l is already bound the placeholder is patched
// immediately; otherwise the reference is queued for Bind.
func (b *Buffer) Refer(l *Label, instrOffset int, kind LinkKind, extra int) {
	r := backref{instrOffset: instrOffset, kind: kind, extra: extra}
	if l.bound {
		b.patchRef(r, l.pos)
		return
	}
	l.refs = append(l.refs, r)
}

func (b *Buffer) patchRef(r backref, targetPos int) {
	targetAddr := b.baseAddr + uintptr(targetPos)
	b.PatchAbsolute(r.instrOffset, r.kind, targetAddr)
}

// PatchAbsolute rewrites the placeholder instruction at instrOffset so
// it addresses targetAddr, an address that need not lie within this
// buffer at all (the common case: branching to the victim's relocated
// head, or to a forwarder allocated as a separate block). Label-bound
// references use this too, via patchRef, once the label's position has
// been resolved to an address.
func (b *Buffer) PatchAbsolute(instrOffset int, kind LinkKind, targetAddr uintptr) {
	instrAddr := b.baseAddr + uintptr(instrOffset)
	switch kind {
	case LinkRel32:
		rel := int32(int64(targetAddr) - int64(instrAddr) - 5)
		b.patch32(instrOffset+1, uint32(rel))

	case LinkARMImm24:
		rel := int64(targetAddr) - int64(instrAddr) - 8
		imm24 := uint32((rel >> 2)) & 0xFFFFFF
		word := b.word32(instrOffset)
		b.patch32(instrOffset, (word &^ 0xFFFFFF)|imm24)

	case LinkARM64Imm26:
		rel := int64(targetAddr) - int64(instrAddr)
		imm26 := uint32(rel>>2) & 0x3FFFFFF
		word := b.word32(instrOffset)
		b.patch32(instrOffset, (word &^ 0x3FFFFFF)|imm26)

	case LinkARM64LoadLiteral19:
		rel := int64(targetAddr) - int64(instrAddr)
		imm19 := uint32(rel>>2) & 0x7FFFF
		word := b.word32(instrOffset)
		b.patch32(instrOffset, (word &^ (0x7FFFF << 5))|(imm19<<5))

	case LinkARMLoadLiteral12:
		rel := int64(targetAddr) - int64(instrAddr) - 8
		if rel < 0 {
			panic(fmt.Sprintf("asm: negative literal-pool offset %d for ARM LDR PC", rel))
		}
		imm12 := uint32(rel) & 0xFFF
		word := b.word32(instrOffset)
		b.patch32(instrOffset, (word &^ 0xFFF)|imm12)

	case LinkThumbLoadLiteral8:
		rel := int64(targetAddr) - int64(instrAddr&^3) - 4
		if rel < 0 || rel%4 != 0 {
			panic(fmt.Sprintf("asm: invalid Thumb literal offset %d", rel))
		}
		imm8 := uint16(rel/4) & 0xFF
		lo := uint16(b.bytes[instrOffset]) | uint16(b.bytes[instrOffset+1])<<8
		lo = (lo &^ 0xFF) | imm8
		b.bytes[instrOffset] = uint8(lo)
		b.bytes[instrOffset+1] = uint8(lo >> 8)
	}
}

// PatchRel32 is a thin convenience wrapper used when the caller already
// has an absolute target and just wants the x86 rel32 form patched,
// assuming the default one-byte-opcode layout (opcode at instrOffset,
// rel32 at instrOffset+1).
func (b *Buffer) PatchRel32(instrOffset int, rel int32) {
	b.patch32(instrOffset+1, uint32(rel))
}

// PatchRel32At patches a rel32 field at an exact byte offset, for
// multi-byte-opcode forms (like x86's 0F 8x Jcc) where the field isn't
// at the fixed instrOffset+1 position PatchRel32 assumes.
func (b *Buffer) PatchRel32At(offset int, rel int32) {
	b.patch32(offset, uint32(rel))
}

func (b *Buffer) word32(offset int) uint32 {
	return uint32(b.bytes[offset]) | uint32(b.bytes[offset+1])<<8 |
		uint32(b.bytes[offset+2])<<16 | uint32(b.bytes[offset+3])<<24
}
