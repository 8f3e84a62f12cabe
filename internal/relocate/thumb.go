package relocate

import (
	"github.com/xyproto/ihook/internal/asm"
	thumbemit "github.com/xyproto/ihook/internal/asm/thumb"
)

// relocateThumb hand-decodes just enough of the Thumb/Thumb-2 encoding
// space to walk a function prologue: golang.org/x/arch/arm/armasm's
// Decode rejects ModeThumb outright (its one and only mode check is
// `if mode != ModeARM { return Inst{}, errMode }`), so there is no
// library decoder to lean on here the way relocateARM/relocateARM64
// do. The forms recognized below are exactly the ones that occur in
// ordinary compiler-generated function entry code; anything else that
// might reference PC is rejected rather than risk silently miscopying
// it.
//
// Instruction-length and branch-family bit layouts were cross-checked
// against llvm-mc's assembled output for beq.w/b.w/bl at several
// displacements, which is also how the B.W/BL bug in
// internal/asm/thumb was originally caught: the naive "10 J1 0 J2"
// layout text commonly quoted for this encoding is easy to
// misremember, and bit 12 (not bit 14) is the one fixed bit that
// reliably tells the conditional T3 form apart from the unconditional
// T4/BL forms regardless of the branch's sign or magnitude.
func relocateThumb(buf *asm.Buffer, srcAddr uintptr, minBytes int) (int, error) {
	a := thumbemit.New(buf)

	consumed := 0
	for consumed < minBytes {
		instrAddr := srcAddr + uintptr(consumed)
		h0 := readUint16(instrAddr)
		top5 := (h0 >> 11) & 0x1F

		if top5 == 0x1D || top5 == 0x1E || top5 == 0x1F {
			n, err := relocateThumb32(a, buf, instrAddr, h0)
			if err != nil {
				return 0, err
			}
			consumed += n
			continue
		}

		n, err := relocateThumb16(a, buf, instrAddr, h0, top5)
		if err != nil {
			return 0, err
		}
		consumed += n
	}

	return consumed, nil
}

func readUint16(addr uintptr) uint16 {
	b := readMemory(addr, 2)
	return uint16(b[0]) | uint16(b[1])<<8
}

// relocateThumb16 handles every 16-bit Thumb-1 encoding this relocator
// understands: Bcc (T1), B (T2), PC-relative LDR literal (T1), and ADR
// (T1, rejected since the loaded address can't be fixed up). CBZ/CBNZ
// and the high-register ADD/CMP/MOV/BX/BLX forms naming PC are rejected
// too. Every other 16-bit form is copied verbatim.
func relocateThumb16(a *thumbemit.Assembler, buf *asm.Buffer, instrAddr uintptr, h0 uint16, top5 uint16) (int, error) {
	switch {
	case top5 == 0x1C: // B, T2: 11100 imm11
		imm11 := int64(h0 & 0x7FF)
		off := signExtend(imm11<<1, 12)
		target := uintptr(int64(instrAddr) + 4 + off)
		a.EmitFarBranch(target)
		return 2, nil

	case top5 == 0x09: // LDR (literal), T1: 01001 Rt imm8
		litAddr := (instrAddr+4)&^3 + uintptr(h0&0xFF)*4
		val := readUint32(litAddr)
		rt := (h0 >> 8) & 0x7
		emitThumbLiteralLoad(buf, uint32(rt), val)
		return 2, nil

	case top5 == 0x14: // ADR, T1: 10100 Rd imm8 (ADD Rd, PC, #imm8*4)
		return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "ADR (PC-relative address load)"}

	case (h0>>12)&0xF == 0xD: // possibly Bcc, T1: 1101 cond imm8
		cond := (h0 >> 8) & 0xF
		if cond == 0xE || cond == 0xF {
			// 0xDE is undefined, 0xDF is SVC: neither references PC.
			buf.Append(u16bytes(h0))
			return 2, nil
		}
		imm8 := int64(int8(h0 & 0xFF))
		off := imm8 << 1
		target := uintptr(int64(instrAddr) + 4 + off)
		return 0, rejectConditional(instrAddr, target)

	case h0&0xF500 == 0xB100: // CBZ/CBNZ, T1: 1011 op 0 i 1 imm5 Rn
		return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "CBZ/CBNZ (PC-relative branch)"}

	case h0&0xFC00 == 0x4400 && ((h0>>3)&0xF == 0xF || (h0>>4)&0x8|h0&0x7 == 0xF):
		// ADD/CMP/MOV (high registers) or BX/BLX with PC as an operand.
		return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "high-register operation on PC"}

	default:
		buf.Append(u16bytes(h0))
		return 2, nil
	}
}

// rejectConditional exists only to document, at the one call site, why
// a conditional branch can't simply be widened and relocated the way
// an unconditional one is: doing so would need to invert the condition
// and synthesize a short skip-branch around the long one, which is
// more machinery than any prologue in practice has called for so far.
func rejectConditional(addr, target uintptr) error {
	return &UnsupportedInstructionError{Addr: addr, Text: "conditional branch, target " + uintptrHex(target)}
}

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

func u16bytes(v uint16) []byte {
	return []byte{uint8(v), uint8(v >> 8)}
}

func u32bytes(h0, h1 uint16) []byte {
	return []byte{uint8(h0), uint8(h0 >> 8), uint8(h1), uint8(h1 >> 8)}
}

func signExtend(v int64, bits uint) int64 {
	shift := 64 - bits
	return (v << shift) >> shift
}

// relocateThumb32 handles the 32-bit Thumb-2 branch family (Bcc T3, B.W
// T4, BL T1). Encodings whose first halfword does not start 11110 are
// rejected; within 11110, the data-processing immediate forms (second
// halfword top bit clear) are copied verbatim, except ADR.W, which is
// rejected.
func relocateThumb32(a *thumbemit.Assembler, buf *asm.Buffer, instrAddr uintptr, h0 uint16) (int, error) {
	h1 := readUint16(instrAddr + 2)

	top5 := (h0 >> 11) & 0x1F
	if top5 != 0x1E {
		return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "unrecognized 32-bit Thumb-2 instruction"}
	}

	// Within op1=0b10 (top5==0x1E), the branch/misc-control class is
	// only reached when the second halfword's top bit is set; every
	// other instruction sharing this op1 (data-processing
	// modified-immediate and plain-binary-immediate forms: ADD.W,
	// SUB.W, MOV.W, ORR.W, ...) has h1 bit15 clear and essentially
	// never addresses PC in ordinary compiler output, so it is copied
	// verbatim rather than decoded further.
	if h1>>15 == 0 {
		// ADDW/SUBW Rd, PC, #imm12 (ADR.W, T3/T2): 11110 i 10 0000/1010 1111.
		if h0&0xFBFF == 0xF20F || h0&0xFBFF == 0xF2AF {
			return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "ADR.W (PC-relative address load)"}
		}
		buf.Append(u32bytes(h0, h1))
		return 4, nil
	}

	fixed12 := (h1 >> 12) & 1
	fixed14 := (h1 >> 14) & 1

	if fixed12 == 0 {
		// Bcc, T3: conditional long branch.
		s := int64((h0 >> 10) & 1)
		cond := (h0 >> 6) & 0xF
		if cond == 0xE || cond == 0xF {
			return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "reserved Bcc.W condition"}
		}
		imm6 := int64(h0 & 0x3F)
		j1 := int64((h1 >> 13) & 1)
		j2 := int64((h1 >> 11) & 1)
		imm11 := int64(h1 & 0x7FF)
		imm21 := (s << 20) | (j2 << 19) | (j1 << 18) | (imm6 << 12) | (imm11 << 1)
		off := signExtend(imm21, 21)
		target := uintptr(int64(instrAddr) + 4 + off)
		return 0, rejectConditional(instrAddr, target)
	}

	off := thumbLongBranchOffset(h0, h1)
	target := uintptr(int64(instrAddr) + 4 + off)

	if fixed14 == 0 {
		// B.W, T4: unconditional.
		a.EmitFarBranch(target)
		return 4, nil
	}

	// BL, T1.
	if withinThumbNearRange(buf.Addr(), target) {
		a.EmitNearBranchWithLink(target)
	} else {
		return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "BL target exceeds near range"}
	}
	return 4, nil
}

// thumbLongBranchOffset computes the signed byte displacement shared
// by B.W (T4) and BL (T1): imm32 = SignExtend(S:I1:I2:imm10:imm11:'0'),
// with I1/I2 the XOR-of-sign-bit form (not the raw J1/J2 T3 uses).
func thumbLongBranchOffset(h0, h1 uint16) int64 {
	s := int64((h0 >> 10) & 1)
	imm10 := int64(h0 & 0x3FF)
	j1 := int64((h1 >> 13) & 1)
	j2 := int64((h1 >> 11) & 1)
	imm11 := int64(h1 & 0x7FF)
	i1 := j1 ^ s ^ 1
	i2 := j2 ^ s ^ 1
	imm25 := (s << 24) | (i1 << 23) | (i2 << 22) | (imm10 << 12) | (imm11 << 1)
	return signExtend(imm25, 25)
}

func withinThumbNearRange(from, to uintptr) bool {
	d := int64(to) - int64(from)
	return d > -thumbemit.NearRange && d < thumbemit.NearRange
}

// emitThumbLiteralLoad re-creates a 16-bit `LDR Rt,[PC,#imm8*4]`
// pointing at a fresh word-aligned literal pool entry holding val. A B
// over the entry (and over the two padding bytes placed before it when
// needed for word alignment) follows the LDR, so execution continues
// after the entry.
func emitThumbLiteralLoad(buf *asm.Buffer, rt uint32, val uint32) {
	instrOffset := buf.Len()
	buf.Write8(0x00)
	buf.Write8(uint8(0x48 | rt))

	pad := int((buf.Addr() + 2) % 4) // bytes after the B that word-align the entry
	buf.Write8(uint8(1 + pad/2))     // B, T2: skip pad plus the 4-byte entry
	buf.Write8(0xE0)
	for i := 0; i < pad; i++ {
		buf.Write8(0)
	}

	lit := buf.NewLabel("thumb_reloc_literal")
	buf.Refer(lit, instrOffset, asm.LinkThumbLoadLiteral8, 0)
	buf.Bind(lit)
	buf.Write32(val)
}
