package relocate

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/xyproto/ihook/internal/asm"
)

// relocateX86 handles both x86 and x86-64: decode mode is the only
// difference (32 vs 64), and both use the identical rel8/rel32 branch
// encodings, so one implementation covers internal/asm/x86 and
// internal/asm/x86_64 alike.
//
// Unconditional JMP/CALL/Jcc with a rel8/rel32 displacement are
// re-materialized by recomputing the displacement for the new PC and
// re-emitting the same class of instruction (CALL still pushes a
// return address, which architecturally becomes "the instruction right
// after this one" — already correct once copied to its new location,
// no manual stack fixup needed). RET ends the prologue and can't be
// usefully relocated. Anything else carrying a PC-relative operand
// (RIP-relative LEA/MOV addressing on x86-64, string-repeat forms with
// an implicit PC reference) is reported UnsupportedInstruction rather
// than silently miscopied.
func relocateX86(buf *asm.Buffer, srcAddr uintptr, minBytes int, is64 bool) (int, error) {
	mode := 32
	if is64 {
		mode = 64
	}

	consumed := 0
	for consumed < minBytes {
		src := readMemory(srcAddr+uintptr(consumed), 16)
		inst, err := x86asm.Decode(src, mode)
		if err != nil {
			return 0, &UnsupportedInstructionError{Addr: srcAddr + uintptr(consumed), Text: "decode failed: " + err.Error()}
		}

		instrAddr := srcAddr + uintptr(consumed)

		switch {
		case inst.Op == x86asm.RET:
			return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "RET"}

		case inst.Op == x86asm.JMP && inst.PCRel > 0:
			target := pcRelTarget(instrAddr, src, inst)
			emitRel32(buf, 0xE9, target)

		case inst.Op == x86asm.CALL && inst.PCRel > 0:
			target := pcRelTarget(instrAddr, src, inst)
			emitRel32(buf, 0xE8, target)

		case isConditionalJump(inst.Op) && inst.PCRel > 0:
			cc, ok := jccCondition(inst.Op)
			if !ok {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}
			}
			target := pcRelTarget(instrAddr, src, inst)
			emitJcc(buf, cc, target)

		case inst.PCRel > 0:
			return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}

		default:
			buf.Append(src[:inst.Len])
		}

		consumed += inst.Len
	}

	return consumed, nil
}

// pcRelTarget computes the absolute address a PC-relative x86 operand
// addresses, using the *original* instruction address as the spec
// requires (the new PC is only known once emission happens).
func pcRelTarget(instrAddr uintptr, src []byte, inst x86asm.Inst) uintptr {
	var rel int64
	switch inst.PCRel {
	case 1:
		rel = int64(int8(src[inst.PCRelOff]))
	case 2:
		rel = int64(int16(uint16(src[inst.PCRelOff]) | uint16(src[inst.PCRelOff+1])<<8))
	case 4:
		rel = int64(int32(readLE32(src, inst.PCRelOff)))
	}
	return instrAddr + uintptr(inst.Len) + uintptr(rel)
}

func readLE32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// emitRel32 writes a 1-byte-opcode + rel32 instruction (JMP/CALL) whose
// displacement is computed against the position it is about to occupy
// in buf.
func emitRel32(buf *asm.Buffer, opcode uint8, target uintptr) {
	instrOffset := buf.Len()
	buf.Write8(opcode)
	buf.Write32(0)
	buf.PatchAbsolute(instrOffset, asm.LinkRel32, target)
}

// emitJcc writes the 2-byte-opcode near form (0F 8x rel32) regardless of
// whether the original was the short (rel8) or near (rel32) encoding,
// since the short form's +-127-byte reach essentially never survives a
// relocation to a heap-allocated trampoline block.
func emitJcc(buf *asm.Buffer, cc uint8, target uintptr) {
	instrOffset := buf.Len()
	buf.Write8(0x0F)
	buf.Write8(0x80 | cc)
	buf.Write32(0)
	// LinkRel32 assumes a 1-byte opcode before the rel32 field; this
	// form has two, so patch directly instead of going through it.
	rel := int32(int64(target) - int64(buf.BaseAddr()+uintptr(instrOffset)) - 6)
	buf.PatchRel32At(instrOffset+2, rel)
}

func isConditionalJump(op x86asm.Op) bool {
	_, ok := jccCondition(op)
	return ok
}

// jccCondition maps the named Jcc mnemonics x86asm decodes to the
// 4-bit condition code x86's own encoding uses (0x70+cc / 0F 80+cc),
// per the standard Intel manual Jcc condition table.
func jccCondition(op x86asm.Op) (uint8, bool) {
	switch op {
	case x86asm.JO:
		return 0x0, true
	case x86asm.JNO:
		return 0x1, true
	case x86asm.JB:
		return 0x2, true
	case x86asm.JAE:
		return 0x3, true
	case x86asm.JE:
		return 0x4, true
	case x86asm.JNE:
		return 0x5, true
	case x86asm.JBE:
		return 0x6, true
	case x86asm.JA:
		return 0x7, true
	case x86asm.JS:
		return 0x8, true
	case x86asm.JNS:
		return 0x9, true
	case x86asm.JP:
		return 0xA, true
	case x86asm.JNP:
		return 0xB, true
	case x86asm.JL:
		return 0xC, true
	case x86asm.JGE:
		return 0xD, true
	case x86asm.JLE:
		return 0xE, true
	case x86asm.JG:
		return 0xF, true
	default:
		return 0, false
	}
}
