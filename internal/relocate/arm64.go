package relocate

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/xyproto/ihook/internal/asm"
	arm64emit "github.com/xyproto/ihook/internal/asm/arm64"
)

// relocateARM64 handles AArch64 code. arm64asm decodes B and BL to a
// PCRel argument relative to the instruction's own address (no ARM
// A32-style PC+8 pipeline offset). B is overloaded between the
// unconditional (imm26, Args[0]=PCRel) and conditional B.cond
// (imm19, Args[0]=Cond, Args[1]=PCRel) forms — both decode to the same
// Op, so the two are told apart by the type of Args[0], not by Op.
func relocateARM64(buf *asm.Buffer, srcAddr uintptr, minBytes int) (int, error) {
	a := arm64emit.New(buf)

	consumed := 0
	for consumed < minBytes {
		src := readMemory(srcAddr+uintptr(consumed), 4)
		inst, err := arm64asm.Decode(src)
		if err != nil {
			return 0, &UnsupportedInstructionError{Addr: srcAddr + uintptr(consumed), Text: "decode failed: " + err.Error()}
		}

		instrAddr := srcAddr + uintptr(consumed)

		switch inst.Op {
		case arm64asm.B:
			pcrel, ok := inst.Args[0].(arm64asm.PCRel)
			if !ok {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "conditional B: " + inst.String()}
			}
			target := instrAddr + uintptr(int64(pcrel))
			a.EmitFarBranch(target)

		case arm64asm.BL:
			pcrel := inst.Args[0].(arm64asm.PCRel)
			target := instrAddr + uintptr(int64(pcrel))
			if withinARM64NearRange(buf.Addr(), target) {
				a.EmitNearBranchWithLink(target)
			} else {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "BL target exceeds near range: " + inst.String()}
			}

		case arm64asm.LDR, arm64asm.LDRSW:
			pcrel, ok := literalPCRel(inst)
			if !ok {
				buf.Append(src)
				break
			}
			if r, isReg := inst.Args[0].(arm64asm.Reg); !isReg || !(isXReg(r) || r >= arm64asm.W0 && r <= arm64asm.W30 || r == arm64asm.WZR) {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "literal load to a non-general register: " + inst.String()}
			}
			litAddr := instrAddr + uintptr(int64(pcrel))
			emitARM64LiteralLoad(buf, inst, litAddr)

		default:
			if referencesARM64PC(inst) {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}
			}
			buf.Append(src[:4])
		}

		consumed += 4
	}

	return consumed, nil
}

func withinARM64NearRange(from, to uintptr) bool {
	d := int64(to) - int64(from)
	return d > -arm64emit.NearRange && d < arm64emit.NearRange
}

// literalPCRel finds the PCRel argument of an LDR (literal) form,
// reporting ok=false for every register/immediate-offset LDR
// addressing mode, which carries no PC reference.
func literalPCRel(inst arm64asm.Inst) (arm64asm.PCRel, bool) {
	for _, arg := range inst.Args {
		if pcrel, ok := arg.(arm64asm.PCRel); ok {
			return pcrel, true
		}
	}
	return 0, false
}

// emitARM64LiteralLoad re-creates an `LDR Xt/Wt, literal` or `LDRSW
// Xt, literal` pointing at a fresh pool entry, reading the value the
// original literal load would have read and preserving the
// destination register, width, and sign-extension behavior. A B over
// the pool entry follows the LDR, so execution continues after the
// entry. Only W/X destinations reach here; relocateARM64 rejects
// FP/SIMD literal loads.
func emitARM64LiteralLoad(buf *asm.Buffer, orig arm64asm.Inst, litAddr uintptr) {
	rt := regNum(orig.Args[0])

	var opcode uint32
	var poolIs64 bool
	switch {
	case orig.Op == arm64asm.LDRSW:
		opcode, poolIs64 = 0x98000000, false // 32-bit literal, sign-extended at load time
	case isXReg(orig.Args[0]):
		opcode, poolIs64 = 0x58000000, true
	default:
		opcode, poolIs64 = 0x18000000, false
	}

	instrOffset := buf.Len()
	buf.Write32(opcode | uint32(rt))
	if poolIs64 {
		buf.Write32(0x14000003) // B past the 8-byte pool entry
	} else {
		buf.Write32(0x14000002) // B past the 4-byte pool entry
	}

	lit := buf.NewLabel("arm64_reloc_literal")
	buf.Refer(lit, instrOffset, asm.LinkARM64LoadLiteral19, 0)
	buf.Bind(lit)

	if poolIs64 {
		buf.Write64(readUint64(litAddr))
	} else {
		buf.Write32(readUint32(litAddr))
	}
}

// regNum extracts the 0-31 register number from a W or X register arg.
// arm64asm.Reg enumerates all 31 W registers (plus WZR) before the X
// registers (plus XZR), so the two ranges need separate offsets rather
// than a single mask.
func regNum(arg arm64asm.Arg) uint8 {
	r, ok := arg.(arm64asm.Reg)
	if !ok {
		return 0
	}
	switch {
	case r >= arm64asm.W0 && r <= arm64asm.W30:
		return uint8(r - arm64asm.W0)
	case r == arm64asm.WZR:
		return 31
	case r >= arm64asm.X0 && r <= arm64asm.X30:
		return uint8(r - arm64asm.X0)
	case r == arm64asm.XZR:
		return 31
	default:
		return 0
	}
}

func isXReg(arg arm64asm.Arg) bool {
	r, ok := arg.(arm64asm.Reg)
	if !ok {
		return false
	}
	return r >= arm64asm.X0 && r <= arm64asm.X30 || r == arm64asm.XZR
}

// referencesARM64PC reports whether inst carries any PC-relative
// argument this relocator doesn't already special-case: CBZ/CBNZ,
// TBZ/TBNZ, ADR/ADRP, and conditional B.cond all count as PCRel
// arguments and fall through to here once B/BL/LDR have been excluded.
func referencesARM64PC(inst arm64asm.Inst) bool {
	for _, arg := range inst.Args {
		if _, ok := arg.(arm64asm.PCRel); ok {
			return true
		}
	}
	return false
}
