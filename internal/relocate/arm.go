package relocate

import (
	"golang.org/x/arch/arm/armasm"

	"github.com/xyproto/ihook/internal/asm"
	armemit "github.com/xyproto/ihook/internal/asm/arm"
)

// condAL is the 4-bit "always execute" condition field. armasm names
// every member of a condition-coded family after the EQ form (B_EQ,
// BL_EQ, LDR_EQ, ...) regardless of which condition is actually
// encoded — the real condition only survives in Enc's top 4 bits, so
// relocateARM reads it from there directly rather than trusting Op.
const condAL = 0xE

// relocateARM handles 32-bit ARM (A32) code. armasm.Decode(_, ModeARM)
// gives a PCRel argument already scaled and sign-extended for B/BL
// (arg_label24) and a Mem{Base: PC} argument for literal loads
// (arg_label_pm_12); both are relative to instrAddr+8, the classic
// ARM "PC reads as the address of the current instruction plus 8"
// pipeline quirk.
//
// Only the unconditional forms are relocated: B/BL with cond==AL via
// arm.Assembler's far/near-with-link emitters, and LDR Rt,[PC,#d]
// (any condition, since a conditional literal load's condition check
// itself isn't materialized by re-pointing the pool entry) by
// re-creating a fresh literal pool entry holding the value the
// original instruction would have read. Everything else that touches
// PC — conditional branches, ADD/SUB Rd,PC,#imm, BX/BLX PC — is
// reported unsupported; these don't appear in ordinary compiler
// output for a function's first few instructions, which is the only
// code this engine ever walks.
func relocateARM(buf *asm.Buffer, srcAddr uintptr, minBytes int) (int, error) {
	a := armemit.New(buf)

	consumed := 0
	for consumed < minBytes {
		src := readMemory(srcAddr+uintptr(consumed), 4)
		inst, err := armasm.Decode(src, armasm.ModeARM)
		if err != nil {
			return 0, &UnsupportedInstructionError{Addr: srcAddr + uintptr(consumed), Text: "decode failed: " + err.Error()}
		}

		instrAddr := srcAddr + uintptr(consumed)
		cond := inst.Enc >> 28

		switch inst.Op {
		case armasm.B_EQ:
			if cond != condAL {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}
			}
			target := armPCRelTarget(instrAddr, inst)
			a.EmitFarBranch(target)

		case armasm.BL_EQ:
			if cond != condAL {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}
			}
			target := armPCRelTarget(instrAddr, inst)
			if withinNearRange(buf.Addr(), target) {
				a.EmitNearBranchWithLink(target)
			} else {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: "BL target exceeds near range: " + inst.String()}
			}

		case armasm.LDR_EQ:
			mem, ok := literalMem(inst)
			if !ok {
				buf.Append(src[:inst.Len])
				break
			}
			litAddr := instrAddr + 8 + uintptr(int32(mem.Offset))
			val := readUint32(litAddr)
			emitARMLiteralLoad(buf, inst, val)

		default:
			if referencesPC(inst) {
				return 0, &UnsupportedInstructionError{Addr: instrAddr, Text: inst.String()}
			}
			buf.Append(src[:inst.Len])
		}

		consumed += inst.Len
	}

	return consumed, nil
}

func armPCRelTarget(instrAddr uintptr, inst armasm.Inst) uintptr {
	pcrel := inst.Args[0].(armasm.PCRel)
	return instrAddr + 8 + uintptr(int32(pcrel))
}

func withinNearRange(from, to uintptr) bool {
	d := int64(to) - int64(from)
	return d > -armemit.NearRange && d < armemit.NearRange
}

// literalMem extracts a Mem{Base: PC} argument from an LDR_EQ
// instruction, reporting ok=false for every other LDR addressing mode
// (register base, writeback, ...), which carry no PC reference and are
// safe to copy verbatim.
func literalMem(inst armasm.Inst) (armasm.Mem, bool) {
	for _, arg := range inst.Args {
		if mem, ok := arg.(armasm.Mem); ok && mem.Base == armasm.PC {
			return mem, true
		}
	}
	return armasm.Mem{}, false
}

// emitARMLiteralLoad re-creates `LDR Rt,[PC,#imm12]` pointing at a
// fresh literal pool entry holding val, preserving the destination
// register the original instruction used. A B over the pool entry
// follows the LDR, so execution continues after the entry.
func emitARMLiteralLoad(buf *asm.Buffer, orig armasm.Inst, val uint32) {
	rt, _ := orig.Args[0].(armasm.Reg)

	instrOffset := buf.Len()
	buf.Write32(0xE59F0000 | (uint32(rt) << 12))
	buf.Write32(0xEA000000) // B past the 4-byte pool entry

	lit := buf.NewLabel("arm_reloc_literal")
	buf.Refer(lit, instrOffset, asm.LinkARMLoadLiteral12, 0)
	buf.Bind(lit)
	buf.Write32(val)
}

// referencesPC reports whether any argument of inst names R15/PC,
// directly or as a Mem base/index — the catch-all guard for the PC
// manipulation forms this relocator does not special-case (ADD/SUB/MOV
// with Rd or Rn == PC, register-indexed branches, and so on).
func referencesPC(inst armasm.Inst) bool {
	for _, arg := range inst.Args {
		switch v := arg.(type) {
		case armasm.Reg:
			if v == armasm.PC {
				return true
			}
		case armasm.Mem:
			if v.Base == armasm.PC || v.Index == armasm.PC {
				return true
			}
		case armasm.RegList:
			if v&(1<<uint(armasm.PC)) != 0 {
				return true
			}
		}
	}
	return false
}
