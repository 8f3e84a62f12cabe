// Package bridge implements component G, the closure bridge: the part
// of the engine that lets a hooked function's entry (and, for a
// two-phase instrumentation, its return) call into an arbitrary Go
// Pre/Post handler instead of a fixed machine-code destination.
//
// A per-ISA JIT stub (the "entry stub" / "epilogue stub" built by
// Build below) only ever does two things: materialize a *callSite
// pointer into the architecture's designated carrier register, and
// jump — never call — into the single process-wide bridgeEntry
// function. bridgeEntry is hand-written Go assembly (bridge_amd64.s,
// bridge_arm64.s), not further JIT'd bytes, because the only
// toolchain-supported way to reach arbitrary Go code from raw machine
// code is a CALL from within a real compiled Go assembly function body.
//
// Supported architectures: amd64 and arm64 only. The other three ISAs
// this engine's trampoline builder (component F) supports have no
// bridgeEntry counterpart; Build returns an UnsupportedArchError for
// them rather than silently degrading to hook-only (no instrument)
// behavior.
package bridge

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/ihook/internal/asm"
	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/isa"
	"github.com/xyproto/ihook/internal/memplat"
)

// stubBudget covers either architecture's stub: amd64 needs a 10-byte
// MOVABS plus a 6-byte RIP-indirect JMP plus an 8-byte pointer pool (24
// bytes); arm64 needs two literal loads, a branch, and two 8-byte pool
// entries (28 bytes). Rounded up to the next cache-friendly size.
const stubBudget = 32

// UnsupportedArchError reports that component G has no bridgeEntry
// implementation for the given architecture.
type UnsupportedArchError struct {
	Arch isa.Arch
}

func (e *UnsupportedArchError) Error() string {
	return fmt.Sprintf("bridge: closure bridge not implemented for %s", e.Arch)
}

// Stubs is the pair of JIT stubs a single instrumented Entry needs: the
// one the trampoline's forwarder actually jumps to (Entry), and the one
// the epilogue dispatch redirects a hooked function's return address to
// when a Post handler is configured (Epilogue, the zero Block when
// tramp.Post is nil).
type Stubs struct {
	Entry    codealloc.Block
	Epilogue codealloc.Block
}

// Build allocates and JIT-emits the stub(s) for one hooked Entry's
// *ClosureTrampoline in one step, setting tramp.NextHop to nextHop. Use
// this when nextHop is already known before any stub address is needed
// elsewhere.
//
// Installing an instrument-mode hook has a forward reference Build
// alone can't satisfy: the trampoline builder (component F) needs the
// entry stub's address to build its forwarder before the relocated head
// exists, but the relocated head's address is exactly what NextHop
// needs to be. Callers in that situation use AllocStub/EmitEntry/
// EmitEpilogue directly instead of Build; see ihook.go's
// installInstrument for the sequencing.
func Build(arch isa.Arch, alloc *codealloc.Allocator, tramp *ClosureTrampoline, nextHop uintptr) (*Stubs, error) {
	tramp.NextHop = nextHop
	entryBlock, err := AllocStub(arch, alloc)
	if err != nil {
		return nil, err
	}
	if err := EmitEntry(arch, entryBlock, tramp); err != nil {
		alloc.Free(entryBlock)
		return nil, err
	}

	stubs := &Stubs{Entry: entryBlock}
	if tramp.Post == nil {
		return stubs, nil
	}

	epilogueBlock, err := AllocStub(arch, alloc)
	if err != nil {
		alloc.Free(entryBlock)
		return nil, err
	}
	if err := EmitEpilogue(arch, epilogueBlock, tramp); err != nil {
		alloc.Free(entryBlock)
		alloc.Free(epilogueBlock)
		return nil, err
	}
	stubs.Epilogue = epilogueBlock
	return stubs, nil
}

// AllocStub reserves one JIT stub block without filling it in, so its
// address is available before the data a stub carries (tramp.NextHop in
// particular) is itself known.
func AllocStub(arch isa.Arch, alloc *codealloc.Allocator) (codealloc.Block, error) {
	if arch != isa.ArchX86_64 && arch != isa.ArchARM64 {
		return codealloc.Block{}, &UnsupportedArchError{Arch: arch}
	}
	block, err := alloc.AllocExec(stubBudget)
	if err != nil {
		return codealloc.Block{}, fmt.Errorf("bridge: allocating stub: %w", err)
	}
	return block, nil
}

// EmitEntry fills a block already reserved by AllocStub with the Entry
// phase stub for tramp. tramp.NextHop must already be set.
func EmitEntry(arch isa.Arch, block codealloc.Block, tramp *ClosureTrampoline) error {
	return emitStub(arch, block, &callSite{Tramp: tramp, Phase: phaseEntry}, bridgeEntryAddr())
}

// EmitEpilogue fills a block already reserved by AllocStub with the
// Epilogue phase stub for tramp, and records block's address as
// tramp.EpilogueEntry.
func EmitEpilogue(arch isa.Arch, block codealloc.Block, tramp *ClosureTrampoline) error {
	if err := emitStub(arch, block, &callSite{Tramp: tramp, Phase: phaseEpilogue}, bridgeEntryAddr()); err != nil {
		return err
	}
	tramp.EpilogueEntry = block.Addr
	return nil
}

// Free releases both of a Build result's JIT stubs. Freeing the zero
// Block (Epilogue, when no Post handler was configured) is a no-op in
// codealloc.
func Free(alloc *codealloc.Allocator, s *Stubs) {
	alloc.Free(s.Entry)
	alloc.Free(s.Epilogue)
}

// emitStub writes the tiny "load the callSite pointer into the carrier
// register, then jump to bridgeEntry" sequence directly with asm.Buffer
// primitives. None of the per-ISA Assembler packages (internal/asm/*)
// expose a "materialize this 64-bit data pointer into a register"
// operation — their whole job is branch encoding for the trampoline
// patch (component F), not passing an out-of-band data value across a
// jump — so this one raw sequence lives here instead of being routed
// through them.
func emitStub(arch isa.Arch, block codealloc.Block, site *callSite, bridgeAddr uintptr) error {
	buf := asm.NewBuffer(block.Addr)
	switch arch {
	case isa.ArchX86_64:
		emitAMD64Stub(buf, site, bridgeAddr)
	case isa.ArchARM64:
		emitARM64Stub(buf, site, bridgeAddr)
	}
	if buf.Len() > block.Size {
		return fmt.Errorf("bridge: stub of %d bytes exceeds %d-byte budget", buf.Len(), block.Size)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(block.Addr)), buf.Len())
	copy(dst, buf.Bytes())
	memplat.ClearICache(block.Addr, block.Addr+uintptr(buf.Len()))
	return nil
}

// emitAMD64Stub writes:
//
//	49 BB <imm64>        MOVABS R11, site
//	FF 25 00000000        JMP    [RIP+0]
//	<imm64>                bridgeAddr
//
// R11 is the same SysV-ABI call-clobbered scratch register
// bridge_amd64.s documents as its one undocumented-in-RegisterContext
// exception. The jump itself is RIP-relative-indirect through the
// 8-byte pool slot that follows it, the same "jmp *label(%rip)" shape a
// real PLT's second-stage stub uses, so reaching bridgeEntry (which may
// sit anywhere in the address space relative to this JIT page) clobbers
// no register other than R11.
func emitAMD64Stub(buf *asm.Buffer, site *callSite, bridgeAddr uintptr) {
	buf.Write8(0x49) // REX.WB
	buf.Write8(0xBB) // MOVABS r11, imm64
	buf.Write64(uint64(uintptr(unsafe.Pointer(site))))
	buf.Write8(0xFF) // JMP r/m64 (opcode extension /4)
	buf.Write8(0x25) // ModRM: mod=00 reg=100 rm=101 -> [RIP+disp32]
	buf.Write32(0)   // disp32 = 0: the pool entry sits right after this instruction
	buf.Write64(uint64(bridgeAddr))
}

// emitARM64Stub writes two PC-relative literal loads (the callSite
// pointer into X16/IP0, matching internal/asm/arm64's own EmitFarBranch
// carrier convention; bridgeAddr into X17/IP1) followed by an indirect
// branch through X17. Both IP0 and IP1 are AAPCS64's designated
// intra-procedure-call temporaries — already considered clobbered
// across any call by the calling convention itself — so using both here
// corrupts no register the hooked function's own code could be relying
// on surviving.
func emitARM64Stub(buf *asm.Buffer, site *callSite, bridgeAddr uintptr) {
	const carrierReg = 16
	const targetReg = 17

	siteLoadOffset := buf.Len()
	buf.Write32(0x58000000 | carrierReg) // LDR X16, lit

	targetLoadOffset := buf.Len()
	buf.Write32(0x58000000 | targetReg) // LDR X17, lit
	buf.Write32(0xD61F0000 | (targetReg << 5)) // BR X17

	siteLit := buf.NewLabel("closure_stub_site")
	buf.Refer(siteLit, siteLoadOffset, asm.LinkARM64LoadLiteral19, 0)
	buf.Bind(siteLit)
	buf.Write64(uint64(uintptr(unsafe.Pointer(site))))

	targetLit := buf.NewLabel("closure_stub_target")
	buf.Refer(targetLit, targetLoadOffset, asm.LinkARM64LoadLiteral19, 0)
	buf.Bind(targetLit)
	buf.Write64(uint64(bridgeAddr))
}
