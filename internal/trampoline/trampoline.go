// Package trampoline implements component F: turning a victim address
// and a destination address into the three blocks a hook needs — the
// patch bytes written over the victim's prologue, the forwarder block
// the patch branches to, and the relocated head that gives the caller
// back a callable "original function" pointer. Grounded on
// Dk2014-hinako/hinako.go's Hook (the one place in the retrieval pack
// that assembles a patch + a jump-back trampoline end to end), extended
// to the five-ISA near/far split spec.md §4.F describes.
package trampoline

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/ihook/internal/asm"
	armemit "github.com/xyproto/ihook/internal/asm/arm"
	arm64emit "github.com/xyproto/ihook/internal/asm/arm64"
	thumbemit "github.com/xyproto/ihook/internal/asm/thumb"
	x86emit "github.com/xyproto/ihook/internal/asm/x86"
	x64emit "github.com/xyproto/ihook/internal/asm/x86_64"
	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/isa"
	"github.com/xyproto/ihook/internal/memplat"
	"github.com/xyproto/ihook/internal/patch"
	"github.com/xyproto/ihook/internal/relocate"
)

// relocatedHeadBudget is a generous fixed allocation for the relocated
// head block. A handful of widened instructions plus literal pool
// entries plus the tail branch essentially never exceeds this in
// practice; codealloc's bump allocator wastes the unused tail rather
// than reclaim it, the same tradeoff the teacher's Arena makes.
const relocatedHeadBudget = 256

// Result is everything Build produced: the bytes the caller must write
// over the victim (via internal/patch), and the two allocated blocks
// that back them.
type Result struct {
	PatchBytes    []byte
	PatchSize     int
	Forwarder     codealloc.Block
	RelocatedHead codealloc.Block
	// OriginalFunc is the address the caller should hand back as the
	// "original function" pointer: calling it runs the relocated
	// prologue instructions and then falls through to the rest of the
	// unmodified victim.
	OriginalFunc uintptr
}

// Build allocates the forwarder and relocated-head blocks, assembles
// both, and computes the patch bytes that will later be written over
// victimAddr by internal/patch.Patch. It does not touch victimAddr
// itself — installing the patch is the caller's job, once it has
// decided the relocated head is usable (e.g. after registering it).
//
// near selects the patch encoding: spec.md §4.F, "For x86 family,
// always near (E9 rel32); for ARM/ARM64/Thumb, near_trampoline decides
// between a single direct branch and a load-literal-and-branch pair."
// x86/x86-64 ignore near and always use the one form they have.
func Build(arch isa.Arch, alloc *codealloc.Allocator, victimAddr, destAddr uintptr, near bool) (*Result, error) {
	if victimAddr == 0 || destAddr == 0 {
		return nil, fmt.Errorf("trampoline: victim and destination addresses must be non-zero")
	}

	patchSize := patchSizeFor(arch, near)
	forwarderSize := forwarderSizeFor(arch)

	forwarderBlock, err := allocForwarder(alloc, arch, victimAddr, near, forwarderSize)
	if err != nil {
		return nil, fmt.Errorf("trampoline: allocating forwarder: %w", err)
	}

	fbuf := asm.NewBuffer(forwarderBlock.Addr)
	emitForwarderJump(arch, fbuf, destAddr)
	if err := writeBlock(forwarderBlock, fbuf.Bytes()); err != nil {
		return nil, fmt.Errorf("trampoline: writing forwarder: %w", err)
	}

	// The x86/x86-64 tail branch back into the victim is an E9 rel32, so
	// there the relocated head has to sit within rel32 reach of it.
	var relocBlock codealloc.Block
	if arch == isa.ArchX86 || arch == isa.ArchX86_64 {
		relocBlock, err = alloc.AllocNear(relocatedHeadBudget, victimAddr, nearRangeFor(arch))
	} else {
		relocBlock, err = alloc.AllocExec(relocatedHeadBudget)
	}
	if err != nil {
		return nil, fmt.Errorf("trampoline: allocating relocated head: %w", err)
	}

	rbuf := asm.NewBuffer(relocBlock.Addr)
	if _, err := relocate.Relocate(arch, rbuf, victimAddr, patchSize); err != nil {
		alloc.Free(relocBlock)
		alloc.Free(forwarderBlock)
		return nil, fmt.Errorf("trampoline: relocating victim prologue: %w", err)
	}
	if err := writeBlock(relocBlock, rbuf.Bytes()); err != nil {
		return nil, fmt.Errorf("trampoline: writing relocated head: %w", err)
	}

	pbuf := asm.NewBuffer(victimAddr)
	emitPatchBranch(arch, pbuf, forwarderBlock.Addr, near)

	return &Result{
		PatchBytes:    pbuf.Bytes(),
		PatchSize:     patchSize,
		Forwarder:     forwarderBlock,
		RelocatedHead: relocBlock,
		OriginalFunc:  relocBlock.Addr,
	}, nil
}

// Install writes result's patch bytes over victimAddr, the one step
// Build leaves undone.
func Install(victimAddr uintptr, result *Result) error {
	return patch.Patch(victimAddr, result.PatchBytes)
}

func allocForwarder(alloc *codealloc.Allocator, arch isa.Arch, victimAddr uintptr, near bool, size int) (codealloc.Block, error) {
	if !near && arch != isa.ArchX86 && arch != isa.ArchX86_64 {
		return alloc.AllocExec(size)
	}
	return alloc.AllocNear(size, victimAddr, nearRangeFor(arch))
}

// writeBlock copies data into an already-RWX codealloc block (exec
// pages stay RWX for the process lifetime, per codealloc) and flushes
// the instruction cache over the written range. Unlike internal/patch
// it never touches page permissions, since there is nothing to widen
// or restore.
func writeBlock(block codealloc.Block, data []byte) error {
	if len(data) > block.Size {
		return fmt.Errorf("trampoline: assembled %d bytes, block only holds %d", len(data), block.Size)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(block.Addr)), len(data))
	copy(dst, data)
	memplat.ClearICache(block.Addr, block.Addr+uintptr(len(data)))
	return nil
}

func patchSizeFor(arch isa.Arch, near bool) int {
	switch arch {
	case isa.ArchX86:
		return x86emit.PatchSize
	case isa.ArchX86_64:
		return x64emit.PatchSize
	case isa.ArchARM:
		if near {
			return armemit.PatchSize
		}
		return armemit.FarPatchSize
	case isa.ArchThumb:
		if near {
			return thumbemit.PatchSize
		}
		return thumbemit.FarPatchSize
	case isa.ArchARM64:
		if near {
			return arm64emit.PatchSize
		}
		return arm64emit.FarPatchSize
	default:
		return 0
	}
}

// forwarderSizeFor sizes the forwarder block. On ARM, Thumb and ARM64
// the forwarder always uses the far form to reach destAddr, regardless
// of the victim patch's own near/far choice. x86/x86-64 have only the
// E9 rel32 form, so there the forwarder reaches destAddr only within
// ±2GiB of itself. allocForwarder places the forwarder within branch
// range of the victim on x86/x86-64 and in near mode.
func forwarderSizeFor(arch isa.Arch) int {
	switch arch {
	case isa.ArchX86:
		return x86emit.PatchSize
	case isa.ArchX86_64:
		return x64emit.PatchSize
	case isa.ArchARM:
		return armemit.FarPatchSize
	case isa.ArchThumb:
		return thumbemit.FarPatchSize
	case isa.ArchARM64:
		return arm64emit.FarPatchSize
	default:
		return 0
	}
}

func nearRangeFor(arch isa.Arch) uintptr {
	switch arch {
	case isa.ArchARM:
		return armemit.NearRange
	case isa.ArchThumb:
		return thumbemit.NearRange
	case isa.ArchARM64:
		return arm64emit.NearRange
	default:
		// x86/x86-64 rel32 reaches +-2GiB; stay safely inside int32
		// range when asking codealloc to place the forwarder nearby.
		return 0x70000000
	}
}

func emitForwarderJump(arch isa.Arch, buf *asm.Buffer, destAddr uintptr) {
	switch arch {
	case isa.ArchX86:
		x86emit.New(buf).EmitBranch(destAddr)
	case isa.ArchX86_64:
		x64emit.New(buf).EmitBranch(destAddr)
	case isa.ArchARM:
		armemit.New(buf).EmitFarBranch(destAddr)
	case isa.ArchThumb:
		thumbemit.New(buf).EmitFarBranch(destAddr)
	case isa.ArchARM64:
		arm64emit.New(buf).EmitFarBranch(destAddr)
	}
}

func emitPatchBranch(arch isa.Arch, buf *asm.Buffer, forwarderAddr uintptr, near bool) {
	switch arch {
	case isa.ArchX86:
		x86emit.New(buf).EmitBranch(forwarderAddr)
	case isa.ArchX86_64:
		x64emit.New(buf).EmitBranch(forwarderAddr)
	case isa.ArchARM:
		a := armemit.New(buf)
		if near {
			a.EmitNearBranch(forwarderAddr)
		} else {
			a.EmitFarBranch(forwarderAddr)
		}
	case isa.ArchThumb:
		a := thumbemit.New(buf)
		if near {
			a.EmitNearBranch(forwarderAddr)
		} else {
			a.EmitFarBranch(forwarderAddr)
		}
	case isa.ArchARM64:
		a := arm64emit.New(buf)
		if near {
			a.EmitNearBranch(forwarderAddr)
		} else {
			a.EmitFarBranch(forwarderAddr)
		}
	}
}
