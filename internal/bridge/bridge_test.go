package bridge

import (
	"runtime"
	"testing"

	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/isa"
)

func TestAllocStubRejectsUnsupportedArch(t *testing.T) {
	alloc := codealloc.New()
	_, err := AllocStub(isa.ArchThumb, alloc)
	if err == nil {
		t.Fatalf("expected an error allocating a stub for an unsupported arch")
	}
	if _, ok := err.(*UnsupportedArchError); !ok {
		t.Fatalf("expected *UnsupportedArchError, got %T: %v", err, err)
	}
}

func currentBridgeArch(t *testing.T) isa.Arch {
	switch runtime.GOARCH {
	case "amd64":
		return isa.ArchX86_64
	case "arm64":
		return isa.ArchARM64
	default:
		t.Skipf("bridge stubs not exercised on GOARCH=%s by this test", runtime.GOARCH)
		return isa.ArchUnknown
	}
}

func TestEmitEntrySucceedsOnAllocatedStub(t *testing.T) {
	arch := currentBridgeArch(t)
	alloc := codealloc.New()

	block, err := AllocStub(arch, alloc)
	if err != nil {
		t.Fatalf("AllocStub: %v", err)
	}
	tramp := &ClosureTrampoline{
		Pre:     func(ctx *RegisterContext) {},
		NextHop: 0x1234,
	}
	if err := EmitEntry(arch, block, tramp); err != nil {
		t.Fatalf("EmitEntry: %v", err)
	}
	if block.Addr == 0 {
		t.Fatalf("expected a non-zero stub block address")
	}
}

func TestEmitEpilogueRecordsEpilogueEntry(t *testing.T) {
	arch := currentBridgeArch(t)
	alloc := codealloc.New()

	block, err := AllocStub(arch, alloc)
	if err != nil {
		t.Fatalf("AllocStub: %v", err)
	}
	tramp := &ClosureTrampoline{
		Pre:     func(ctx *RegisterContext) {},
		Post:    func(ctx *RegisterContext) {},
		NextHop: 0x1234,
	}
	if err := EmitEpilogue(arch, block, tramp); err != nil {
		t.Fatalf("EmitEpilogue: %v", err)
	}
	if tramp.EpilogueEntry != block.Addr {
		t.Fatalf("expected EpilogueEntry %#x to equal block addr %#x", tramp.EpilogueEntry, block.Addr)
	}
}

func TestBuildWithoutPostSkipsEpilogue(t *testing.T) {
	arch := currentBridgeArch(t)
	alloc := codealloc.New()

	tramp := &ClosureTrampoline{Pre: func(ctx *RegisterContext) {}}
	stubs, err := Build(arch, alloc, tramp, 0x5678)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stubs.Entry.Addr == 0 {
		t.Fatalf("expected a non-zero Entry stub")
	}
	if stubs.Epilogue.Addr != 0 {
		t.Fatalf("expected a zero Epilogue stub when Post is nil, got %#x", stubs.Epilogue.Addr)
	}
	if tramp.NextHop != 0x5678 {
		t.Fatalf("expected Build to set NextHop, got %#x", tramp.NextHop)
	}

	Free(alloc, stubs)
}

func TestDiscardStaleFramesEmptyByDefault(t *testing.T) {
	frames := DiscardStaleFrames()
	if len(frames) != 0 {
		t.Fatalf("expected no stale frames on a clean call stack, got %d", len(frames))
	}
}
