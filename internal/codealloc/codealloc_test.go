package codealloc

import "testing"

func TestAllocExecReturnsDistinctBlocks(t *testing.T) {
	a := New()

	b1, err := a.AllocExec(16)
	if err != nil {
		t.Fatalf("AllocExec(16): %v", err)
	}
	b2, err := a.AllocExec(32)
	if err != nil {
		t.Fatalf("AllocExec(32): %v", err)
	}

	if b1.Addr == b2.Addr {
		t.Fatalf("expected distinct addresses, both got %#x", b1.Addr)
	}
	if b2.Addr >= b1.Addr && b2.Addr < b1.End() {
		t.Fatalf("block 2 %#x overlaps block 1 [%#x,%#x)", b2.Addr, b1.Addr, b1.End())
	}
}

func TestAllocExecAndDataUseSeparatePools(t *testing.T) {
	a := New()

	execBlock, err := a.AllocExec(16)
	if err != nil {
		t.Fatalf("AllocExec: %v", err)
	}
	dataBlock, err := a.AllocData(16)
	if err != nil {
		t.Fatalf("AllocData: %v", err)
	}

	if len(a.execPages) != 1 || len(a.dataPages) != 1 {
		t.Fatalf("expected one exec page and one data page, got %d exec, %d data", len(a.execPages), len(a.dataPages))
	}
	if execBlock.Addr == dataBlock.Addr {
		t.Fatalf("exec and data blocks should not share an address")
	}
}

func TestFreeReturnsBlockToOwningPage(t *testing.T) {
	a := New()

	b, err := a.AllocExec(16)
	if err != nil {
		t.Fatalf("AllocExec: %v", err)
	}
	if err := a.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// A same-size request should now be satisfied from the free list
	// rather than bumping the page further.
	before := a.execPages[0].used
	b2, err := a.AllocExec(16)
	if err != nil {
		t.Fatalf("AllocExec after free: %v", err)
	}
	if b2.Addr != b.Addr {
		t.Fatalf("expected reused address %#x, got %#x", b.Addr, b2.Addr)
	}
	if a.execPages[0].used != before {
		t.Fatalf("expected reuse from free list, page grew from %d to %d", before, a.execPages[0].used)
	}
}

func TestFreeUnknownAddressErrors(t *testing.T) {
	a := New()
	if err := a.Free(Block{Addr: 0xdeadbeef, Size: 8}); err == nil {
		t.Fatal("expected error freeing an address never allocated")
	}
}

func TestAllocExecRejectsOversizeRequest(t *testing.T) {
	a := New()
	if _, err := a.AllocExec(1 << 30); err == nil {
		t.Fatal("expected error for a request larger than one page")
	}
}

func TestAllocNearWithoutCallbackStaysInRange(t *testing.T) {
	a := New()

	first, err := a.AllocExec(16)
	if err != nil {
		t.Fatalf("AllocExec: %v", err)
	}

	const rng = 128 << 20
	b, err := a.AllocNear(16, first.Addr, rng)
	if err != nil {
		t.Fatalf("AllocNear: %v", err)
	}

	lo := uintptr(0)
	if first.Addr > rng {
		lo = first.Addr - rng
	}
	hi := first.Addr + rng
	if b.Addr < lo || b.Addr >= hi {
		t.Fatalf("block %#x outside requested range [%#x,%#x)", b.Addr, lo, hi)
	}
}

func TestAllocNearConsultsCallbackFirst(t *testing.T) {
	a := New()
	called := false
	a.SetNearCodeCallback(func(size int, target, rng uintptr) (uintptr, bool) {
		called = true
		return 0, false
	})

	if _, err := a.AllocNear(16, 0x1000, 128<<20); err != nil {
		t.Fatalf("AllocNear: %v", err)
	}
	if !called {
		t.Fatal("expected the installed callback to be consulted")
	}
}
