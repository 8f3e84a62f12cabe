package registry

import (
	"testing"

	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/isa"
	"github.com/xyproto/ihook/internal/trampoline"
)

func newEntry(addr uintptr) *Entry {
	return &Entry{
		VictimAddr: addr,
		Arch:       isa.ArchX86_64,
		Mode:       ModeHook,
		Build:      &trampoline.Result{},
	}
}

func TestAddFindRemove(t *testing.T) {
	table := New()
	e := newEntry(0x1000)

	if err := table.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, ok := table.Find(0x1000); !ok || got != e {
		t.Fatalf("Find did not return the added entry")
	}
	if table.Count() != 1 {
		t.Fatalf("expected Count() == 1, got %d", table.Count())
	}

	removed, err := table.Remove(0x1000)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != e {
		t.Fatalf("Remove returned a different entry than was added")
	}
	if table.Count() != 0 {
		t.Fatalf("expected Count() == 0 after Remove, got %d", table.Count())
	}
	if _, ok := table.Find(0x1000); ok {
		t.Fatalf("Find should report false after Remove")
	}
}

func TestAddRejectsDuplicateAddr(t *testing.T) {
	table := New()
	if err := table.Add(newEntry(0x2000)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := table.Add(newEntry(0x2000))
	if err == nil {
		t.Fatalf("expected an error adding a duplicate victim address")
	}
	if _, ok := err.(*AlreadyExistsError); !ok {
		t.Fatalf("expected *AlreadyExistsError, got %T: %v", err, err)
	}
}

func TestRemoveUnknownAddrFails(t *testing.T) {
	table := New()
	_, err := table.Remove(0x3000)
	if err == nil {
		t.Fatalf("expected an error removing an address that was never added")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
}

func TestAllocatorFreeHandlesNilClosure(t *testing.T) {
	alloc := codealloc.New()
	e := newEntry(0x4000)
	// Must not panic when Closure is nil (the ModeHook case).
	AllocatorFree(alloc, e)
}
