package trampoline

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/isa"
)

func victimForTest(x int) int {
	// A few lines of real work so the compiled prologue has more than
	// just a tail-call's worth of bytes to relocate.
	y := x * 2
	y += 1
	return y
}

func currentArch(t *testing.T) isa.Arch {
	switch runtime.GOARCH {
	case "amd64":
		return isa.ArchX86_64
	case "arm64":
		return isa.ArchARM64
	default:
		t.Skipf("trampoline.Build not exercised on GOARCH=%s by this test", runtime.GOARCH)
		return isa.ArchUnknown
	}
}

// victimAddr returns victimForTest's own entry address, the same trick
// reflect.Value.Pointer() uses internally for a non-closure function
// value.
func victimAddr() uintptr {
	return uintptr((*[2]uintptr)(unsafe.Pointer(&victimForTest))[0])
}

func TestBuildProducesUsableResult(t *testing.T) {
	arch := currentArch(t)
	alloc := codealloc.New()

	dest := func(int) int { return 0 }
	destAddr := uintptr((*[2]uintptr)(unsafe.Pointer(&dest))[0])

	result, err := Build(arch, alloc, victimAddr(), destAddr, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.PatchBytes) == 0 {
		t.Fatalf("expected non-empty PatchBytes")
	}
	if result.Forwarder.Addr == 0 {
		t.Fatalf("expected a non-zero Forwarder block")
	}
	if result.RelocatedHead.Addr == 0 {
		t.Fatalf("expected a non-zero RelocatedHead block")
	}
	if result.OriginalFunc == 0 {
		t.Fatalf("expected a non-zero OriginalFunc")
	}
}
