package ihook

import (
	"reflect"
	"runtime"
	"testing"
)

//go:noinline
func hookVictimForTest(x int) int { return x + 1 }

//go:noinline
func hookSubstituteForTest(x int) int { return x + 100 }

func skipUnlessSupportedArch(t *testing.T) {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		t.Skipf("inline hooking not exercised on GOARCH=%s by this test", runtime.GOARCH)
	}
}

func TestInstallHookRedirectsAndUninstallRestores(t *testing.T) {
	skipUnlessSupportedArch(t)

	victimAddr := reflect.ValueOf(hookVictimForTest).Pointer()
	substituteAddr := reflect.ValueOf(hookSubstituteForTest).Pointer()

	if _, err := InstallHook(victimAddr, substituteAddr); err != nil {
		t.Fatalf("InstallHook: %v", err)
	}

	if got, want := hookVictimForTest(1), 101; got != want {
		Uninstall(victimAddr)
		t.Fatalf("after InstallHook, hookVictimForTest(1) = %d, want %d", got, want)
	}

	if err := Uninstall(victimAddr); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if got, want := hookVictimForTest(1), 2; got != want {
		t.Fatalf("after Uninstall, hookVictimForTest(1) = %d, want %d", got, want)
	}
}

func TestInstallHookRejectsZeroAddresses(t *testing.T) {
	if _, err := InstallHook(0, 1); err == nil {
		t.Fatalf("expected an error for a zero victimAddr")
	}
	if _, err := InstallHook(1, 0); err == nil {
		t.Fatalf("expected an error for a zero substitute")
	}
}

func TestUninstallUnknownAddrFails(t *testing.T) {
	if err := Uninstall(0xdeadbeef); err == nil {
		t.Fatalf("expected NotFound uninstalling an address that was never hooked")
	} else if CodeOf(err) != NotFound {
		t.Fatalf("expected NotFound code, got %v", CodeOf(err))
	}
}

//go:noinline
func instrumentVictimForTest(x int) int { return x * 2 }

// TestInstallInstrumentExRunsPreAndPost installs a Pre/Post pair
// (rather than InstallHook's fixed-substitute path) and asserts both
// handlers actually ran and the post handler observed the hooked
// function's real return value — the post-handler epilogue-redirection
// path the arm64 register-context offset bug silently broke.
func TestInstallInstrumentExRunsPreAndPost(t *testing.T) {
	skipUnlessSupportedArch(t)

	victimAddr := reflect.ValueOf(instrumentVictimForTest).Pointer()

	var preRan, postRan bool
	var postReturnValue uint64

	pre := func(ctx *RegisterContext) { preRan = true }
	post := func(ctx *RegisterContext) {
		postRan = true
		postReturnValue = ctx.ReturnValue()
	}

	if err := InstallInstrumentEx(victimAddr, pre, post); err != nil {
		t.Fatalf("InstallInstrumentEx: %v", err)
	}
	defer Uninstall(victimAddr)

	if got, want := instrumentVictimForTest(21), 42; got != want {
		t.Fatalf("instrumentVictimForTest(21) = %d, want %d", got, want)
	}
	if !preRan {
		t.Fatalf("pre handler never ran")
	}
	if !postRan {
		t.Fatalf("post handler never ran")
	}
	if postReturnValue != 42 {
		t.Fatalf("post handler observed return value %d, want 42", postReturnValue)
	}
}

func TestHookFuncRoundTrip(t *testing.T) {
	skipUnlessSupportedArch(t)

	orig, err := HookFunc(hookVictimForTest, hookSubstituteForTest)
	if err != nil {
		t.Fatalf("HookFunc: %v", err)
	}
	defer Uninstall(reflect.ValueOf(hookVictimForTest).Pointer())

	if got, want := hookVictimForTest(5), 105; got != want {
		t.Fatalf("hookVictimForTest(5) = %d, want %d", got, want)
	}
	if got, want := orig(5), 6; got != want {
		t.Fatalf("orig(5) = %d, want %d", got, want)
	}
}
