package config

import "testing"

func TestSetNearTrampolineRoundTrips(t *testing.T) {
	orig := NearTrampolineEnabled()
	defer SetNearTrampoline(orig)

	SetNearTrampoline(false)
	if NearTrampolineEnabled() {
		t.Fatalf("expected NearTrampolineEnabled to report false after SetNearTrampoline(false)")
	}
	SetNearTrampoline(true)
	if !NearTrampolineEnabled() {
		t.Fatalf("expected NearTrampolineEnabled to report true after SetNearTrampoline(true)")
	}
}

func TestAllocNearCodeCallbackNilByDefault(t *testing.T) {
	defer SetAllocNearCodeCallback(nil)

	SetAllocNearCodeCallback(nil)
	if cb := AllocNearCodeCallback(); cb != nil {
		t.Fatalf("expected nil callback, got non-nil")
	}
}

func TestAllocNearCodeCallbackStoresAndClears(t *testing.T) {
	defer SetAllocNearCodeCallback(nil)

	called := false
	SetAllocNearCodeCallback(func(size int, target uintptr, rng uintptr) (uintptr, bool) {
		called = true
		return target + 1, true
	})

	cb := AllocNearCodeCallback()
	if cb == nil {
		t.Fatalf("expected a non-nil callback after Set")
	}
	addr, ok := cb(16, 0x1000, 0x10000)
	if !called || !ok || addr != 0x1001 {
		t.Fatalf("callback did not round-trip: called=%v ok=%v addr=%#x", called, ok, addr)
	}

	SetAllocNearCodeCallback(nil)
	if cb := AllocNearCodeCallback(); cb != nil {
		t.Fatalf("expected callback to clear after SetAllocNearCodeCallback(nil)")
	}
}
