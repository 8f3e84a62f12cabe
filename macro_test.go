package ihook

import (
	"reflect"
	"testing"
)

func doubleForTest(x int) int { return x * 2 }

// TestMakeFuncValueRoundTrips exercises the funcval trick on its own,
// independent of InstallHook: take a real function's entry address via
// reflect, rebuild a callable value of the same type from just that
// address, and check it behaves identically to the original.
func TestMakeFuncValueRoundTrips(t *testing.T) {
	addr := reflect.ValueOf(doubleForTest).Pointer()

	rebuilt := makeFuncValue[func(int) int](addr)
	if got, want := rebuilt(21), doubleForTest(21); got != want {
		t.Fatalf("rebuilt func value returned %d, want %d", got, want)
	}
}
