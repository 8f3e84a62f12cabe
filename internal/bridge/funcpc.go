package bridge

import "reflect"

// funcPC returns f's entry code address. reflect.Value.Pointer documents
// this as the contract for a Func-kind value ("if v's Kind is Func, the
// returned pointer is an underlying code pointer, but not necessarily
// enough to identify a single function uniquely"), which is exactly
// what bridgeEntryAddr needs: a real, callable machine address to bake
// into each Entry's JIT stub as a branch target.
func funcPC(f interface{}) uintptr {
	return reflect.ValueOf(f).Pointer()
}
