package ihook

import (
	"reflect"
	"unsafe"
)

// funcval mirrors the Go runtime's own representation of a func value
// with no captured variables: a single word holding the entry code
// address (runtime2.go's funcval, reproduced here because it is an
// unexported runtime type no package can import). A top-level func or
// method expression value is a pointer to one of these; reflect already
// exploits the same layout to implement Value.Pointer() for func kinds.
type funcval struct {
	fn uintptr
}

// HookFunc is the package's answer to spec.md §6's "convenience macro":
// where the reference engine offers a textual fake_NAME/orig_NAME/
// install_hook_NAME(addr) generator, Go offers a generic function
// instead. Callers pass the victim and substitute as ordinary, already
// address-of'd function values of identical type F; HookFunc installs
// the hook and hands back a callable orig of the same type F, so the
// substitute can tail-call through orig(args...) without ever touching
// a raw uintptr.
//
// F must be a non-method, non-closure function type (no captured
// variables) — exactly the shape install_hook itself requires of both
// victim and substitute. Passing a bound method value or a closure
// produces a victimAddr/substituteAddr that points at a thunk or at
// shared captured state rather than at the function body the hook
// actually needs to patch, and HookFunc does not attempt to detect
// this.
func HookFunc[F any](victim, substitute F) (orig F, err error) {
	victimAddr := reflect.ValueOf(victim).Pointer()
	substituteAddr := reflect.ValueOf(substitute).Pointer()

	origAddr, err := InstallHook(victimAddr, substituteAddr)
	if err != nil {
		return orig, err
	}
	return makeFuncValue[F](origAddr), nil
}

// makeFuncValue constructs a func value of type F whose entry point is
// addr, by allocating a funcval carrying that address and pointing a
// variable of type F at it — the inverse of reflect.Value.Pointer()'s
// own trick for reading a func value's entry point back out.
func makeFuncValue[F any](addr uintptr) F {
	fv := &funcval{fn: addr}
	var out F
	*(*unsafe.Pointer)(unsafe.Pointer(&out)) = unsafe.Pointer(fv)
	return out
}
