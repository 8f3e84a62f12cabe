// Package config implements component L: the process-wide knobs the
// rest of the engine consults rather than owns outright — whether new
// trampolines prefer the near or far patch encoding, and an optional
// caller-supplied near-allocation strategy. Grounded on the teacher's
// use of xyproto/env for process-wide, environment-seeded settings
// (go.mod's github.com/xyproto/env/v2 dependency), generalized here to
// a runtime-settable atomic rather than a read-once-at-startup value,
// since spec.md §4.L and §5 both describe this as a live setter/getter
// pair ("atomic relaxed"), not a boot-time constant.
package config

import (
	"sync/atomic"

	"github.com/xyproto/env/v2"
)

// nearTrampolineEnabled backs SetNearTrampoline/NearTrampolineEnabled.
// Seeded from IHOOK_NEAR_TRAMPOLINE so a deployment can flip the default
// without a code change, then freely overridden at runtime.
var nearTrampolineEnabled atomic.Bool

func init() {
	nearTrampolineEnabled.Store(env.BoolOr("IHOOK_NEAR_TRAMPOLINE", true))
}

// SetNearTrampoline sets the process-wide preference for near (shorter,
// range-limited) over far (longer, unrestricted) patch and forwarder
// encodings on ARM/ARM64/Thumb. x86 and x86-64 ignore this setting,
// since their one jump form already reaches anywhere within +-2GiB.
func SetNearTrampoline(enabled bool) {
	nearTrampolineEnabled.Store(enabled)
}

// NearTrampolineEnabled reports the current preference.
func NearTrampolineEnabled() bool {
	return nearTrampolineEnabled.Load()
}

// NearCodeCallback mirrors codealloc.NearCodeCallback so this package
// doesn't need to import codealloc just to name the type; the two are
// kept identical in shape deliberately.
type NearCodeCallback func(size int, target uintptr, rng uintptr) (addr uintptr, ok bool)

var nearCodeCallback atomic.Pointer[NearCodeCallback]

// SetAllocNearCodeCallback installs or clears (pass nil) the optional
// strategy consulted by the allocator's near-allocation path before it
// falls back to its own page search.
func SetAllocNearCodeCallback(cb NearCodeCallback) {
	if cb == nil {
		nearCodeCallback.Store(nil)
		return
	}
	nearCodeCallback.Store(&cb)
}

// AllocNearCodeCallback returns the installed callback, or nil if none
// is set.
func AllocNearCodeCallback() NearCodeCallback {
	p := nearCodeCallback.Load()
	if p == nil {
		return nil
	}
	return *p
}
