package bridge

import (
	"github.com/xyproto/ihook/internal/syncutil"
)

// phase distinguishes the two call sites that funnel into bridgeEntry:
// the hooked function's own entry, and (when a post handler is
// configured) the epilogue bridge it is redirected to on return.
type phase int

const (
	phaseEntry phase = iota
	phaseEpilogue
)

// callSite is what a per-Entry JIT stub actually carries in the
// architecture's designated scratch register — never the
// *ClosureTrampoline directly, so that the same bridgeEntry singleton
// can tell an Entry call from an Epilogue call for the same Entry.
type callSite struct {
	Tramp *ClosureTrampoline
	Phase phase
}

var callStacks = syncutil.NewCallStack[StackFrame]()

// dispatchClosureBridge is bridgeEntry's one Go-side call, common to
// every architecture's .s file. Its return value is the next hop
// address the assembly jumps to once every register has been restored
// from ctx.
func dispatchClosureBridge(ctx *RegisterContext, site *callSite) uintptr {
	if site.Phase == phaseEpilogue {
		return instrumentEpilogueDispatch(ctx, site.Tramp)
	}
	return instrumentRoutingDispatch(ctx, site.Tramp)
}

// instrumentRoutingDispatch implements spec.md §4.G's
// instrument_routing_dispatch: run the pre handler, and if a post
// handler is configured, arrange for control to come back through the
// epilogue bridge before the caller ever sees the return.
func instrumentRoutingDispatch(ctx *RegisterContext, tramp *ClosureTrampoline) uintptr {
	if tramp.Pre != nil {
		tramp.Pre(ctx)
	}
	if tramp.Post != nil {
		callStacks.Push(StackFrame{OrigRet: origRet(ctx), Tramp: tramp})
		rewriteReturnSlot(ctx, tramp.EpilogueEntry)
	}
	return tramp.NextHop
}

// instrumentEpilogueDispatch implements instrument_epilogue_dispatch:
// pop the matching frame, run the post handler (which may now observe
// the return-value register), and resume at the real original return
// address.
func instrumentEpilogueDispatch(ctx *RegisterContext, tramp *ClosureTrampoline) uintptr {
	frame, ok := callStacks.Pop()
	if !ok {
		// Matched push/pop is a hard invariant (spec.md §4.G); if it's
		// ever violated there is no safe resumption point left to
		// guess at, so fail loudly rather than jump somewhere bogus.
		panic("bridge: epilogue dispatch with no matching routing frame on this thread's call stack")
	}
	if tramp.Post != nil {
		tramp.Post(ctx)
	}
	return frame.OrigRet
}

// DiscardStaleFrames drops every routing frame still pending on the
// calling OS thread's call stack and returns them. A tail call or a
// longjmp-style non-local exit out of a Post-instrumented function can
// skip instrument_epilogue_dispatch entirely, leaving its pushed
// StackFrame behind forever (spec.md §9(ii), an explicitly unresolved
// edge case). There is no way to detect this from inside the bridge
// itself — nothing tells it a frame was abandoned rather than merely
// not yet unwound — so cleanup is this opt-in, caller-invoked sweep
// rather than anything automatic.
func DiscardStaleFrames() []StackFrame {
	return callStacks.DrainStale()
}

// rewriteReturnSlot patches the live stack slot the hooked function
// will actually RET/POP through, not just ctx's in-memory copy of it —
// ctx is a snapshot the handler observes, but the CPU will only ever
// look at the real stack when the target function returns.
func rewriteReturnSlot(ctx *RegisterContext, newRet uintptr) {
	setReturnSlot(ctx, newRet)
}
