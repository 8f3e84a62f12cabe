// Package bridge implements component G: the per-Entry closure
// trampoline and the process-singleton bridge it jumps into, giving a
// pre/post handler pair a window onto (and the ability to mutate) the
// target's register state before and after it runs.
//
// There is no example in the retrieval pack that bridges raw JIT'd
// machine code back into a managed-runtime callback (the teacher is a
// compiler emitting standalone executables, not an in-process hooking
// engine), so this package's low-level half is grounded instead in the
// general Go-assembly idiom the standard library itself uses to cross
// from a foreign calling convention into Go (runtime's asmcgocall.s,
// syscall's asm_linux_amd64.s): a hand-written Plan9 assembly entry
// point, built once per architecture, that saves registers into a
// struct a normal Go function can then read and mutate, rather than a
// second layer of hand-encoded JIT bytes trying to call Go code
// directly — once inside a compiled Go TEXT body, calling another Go
// function is just an ordinary CALL, with no ABI bridge left to build.
package bridge

// StackFrame is what instrument_routing_dispatch pushes before
// rewriting the return address, and what instrument_epilogue_dispatch
// pops on the way back out. Grounded on spec.md §4.G's
// "StackFrame{orig_ret}" and carried over syncutil.CallStack[StackFrame]
// (component K), already built for exactly this purpose.
type StackFrame struct {
	OrigRet uintptr
	Tramp   *ClosureTrampoline
}

// PreHandler observes (and may mutate, through ctx) the register state
// at entry to the hooked function.
type PreHandler func(ctx *RegisterContext)

// PostHandler observes the register state once the hooked function has
// returned, including its return-value register.
type PostHandler func(ctx *RegisterContext)

// ClosureTrampoline is the per-Entry state the bridge consults once
// control reaches it: which handlers to call, and where to resume once
// they return. It is carried through the JIT stub as an opaque pointer
// value (carried in the architecture's designated scratch register) and
// looked up by the bridge, never decoded by the JIT stub itself.
type ClosureTrampoline struct {
	Pre  PreHandler
	Post PostHandler
	// NextHop is where the bridge resumes execution once the entry
	// path's handlers have run: the relocated head (component F) for
	// instrument mode. The *epilogue* bridge does not use NextHop: it
	// resumes at the OrigRet of the StackFrame the entry path pushed on
	// the calling thread's call stack, once the post handler has run.
	NextHop uintptr
	// EpilogueEntry is this trampoline's epilogue bridge address, the
	// address instrument_routing_dispatch rewrites the return register
	// to when a post handler is configured.
	EpilogueEntry uintptr
}
