// Package ihook is a cross-platform, cross-architecture inline function
// hooking and dynamic binary instrumentation engine, modeled on the
// public surface of the Dobby C++ engine (original_source/include/dobby.h)
// but built entirely in pure Go: no cgo, no external disassembler, no
// process the engine doesn't already share an address space with.
//
// The public entry points below (InstallHook, InstallInstrument,
// InstallInstrumentEx, Uninstall, PatchCode, ResolveSymbol) are thin
// orchestration over the engine's internal components:
//
//   - internal/codealloc (B) carves executable memory for trampolines.
//   - internal/relocate + internal/asm/* (D, E) relocate the victim's
//     clobbered prologue instructions into a relocated head.
//   - internal/trampoline (F) assembles the patch, forwarder, and
//     relocated head from those pieces.
//   - internal/bridge (G) is consulted only for InstallInstrument/
//     InstallInstrumentEx, bridging the forwarder into a Go Pre/Post
//     handler pair instead of a fixed substitute address.
//   - internal/registry (H) is the process-wide table every installed
//     interceptor lives in, keyed by victim address.
//   - internal/patch (I) performs the actual victim-memory write.
//
// Every public entry point here sets the calling thread's last error
// (GetLastError, in lasterror.go) on both success and failure, and
// returns a *Error whose Code is drawn from the taxonomy in errors.go.
package ihook

import (
	"unsafe"

	"github.com/xyproto/ihook/internal/bridge"
	"github.com/xyproto/ihook/internal/codealloc"
	"github.com/xyproto/ihook/internal/config"
	"github.com/xyproto/ihook/internal/importtable"
	"github.com/xyproto/ihook/internal/isa"
	"github.com/xyproto/ihook/internal/patch"
	"github.com/xyproto/ihook/internal/procinfo"
	"github.com/xyproto/ihook/internal/registry"
	"github.com/xyproto/ihook/internal/symresolve"
	"github.com/xyproto/ihook/internal/trampoline"
)

// PreHandler and PostHandler re-export internal/bridge's handler types
// at the package boundary, so callers never need to import an internal
// package to write one.
type PreHandler = bridge.PreHandler
type PostHandler = bridge.PostHandler

// RegisterContext re-exports internal/bridge's architecture-specific
// register snapshot type, the one argument every Pre/Post handler gets.
type RegisterContext = bridge.RegisterContext

var (
	alloc        = codealloc.New()
	table        = registry.New()
	procProvider = procinfo.New()
)

func init() {
	alloc.SetNearCodeCallback(adaptNearCodeCallback)
}

// adaptNearCodeCallback bridges config.NearCodeCallback (component L's
// setter surface) to codealloc.NearCodeCallback (component B's consumer
// surface); the two packages deliberately don't import each other, so
// the identical function shapes still need one explicit conversion.
func adaptNearCodeCallback(size int, target uintptr, rng uintptr) (uintptr, bool) {
	cb := config.AllocNearCodeCallback()
	if cb == nil {
		return 0, false
	}
	return cb(size, target, rng)
}

// SetNearTrampoline and RegisterAllocNearCodeCallback re-export
// component L's process-wide configuration knobs at the package
// boundary (spec.md §4.L).
func SetNearTrampoline(enabled bool) {
	config.SetNearTrampoline(enabled)
}

func RegisterAllocNearCodeCallback(cb config.NearCodeCallback) {
	config.SetAllocNearCodeCallback(cb)
}

// InstallHook overwrites victimAddr's prologue with a branch to
// substitute, and returns a pointer to the relocated original prologue
// (callable as the "original function" the substitute forwards to, the
// same shape as Dobby's DobbyHook out-parameter).
func InstallHook(victimAddr, substitute uintptr) (originalFunc uintptr, err error) {
	if victimAddr == 0 || substitute == 0 {
		e := newError(InvalidArgument, "victimAddr and substitute must be non-zero", nil)
		return 0, e
	}
	arch := isa.Current().Arch
	near := config.NearTrampolineEnabled()

	result, err := trampoline.Build(arch, alloc, victimAddr, substitute, near)
	if err != nil {
		return 0, newError(TrampolineGeneration, err.Error(), err)
	}
	originalBytes := readBytes(victimAddr, len(result.PatchBytes))

	entry := &registry.Entry{
		VictimAddr:    victimAddr,
		Arch:          arch,
		Mode:          registry.ModeHook,
		OriginalBytes: originalBytes,
		Build:         result,
	}
	if err := table.Add(entry); err != nil {
		alloc.Free(result.Forwarder)
		alloc.Free(result.RelocatedHead)
		return 0, newError(AlreadyExists, err.Error(), err)
	}
	if err := trampoline.Install(victimAddr, result); err != nil {
		table.Remove(victimAddr)
		registry.AllocatorFree(alloc, entry)
		return 0, newError(MemoryProtection, err.Error(), err)
	}
	setLastError(Success)
	return result.OriginalFunc, nil
}

// InstallInstrument installs a Pre-only instrumentation at victimAddr:
// pre observes (and may mutate) the register state at entry, after
// which the original function runs unmodified.
func InstallInstrument(victimAddr uintptr, pre PreHandler) error {
	return installInstrument(victimAddr, pre, nil)
}

// InstallInstrumentEx installs a Pre/Post instrumentation pair at
// victimAddr. post additionally observes the register state (including
// the return-value register) once the original function has returned,
// before the real caller ever sees the return — spec.md §4.G's
// two-phase routing/epilogue dispatch.
func InstallInstrumentEx(victimAddr uintptr, pre PreHandler, post PostHandler) error {
	return installInstrument(victimAddr, pre, post)
}

func installInstrument(victimAddr uintptr, pre PreHandler, post PostHandler) error {
	if victimAddr == 0 || pre == nil {
		return newError(InvalidArgument, "victimAddr must be non-zero and pre must not be nil", nil)
	}
	arch := isa.Current().Arch
	near := config.NearTrampolineEnabled()

	entryBlock, err := bridge.AllocStub(arch, alloc)
	if err != nil {
		return newError(NotSupported, err.Error(), err)
	}

	result, err := trampoline.Build(arch, alloc, victimAddr, entryBlock.Addr, near)
	if err != nil {
		alloc.Free(entryBlock)
		return newError(TrampolineGeneration, err.Error(), err)
	}
	originalBytes := readBytes(victimAddr, len(result.PatchBytes))

	tramp := &bridge.ClosureTrampoline{Pre: pre, Post: post, NextHop: result.OriginalFunc}
	if err := bridge.EmitEntry(arch, entryBlock, tramp); err != nil {
		alloc.Free(entryBlock)
		alloc.Free(result.Forwarder)
		alloc.Free(result.RelocatedHead)
		return newError(RoutingBuild, err.Error(), err)
	}

	closure := &bridge.Stubs{Entry: entryBlock}
	if post != nil {
		epilogueBlock, err := bridge.AllocStub(arch, alloc)
		if err != nil {
			alloc.Free(entryBlock)
			alloc.Free(result.Forwarder)
			alloc.Free(result.RelocatedHead)
			return newError(NotSupported, err.Error(), err)
		}
		if err := bridge.EmitEpilogue(arch, epilogueBlock, tramp); err != nil {
			alloc.Free(entryBlock)
			alloc.Free(epilogueBlock)
			alloc.Free(result.Forwarder)
			alloc.Free(result.RelocatedHead)
			return newError(RoutingBuild, err.Error(), err)
		}
		closure.Epilogue = epilogueBlock
	}

	entry := &registry.Entry{
		VictimAddr:    victimAddr,
		Arch:          arch,
		Mode:          registry.ModeInstrument,
		OriginalBytes: originalBytes,
		Build:         result,
		Closure:       closure,
	}
	if err := table.Add(entry); err != nil {
		registry.AllocatorFree(alloc, entry)
		return newError(AlreadyExists, err.Error(), err)
	}
	if err := trampoline.Install(victimAddr, result); err != nil {
		table.Remove(victimAddr)
		registry.AllocatorFree(alloc, entry)
		return newError(MemoryProtection, err.Error(), err)
	}
	setLastError(Success)
	return nil
}

// Uninstall restores victimAddr's original bytes and releases every
// block the installation allocated. It is an error to call this for an
// address that was never successfully installed.
func Uninstall(victimAddr uintptr) error {
	entry, err := table.Remove(victimAddr)
	if err != nil {
		return newError(NotFound, err.Error(), err)
	}
	if perr := patch.Patch(victimAddr, entry.OriginalBytes); perr != nil {
		return newError(MemoryProtection, perr.Error(), perr)
	}
	registry.AllocatorFree(alloc, entry)
	setLastError(Success)
	return nil
}

// PatchCode overwrites len(buffer) bytes at addr directly, bypassing the
// trampoline/registry machinery entirely — a raw poke, for callers that
// already know exactly what they want written (spec.md §4.I's
// "patch_code" entry point, distinct from install_hook's managed path).
func PatchCode(addr uintptr, buffer []byte) error {
	if addr == 0 || len(buffer) == 0 {
		return newError(InvalidArgument, "addr must be non-zero and buffer non-empty", nil)
	}
	if err := patch.Patch(addr, buffer); err != nil {
		return newError(MemoryProtection, err.Error(), err)
	}
	setLastError(Success)
	return nil
}

// ResolveSymbol finds symbol's runtime address within image, the module
// path as it appears in this process's own loaded-module list (spec.md
// §6's resolve_symbol: module base lookup plus a static symbol-table
// read, summed).
func ResolveSymbol(image, symbol string) (uintptr, error) {
	addr, err := symresolve.Resolve(procProvider, image, symbol)
	if err != nil {
		return 0, newError(NotFound, err.Error(), err)
	}
	setLastError(Success)
	return addr, nil
}

// ImportTableReplace redirects image's own import of dll!symbol to
// fakeFunc by overwriting that import's IAT slot, leaving the real
// dll!symbol entry point itself untouched (spec.md §9(iii)'s
// import_table_replace, Dobby's DobbyImportTableReplace). Unlike
// InstallHook, this never touches the registry: the redirected slot is
// restored by installing the returned origFunc back over it, not through
// Uninstall.
func ImportTableReplace(image, dll, symbol string, fakeFunc uintptr) (origFunc uintptr, err error) {
	if image == "" || dll == "" || symbol == "" || fakeFunc == 0 {
		e := newError(InvalidArgument, "image, dll, symbol must be non-empty and fakeFunc non-zero", nil)
		return 0, e
	}
	addr, ierr := importtable.Replace(procProvider, image, dll, symbol, fakeFunc)
	if ierr != nil {
		code := NotFound
		if _, unsupported := ierr.(*importtable.NotSupportedError); unsupported {
			code = NotSupported
		}
		return 0, newError(code, ierr.Error(), ierr)
	}
	setLastError(Success)
	return addr, nil
}

// DiscardStaleFrames sweeps the calling thread's pending instrument
// routing frames (see internal/bridge.DiscardStaleFrames's doc comment
// for why this can never be automatic).
func DiscardStaleFrames() []bridge.StackFrame {
	return bridge.DiscardStaleFrames()
}

// InstalledCount reports how many interceptors are currently installed,
// mainly useful for tests and diagnostics.
func InstalledCount() int {
	return table.Count()
}

func readBytes(addr uintptr, n int) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	dst := make([]byte, n)
	copy(dst, src)
	return dst
}
