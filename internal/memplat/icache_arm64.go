//go:build (linux || freebsd || darwin) && arm64

package memplat

// archClearICache is implemented in icache_arm64.s: ARM64 requires an
// explicit data-cache-clean + instruction-cache-invalidate sequence after
// writing code, since the two caches are not coherent with each other the
// way x86's are (ARM Architecture Reference Manual, "Concurrent
// modification and execution of instructions"). The assembly loop walks
// the range one cache line at a time, issuing DC CVAU (clean data cache
// line to point of unification) then, after a DSB, IC IVAU (invalidate
// instruction cache line to point of unification), finishing with a
// DSB+ISB so the new instructions are visible to the next fetch.
func archClearICache(start, end uintptr)
