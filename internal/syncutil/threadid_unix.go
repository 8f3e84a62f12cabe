//go:build linux

package syncutil

import "golang.org/x/sys/unix"

// threadID returns a stable identifier for the calling OS thread. Callers
// that care about "per-thread" semantics (the last-error slot, the
// instrumentation call stack) must have pinned the calling goroutine to
// its OS thread first (runtime.LockOSThread) for this to mean anything
// across multiple calls from what looks like "the same" logical thread.
func threadID() int64 {
	return int64(unix.Gettid())
}
