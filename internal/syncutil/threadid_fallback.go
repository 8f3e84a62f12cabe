//go:build !linux && !windows

package syncutil

import (
	"bytes"
	"runtime"
	"strconv"
)

// threadID falls back to the calling goroutine's id on platforms where
// golang.org/x/sys has no direct Gettid-equivalent syscall wrapper
// (notably Darwin/iOS). This is a goroutine identifier rather than a true
// OS thread id; it is still a stable per-call-stack key as long as the
// dispatcher pins the goroutine with runtime.LockOSThread before entering
// instrumented code, which is the same assumption the Gettid-based
// implementations make about "one logical thread, one goroutine".
func threadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:\n..."
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
