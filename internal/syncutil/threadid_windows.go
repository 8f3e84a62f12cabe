//go:build windows

package syncutil

import "golang.org/x/sys/windows"

// threadID returns the Win32 thread id of the calling OS thread.
func threadID() int64 {
	return int64(windows.GetCurrentThreadId())
}
