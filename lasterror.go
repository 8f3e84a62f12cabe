package ihook

import "github.com/xyproto/ihook/internal/syncutil"

var lastErrorTLS = syncutil.NewIntTLS()

// setLastError records code as the calling thread's last error. Every
// public entry point calls this on both success and failure, per spec.
func setLastError(code Code) {
	lastErrorTLS.Set(int(code))
}

// GetLastError returns the most recent error code set by a call to this
// package's public API on the calling thread. If the calling thread has
// never called into the package, it returns Success.
func GetLastError() Code {
	v, ok := lastErrorTLS.Get()
	if !ok {
		return Success
	}
	return Code(v)
}
