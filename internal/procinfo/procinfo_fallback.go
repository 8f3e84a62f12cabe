//go:build !linux && !windows

package procinfo

import "os"

// fallbackSource covers Darwin/iOS/FreeBSD: there is no /proc-style
// interface, and walking the real region list requires the Mach VM
// calls (mach_vm_region) or libproc, neither of which is reachable
// without cgo — a dependency the teacher's own Darwin code
// (filewatcher_darwin.go) never takes on either, preferring plain
// golang.org/x/sys/unix syscalls. Module discovery falls back to the
// process's own executable path, which is enough for the common case of
// resolving symbols against the hooked process itself. Near allocation
// (B) does not read the region list on any platform; it probes
// candidate addresses with mmap directly.
type fallbackSource struct{}

func newPlatformSource() source { return fallbackSource{} }

func (fallbackSource) readRegions() ([]Region, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, nil
	}
	return []Region{{Path: path}}, nil
}
