// Package procinfo implements component C: a narrow, read-only view of
// the process's own memory layout that symbol resolution and import
// table replacement consult. The near-allocation path (B) does not use
// it: codealloc probes candidate addresses without a region list. Both
// lists are cached with a short TTL and
// can be force-refreshed, the same debounce-and-cache idiom the teacher
// uses for filesystem events in filewatcher_unix.go, applied here to
// /proc/self/maps reads instead of inotify events.
package procinfo

import (
	"sync"
	"time"
)

// Region is one mapped memory range as reported by the OS.
type Region struct {
	Base  uintptr
	Size  uintptr
	Perms string // e.g. "r-xp"
	Path  string
}

func (r Region) End() uintptr { return r.Base + r.Size }

// Module is one loaded image (executable or shared library).
type Module struct {
	Base uintptr
	Path string
}

// Provider is the narrow interface the rest of the engine consumes.
// Regions and Modules return cached snapshots; Refresh forces a reread.
type Provider interface {
	Regions() ([]Region, error)
	Modules() ([]Module, error)
	Refresh()
}

// DefaultTTL matches spec.md §4.C's "e.g. 100 ms" example.
const DefaultTTL = 100 * time.Millisecond

// source is the platform-specific raw reader a cachingProvider wraps.
type source interface {
	readRegions() ([]Region, error)
}

// cachingProvider wraps a source with the TTL cache spec.md §4.C
// requires; modules are derived from regions (the first mapping for
// each distinct backing path), since every supported OS exposes module
// bases that way.
type cachingProvider struct {
	mu      sync.Mutex
	src     source
	ttl     time.Duration
	at      time.Time
	regions []Region
	modules []Module
	err     error
}

func newCachingProvider(src source, ttl time.Duration) *cachingProvider {
	return &cachingProvider{src: src, ttl: ttl}
}

func (p *cachingProvider) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
}

func (p *cachingProvider) refreshLocked() {
	regions, err := p.src.readRegions()
	p.err = err
	p.at = now()
	if err != nil {
		return
	}
	p.regions = regions
	p.modules = modulesFromRegions(regions)
}

func (p *cachingProvider) ensureFreshLocked() {
	if p.at.IsZero() || now().Sub(p.at) >= p.ttl {
		p.refreshLocked()
	}
}

func (p *cachingProvider) Regions() ([]Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureFreshLocked()
	return p.regions, p.err
}

func (p *cachingProvider) Modules() ([]Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureFreshLocked()
	return p.modules, p.err
}

func modulesFromRegions(regions []Region) []Module {
	seen := make(map[string]bool, len(regions))
	modules := make([]Module, 0, len(regions))
	for _, r := range regions {
		if r.Path == "" || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		modules = append(modules, Module{Base: r.Base, Path: r.Path})
	}
	return modules
}

// now wraps time.Now in one place. The tests do not replace it; they
// exercise the TTL with real sleeps rather than a fake clock package.
func now() time.Time { return time.Now() }

// New returns the default Provider for the running OS.
func New() Provider {
	return newCachingProvider(newPlatformSource(), DefaultTTL)
}
