// Package codealloc implements component B: the process-wide executable
// and data memory allocator every installed hook draws its trampoline,
// forwarder and relocated-head blocks from. It is a pool of bump
// allocators over pages obtained from memplat (component A), grounded on
// the teacher's Arena type (arena.go: base/current/size/used bump
// allocation with scope-based reset) generalized from a single
// compile-time arena to a growable pool of page-sized arenas, split
// exec/data the way Dobby's MemoryAllocator partitions page_allocators
// by is_exec.
package codealloc

import (
	"fmt"

	"github.com/xyproto/ihook/internal/memplat"
	"github.com/xyproto/ihook/internal/syncutil"
)

// Block is a previously allocated region; size is always the size the
// caller asked for, not the page it was carved from.
type Block struct {
	Addr uintptr
	Size int
}

func (b Block) End() uintptr { return b.Addr + uintptr(b.Size) }

// page is one linear bump allocator over a single page-aligned region
// acquired from memplat. Freed sub-blocks are tracked as a free list but
// never coalesced or reused for a larger request than they held
// themselves — matching the teacher's arena, which resets wholesale
// rather than implementing a general-purpose free-list allocator.
type page struct {
	base uintptr
	size int
	used int
	exec bool
	free []Block
}

func (p *page) contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(p.size)
}

// bump carves size bytes off the end of the page, first checking the
// free list for an exact-or-larger fit.
func (p *page) bump(size int) (Block, bool) {
	for i, fb := range p.free {
		if fb.Size >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return Block{Addr: fb.Addr, Size: size}, true
		}
	}
	if p.size-p.used < size {
		return Block{}, false
	}
	b := Block{Addr: p.base + uintptr(p.used), Size: size}
	p.used += size
	return b, true
}

func (p *page) release(b Block) {
	p.free = append(p.free, b)
}

// NearCodeCallback mirrors spec.md §4.L's alloc_near_code_callback:
// given the block size and the target/range it must land within, it
// returns a candidate address or ok=false to fall through to the
// allocator's own search.
type NearCodeCallback func(size int, target uintptr, rng uintptr) (addr uintptr, ok bool)

// Allocator is the process-wide pool; a single mutex protects the page
// lists exactly as spec.md §4.B and §5 require ("a single mutex protects
// the pool list").
type Allocator struct {
	mu        syncutil.Mutex
	execPages []*page
	dataPages []*page
	nearCB    NearCodeCallback
}

func New() *Allocator {
	return &Allocator{}
}

// SetNearCodeCallback installs or clears the callback component L exposes
// through SetNearTrampoline/RegisterAllocNearCodeCallback.
func (a *Allocator) SetNearCodeCallback(cb NearCodeCallback) {
	a.mu.Lock()
	a.nearCB = cb
	a.mu.Unlock()
}

// Alloc serves size bytes from the matching pool, walking it
// front-to-back for an allocator with room and otherwise acquiring a new
// page from memplat. Exec pages come up RWX immediately and stay that
// way for the process lifetime; data pages are RW only.
func (a *Allocator) Alloc(size int, exec bool) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("codealloc: invalid size %d", size)
	}
	ps := memplat.PageSize()
	if size > ps {
		return Block{}, fmt.Errorf("codealloc: size %d exceeds page size %d", size, ps)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := &a.dataPages
	perm := memplat.ReadWrite
	if exec {
		pages = &a.execPages
		perm = memplat.ReadWriteExecute
	}

	for _, p := range *pages {
		if b, ok := p.bump(size); ok {
			return b, nil
		}
	}

	addr, err := memplat.Alloc(ps, perm, 0)
	if err != nil {
		return Block{}, err
	}
	p := &page{base: addr, size: ps, exec: exec}
	*pages = append(*pages, p)
	b, ok := p.bump(size)
	if !ok {
		return Block{}, fmt.Errorf("codealloc: freshly allocated page too small for %d bytes", size)
	}
	return b, nil
}

// AllocExec is the spec's "alloc(size, exec=true)".
func (a *Allocator) AllocExec(size int) (Block, error) { return a.Alloc(size, true) }

// AllocData is the spec's "alloc(size, exec=false)".
func (a *Allocator) AllocData(size int) (Block, error) { return a.Alloc(size, false) }

// NearMemoryExhaustedError is returned when no page could be placed
// within range of target, whether via the callback or the allocator's
// own search.
type NearMemoryExhaustedError struct {
	Target uintptr
	Range  uintptr
}

func (e *NearMemoryExhaustedError) Error() string {
	return fmt.Sprintf("codealloc: no executable page found within %#x of target %#x", e.Range, e.Target)
}

// AllocNear implements the optional near-allocation mode: the returned
// block's address lies within [target-rng, target+rng). If a
// NearCodeCallback is installed it is tried first; otherwise the
// allocator searches its existing exec pages for one already in range,
// and failing that probes for a fresh page at increasing offsets on
// either side of target.
func (a *Allocator) AllocNear(size int, target uintptr, rng uintptr) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("codealloc: invalid size %d", size)
	}
	ps := memplat.PageSize()
	if size > ps {
		return Block{}, fmt.Errorf("codealloc: size %d exceeds page size %d", size, ps)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	inRange := func(addr uintptr) bool {
		lo := uintptr(0)
		if target > rng {
			lo = target - rng
		}
		hi := target + rng
		return addr >= lo && addr < hi
	}

	if a.nearCB != nil {
		if addr, ok := a.nearCB(size, target, rng); ok {
			p := &page{base: addr, size: ps, exec: true}
			a.execPages = append(a.execPages, p)
			b, bok := p.bump(size)
			if bok {
				return b, nil
			}
		}
	}

	for _, p := range a.execPages {
		if inRange(p.base) && inRange(p.base+uintptr(p.size)-1) {
			if b, ok := p.bump(size); ok {
				return b, nil
			}
		}
	}

	base := memplat.AlignDown(target)
	step := uintptr(ps)
	for offset := step; offset < rng; offset += step {
		for _, cand := range [2]uintptr{base + offset, base - offset} {
			if cand == 0 || !inRange(cand) {
				continue
			}
			addr, err := memplat.Alloc(ps, memplat.ReadWriteExecute, cand)
			if err != nil {
				continue
			}
			if !inRange(addr) {
				memplat.Free(addr, ps)
				continue
			}
			p := &page{base: addr, size: ps, exec: true}
			a.execPages = append(a.execPages, p)
			b, ok := p.bump(size)
			if ok {
				return b, nil
			}
		}
	}

	return Block{}, &NearMemoryExhaustedError{Target: target, Range: rng}
}

// Free locates the page containing block.Addr (linear scan, matching
// spec.md §4.B: "pools are small") and returns it to that page's free
// list.
func (a *Allocator) Free(block Block) error {
	if block.Addr == 0 || block.Size == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pages := range [2][]*page{a.execPages, a.dataPages} {
		for _, p := range pages {
			if p.contains(block.Addr) {
				p.release(block)
				return nil
			}
		}
	}
	return fmt.Errorf("codealloc: address %#x not found in any pool", block.Addr)
}
