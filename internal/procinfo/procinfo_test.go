package procinfo

import (
	"testing"
	"time"
)

type fakeSource struct {
	calls   int
	regions []Region
}

func (f *fakeSource) readRegions() ([]Region, error) {
	f.calls++
	return f.regions, nil
}

func TestCachingProviderServesFromCacheWithinTTL(t *testing.T) {
	fs := &fakeSource{regions: []Region{{Base: 0x1000, Size: 0x1000, Path: "/bin/x"}}}
	p := newCachingProvider(fs, time.Hour)

	if _, err := p.Regions(); err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if _, err := p.Regions(); err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected one underlying read within the TTL, got %d", fs.calls)
	}
}

func TestCachingProviderRefreshForcesReread(t *testing.T) {
	fs := &fakeSource{regions: []Region{{Base: 0x1000, Size: 0x1000}}}
	p := newCachingProvider(fs, time.Hour)

	if _, err := p.Regions(); err != nil {
		t.Fatalf("Regions: %v", err)
	}
	p.Refresh()
	if fs.calls != 2 {
		t.Fatalf("expected Refresh to force a reread, got %d calls", fs.calls)
	}
}

func TestCachingProviderExpiresAfterTTL(t *testing.T) {
	fs := &fakeSource{regions: []Region{{Base: 0x1000, Size: 0x1000}}}
	p := newCachingProvider(fs, time.Millisecond)

	if _, err := p.Regions(); err != nil {
		t.Fatalf("Regions: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := p.Regions(); err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if fs.calls != 2 {
		t.Fatalf("expected a reread after the TTL elapsed, got %d calls", fs.calls)
	}
}

func TestModulesDerivedFromDistinctRegionPaths(t *testing.T) {
	fs := &fakeSource{regions: []Region{
		{Base: 0x1000, Size: 0x1000, Path: "/bin/x"},
		{Base: 0x2000, Size: 0x1000, Path: "/bin/x"},
		{Base: 0x3000, Size: 0x1000, Path: "/lib/y.so"},
		{Base: 0x4000, Size: 0x1000, Path: ""},
	}}
	p := newCachingProvider(fs, time.Hour)

	modules, err := p.Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("expected 2 distinct modules, got %d: %+v", len(modules), modules)
	}
	if modules[0].Path != "/bin/x" || modules[0].Base != 0x1000 {
		t.Fatalf("expected first module at the first occurrence of /bin/x, got %+v", modules[0])
	}
}
