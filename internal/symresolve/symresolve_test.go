package symresolve

import (
	"os"
	"testing"

	"github.com/xyproto/ihook/internal/procinfo"
)

type fakeProvider struct {
	modules []procinfo.Module
}

func (p *fakeProvider) Modules() ([]procinfo.Module, error) { return p.modules, nil }
func (p *fakeProvider) Regions() ([]procinfo.Region, error) { return nil, nil }
func (p *fakeProvider) Refresh()                            {}

func TestModuleBaseFindsMatchingPath(t *testing.T) {
	provider := &fakeProvider{modules: []procinfo.Module{
		{Path: "/lib/libc.so.6", Base: 0x7f0000000000},
		{Path: "/usr/bin/self", Base: 0x555500000000},
	}}

	base, err := ModuleBase(provider, "/usr/bin/self")
	if err != nil {
		t.Fatalf("ModuleBase: %v", err)
	}
	if base != 0x555500000000 {
		t.Fatalf("expected base 0x555500000000, got %#x", base)
	}
}

func TestModuleBaseUnmappedImage(t *testing.T) {
	provider := &fakeProvider{}
	if _, err := ModuleBase(provider, "/no/such/image"); err == nil {
		t.Fatalf("expected an error for an image not in the module list")
	}
}

func TestResolveUnmappedImage(t *testing.T) {
	provider := &fakeProvider{}
	if _, err := Resolve(provider, "/no/such/image", "main"); err == nil {
		t.Fatalf("expected an error resolving a symbol in an unmapped image")
	}
}

func TestResolveAgainstOwnExecutable(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Skipf("cannot determine own executable: %v", err)
	}
	provider := &fakeProvider{modules: []procinfo.Module{{Path: self, Base: 0}}}

	// "main.main" may or may not survive as a symbol table entry
	// depending on how the test binary was linked (stripped vs not);
	// either a resolved address or a NotFoundError is an acceptable
	// outcome here, this just exercises the format-sniffing path against
	// a real binary without asserting on its exact symbol table.
	if _, err := Resolve(provider, self, "main.main"); err != nil {
		if _, ok := err.(*NotFoundError); !ok {
			t.Logf("Resolve against own executable: %v (acceptable if stripped or unrecognized format)", err)
		}
	}
}
