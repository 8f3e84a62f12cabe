package importtable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/ihook/internal/procinfo"
)

type fakeProvider struct {
	base uintptr
	path string
}

func (p *fakeProvider) Modules() ([]procinfo.Module, error) {
	return []procinfo.Module{{Path: p.path, Base: p.base}}, nil
}

func (p *fakeProvider) Regions() ([]procinfo.Region, error) {
	return nil, nil
}

func (p *fakeProvider) Refresh() {}

func TestReplaceRejectsNonPEImage(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Skipf("cannot determine own executable: %v", err)
	}

	provider := &fakeProvider{base: 0x1000, path: self}
	_, err = Replace(provider, self, "kernel32.dll", "GetProcAddress", 0x4141414141414141)
	if err == nil {
		t.Fatalf("expected an error for a non-PE image")
	}

	// On amd64/arm64 Linux or macOS hosts this process's own executable
	// is an ELF or Mach-O binary, which pe.Open must reject.
	if _, ok := err.(*NotSupportedError); !ok {
		t.Fatalf("expected *NotSupportedError, got %T: %v", err, err)
	}
}

func TestReplaceMissingFile(t *testing.T) {
	provider := &fakeProvider{base: 0x1000, path: "/nonexistent"}
	_, err := Replace(provider, filepath.Join(t.TempDir(), "missing.dll"), "kernel32.dll", "GetProcAddress", 1)
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
	if _, ok := err.(*NotSupportedError); !ok {
		t.Fatalf("expected *NotSupportedError for an unopenable file, got %T: %v", err, err)
	}
}
