package localfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/registry"
	"github.com/libertaria-project/mercury-rust/storage/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		cas, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return cas
	})
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	cas, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	orig := []byte("original")
	id, err := cas.Put(orig)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Corrupt the stored object out-of-band.
	path := cas.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err = cas.Get(id)
	if err != storage.ErrCIDMismatch {
		t.Fatalf("Get mismatch: got %v want %v", err, storage.ErrCIDMismatch)
	}

	_, err = cas.Put(orig)
	if err != storage.ErrImmutable {
		t.Fatalf("Put after corruption: got %v want %v", err, storage.ErrImmutable)
	}
}

func TestLocalFS_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cas, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, s := range []string{"a", "b", "a"} {
		if _, err := cas.Put([]byte(s)); err != nil {
			t.Fatalf("Put(%q) failed: %v", s, err)
		}
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".put-") {
			t.Errorf("temporary file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
}

func TestLocalFS_OpenThroughRegistry(t *testing.T) {
	if _, _, err := registry.Open("localfs", registry.Options{}); err == nil {
		t.Fatalf("expected missing dir option to fail")
	}
	cas, closeFn, err := registry.Open("localfs", registry.Options{"dir": t.TempDir()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if closeFn != nil {
		defer closeFn()
	}
	if _, err := cas.Put([]byte("via registry")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}
