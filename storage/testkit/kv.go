package testkit

import (
	"errors"
	"reflect"
	"testing"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

// NewKV constructs a fresh, empty key-value store for a test.
type NewKV func(t *testing.T) kv.Store

func RunKVConformance(t *testing.T, newKV NewKV) {
	t.Helper()

	t.Run("SetGetOverwrite", func(t *testing.T) {
		s := newKV(t)
		if err := s.Set("k", "v1"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Set("k", "v2"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get("k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "v2" {
			t.Fatalf("Get: got %q want %q", got, "v2")
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		s := newKV(t)
		if _, err := s.Get("absent"); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if err := s.Delete("absent"); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newKV(t)
		if err := s.Set("k", "v"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Delete("k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get("k"); !storage.IsNotFound(err) {
			t.Fatalf("Get after Delete: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("IterateInKeyOrder", func(t *testing.T) {
		s := newKV(t)
		for _, k := range []string{"rel/c", "rel/a", "zzz", "rel/b", "re"} {
			if err := s.Set(k, "v-"+k); err != nil {
				t.Fatalf("Set(%q) failed: %v", k, err)
			}
		}
		var keys []string
		err := s.Iterate("rel/", func(k, v string) error {
			if v != "v-"+k {
				t.Fatalf("value mismatch for %q: %q", k, v)
			}
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate failed: %v", err)
		}
		want := []string{"rel/a", "rel/b", "rel/c"}
		if !reflect.DeepEqual(keys, want) {
			t.Fatalf("Iterate keys: got %v want %v", keys, want)
		}
	})

	t.Run("IterateStopsOnError", func(t *testing.T) {
		s := newKV(t)
		for _, k := range []string{"a", "b", "c"} {
			if err := s.Set(k, k); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
		stop := errors.New("stop")
		var seen int
		err := s.Iterate("", func(k, _ string) error {
			seen++
			if k == "b" {
				return stop
			}
			return nil
		})
		if !errors.Is(err, stop) {
			t.Fatalf("Iterate error: got %v want %v", err, stop)
		}
		if seen != 2 {
			t.Fatalf("Iterate visited %d keys after stop, want 2", seen)
		}
	})
}
