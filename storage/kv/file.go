package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as a single JSON object. Every write rewrites the
// file through a temporary file and a rename, so a crash leaves either the
// old or the new content.
type File struct {
	path string

	mu  sync.Mutex
	mem *Memory
}

var _ Store = (*File)(nil)

// OpenFile loads path, creating an empty store when it does not exist.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("kv: file path is required")
	}
	f := &File{path: path, mem: NewMemory()}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.mem.m); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", path, err)
	}
	if f.mem.m == nil {
		f.mem.m = make(map[string]string)
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Get(key string) (string, error) { return f.mem.Get(key) }

func (f *File) Iterate(prefix string, fn func(key, value string) error) error {
	return f.mem.Iterate(prefix, fn)
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.lookup(key)
	_ = f.mem.Set(key, value)
	if err := f.flush(); err != nil {
		f.restore(key, prev, had)
		return err
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.lookup(key)
	if !had {
		return nil
	}
	_ = f.mem.Delete(key)
	if err := f.flush(); err != nil {
		f.restore(key, prev, had)
		return err
	}
	return nil
}

func (f *File) lookup(key string) (string, bool) {
	v, err := f.mem.Get(key)
	return v, err == nil
}

func (f *File) restore(key, prev string, had bool) {
	if had {
		_ = f.mem.Set(key, prev)
	} else {
		_ = f.mem.Delete(key)
	}
}

func (f *File) flush() error {
	f.mem.mu.RLock()
	b, err := json.MarshalIndent(f.mem.m, "", "  ")
	f.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".kv-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
