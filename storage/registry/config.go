package registry

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/libertaria-project/mercury-rust/storage"
)

// Config describes how to open one or more backends.
//
// WritePolicy values:
// - "first" (default): write only to the first backend; reads fall back in order
// - "all": write to all backends and require CID equality
type Config struct {
	WritePolicy string          `mapstructure:"write_policy"`
	Backends    []BackendConfig `mapstructure:"backends"`
}

type BackendConfig struct {
	// Name is the registered backend name (e.g. "memory", "localfs").
	Name string `mapstructure:"name"`
	// ID is an optional stable alias; Name is used when empty.
	ID      string  `mapstructure:"id"`
	Options Options `mapstructure:"options"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("registry: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("registry: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("registry: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	_, err := storage.ParseWritePolicy(c.WritePolicy)
	return err
}

// OpenConfig opens every configured backend and combines them into a
// storage.Fanout. The returned close function closes backends in reverse
// order and reports all failures.
func OpenConfig(c Config) (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	policy, _ := storage.ParseWritePolicy(c.WritePolicy)

	named := make([]storage.NamedCAS, 0, len(c.Backends))
	closers := make([]func() error, 0, len(c.Backends))
	closeAll := func() error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		return errs
	}
	for _, b := range c.Backends {
		cas, closeFn, err := Open(b.Name, b.Options)
		if err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("registry: open %q: %w", b.id(), err), closeAll())
		}
		named = append(named, storage.NamedCAS{Name: b.id(), CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}
	return storage.Fanout{Backends: named, Policy: policy}, closeAll, nil
}
