package localfs

import (
	"fmt"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem document store (option: dir)",
		Open: func(opts registry.Options) (storage.CAS, func() error, error) {
			dir := opts.Get("dir")
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing option %q", "dir")
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
