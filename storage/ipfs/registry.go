package ipfs

import (
	"fmt"
	"os/exec"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI (options: bin, repo)",
		Open: func(opts registry.Options) (storage.CAS, func() error, error) {
			bin := opts.Get("bin")
			if bin == "" {
				bin = "ipfs"
			}
			if _, err := exec.LookPath(bin); err != nil {
				return nil, nil, fmt.Errorf("ipfs: %w", err)
			}
			return New(Options{Bin: bin, Repo: opts.Get("repo")}), nil, nil
		},
	})
}
