// Command mercury-home runs a home server: it hosts persona profiles and
// relays pairing requests, events and application calls over gRPC.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/libertaria-project/mercury-rust/config"
	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage/registry"

	_ "github.com/libertaria-project/mercury-rust/storage/grpccas"
	_ "github.com/libertaria-project/mercury-rust/storage/ipfs"
	_ "github.com/libertaria-project/mercury-rust/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mercury-home", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to the home config file (yaml, toml or json)")
	listBackends := fs.Bool("list-backends", false, "List supported storage backends and exit")
	showID := fs.Bool("id", false, "Print the home profile and exit")
	invite := fs.String("invite", "", "Print a signed invitation for this voucher and exit (\"-\" picks a random voucher)")
	backup := fs.String("backup", "", "Write the hosted profiles to this bundle file and exit")
	restore := fs.String("restore", "", "Load hosted profiles from this bundle file and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *listBackends {
		for _, b := range registry.List() {
			if b.Description == "" {
				_, _ = fmt.Fprintf(stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	logging.ConfigureRuntime()
	cfg, err := config.LoadHome(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if *showID || *invite != "" {
		signer, err := loadSigner(cfg)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		var out interface{} = homeProfile(cfg, signer)
		if *invite != "" {
			voucher := *invite
			if voucher == "-" {
				voucher = ""
			}
			out, err = inviteWith(signer, voucher)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	if *backup != "" || *restore != "" {
		if err := maintain(cfg, *backup, *restore, stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		Module,
	)
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	<-app.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// inviteWith signs an invitation offline. The running home still rejects a
// voucher it has already accepted.
func inviteWith(signer protocol.Signer, voucher string) (protocol.HomeInvitation, error) {
	if voucher == "" {
		voucher = uuid.NewString()
	}
	if strings.ContainsAny(voucher, " \t\n") {
		return protocol.HomeInvitation{}, fmt.Errorf("voucher must not contain whitespace")
	}
	return protocol.NewHomeInvitation(signer, voucher), nil
}

// maintain runs backup or restore against the configured store. The home
// must not be running: the index file is not shared between processes.
func maintain(cfg config.Home, backupPath, restorePath string, out io.Writer) (err error) {
	if backupPath != "" && restorePath != "" {
		return fmt.Errorf("-backup and -restore are exclusive")
	}
	docs, closeFn, err := registry.OpenConfig(cfg.Storage)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() { err = multierr.Append(err, closeFn()) }()
	}
	store, err := newDocStore(cfg, docs)
	if err != nil {
		return err
	}

	if backupPath != "" {
		f, err := os.Create(backupPath)
		if err != nil {
			return err
		}
		if err := store.Backup(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Backup written to %s\n", backupPath)
		return nil
	}

	f, err := os.Open(restorePath)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := store.Restore(f)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Fprintf(out, "Restored %d index entries\n", n)
	return nil
}
