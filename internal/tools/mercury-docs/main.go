// Command mercury-docs inspects the profile document store of a home that is
// not running. It opens the storage backends and index named by the home
// config.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/libertaria-project/mercury-rust/config"
	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/kv"
	"github.com/libertaria-project/mercury-rust/storage/registry"

	_ "github.com/libertaria-project/mercury-rust/storage/grpccas"
	_ "github.com/libertaria-project/mercury-rust/storage/ipfs"
	_ "github.com/libertaria-project/mercury-rust/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}
	switch args[0] {
	case "put":
		return cmdPut(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "profile":
		return cmdProfile(args[1:], out, errOut)
	case "backends":
		printBackends(out)
		return 0
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "mercury-docs: inspect a home's profile documents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mercury-docs put --config <home.yaml> <file>")
	fmt.Fprintln(w, "  mercury-docs get --config <home.yaml> --cid <cid> [--out <file>]")
	fmt.Fprintln(w, "  mercury-docs list --config <home.yaml>")
	fmt.Fprintln(w, "  mercury-docs profile --config <home.yaml> --id <profile id> [--relations]")
	fmt.Fprintln(w, "  mercury-docs backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - documents are raw blocks (CIDv1 raw + sha2-256)")
	fmt.Fprintln(w, "  - list and profile need index_path; an in-memory index is always empty")
}

func printBackends(w io.Writer) {
	for _, b := range registry.List() {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

type commonFlags struct {
	config string
}

func (c *commonFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "Home config file")
}

func (c *commonFlags) load() (config.Home, error) {
	if c.config == "" {
		return config.Home{}, fmt.Errorf("missing --config")
	}
	return config.LoadHome(c.config)
}

func (c *commonFlags) openCAS() (storage.CAS, func() error, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	return registry.OpenConfig(cfg.Storage)
}

func (c *commonFlags) openStore() (*home.DocStore, func() error, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.IndexPath == "" {
		return nil, nil, fmt.Errorf("home config has no index_path")
	}
	docs, closeFn, err := registry.OpenConfig(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	index, err := kv.OpenFile(cfg.IndexPath)
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, nil, err
	}
	return home.NewDocStore(docs, index), closeFn, nil
}

func cmdPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: mercury-docs put --config <home.yaml> <file>")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := fs.Arg(0)
	b, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(p), err)
		return 1
	}
	id, err := cas.Put(b)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, id.String())
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	var cidStr, outPath string
	fs.StringVar(&cidStr, "cid", "", "CID to fetch")
	fs.StringVar(&outPath, "out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cidStr == "" {
		fmt.Fprintln(errOut, "missing --cid")
		return 2
	}

	id, err := storage.ParseCID(cidStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	b, err := cas.Get(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	store, closeFn, err := common.openStore()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	ids, err := store.List()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No profiles.")
		return 0
	}
	for _, id := range ids {
		rels, err := store.Relations(id)
		if err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", id, err)
			return 1
		}
		fmt.Fprintf(out, "%s\t%d relations\n", id, len(rels))
	}
	return 0
}

func cmdProfile(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	idStr := fs.String("id", "", "Profile id")
	withRelations := fs.Bool("relations", false, "Include the relation proofs the home witnessed")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := protocol.ParseProfileID(*idStr)
	if err != nil || id.IsZero() {
		fmt.Fprintln(errOut, "missing or invalid --id")
		return 2
	}
	store, closeFn, err := common.openStore()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	own, err := store.Get(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	doc := struct {
		Profile   protocol.Profile         `json:"profile"`
		Relations []protocol.RelationProof `json:"relations,omitempty"`
	}{Profile: own.Profile}
	if *withRelations {
		if doc.Relations, err = store.Relations(id); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}
