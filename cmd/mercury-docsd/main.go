// Command mercury-docsd serves a document store over the Documents gRPC
// service, for homes configured with the "grpc" storage backend. Only
// profile and relation documents are accepted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/grpccas"
	"github.com/libertaria-project/mercury-rust/storage/registry"

	_ "github.com/libertaria-project/mercury-rust/storage/ipfs"
	_ "github.com/libertaria-project/mercury-rust/storage/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// backendOptions collects repeated -opt key=value flags.
type backendOptions registry.Options

func (o backendOptions) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o backendOptions) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	o[strings.TrimSpace(k)] = v
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mercury-docsd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:7777", "Listen address")
	backend := fs.String("backend", "localfs", "Storage backend name")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	opts := backendOptions{}
	fs.Var(opts, "opt", "Backend option key=value (repeatable), e.g. -opt dir=/var/lib/mercury/docs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range registry.List() {
			if b.Name == "grpc" {
				continue
			}
			if b.Description == "" {
				_, _ = fmt.Fprintf(stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	logging.ConfigureRuntime()
	cas, closeFn, err := registry.Open(*backend, registry.Options(opts))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	log := logging.Component("mercury-docsd")
	log.Info().Str("addr", lis.Addr().String()).Str("backend", *backend).Msg("documents listening")
	if err := serve(ctx, lis, cas); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// serve runs the Documents service on lis until ctx ends.
func serve(ctx context.Context, lis net.Listener, cas storage.CAS) error {
	s := grpc.NewServer()
	grpccas.RegisterDocumentsServer(s, grpccas.NewServer(cas, grpccas.ServerOptions{
		Validate: home.DocumentValidator(keys.Validator{}),
	}))

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
