package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/libertaria-project/mercury-rust/config"
	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/grpccas"
	"github.com/libertaria-project/mercury-rust/storage/kv"
	"github.com/libertaria-project/mercury-rust/storage/registry"
	"github.com/libertaria-project/mercury-rust/transport/grpchome"
)

// Module wires a home daemon from a config.Home.
var Module = fx.Module("mercury-home",
	fx.Provide(
		loadSigner,
		newMetricsRegistry,
		openDocuments,
		newProfileStore,
		newHome,
	),
	fx.Invoke(serve),
)

// loadSigner opens the home key, creating it on first start.
func loadSigner(cfg config.Home) (protocol.Signer, error) {
	log := logging.Component("mercury-home")
	ks, err := keys.CreateKeyStore(cfg.KeyDir)
	if err != nil {
		return nil, err
	}
	signer, _, err := ks.LoadSigner(cfg.KeyName, "")
	if err == nil {
		return signer, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	seed, err := keys.GenerateSeed(rand.Reader)
	if err != nil {
		return nil, err
	}
	id, path, err := ks.InitializeRootKey(cfg.KeyName, keys.Ed25519, seed, false)
	if err != nil {
		return nil, err
	}
	log.Info().Str("profile", id.ProfileID.String()).Str("path", path).Msg("created home key")
	signer, _, err = ks.LoadSigner(cfg.KeyName, "")
	return signer, err
}

func homeProfile(cfg config.Home, signer protocol.Signer) protocol.Profile {
	return protocol.NewHomeProfile(signer.ProfileID(), signer.PublicKey(), cfg.AdvertisedAddrs...)
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func openDocuments(lc fx.Lifecycle, cfg config.Home) (storage.CAS, error) {
	cas, closeFn, err := registry.OpenConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		lc.Append(fx.StopHook(closeFn))
	}
	return cas, nil
}

func newDocStore(cfg config.Home, docs storage.CAS) (*home.DocStore, error) {
	var index kv.Store = kv.NewMemory()
	if cfg.IndexPath != "" {
		f, err := kv.OpenFile(cfg.IndexPath)
		if err != nil {
			return nil, err
		}
		index = f
	}
	return home.NewDocStore(docs, index), nil
}

func newProfileStore(cfg config.Home, docs storage.CAS) (home.ProfileStore, error) {
	return newDocStore(cfg, docs)
}

func newHome(lc fx.Lifecycle, cfg config.Home, signer protocol.Signer, store home.ProfileStore, reg *prometheus.Registry) (*home.Server, error) {
	log := logging.Component("home")
	srv, err := home.New(homeProfile(cfg, signer), signer, home.Options{
		Store:             store,
		RequireInvitation: cfg.RequireInvitation,
		ChannelCapacity:   cfg.ChannelCapacity,
		Registerer:        reg,
		Logger:            &log,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(srv.Close))
	return srv, nil
}

type serveParams struct {
	fx.In

	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     config.Home
	Home       *home.Server
	Documents  storage.CAS
	Metrics    *prometheus.Registry
}

// serve runs the gRPC listener and, when configured, the metrics endpoint.
// A listener that fails shuts the application down.
func serve(p serveParams) {
	log := logging.Component("mercury-home")
	hs := grpchome.NewServer(p.Home, grpchome.ServerOptions{})
	gs := grpc.NewServer(hs.ServerOption())
	grpchome.RegisterHomeServer(gs, hs)
	if p.Config.ServeDocuments {
		grpccas.RegisterDocumentsServer(gs, grpccas.NewServer(p.Documents, grpccas.ServerOptions{
			Validate: home.DocumentValidator(keys.Validator{}),
		}))
	}

	var metricsSrv *http.Server
	if p.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: p.Config.MetricsAddr, Handler: mux}
	}

	var g errgroup.Group
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", p.Config.ListenAddr)
			if err != nil {
				return err
			}
			log.Info().
				Str("addr", lis.Addr().String()).
				Str("profile", p.Home.Profile().ID.String()).
				Bool("documents", p.Config.ServeDocuments).
				Msg("home listening")
			g.Go(func() error {
				err := gs.Serve(lis)
				if err != nil {
					log.Error().Err(err).Msg("grpc server stopped")
					_ = p.Shutdowner.Shutdown()
				}
				return err
			})
			if metricsSrv != nil {
				g.Go(func() error {
					log.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
					err := metricsSrv.ListenAndServe()
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					log.Error().Err(err).Msg("metrics server stopped")
					_ = p.Shutdowner.Shutdown()
					return err
				})
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Sessions end first; their streams would otherwise hold GracefulStop.
			errs := p.Home.Close()
			if metricsSrv != nil {
				errs = multierr.Append(errs, metricsSrv.Shutdown(ctx))
			}
			stopped := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				gs.Stop()
			}
			return multierr.Append(errs, g.Wait())
		},
	})
}
