package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/libertaria-project/mercury-rust/client"
	"github.com/libertaria-project/mercury-rust/config"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage/kv"
	"github.com/libertaria-project/mercury-rust/transport/grpchome"
)

// persona is a loaded persona config with a gateway to its home.
type persona struct {
	cfg       config.Persona
	connector *grpchome.Connector
	gw        *client.ProfileGateway
}

func (p *persona) Close() error {
	err := p.gw.Close()
	if cerr := p.connector.Close(); err == nil {
		err = cerr
	}
	return err
}

func loadPersonaSigner(cfg config.Persona) (protocol.Signer, error) {
	ks, err := keys.CreateKeyStore(cfg.KeyDir)
	if err != nil {
		return nil, err
	}
	signer, _, err := ks.LoadSigner(cfg.KeyName, cfg.KeyRole)
	return signer, err
}

// openPersona loads the config at path, reaches the configured home and
// claims the stored profile. An unregistered persona starts from an empty
// persona profile.
func openPersona(ctx context.Context, path string) (*persona, error) {
	cfg, err := config.LoadPersona(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForSession(); err != nil {
		return nil, err
	}
	signer, err := loadPersonaSigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("load key %q: %w", cfg.KeyName, err)
	}
	if !cfg.ProfileID.IsZero() && cfg.ProfileID != signer.ProfileID() {
		return nil, fmt.Errorf("key %q does not belong to profile %s", cfg.KeyName, cfg.ProfileID)
	}

	connector := grpchome.NewConnector(grpchome.DialOptions{Timeout: cfg.DialTimeout}, nil)
	// Only the id and address are known before the home answers.
	bootstrap := protocol.NewHomeProfile(cfg.HomeID, nil, cfg.HomeAddr)
	h, err := connector.Connect(ctx, bootstrap, signer)
	if err != nil {
		_ = connector.Close()
		return nil, err
	}
	homeProfile, err := h.Load(ctx, cfg.HomeID)
	if err == nil {
		err = keys.Validator{}.ValidateProfile(homeProfile.PublicKey, cfg.HomeID)
	}
	if err != nil {
		_ = connector.Close()
		return nil, fmt.Errorf("home %s: %w", cfg.HomeID, err)
	}

	repo, err := client.NewCachingRepo(h, 0)
	if err != nil {
		_ = connector.Close()
		return nil, err
	}
	var store kv.Store = kv.NewMemory()
	if cfg.RelationBook != "" {
		if store, err = kv.OpenFile(cfg.RelationBook); err != nil {
			_ = connector.Close()
			return nil, err
		}
	}

	own, err := h.Claim(ctx, signer.ProfileID())
	if protocol.IsKind(err, protocol.KindLookupFailed) {
		own = protocol.NewOwnProfile(protocol.NewPersonaProfile(signer.ProfileID(), signer.PublicKey(), nil), nil)
		err = nil
	}
	if err != nil {
		_ = connector.Close()
		return nil, err
	}

	gw := client.NewProfileGateway(signer, repo, connector, own, client.NewRelationBook(store), nil)
	return &persona{cfg: cfg, connector: connector, gw: gw}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// withPersona parses fs, opens the persona and runs fn with it.
func withPersona(fs *flag.FlagSet, args []string, configPath *string, errOut io.Writer, fn func(ctx context.Context, p *persona) error) int {
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(errOut, "missing --config")
		return 2
	}
	ctx, cancel := signalContext()
	defer cancel()

	p, err := openPersona(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer p.Close()
	if err := fn(ctx, p); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	cfg := config.DefaultPersona()
	var path, homeID string
	fs.StringVar(&path, "config", "", "Persona config file to write")
	fs.StringVar(&cfg.KeyName, "key", cfg.KeyName, "Key name")
	fs.StringVar(&cfg.KeyRole, "role", "", "Optional role key")
	fs.StringVar(&cfg.KeyDir, "key-dir", "", "Key store directory")
	fs.StringVar(&homeID, "home-id", "", "Profile id of the home")
	fs.StringVar(&cfg.HomeAddr, "home-addr", "", "Address of the home (host:port)")
	fs.StringVar(&cfg.RelationBook, "book", "relations.json", "Relation book file, relative to the config")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Dial timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if path == "" || homeID == "" || cfg.HomeAddr == "" {
		fmt.Fprintln(errOut, "missing --config, --home-id or --home-addr")
		return 2
	}
	var err error
	if cfg.HomeID, err = protocol.ParseProfileID(homeID); err != nil {
		fmt.Fprintf(errOut, "invalid --home-id: %v\n", err)
		return 2
	}
	signer, err := loadPersonaSigner(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "load key %q: %v\n", cfg.KeyName, err)
		return 1
	}
	cfg.ProfileID = signer.ProfileID()
	if err := config.SavePersona(path, cfg); err != nil {
		fmt.Fprintf(errOut, "write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Profile: %s\n", cfg.ProfileID)
	fmt.Fprintf(out, "Config: %s\n", path)
	return 0
}

func cmdRegister(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Persona config file")
	invitePath := fs.String("invite", "", "Invitation JSON issued by the home")
	return withPersona(fs, args, configPath, errOut, func(ctx context.Context, p *persona) error {
		var invite *protocol.HomeInvitation
		if *invitePath != "" {
			b, err := os.ReadFile(*invitePath)
			if err != nil {
				return err
			}
			invite = new(protocol.HomeInvitation)
			if err := json.Unmarshal(b, invite); err != nil {
				return fmt.Errorf("parse invitation: %w", err)
			}
		}
		own, err := p.gw.Register(ctx, p.cfg.HomeID, p.gw.Profile(), invite)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Fprintf(out, "Registered %s on %s\n", own.Profile.ID, p.cfg.HomeID)
		return nil
	})
}

func cmdPing(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Persona config file")
	text := fs.String("text", "ping", "Text to echo")
	return withPersona(fs, args, configPath, errOut, func(ctx context.Context, p *persona) error {
		sess, err := p.gw.Login(ctx)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		start := time.Now()
		reply, err := sess.Ping(ctx, *text)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Fprintf(out, "%s (%s)\n", reply, time.Since(start).Round(time.Microsecond))
		return nil
	})
}

func cmdPair(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Persona config file")
	peer := fs.String("peer", "", "Profile id of the peer")
	app := fs.String("app", "", "Application the relation enables")
	return withPersona(fs, args, configPath, errOut, func(ctx context.Context, p *persona) error {
		if *peer == "" || *app == "" {
			return errors.New("missing --peer or --app")
		}
		peerID, err := protocol.ParseProfileID(*peer)
		if err != nil {
			return fmt.Errorf("invalid --peer: %w", err)
		}
		dapp := client.NewDAppConnect(p.gw, protocol.ApplicationID(*app), kv.NewMemory())
		if err := dapp.InitiateContact(ctx, peerID); err != nil {
			return fmt.Errorf("pair: %w", err)
		}
		fmt.Fprintf(out, "Pairing request sent to %s\n", peerID)
		return nil
	})
}

func cmdEvents(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Persona config file")
	accept := fs.Bool("accept", false, "Accept incoming pairing requests")
	count := fs.Int("count", 0, "Stop after this many events (0 waits until interrupted)")
	timeout := fs.Duration("timeout", 0, "Stop after this long (0 waits until interrupted)")
	return withPersona(fs, args, configPath, errOut, func(ctx context.Context, p *persona) error {
		if *timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *timeout)
			defer cancel()
		}
		sess, err := p.gw.Login(ctx)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		events, err := sess.Events(ctx)
		if err != nil {
			return err
		}
		defer events.Close()

		for seen := 0; *count == 0 || seen < *count; seen++ {
			ev, err := events.Recv(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := handleEvent(ctx, p, ev, *accept, out); err != nil {
				return err
			}
		}
		return nil
	})
}

func handleEvent(ctx context.Context, p *persona, ev protocol.ProfileEvent, accept bool, out io.Writer) error {
	switch e := ev.(type) {
	case protocol.PairingRequest:
		half := e.HalfProof
		fmt.Fprintf(out, "pairing request from %s (%s)\n", half.SignerID, half.RelationType)
		if !accept {
			return nil
		}
		proof, err := p.gw.AcceptPairing(ctx, half)
		if err != nil {
			return fmt.Errorf("accept pairing: %w", err)
		}
		fmt.Fprintf(out, "  accepted, relation %s\n", proof.RelationType)
	case protocol.PairingResponse:
		if err := p.gw.RecordRelation(ctx, e.Proof); err != nil {
			return fmt.Errorf("record relation: %w", err)
		}
		peer, _ := e.Proof.PeerID(p.gw.ID())
		fmt.Fprintf(out, "paired with %s (%s)\n", peer, e.Proof.RelationType)
	case protocol.ProfileRelocated:
		if e.NewHome != nil {
			fmt.Fprintf(out, "%s moved to home %s\n", e.ProfileID, e.NewHome.ID)
		} else {
			fmt.Fprintf(out, "%s left its home\n", e.ProfileID)
		}
	default:
		fmt.Fprintf(out, "event %s\n", ev.EventKind())
	}
	return nil
}

func cmdContacts(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Persona config file")
	app := fs.String("app", "", "Only relations usable by this application")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(errOut, "missing --config")
		return 2
	}
	// Contacts come from the local relation book; no home is contacted.
	cfg, err := config.LoadPersona(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if cfg.RelationBook == "" || cfg.ProfileID.IsZero() {
		fmt.Fprintln(errOut, "persona config missing relation_book or profile_id")
		return 1
	}
	store, err := kv.OpenFile(cfg.RelationBook)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	proofs, err := client.NewRelationBook(store).List(cfg.ProfileID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	n := 0
	for _, proof := range proofs {
		if *app != "" && !proof.AccessibleBy(protocol.ApplicationID(*app)) {
			continue
		}
		peer, err := proof.PeerID(cfg.ProfileID)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", peer, proof.RelationType)
		n++
	}
	if n == 0 {
		fmt.Fprintln(out, "No contacts.")
	}
	return 0
}
