package main

import (
	"bytes"
	"encoding/hex"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/libertaria-project/mercury-rust/config"
	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/transport/grpchome"
)

func mercury(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	require.Equal(t, 0, code, "mercury %s: %s", strings.Join(args, " "), stderr.String())
	return stdout.String()
}

func seedHex(b byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{b}, keys.SeedSize))
}

func startHome(t *testing.T) (protocol.ProfileID, string) {
	t.Helper()
	signer, err := keys.NewEd25519Signer(bytes.Repeat([]byte{9}, keys.SeedSize))
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	srv, err := home.New(protocol.NewHomeProfile(signer.ProfileID(), signer.PublicKey(), addr), signer, home.Options{})
	require.NoError(t, err)
	hs := grpchome.NewServer(srv, grpchome.ServerOptions{})
	gs := grpc.NewServer(hs.ServerOption())
	grpchome.RegisterHomeServer(gs, hs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() {
		_ = srv.Close()
		gs.Stop()
	})
	return signer.ProfileID(), addr
}

// newPersona creates a key and a persona config in its own directory.
func newPersona(t *testing.T, name string, seed byte, homeID protocol.ProfileID, homeAddr string) string {
	t.Helper()
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")
	cfgPath := filepath.Join(dir, name+".toml")
	mercury(t, "key", "init", "--name", name, "--seed-hex", seedHex(seed), "--dir", keyDir)
	mercury(t, "init", "--config", cfgPath, "--key", name, "--key-dir", keyDir,
		"--home-id", homeID.String(), "--home-addr", homeAddr)
	return cfgPath
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage:")

	stdout.Reset()
	assert.Equal(t, 0, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "mercury pair")
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"teleport"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown command: teleport")
}

func TestKeyInitListExport(t *testing.T) {
	dir := t.TempDir()
	out := mercury(t, "key", "init", "--name", "alice", "--seed-hex", seedHex(1), "--dir", dir)
	assert.Contains(t, out, "Created root key:")

	signer, err := keys.NewEd25519Signer(bytes.Repeat([]byte{1}, keys.SeedSize))
	require.NoError(t, err)

	mercury(t, "key", "derive", "--from", "alice", "--role", "work", "--dir", dir)
	list := mercury(t, "key", "list", "--dir", dir)
	assert.Contains(t, list, "alice")
	assert.Contains(t, list, signer.ProfileID().String())
	assert.Contains(t, list, "role work")

	exported := mercury(t, "key", "export", "--name", "alice", "--dir", dir)
	assert.Contains(t, exported, signer.ProfileID().String())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"key", "init", "--name", "alice", "--seed-hex", seedHex(2), "--dir", dir}, &stdout, &stderr))
}

func TestKeyInitRejectsBadSeed(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"key", "init", "--name", "a", "--seed-hex", "abcd", "--dir", t.TempDir()}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "invalid --seed-hex")
}

func TestInitWritesPersonaConfig(t *testing.T) {
	homeSigner, err := keys.NewEd25519Signer(bytes.Repeat([]byte{9}, keys.SeedSize))
	require.NoError(t, err)
	cfgPath := newPersona(t, "alice", 1, homeSigner.ProfileID(), "home.example:2077")

	cfg, err := config.LoadPersona(cfgPath)
	require.NoError(t, err)
	signer, err := keys.NewEd25519Signer(bytes.Repeat([]byte{1}, keys.SeedSize))
	require.NoError(t, err)
	assert.Equal(t, signer.ProfileID(), cfg.ProfileID)
	assert.Equal(t, homeSigner.ProfileID(), cfg.HomeID)
	assert.Equal(t, "home.example:2077", cfg.HomeAddr)
	assert.Equal(t, filepath.Join(filepath.Dir(cfgPath), "relations.json"), cfg.RelationBook)
	assert.NoError(t, cfg.ValidateForSession())
}

func TestInitRequiresHome(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"init", "--config", filepath.Join(t.TempDir(), "p.toml"), "--key", "alice"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "missing --config, --home-id or --home-addr")
}

func TestContactsWithoutRelations(t *testing.T) {
	homeSigner, err := keys.NewEd25519Signer(bytes.Repeat([]byte{9}, keys.SeedSize))
	require.NoError(t, err)
	cfgPath := newPersona(t, "alice", 1, homeSigner.ProfileID(), "home.example:2077")
	assert.Equal(t, "No contacts.\n", mercury(t, "contacts", "--config", cfgPath))
}

func TestRegisterPingAndPair(t *testing.T) {
	homeID, addr := startHome(t)
	alice := newPersona(t, "alice", 1, homeID, addr)
	bob := newPersona(t, "bob", 2, homeID, addr)

	aliceCfg, err := config.LoadPersona(alice)
	require.NoError(t, err)
	bobCfg, err := config.LoadPersona(bob)
	require.NoError(t, err)

	assert.Contains(t, mercury(t, "register", "--config", alice), "Registered "+aliceCfg.ProfileID.String())
	assert.Contains(t, mercury(t, "register", "--config", bob), "Registered "+bobCfg.ProfileID.String())
	assert.Contains(t, mercury(t, "ping", "--config", alice, "--text", "hello"), "hello")

	mercury(t, "pair", "--config", alice, "--peer", bobCfg.ProfileID.String(), "--app", "chat")

	out := mercury(t, "events", "--config", bob, "--accept", "--count", "1", "--timeout", "10s")
	assert.Contains(t, out, "pairing request from "+aliceCfg.ProfileID.String())
	assert.Contains(t, out, "accepted")

	out = mercury(t, "events", "--config", alice, "--count", "1", "--timeout", "10s")
	assert.Contains(t, out, "paired with "+bobCfg.ProfileID.String())

	assert.Contains(t, mercury(t, "contacts", "--config", alice, "--app", "chat"), bobCfg.ProfileID.String())
	assert.Contains(t, mercury(t, "contacts", "--config", bob), aliceCfg.ProfileID.String())
	assert.Equal(t, "No contacts.\n", mercury(t, "contacts", "--config", alice, "--app", "mail"))
}

func TestPingUnregisteredPersonaFails(t *testing.T) {
	homeID, addr := startHome(t)
	alice := newPersona(t, "alice", 1, homeID, addr)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"ping", "--config", alice}, &stdout, &stderr))
	assert.NotEmpty(t, stderr.String())
}
