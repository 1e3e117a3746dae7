package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/keys"
)

func TestLoadHomeDefaults(t *testing.T) {
	cfg, err := LoadHome("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2077", cfg.ListenAddr)
	assert.Equal(t, []string{"127.0.0.1:2077"}, cfg.AdvertisedAddrs)
	assert.Equal(t, 1, cfg.ChannelCapacity)
	require.Len(t, cfg.Storage.Backends, 1)
	assert.Equal(t, "memory", cfg.Storage.Backends[0].Name)
}

func TestLoadHomeFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: 0.0.0.0:3000
advertised_addrs: ["home.example:3000", "abc.onion:3000"]
require_invitation: true
storage:
  write_policy: all
  backends:
    - name: localfs
      options:
        dir: /var/lib/mercury/docs
    - name: memory
      id: cache
`), 0o600))
	t.Setenv("MERCURY_KEY_NAME", "from-env")

	cfg, err := LoadHome(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.ListenAddr)
	assert.Equal(t, "from-env", cfg.KeyName)
	assert.True(t, cfg.RequireInvitation)
	assert.Equal(t, []string{"home.example:3000", "abc.onion:3000"}, cfg.AdvertisedAddrs)
	assert.Equal(t, "all", cfg.Storage.WritePolicy)
	require.Len(t, cfg.Storage.Backends, 2)
	assert.Equal(t, "/var/lib/mercury/docs", cfg.Storage.Backends[0].Options.Get("dir"))
	assert.Equal(t, "cache", cfg.Storage.Backends[1].ID)
}

func TestLoadHomeRejectsBadCapacity(t *testing.T) {
	t.Setenv("MERCURY_CHANNEL_CAPACITY", "0")
	_, err := LoadHome("")
	assert.Error(t, err)
}

func TestPersonaRoundTrip(t *testing.T) {
	seed := make([]byte, keys.SeedSize)
	home, err := keys.NewEd25519Signer(seed)
	require.NoError(t, err)
	seed[0] = 1
	me, err := keys.NewEd25519Signer(seed)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "persona.toml")
	want := Persona{
		KeyDir:       filepath.Join(dir, "keys"),
		KeyName:      "alice",
		ProfileID:    me.ProfileID(),
		HomeID:       home.ProfileID(),
		HomeAddr:     "127.0.0.1:2077",
		RelationBook: filepath.Join(dir, "book.json"),
		DialTimeout:  3 * time.Second,
	}
	require.NoError(t, SavePersona(path, want))

	got, err := LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, got.ValidateForSession())
}

func TestLoadPersonaDefaultsAndRelativeBook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.toml")
	require.NoError(t, os.WriteFile(path, []byte("relation_book = \"book.json\"\n"), 0o600))

	got, err := LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "persona", got.KeyName)
	assert.Equal(t, DefaultDialTimeout, got.DialTimeout)
	assert.Equal(t, filepath.Join(dir, "book.json"), got.RelationBook)
	assert.Error(t, got.ValidateForSession())
}

func TestLoadPersonaRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.toml")
	require.NoError(t, os.WriteFile(path, []byte("hme_addr = \"x\"\n"), 0o600))
	_, err := LoadPersona(path)
	assert.Error(t, err)
}
