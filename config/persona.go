package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/libertaria-project/mercury-rust/protocol"
)

const DefaultDialTimeout = 10 * time.Second

// Persona is what a persona client needs to reach its home.
type Persona struct {
	KeyDir  string
	KeyName string
	KeyRole string

	ProfileID protocol.ProfileID
	HomeID    protocol.ProfileID
	HomeAddr  string

	// RelationBook is the file keeping relation proofs and app storage.
	RelationBook string
	DialTimeout  time.Duration
}

type personaFile struct {
	KeyDir       string `toml:"key_dir"`
	KeyName      string `toml:"key_name"`
	KeyRole      string `toml:"key_role,omitempty"`
	ProfileID    string `toml:"profile_id,omitempty"`
	HomeID       string `toml:"home_id,omitempty"`
	HomeAddr     string `toml:"home_addr,omitempty"`
	RelationBook string `toml:"relation_book,omitempty"`
	DialTimeout  string `toml:"dial_timeout,omitempty"`
}

func DefaultPersona() Persona {
	return Persona{KeyName: "persona", DialTimeout: DefaultDialTimeout}
}

// LoadPersona reads a persona TOML file. Keys that are not set keep their
// defaults.
func LoadPersona(path string) (Persona, error) {
	cfg := DefaultPersona()

	var raw personaFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Persona{}, fmt.Errorf("load persona config: %w", err)
	}

	if meta.IsDefined("key_dir") {
		cfg.KeyDir = strings.TrimSpace(raw.KeyDir)
	}
	if meta.IsDefined("key_name") {
		cfg.KeyName = strings.TrimSpace(raw.KeyName)
	}
	if meta.IsDefined("key_role") {
		cfg.KeyRole = strings.TrimSpace(raw.KeyRole)
	}
	if meta.IsDefined("profile_id") && strings.TrimSpace(raw.ProfileID) != "" {
		if cfg.ProfileID, err = protocol.ParseProfileID(strings.TrimSpace(raw.ProfileID)); err != nil {
			return Persona{}, fmt.Errorf("parse profile_id: %w", err)
		}
	}
	if meta.IsDefined("home_id") && strings.TrimSpace(raw.HomeID) != "" {
		if cfg.HomeID, err = protocol.ParseProfileID(strings.TrimSpace(raw.HomeID)); err != nil {
			return Persona{}, fmt.Errorf("parse home_id: %w", err)
		}
	}
	if meta.IsDefined("home_addr") {
		cfg.HomeAddr = strings.TrimSpace(raw.HomeAddr)
	}
	if meta.IsDefined("relation_book") {
		cfg.RelationBook = strings.TrimSpace(raw.RelationBook)
		if cfg.RelationBook != "" && !filepath.IsAbs(cfg.RelationBook) {
			cfg.RelationBook = filepath.Join(filepath.Dir(path), cfg.RelationBook)
		}
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return Persona{}, fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Persona{}, fmt.Errorf("unknown persona config keys: %v", undecoded)
	}
	return cfg, nil
}

// SavePersona writes cfg to path, replacing any previous content.
func SavePersona(path string, cfg Persona) error {
	raw := personaFile{
		KeyDir:       cfg.KeyDir,
		KeyName:      cfg.KeyName,
		KeyRole:      cfg.KeyRole,
		ProfileID:    cfg.ProfileID.String(),
		HomeID:       cfg.HomeID.String(),
		HomeAddr:     cfg.HomeAddr,
		RelationBook: cfg.RelationBook,
	}
	if cfg.DialTimeout > 0 {
		raw.DialTimeout = cfg.DialTimeout.String()
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ValidateForSession reports what is missing before a persona can log in.
func (c Persona) ValidateForSession() error {
	var missing []string
	if c.KeyName == "" {
		missing = append(missing, "key_name")
	}
	if c.HomeID.IsZero() {
		missing = append(missing, "home_id")
	}
	if c.HomeAddr == "" {
		missing = append(missing, "home_addr")
	}
	if len(missing) > 0 {
		return fmt.Errorf("persona config missing %s", strings.Join(missing, ", "))
	}
	return nil
}
