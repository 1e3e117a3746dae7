// Package config loads the settings of the home daemon (viper: file, MERCURY_
// environment, defaults) and of persona clients (TOML).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage/registry"
)

const EnvPrefix = "MERCURY"

// Home is the home daemon configuration.
type Home struct {
	ListenAddr      string
	MetricsAddr     string
	AdvertisedAddrs []string

	KeyDir  string
	KeyName string

	RequireInvitation bool
	ChannelCapacity   int

	// Storage selects the profile document backends.
	Storage registry.Config
	// IndexPath is the profile index file; empty keeps the index in memory.
	IndexPath string
	// ServeDocuments exposes the document store to other homes.
	ServeDocuments bool
}

func setHomeDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:2077")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("advertised_addrs", []string{})
	v.SetDefault("key_dir", "")
	v.SetDefault("key_name", "home")
	v.SetDefault("require_invitation", false)
	v.SetDefault("channel_capacity", protocol.ChannelCapacity)
	v.SetDefault("storage.write_policy", "first")
	v.SetDefault("storage.backends", []map[string]interface{}{{"name": "memory"}})
	v.SetDefault("index_path", "")
	v.SetDefault("serve_documents", false)
}

// NewHomeViper returns a viper instance with home defaults and environment
// binding. path may be empty to skip the config file.
func NewHomeViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setHomeDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}
	return v, nil
}

// LoadHome reads the home configuration from path, the environment and the
// defaults, in that order of precedence (environment wins over the file).
func LoadHome(path string) (Home, error) {
	v, err := NewHomeViper(path)
	if err != nil {
		return Home{}, err
	}
	return HomeFromViper(v)
}

func HomeFromViper(v *viper.Viper) (Home, error) {
	cfg := Home{
		ListenAddr:        v.GetString("listen_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		AdvertisedAddrs:   v.GetStringSlice("advertised_addrs"),
		KeyDir:            v.GetString("key_dir"),
		KeyName:           v.GetString("key_name"),
		RequireInvitation: v.GetBool("require_invitation"),
		ChannelCapacity:   v.GetInt("channel_capacity"),
		IndexPath:         v.GetString("index_path"),
		ServeDocuments:    v.GetBool("serve_documents"),
	}
	if err := v.UnmarshalKey("storage", &cfg.Storage); err != nil {
		return Home{}, fmt.Errorf("config parse failed (storage): %w", err)
	}
	if len(cfg.AdvertisedAddrs) == 0 && cfg.ListenAddr != "" {
		cfg.AdvertisedAddrs = []string{cfg.ListenAddr}
	}
	if err := cfg.Validate(); err != nil {
		return Home{}, err
	}
	return cfg, nil
}

func (c Home) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("home config missing listen_addr")
	}
	if strings.TrimSpace(c.KeyName) == "" {
		return fmt.Errorf("home config missing key_name")
	}
	if c.ChannelCapacity < 1 {
		return fmt.Errorf("home config channel_capacity must be positive, got %d", c.ChannelCapacity)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("home config storage invalid: %w", err)
	}
	return nil
}
