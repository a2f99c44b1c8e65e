// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
	"github.com/jeremyhahn/go-zkauth/pkg/storage"
	"github.com/jeremyhahn/go-zkauth/pkg/storage/file"
	"github.com/jeremyhahn/go-zkauth/pkg/storage/sqlite"
	"github.com/jeremyhahn/go-zkauth/pkg/zkauth"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds the resolved CLI configuration. Values come from flags,
// ZKAUTH_* environment variables and zkauth.yaml, in that order.
type Config struct {
	ConfigFile         string        `mapstructure:"config"`
	Server             string        `mapstructure:"server"`
	Profile            string        `mapstructure:"profile"`
	Store              string        `mapstructure:"store"`
	Identity           string        `mapstructure:"identity"`
	PinnedServerKey    string        `mapstructure:"pinned-server-key"`
	Drift              string        `mapstructure:"drift"`
	TLSCAFile          string        `mapstructure:"ca-file"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	OutputFormat       string        `mapstructure:"output"`
	LogLevel           string        `mapstructure:"log-level"`
}

// defaultProfileDir returns the per-user profile directory.
func defaultProfileDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "zkauth")
	}
	return filepath.Join(dir, "zkauth", "profile")
}

// loadConfig merges flags, environment and the optional config file.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetDefault("store", StoreFile)
	v.SetDefault("profile", defaultProfileDir())
	v.SetDefault("output", string(OutputFormatText))
	v.SetDefault("log-level", "warn")
	v.SetDefault("timeout", 30*time.Second)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zkauth")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "zkauth"))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("zkauth")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// openBackend opens the session storage backend for the profile.
func (c *Config) openBackend() (storage.Backend, error) {
	switch c.Store {
	case StoreFile:
		return file.New(c.Profile)
	case StoreSQLite:
		if err := os.MkdirAll(c.Profile, 0700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
		return sqlite.New(filepath.Join(c.Profile, "session.db"))
	case StoreMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store: %s (must be file, sqlite or memory)", c.Store)
	}
}

func (c *Config) logger() logger.Logger {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		level = logger.LevelWarn
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{Level: level})
}

// profile is a facade bound to a storage backend it owns.
type profile struct {
	*zkauth.Client
	backend storage.Backend
}

// Close closes the facade and then the backend.
func (p *profile) Close() error {
	return errors.Join(p.Client.Close(), p.backend.Close())
}

// openClient builds a facade over the configured profile. The caller
// closes it.
func (c *Config) openClient(ctx context.Context) (*profile, error) {
	if c.Server == "" {
		return nil, fmt.Errorf("no server: pass --server or set ZKAUTH_SERVER")
	}

	backend, err := c.openBackend()
	if err != nil {
		return nil, err
	}

	zcfg := &zkauth.Config{
		ServerURL:             c.Server,
		Backend:               backend,
		TLSInsecureSkipVerify: c.InsecureSkipVerify,
		TLSCAFile:             c.TLSCAFile,
		Timeout:               c.Timeout,
		Logger:                c.logger(),
	}
	if zcfg.Drift, err = session.ParseDriftStrategy(c.Drift); err != nil {
		_ = backend.Close()
		return nil, err
	}
	if c.Identity != "" {
		if zcfg.Identity, err = keys.LoadIdentity(c.Identity); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	if c.PinnedServerKey != "" {
		if zcfg.PinnedServerKey, err = keys.ParseSigningPublicKey(c.PinnedServerKey); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("invalid pinned server key: %w", err)
		}
	}

	cl, err := zkauth.New(ctx, zcfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &profile{Client: cl, backend: backend}, nil
}
