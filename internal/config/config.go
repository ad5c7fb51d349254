package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	appLog "evcal/internal/log"
	"evcal/internal/recur"
)

const envPrefix = "EVCAL_"

const (
	StoreMemory = "memory"
	StoreFile   = "file"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `koanf:"username" yaml:"username"`
	Password string `koanf:"password" yaml:"password"`
}

type StoreConfig struct {
	// Kind is "file" (default) or "memory".
	Kind string `koanf:"kind" yaml:"kind"`
	// Dir holds one directory per series for the file store.
	Dir string `koanf:"dir" yaml:"dir"`
}

// Config is the top-level application configuration.
//
// Keys have no underscores so that environment variables map onto them:
// EVCAL_STORE_DIR sets store.dir, EVCAL_MAXOCCURRENCES sets maxoccurrences.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `koanf:"listen" yaml:"listen"`

	// Timezone is the IANA zone for floating times in imported calendars.
	Timezone string `koanf:"timezone" yaml:"timezone"`

	// MaxOccurrences caps every expansion.
	MaxOccurrences int `koanf:"maxoccurrences" yaml:"maxoccurrences"`

	LogLevel string `koanf:"loglevel" yaml:"loglevel"`

	Store StoreConfig `koanf:"store" yaml:"store"`

	// FeedCacheDir caches remote calendars fetched for import. Empty
	// disables the cache.
	FeedCacheDir string `koanf:"feedcachedir" yaml:"feedcachedir"`

	// SweepCron schedules the orphan sweep (e.g. "*/15 * * * *"). Empty
	// disables it.
	SweepCron string `koanf:"sweepcron" yaml:"sweepcron"`

	// BasicAuth enables HTTP Basic Authentication on all endpoints except
	// /health when both fields are set.
	BasicAuth BasicAuthConfig `koanf:"basicauth" yaml:"basicauth"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "UTC",
		MaxOccurrences: recur.DefaultCap,
		LogLevel:       "info",
		Store: StoreConfig{
			Kind: StoreFile,
			Dir:  "./var/series",
		},
		FeedCacheDir: "./var/feed-cache",
		SweepCron:    "*/15 * * * *",
	}
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	c.LogLevel = strings.ToLower(string(appLog.ParseLevel(c.LogLevel)))
	switch c.Store.Kind {
	case StoreFile, StoreMemory:
	default:
		c.Store.Kind = def.Store.Kind
	}
	if c.Store.Kind == StoreFile && c.Store.Dir == "" {
		c.Store.Dir = def.Store.Dir
	}
}

// BasicAuthEnabled reports whether both credentials are configured.
func (c *Config) BasicAuthEnabled() bool {
	return c.BasicAuth.Username != "" && c.BasicAuth.Password != ""
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// Load layers defaults, the YAML file at path and EVCAL_* environment
// variables, in that order.
//
// If the file does not exist it is created with the defaults (0600) so the
// operator has something to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		appLog.Info("config file not found; writing defaults", "path", path)
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, err
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg as YAML atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
