// Package config loads and validates the scanner configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Default values applied by Validate.
const (
	DefaultBaseURL    = "/songs/"
	DefaultDebounceMs = 750
	DefaultDatabase   = "taiko"
	DefaultMongoURI   = "mongodb://localhost:27017"
)

// DefaultIgnoreGlobs are the patterns skipped by the walker when none are
// configured.
var DefaultIgnoreGlobs = []string{"**/.DS_Store", "**/Thumbs.db"}

type Config struct {
	Songs    Songs
	Database Database
	Watch    Watch
}

type Songs struct {
	// Dir is the songs root directory walked for .tja files.
	Dir string
	// BaseURL prefixes every derived tja/dir/audio URL. Either absolute
	// (http(s)://...) or root-anchored (/...).
	BaseURL string
	// IgnoreGlobs are doublestar patterns matched against root-relative
	// posix paths.
	IgnoreGlobs []string
}

type Database struct {
	URI  string
	Name string
}

type Watch struct {
	Enabled    bool
	DebounceMs int
}

// Load reads a TOML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Validate()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults and rejects values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Songs.BaseURL == "" {
		c.Songs.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(c.Songs.BaseURL, "/") &&
		!strings.HasPrefix(c.Songs.BaseURL, "http://") &&
		!strings.HasPrefix(c.Songs.BaseURL, "https://") {
		return fmt.Errorf("songs.baseurl must be absolute or root-anchored, got %q", c.Songs.BaseURL)
	}
	if len(c.Songs.IgnoreGlobs) == 0 {
		c.Songs.IgnoreGlobs = append([]string(nil), DefaultIgnoreGlobs...)
	}
	if c.Database.URI == "" {
		c.Database.URI = DefaultMongoURI
	}
	if c.Database.Name == "" {
		c.Database.Name = DefaultDatabase
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = DefaultDebounceMs
	}
	return nil
}
