package config

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultTOML string

// minPollInterval floors poll-interval; zero and sub-second values are
// raised silently.
const minPollInterval = time.Second

// defaultPollInterval is the base tick interval when the config does not
// set one.
const defaultPollInterval = 5 * time.Second

// Load reads configuration from path, or from the standard search order
// when path is empty:
//
//  1. $WATT_CONFIG
//  2. $XDG_CONFIG_HOME/watt/config.toml
//  3. /etc/watt/config.toml
//
// If no file exists, the embedded default rule set is used.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	return parse([]byte(defaultTOML), "builtin default")
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return parse(data, path)
}

// LoadFromReader reads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(data, "reader")
}

func configSearchPaths() []string {
	var paths []string
	if p := os.Getenv("WATT_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "watt", "config.toml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "watt", "config.toml"))
	}
	paths = append(paths, "/etc/watt/config.toml")
	return paths
}

func parse(data []byte, source string) (*Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}

	compiled, err := compile(&raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	cfg := &Config{
		PollInterval: defaultPollInterval,
		LogLevel:     raw.LogLevel,
		Rules:        compiled,
	}
	if raw.PollInterval != nil {
		cfg.PollInterval = raw.PollInterval.Duration
	}
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
