// Package config loads slipway runtime settings from TOML files.
//
// Settings come from ~/.slipway/config.toml overlaid by a project-local
// .slipway/config.toml; project values win. Every field has a default, so a
// missing file is not an error.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultBinary                = "claude"
	defaultRunInfoTimeout        = 5 * time.Second
	defaultRunDirFallbackTimeout = 30 * time.Second
	defaultRunDirPollInterval    = 250 * time.Millisecond
	defaultTailMaxBytes          = 256 * 1024
	defaultTailMaxChars          = 200_000
	defaultTailPollInterval      = 500 * time.Millisecond
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Binary                string
	RunsRoot              string
	RunInfoTimeout        time.Duration
	RunDirFallbackTimeout time.Duration
	RunDirPollInterval    time.Duration
	TailMaxBytes          int64
	TailMaxChars          int
	TailPollInterval      time.Duration
}

type fileConfig struct {
	Binary                *string `toml:"binary"`
	RunsRoot              *string `toml:"runs_root"`
	RunInfoTimeout        *string `toml:"run_info_timeout"`
	RunDirFallbackTimeout *string `toml:"run_dir_fallback_timeout"`
	RunDirPollInterval    *string `toml:"run_dir_poll_interval"`
	TailMaxKB             *int    `toml:"tail_max_kb"`
	TailMaxChars          *int    `toml:"tail_max_chars"`
	TailPollInterval      *string `toml:"tail_poll_interval"`
}

// Load reads config from ~/.slipway/config.toml and overlays a project-local
// .slipway/config.toml.
func Load(ctx context.Context) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg := defaults(homeDir)
	paths := []string{
		filepath.Join(homeDir, ".slipway", "config.toml"),
		filepath.Join(workingDir, ".slipway", "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

func defaults(homeDir string) Config {
	return Config{
		Binary:                defaultBinary,
		RunsRoot:              filepath.Join(homeDir, ".slipway", "runs"),
		RunInfoTimeout:        defaultRunInfoTimeout,
		RunDirFallbackTimeout: defaultRunDirFallbackTimeout,
		RunDirPollInterval:    defaultRunDirPollInterval,
		TailMaxBytes:          defaultTailMaxBytes,
		TailMaxChars:          defaultTailMaxChars,
		TailPollInterval:      defaultTailPollInterval,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyStringOverrides(cfg, decoded)
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	return applyTailOverrides(cfg, decoded, path)
}

func applyStringOverrides(cfg *Config, decoded fileConfig) {
	if decoded.Binary != nil {
		cfg.Binary = strings.TrimSpace(*decoded.Binary)
	}
	if decoded.RunsRoot != nil {
		cfg.RunsRoot = strings.TrimSpace(*decoded.RunsRoot)
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.RunInfoTimeout != nil {
		value, err := parseDuration(*decoded.RunInfoTimeout, "run_info_timeout", path)
		if err != nil {
			return err
		}
		cfg.RunInfoTimeout = value
	}
	if decoded.RunDirFallbackTimeout != nil {
		value, err := parseDuration(*decoded.RunDirFallbackTimeout, "run_dir_fallback_timeout", path)
		if err != nil {
			return err
		}
		cfg.RunDirFallbackTimeout = value
	}
	if decoded.RunDirPollInterval != nil {
		value, err := parseDuration(*decoded.RunDirPollInterval, "run_dir_poll_interval", path)
		if err != nil {
			return err
		}
		cfg.RunDirPollInterval = value
	}
	if decoded.TailPollInterval != nil {
		value, err := parseDuration(*decoded.TailPollInterval, "tail_poll_interval", path)
		if err != nil {
			return err
		}
		cfg.TailPollInterval = value
	}
	return nil
}

func applyTailOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.TailMaxKB != nil {
		if *decoded.TailMaxKB <= 0 {
			return fmt.Errorf("parse tail_max_kb in %q: must be > 0", path)
		}
		cfg.TailMaxBytes = int64(*decoded.TailMaxKB) * 1024
	}
	if decoded.TailMaxChars != nil {
		if *decoded.TailMaxChars <= 0 {
			return fmt.Errorf("parse tail_max_chars in %q: must be > 0", path)
		}
		cfg.TailMaxChars = *decoded.TailMaxChars
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}
