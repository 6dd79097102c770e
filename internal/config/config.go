// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package config loads Echoreel configuration using Koanf v2 with layered
// sources (highest priority wins):
//
//  1. Environment variables (ECHOREEL_ prefix, "__" for nesting)
//  2. Optional YAML config file
//  3. Built-in defaults
//
// The candidate endpoint spellings per backend capability live here as an
// ordered configuration table; the request client tries them in the order
// given and never invents path variants at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/echoreel/echoreel/internal/logging"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/echoreel/config.yaml",
	"/etc/echoreel/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "ECHOREEL_CONFIG_PATH"

// DefaultAPIOrigin is the backend origin assumed when nothing is configured.
const DefaultAPIOrigin = "http://localhost:8000"

// Config is the root configuration for the data-access layer.
type Config struct {
	// APIOrigin is the backend origin, without a trailing slash.
	APIOrigin string `koanf:"api_origin" validate:"required"`

	// HTTPTimeout bounds each individual candidate attempt.
	HTTPTimeout time.Duration `koanf:"http_timeout" validate:"gt=0"`

	// RatePerSecond and RateBurst configure the client-side request
	// rate limiter shared across capabilities. Zero disables limiting.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`
	RateBurst     int     `koanf:"rate_burst" validate:"gte=0"`

	// DemoMode pins the session identity to the fixed demo user instead
	// of minting temporary identities.
	DemoMode bool `koanf:"demo_mode"`

	// SessionStorePath is the BadgerDB directory for the durable
	// session key-value store.
	SessionStorePath string `koanf:"session_store_path" validate:"required"`

	Endpoints EndpointsConfig `koanf:"endpoints"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Logging   logging.Config  `koanf:"logging"`
}

// EndpointsConfig holds the ordered candidate base-path spellings per
// capability. The duplication of case/hyphenation variants is deliberate:
// the backend's route naming is inconsistent and a 404 on one spelling
// plausibly means another spelling is the right one.
type EndpointsConfig struct {
	LibraryCache   []string `koanf:"library_cache" validate:"min=1,max=4,dive,startswith=/"`
	PlatformLink   []string `koanf:"platform_link" validate:"min=1,max=4,dive,startswith=/"`
	PlaylistHealth []string `koanf:"playlist_health" validate:"min=1,max=4,dive,startswith=/"`
	SwipeSessions  []string `koanf:"swipe_sessions" validate:"min=1,max=4,dive,startswith=/"`
	TrackScoring   []string `koanf:"track_scoring" validate:"min=1,max=4,dive,startswith=/"`
}

// ScoringConfig tunes the track-scoring pipeline.
type ScoringConfig struct {
	// Concurrency bounds the batch score-fetch worker pool.
	Concurrency int `koanf:"concurrency" validate:"gt=0"`

	// OversampleSize is how many preview items to request from the
	// scoring capability regardless of the display size, to give the
	// shuffle enough variety to draw from.
	OversampleSize int `koanf:"oversample_size" validate:"gt=0"`
}

// Default returns a Config with all defaults applied: one backend origin,
// the known path spellings per capability, scoring worker pool of 8.
func Default() *Config {
	return &Config{
		APIOrigin:        DefaultAPIOrigin,
		HTTPTimeout:      30 * time.Second,
		RatePerSecond:    0, // unlimited
		RateBurst:        1,
		DemoMode:         false,
		SessionStorePath: "/data/echoreel/session",
		Endpoints: EndpointsConfig{
			LibraryCache: []string{"/api/LibraryCache"},
			PlatformLink: []string{
				"/api/PlatformLink",
				"/api/platformlink",
				"/api/Platformlink",
				"/api/platformLink",
			},
			PlaylistHealth: []string{
				"/api/PlaylistHealth",
				"/api/playlisthealth",
				"/api/playlist-health",
			},
			SwipeSessions: []string{"/api/SwipeSessions"},
			TrackScoring: []string{
				"/api/TrackScoring",
				"/api/trackscoring",
				"/api/track-scoring",
			},
		},
		Scoring: ScoringConfig{
			Concurrency:    8,
			OversampleSize: 500,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// ECHOREEL_API_ORIGIN -> api_origin
	// ECHOREEL_SCORING__CONCURRENCY -> scoring.concurrency
	envProvider := env.Provider("ECHOREEL_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ECHOREEL_")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.APIOrigin = strings.TrimRight(cfg.APIOrigin, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	// A rate burst without a rate (or vice versa) is a misconfiguration
	// that would silently disable limiting.
	if c.RatePerSecond > 0 && c.RateBurst == 0 {
		return fmt.Errorf("rate_burst must be positive when rate_per_second is set")
	}

	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		logging.Warn().Str("path", envPath).Msg("Config path from environment does not exist")
		return ""
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
