// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/store"
)

const defaultConfigFile = "repolens.yaml"

// Config is the repolens.yaml configuration file. Every field can be
// overridden through a REPOLENS_* environment variable.
type Config struct {
	DatabasePath       string `yaml:"database_path"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Debug              bool   `yaml:"debug"`
	Env                string `yaml:"env"` // development or production
	AIProvider         string `yaml:"ai_provider"`
	AIModel            string `yaml:"ai_model"`
	AIAPIKey           string `yaml:"ai_api_key,omitempty"`
	EmbeddingDimension int    `yaml:"embedding_dimension,omitempty"`
}

// DefaultConfig returns the standalone-development defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:       "repolens.db",
		Host:               "127.0.0.1",
		Port:               8080,
		Env:                "development",
		AIProvider:         ai.ProviderOpenAI,
		AIModel:            "gpt-4o-mini",
		EmbeddingDimension: ai.EmbeddingDimension,
	}
}

// LoadConfig reads the YAML file at path (or ./repolens.yaml when path is
// empty), then applies environment overrides. A missing default file is
// not an error; in development a .env file is loaded first so local keys
// work without exporting them.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if cfg.IsDevelopment() {
		_ = godotenv.Load()
	}
	cfg.applyEnv()

	if cfg.EmbeddingDimension <= 0 {
		cfg.EmbeddingDimension = ai.EmbeddingDimension
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = getEnv("REPOLENS_DATABASE_PATH", c.DatabasePath)
	c.Host = getEnv("REPOLENS_HOST", c.Host)
	c.Env = getEnv("REPOLENS_ENV", c.Env)
	c.AIProvider = getEnv("REPOLENS_AI_PROVIDER", c.AIProvider)
	c.AIModel = getEnv("REPOLENS_AI_MODEL", c.AIModel)
	c.AIAPIKey = getEnv("REPOLENS_AI_API_KEY", c.AIAPIKey)

	if v := os.Getenv("REPOLENS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("REPOLENS_DEBUG"); v != "" {
		c.Debug = v == "1" || v == "true"
	}
	if v := os.Getenv("REPOLENS_EMBEDDING_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDimension = dim
		}
	}
}

// IsDevelopment reports whether env-fallback credentials are allowed.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Preferences returns the configured AI defaults for implicit sessions.
func (c *Config) Preferences() store.Preferences {
	return store.Preferences{AIProvider: c.AIProvider, AIModel: c.AIModel}
}

// APIKeyFallback resolves a development API key from config or the
// provider's conventional environment variable.
func (c *Config) APIKeyFallback() string {
	if c.AIAPIKey != "" {
		return c.AIAPIKey
	}
	switch c.AIProvider {
	case ai.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds the process logger. Debug mode lowers the level and
// keeps source locations out either way.
func newLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
