// Package config loads the engine configuration from a TOML file with
// environment-variable overrides for credentials.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Preview  PreviewConfig  `toml:"preview"`
	Analysis AnalysisConfig `toml:"analysis"`
	Worker   WorkerConfig   `toml:"worker"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains the SQLite cache settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// CatalogConfig contains catalog API settings. Credentials come from the
// CATALOG_CLIENT_ID / CATALOG_CLIENT_SECRET environment variables.
type CatalogConfig struct {
	BaseURL      string `toml:"base_url"`
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"-"`
	ClientSecret string `toml:"-"`
}

// PreviewConfig contains preview provider settings.
type PreviewConfig struct {
	DeezerBaseURL string  `toml:"deezer_base_url"`
	ITunesBaseURL string  `toml:"itunes_base_url"`
	Market        string  `toml:"market"`
	DeezerRPS     float64 `toml:"deezer_rps"`
	ITunesRPS     float64 `toml:"itunes_rps"`
	Probe         bool    `toml:"probe"`
}

// AnalysisConfig contains analysis service settings.
type AnalysisConfig struct {
	BaseURL string `toml:"base_url"`
}

// WorkerConfig contains background recompute pool settings.
type WorkerConfig struct {
	Workers      int `toml:"workers"`
	QueueSize    int `toml:"queue_size"`
	SweepMinutes int `toml:"sweep_minutes"`
	SweepBatch   int `toml:"sweep_batch"`
}

// Load reads the TOML file at path, falling back to embedded defaults when
// path is empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	data := exampleConf
	if path != "" {
		read, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = read
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Catalog.ClientID = os.Getenv("CATALOG_CLIENT_ID")
	cfg.Catalog.ClientSecret = os.Getenv("CATALOG_CLIENT_SECRET")

	return &cfg, nil
}
