package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the persistent application configuration
type Config struct {
	// API holds the newsletter backend settings
	API APIConfig `json:"api"`

	// Filtering holds engine tuning knobs
	Filtering FilteringConfig `json:"filtering"`

	// Feeds are optional newsletter-to-RSS bridge subscriptions, served
	// through the same fetch contract as the HTTP API
	Feeds []FeedConfig `json:"feeds,omitempty"`

	// UI preferences
	UI UIConfig `json:"ui"`
}

// APIConfig holds settings for the HTTP fetch backend
type APIConfig struct {
	BaseURL  string `json:"base_url"`
	Token    string `json:"token,omitempty"`
	PageSize int    `json:"page_size"`
	// RateLimitMs is the minimum interval between requests in milliseconds
	RateLimitMs int `json:"rate_limit_ms"`
}

// FilteringConfig holds engine tuning knobs
type FilteringConfig struct {
	// DebounceMs is the tag edit debounce interval in milliseconds
	DebounceMs int `json:"debounce_ms"`
	// PreferLocalFiltering forces client-side tag filtering regardless of
	// measured fetch-path health
	PreferLocalFiltering bool `json:"prefer_local_filtering"`
}

// FeedConfig describes one RSS bridge subscription
type FeedConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// SourceID maps the feed onto a newsletter source id for filtering
	SourceID string `json:"source_id,omitempty"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	Theme         string `json:"theme"`
	ShowDiagnosis bool   `json:"show_diagnosis"` // health overlay visible at startup
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "http://localhost:8080",
			PageSize:    20,
			RateLimitMs: 250,
		},
		Filtering: FilteringConfig{
			DebounceMs:           300,
			PreferLocalFiltering: false,
		},
		UI: UIConfig{
			Theme:         "dark",
			ShowDiagnosis: false,
		},
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".newsletterhub", "config.json")
}

// Load reads config from disk, or returns defaults
func Load() (*Config, error) {
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.autoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), nil
	}
	cfg.fillZeroValues()

	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path := ConfigPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for the API token
}

// autoPopulateFromEnv fills in backend settings from environment variables
func (c *Config) autoPopulateFromEnv() {
	if v := os.Getenv("NEWSLETTERHUB_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("NEWSLETTERHUB_API_TOKEN"); v != "" {
		c.API.Token = v
	}
}

// fillZeroValues restores defaults for fields missing from an older config file
func (c *Config) fillZeroValues() {
	def := DefaultConfig()
	if c.API.PageSize <= 0 {
		c.API.PageSize = def.API.PageSize
	}
	if c.API.RateLimitMs <= 0 {
		c.API.RateLimitMs = def.API.RateLimitMs
	}
	if c.Filtering.DebounceMs <= 0 {
		c.Filtering.DebounceMs = def.Filtering.DebounceMs
	}
}
