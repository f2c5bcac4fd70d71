// Package config provides configuration loading and structs for a shirabe
// collection and its server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the per-repository config file looked up at the indexed root.
const DefaultFileName = ".shirabe.yaml"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	ANN       ANNConfig       `yaml:"ann"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// IndexConfig holds collection layout, file selection, and chunking settings.
type IndexConfig struct {
	// Dir is where the collection lives. Relative paths resolve against the
	// indexed root; "~/" resolves against the home directory.
	Dir               string   `yaml:"dir"`
	Extensions        []string `yaml:"extensions"`
	ExcludeGlobs      []string `yaml:"exclude_globs"`
	MaxFileBytes      int64    `yaml:"max_file_bytes"`
	ChunkBytes        int      `yaml:"chunk_bytes"`
	ChunkOverlapLines int      `yaml:"chunk_overlap_lines"`
	// Oversample multiplies the requested limit before the graph search so
	// visibility filtering still leaves enough candidates.
	Oversample int `yaml:"oversample"`
}

// ANNConfig holds graph construction and maintenance settings.
type ANNConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
	// RebuildDeletedRatio triggers a full rebuild once this fraction of
	// labels is soft-deleted.
	RebuildDeletedRatio float64 `yaml:"rebuild_deleted_ratio"`
	// CatchUpBudget caps how many point updates a query absorbs lazily
	// before giving up and rebuilding instead.
	CatchUpBudget int `yaml:"catchup_budget"`
}

// EmbeddingConfig holds settings for the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	// Dimensions is pinned at collection creation; changing it invalidates
	// the collection and requires a full reindex.
	Dimensions     int  `yaml:"dimensions"`
	BatchSize      int  `yaml:"batch_size"`
	MaxRetries     int  `yaml:"max_retries"`
	RetryBackoffMS int  `yaml:"retry_backoff_ms"`
	CacheSize      int  `yaml:"cache_size"`
	Mock           bool `yaml:"mock"`
}

// LexicalConfig holds settings for the optional keyword index mirror.
type LexicalConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WatchConfig holds background watcher settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.Index.Dir = expandHome(cfg.Index.Dir)

	return &cfg, nil
}

// LoadOrDefault loads <root>/.shirabe.yaml when present, otherwise returns a
// default config. Only a parse failure is an error; a missing file is not.
func LoadOrDefault(root string) (*Config, error) {
	path := filepath.Join(root, DefaultFileName)
	if _, err := os.Stat(path); err != nil {
		cfg := &Config{}
		ApplyDefaults(cfg)
		return cfg, nil
	}
	return Load(path)
}

// Save writes the config to path. Used by "shirabe init" to write a starter file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandHome resolves a leading "~/" against the home directory. All other
// paths are returned unchanged; relative paths stay relative to the indexed root.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
