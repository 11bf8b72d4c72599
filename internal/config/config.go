// Package config provides configuration loading and structs for kioku.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Vault     VaultConfig     `yaml:"vault"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Search    SearchConfig    `yaml:"search"`
}

// VaultConfig describes the note corpus.
type VaultConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
}

// StorageConfig holds the record database path and the snapshot directory.
// Both default to a hidden .kioku directory inside the vault.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	SnapshotDir  string `yaml:"snapshot_dir"`
}

// EmbeddingConfig selects the embedder variant.
type EmbeddingConfig struct {
	Mode      string `yaml:"mode"`       // "htp" or "model2vec"
	ModelDir  string `yaml:"model_dir"`  // directory with model.safetensors, tokenizer.json, config.json
	CacheSize int    `yaml:"cache_size"` // query-side embedding cache entries
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Type         string  `yaml:"type"` // "hnsw" or "flat"
	EfSearch     int     `yaml:"ef_search"`
	Seed         int64   `yaml:"seed"`
	CompactRatio float64 `yaml:"compact_ratio"`
}

// SyncConfig holds corpus synchronization settings.
type SyncConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
	DebounceMS  int `yaml:"debounce_ms"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SearchConfig holds query defaults and hybrid fusion weights.
type SearchConfig struct {
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
	Mode           string  `yaml:"mode"` // "hybrid", "semantic" or "keyword"
	BM25Weight     float64 `yaml:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	RRFK           float64 `yaml:"rrf_k"`
	// TitleBoost multiplies keyword matches on the note title. Values <= 1 mean no boost.
	TitleBoost float64 `yaml:"title_boost"`
	// Fuzziness is the maximum edit distance for keyword terms. 0 disables fuzzy matching.
	Fuzziness int `yaml:"fuzziness"`
}

// Load reads and parses the config file at path, applies .env and environment
// overrides, expands paths, and applies defaults.
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
	finish(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does not exist.
// Relative paths are then resolved against the current directory.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	cfg = &Config{}
	finish(cfg, cwd)
	return cfg, nil
}

func finish(cfg *Config, configDir string) {
	// A missing .env is the common case.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	ApplyEnv(cfg)

	cfg.Vault.Root = expandPath(cfg.Vault.Root, configDir)
	cfg.Embedding.ModelDir = expandPath(cfg.Embedding.ModelDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.SnapshotDir = expandPath(cfg.Storage.SnapshotDir, configDir)
	ApplyDefaults(cfg)
}

// ApplyEnv overrides cfg from KIOKU_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("KIOKU_VAULT"); v != "" {
		cfg.Vault.Root = v
	}
	if v := os.Getenv("KIOKU_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("KIOKU_EMBEDDING_MODE"); v != "" {
		cfg.Embedding.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("KIOKU_MODEL_DIR"); v != "" {
		cfg.Embedding.ModelDir = v
	}
	if v := os.Getenv("KIOKU_SNAPSHOT_DIR"); v != "" {
		cfg.Storage.SnapshotDir = v
	}
	if v := os.Getenv("KIOKU_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// Save writes the config to path.
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

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." || strings.HasPrefix(path, "../") {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
