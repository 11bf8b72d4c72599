package config

import "path/filepath"

// DataDirName is the hidden directory inside the vault that holds kioku state.
// Hidden path components are never part of the corpus.
const DataDirName = ".kioku"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md"}
	}
	if cfg.Vault.Root != "" {
		if cfg.Storage.DatabasePath == "" {
			cfg.Storage.DatabasePath = defaultDatabasePath(cfg.Vault.Root)
		}
		if cfg.Storage.SnapshotDir == "" {
			cfg.Storage.SnapshotDir = defaultSnapshotDir(cfg.Vault.Root)
		}
	}
	if cfg.Embedding.Mode == "" {
		cfg.Embedding.Mode = "htp"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "hnsw"
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 50
	}
	if cfg.Index.Seed == 0 {
		cfg.Index.Seed = 42
	}
	if cfg.Index.CompactRatio == 0 {
		cfg.Index.CompactRatio = 0.3
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 32
	}
	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 4
	}
	if cfg.Sync.DebounceMS == 0 {
		cfg.Sync.DebounceMS = 500
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.Mode == "" {
		cfg.Search.Mode = "hybrid"
	}
	if cfg.Search.BM25Weight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.BM25Weight = 0.3
		cfg.Search.SemanticWeight = 0.7
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.TitleBoost == 0 {
		cfg.Search.TitleBoost = 10.0
	}
}

func defaultDatabasePath(root string) string {
	return filepath.Join(root, DataDirName, "records.db")
}

func defaultSnapshotDir(root string) string {
	return filepath.Join(root, DataDirName, "index")
}

// SetVault points cfg at root. Storage paths that were defaulted from the
// previous root move with it; explicitly configured ones are kept.
func (c *Config) SetVault(root string) {
	if old := c.Vault.Root; old != "" {
		if c.Storage.DatabasePath == defaultDatabasePath(old) {
			c.Storage.DatabasePath = ""
		}
		if c.Storage.SnapshotDir == defaultSnapshotDir(old) {
			c.Storage.SnapshotDir = ""
		}
	}
	c.Vault.Root = root
	ApplyDefaults(c)
}
