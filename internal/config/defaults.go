package config

import (
	"path/filepath"
	"time"
)

// Embedding providers.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Vault.Extensions) == 0 {
		cfg.Vault.Extensions = []string{".md"}
	}
	if len(cfg.Vault.IgnoreNames) == 0 {
		cfg.Vault.IgnoreNames = []string{".obsidian", ".git", ".stfolder", "templates"}
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir()
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = filepath.Join(cfg.Storage.DataDir, "models", "bge-small-en-v1.5.onnx")
	}
	if cfg.Embedding.ModelID == "" {
		cfg.Embedding.ModelID = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.OpenAIModel == "" {
		cfg.Embedding.OpenAIModel = "text-embedding-3-small"
	}

	if cfg.Indexing.ChunkSize == 0 {
		cfg.Indexing.ChunkSize = 1000
	}
	if cfg.Indexing.ChunkOverlap == 0 {
		cfg.Indexing.ChunkOverlap = 200
	}
	if cfg.Indexing.BatchFiles == 0 {
		cfg.Indexing.BatchFiles = 100
	}

	if cfg.Search.Candidates == 0 {
		cfg.Search.Candidates = 20
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 5
	}
	if cfg.Search.FilenameBoost == 0 {
		cfg.Search.FilenameBoost = 0.7
	}
	if cfg.Search.MaxScore == 0 {
		cfg.Search.MaxScore = 1.2
	}

	if cfg.Daemon.Debounce == 0 {
		cfg.Daemon.Debounce = 500 * time.Millisecond
	}
	if cfg.Daemon.EventBuffer == 0 {
		cfg.Daemon.EventBuffer = 256
	}
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = filepath.Join(cfg.Storage.DataDir, AppName+".sock")
	}
	if cfg.Daemon.ConnectTimeout == 0 {
		cfg.Daemon.ConnectTimeout = 300 * time.Millisecond
	}
	if cfg.Daemon.Staleness == 0 {
		cfg.Daemon.Staleness = 24 * time.Hour
	}
}

// Default returns a config for vaultPath with every other field at its default.
func Default(vaultPath string) *Config {
	cfg := &Config{Vault: VaultConfig{Path: vaultPath}}
	ApplyDefaults(cfg)
	return cfg
}
