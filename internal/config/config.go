// Package config provides configuration loading and structs for obra.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotInitialized is returned when no vault has been configured yet.
var ErrNotInitialized = errors.New("vault not initialized: run `obra init <vault>` first")

// AppName names the per-user config and data directories.
const AppName = "obra"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Vault     VaultConfig     `yaml:"vault"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

// VaultConfig describes the document vault and which files in it are indexed.
type VaultConfig struct {
	Path        string   `yaml:"path"`
	Extensions  []string `yaml:"extensions"`
	IgnoreNames []string `yaml:"ignore_names"`
	IgnoreGlobs []string `yaml:"ignore_globs"`
}

// StorageConfig holds the data directory for the index, sync state and daemon files.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider"` // onnx, openai or hash
	ModelPath     string `yaml:"model_path"`
	ModelID       string `yaml:"model_id"`
	Dimensions    int    `yaml:"dimensions"`
	MaxTokens     int    `yaml:"max_tokens"`
	BatchSize     int    `yaml:"batch_size"`
	CacheSize     int    `yaml:"cache_size"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// IndexingConfig holds chunking and sync pass settings.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	BatchFiles   int `yaml:"batch_files"`
	Workers      int `yaml:"workers"`
}

// SearchConfig holds ranking settings.
type SearchConfig struct {
	Candidates    int     `yaml:"candidates"`
	Limit         int     `yaml:"limit"`
	FilenameBoost float64 `yaml:"filename_boost"`
	MaxScore      float64 `yaml:"max_score"`
}

// DaemonConfig holds watcher, IPC and staleness settings.
type DaemonConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	EventBuffer    int           `yaml:"event_buffer"`
	SocketPath     string        `yaml:"socket_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Staleness      time.Duration `yaml:"staleness"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

// DefaultDataDir returns the per-user data directory ($XDG_DATA_HOME/obra or ~/.local/share/obra).
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

// Load reads and parses the config file at path, applies defaults and expands paths.
// A missing file or an empty vault path yields ErrNotInitialized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if cfg.Vault.Path != "" {
		cfg.Vault.Path = expandPath(cfg.Vault.Path, configDir)
	}
	if cfg.Storage.DataDir != "" {
		cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Daemon.SocketPath != "" {
		cfg.Daemon.SocketPath = expandPath(cfg.Daemon.SocketPath, configDir)
	}
	ApplyDefaults(&cfg)

	if cfg.Vault.Path == "" {
		return nil, ErrNotInitialized
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path, creating its directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Initialize points the config at path at vaultPath, keeping any other settings
// already saved there. The vault path is made absolute with symlinks resolved.
func Initialize(path, vaultPath string) (*Config, error) {
	abs, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("could not find vault path %s: %w", vaultPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("could not find vault path %s: %w", vaultPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path %s is not a directory", abs)
	}

	cfg := &Config{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	cfg.Vault.Path = abs
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Validate reports settings that would make indexing or ranking misbehave.
func (c *Config) Validate() error {
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("invalid config: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	}
	if c.Search.Limit > c.Search.Candidates {
		return fmt.Errorf("invalid config: search limit (%d) exceeds candidates (%d)",
			c.Search.Limit, c.Search.Candidates)
	}
	switch c.Embedding.Provider {
	case ProviderONNX, ProviderOpenAI, ProviderHash:
	default:
		return fmt.Errorf("invalid config: unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

// IndexDBPath is the vector store database.
func (c *Config) IndexDBPath() string { return filepath.Join(c.Storage.DataDir, "index.db") }

// StateDBPath is the sync state database.
func (c *Config) StateDBPath() string { return filepath.Join(c.Storage.DataDir, "state.db") }

// LockPath is the advisory single-writer lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Storage.DataDir, AppName+".lock") }

// PIDPath holds the running daemon's process id.
func (c *Config) PIDPath() string { return filepath.Join(c.Storage.DataDir, AppName+".pid") }

// LogPath is where a backgrounded daemon writes its output.
func (c *Config) LogPath() string { return filepath.Join(c.Storage.DataDir, "daemon.log") }

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir,
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
