// Package config loads dirindex configuration from YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	ProviderDirectory = "directory"
	ProviderHTTP      = "http"
)

// Config represents the complete dirindex configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Indexer  IndexerConfig  `yaml:"indexer" json:"indexer"`
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Audit    AuditConfig    `yaml:"audit" json:"audit"`
	Watch    WatchConfig    `yaml:"watch" json:"watch"`
}

// IndexConfig configures the document index.
type IndexConfig struct {
	// Path is the bleve index directory. Defaults to <data_dir>/index.bleve.
	Path string `yaml:"path" json:"path"`
}

// IndexerConfig configures the work queue and retry ledger.
type IndexerConfig struct {
	// DataDir holds every file dirindex writes unless overridden.
	// Defaults to ~/.dirindex
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// PendingFile persists outstanding work across restarts.
	// Defaults to <data_dir>/pending-work-items.json
	PendingFile string `yaml:"pending_file" json:"pending_file"`

	// ExpiryWindow is how long a failing work item is retried. Default: 24h
	ExpiryWindow time.Duration `yaml:"expiry_window" json:"expiry_window"`

	// RetryInterval is the minimum delay between retries of one item.
	// Default: 0 (retry on every scheduler tick)
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	// Schedule is the cron spec of the retry and expiry pass. Default: "@every 1m"
	Schedule string `yaml:"schedule" json:"schedule"`
}

// ProviderConfig selects where business cards come from.
type ProviderConfig struct {
	// Type is "directory" or "http".
	Type string `yaml:"type" json:"type"`
	// Directory holds card files for the directory provider. Defaults to <data_dir>/cards.
	Directory string `yaml:"directory" json:"directory"`
	// BaseURL is the authority endpoint for the http provider.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout bounds one HTTP request. Default: 10s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the daemon.
type ServerConfig struct {
	SocketPath  string `yaml:"socket_path" json:"socket_path"`
	PIDPath     string `yaml:"pid_path" json:"pid_path"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// WatchConfig configures the card directory watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Indexer: IndexerConfig{
			DataDir:       defaultDataDir(),
			ExpiryWindow:  24 * time.Hour,
			RetryInterval: 0,
			Schedule:      "@every 1m",
		},
		Provider: ProviderConfig{
			Type:    ProviderDirectory,
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 500 * time.Millisecond,
		},
	}
}

// defaultDataDir returns ~/.dirindex.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".dirindex")
	}
	return filepath.Join(home, ".dirindex")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/dirindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/dirindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dirindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "dirindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "dirindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the working directory dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/dirindex/config.yaml)
//  3. Project config (.dirindex.yaml in dir)
//  4. Environment variables (DIRINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .dirindex.yaml or .dirindex.yml from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".dirindex.yaml", ".dirindex.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes a YAML file over c. Keys absent from the file keep their
// current value, so booleans can be switched off explicitly.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies DIRINDEX_* environment variable overrides.
// Unparsable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DIRINDEX_DATA_DIR"); v != "" {
		c.Indexer.DataDir = v
	}
	if v := os.Getenv("DIRINDEX_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("DIRINDEX_PENDING_FILE"); v != "" {
		c.Indexer.PendingFile = v
	}
	if v := os.Getenv("DIRINDEX_EXPIRY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Indexer.ExpiryWindow = d
		}
	}
	if v := os.Getenv("DIRINDEX_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Indexer.RetryInterval = d
		}
	}
	if v := os.Getenv("DIRINDEX_SCHEDULE"); v != "" {
		c.Indexer.Schedule = v
	}

	if v := os.Getenv("DIRINDEX_PROVIDER_TYPE"); v != "" {
		c.Provider.Type = strings.ToLower(v)
	}
	if v := os.Getenv("DIRINDEX_PROVIDER_DIR"); v != "" {
		c.Provider.Directory = v
	}
	if v := os.Getenv("DIRINDEX_PROVIDER_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("DIRINDEX_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Provider.Timeout = d
		}
	}

	if v := os.Getenv("DIRINDEX_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("DIRINDEX_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("DIRINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("DIRINDEX_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Audit.Enabled = b
		}
	}
	if v := os.Getenv("DIRINDEX_WATCH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Watch.Enabled = b
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Indexer.DataDir == "" {
		return fmt.Errorf("indexer.data_dir must not be empty")
	}
	if c.Indexer.ExpiryWindow <= 0 {
		return fmt.Errorf("indexer.expiry_window must be positive, got %s", c.Indexer.ExpiryWindow)
	}
	if c.Indexer.RetryInterval < 0 {
		return fmt.Errorf("indexer.retry_interval must be non-negative, got %s", c.Indexer.RetryInterval)
	}
	if _, err := cron.ParseStandard(c.Indexer.Schedule); err != nil {
		return fmt.Errorf("indexer.schedule %q is invalid: %w", c.Indexer.Schedule, err)
	}

	switch strings.ToLower(c.Provider.Type) {
	case ProviderDirectory:
	case ProviderHTTP:
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.base_url is required for the http provider")
		}
	default:
		return fmt.Errorf("provider.type must be 'directory' or 'http', got %s", c.Provider.Type)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive, got %s", c.Provider.Timeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be non-negative, got %s", c.Watch.Debounce)
	}
	if c.Watch.Enabled && strings.ToLower(c.Provider.Type) != ProviderDirectory {
		return fmt.Errorf("watch.enabled requires the directory provider")
	}
	return nil
}

// IndexPath returns the index directory.
func (c *Config) IndexPath() string {
	return c.orDataDir(c.Index.Path, "index.bleve")
}

// PendingFilePath returns the pending-work file location.
func (c *Config) PendingFilePath() string {
	return c.orDataDir(c.Indexer.PendingFile, "pending-work-items.json")
}

// CardDir returns the directory provider's card directory.
func (c *Config) CardDir() string {
	return c.orDataDir(c.Provider.Directory, "cards")
}

// SocketPath returns the daemon socket path.
func (c *Config) SocketPath() string {
	return c.orDataDir(c.Server.SocketPath, "dirindex.sock")
}

// PIDPath returns the daemon PID file path.
func (c *Config) PIDPath() string {
	return c.orDataDir(c.Server.PIDPath, "dirindex.pid")
}

// AuditPath returns the audit database path.
func (c *Config) AuditPath() string {
	return c.orDataDir(c.Audit.Path, "audit.db")
}

// LockPath returns the data directory lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Indexer.DataDir, "dirindex.lock")
}

func (c *Config) orDataDir(path, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join(c.Indexer.DataDir, name)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
