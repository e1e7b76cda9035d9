// Package config loads the sharedstore configuration and resolves the
// shared-group paths derived from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "SHAREDSTORE_CONFIG"

// Environment overrides for remote credentials, so secrets can stay out of the file.
const (
	EnvAccessKey = "SHAREDSTORE_ACCESS_KEY"
	EnvSecretKey = "SHAREDSTORE_SECRET_KEY"
)

// Remote types.
const (
	RemoteDir   = "dir"
	RemoteMinio = "minio"
	RemoteNone  = "none"
)

const (
	DefaultGroupID     = "group.sharedstore"
	DefaultContainerID = "sharedstore"
)

// BaseDir returns the directory shared-group directories live under (~/.config/sharedstore).
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "sharedstore")
}

// RemoteConfig selects and configures the remote container.
type RemoteConfig struct {
	Type string `yaml:"type"` // dir (default), minio, none

	// dir
	Dir string `yaml:"dir"` // default <shared dir>/remote

	// minio
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// Config holds the process configuration.
type Config struct {
	GroupID      string   `yaml:"group_id"`
	SharedDir    string   `yaml:"shared_dir"` // default ~/.config/sharedstore/<group id>
	ContainerID  string   `yaml:"container_id"`
	LogFile      string   `yaml:"log_file"` // "none" or "off" disables file logging
	EnabledTools []string `yaml:"enabled_tools"`
	HTTPAddr     string   `yaml:"http_addr"` // dashboard + MCP over HTTP for serve; empty disables

	AccountCheckTimeoutSeconds int `yaml:"account_check_timeout_seconds"`
	PollIntervalSeconds        int `yaml:"poll_interval_seconds"`
	TombstoneRetentionDays     int `yaml:"tombstone_retention_days"` // 0 keeps tombstones forever

	Remote RemoteConfig `yaml:"remote"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		GroupID:                    DefaultGroupID,
		ContainerID:                DefaultContainerID,
		EnabledTools:               []string{"*"},
		AccountCheckTimeoutSeconds: 30,
		PollIntervalSeconds:        10,
		TombstoneRetentionDays:     30,
		Remote:                     RemoteConfig{Type: RemoteDir},
	}
}

// LoadConfig loads configuration from a YAML file over DefaultConfig and
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads path, or the file named by SHAREDSTORE_CONFIG when path is
// empty, or the defaults when neither is set.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return LoadConfig(path)
}

// ApplyEnv overrides remote credentials from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAccessKey); v != "" {
		c.Remote.AccessKey = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		c.Remote.SecretKey = v
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.GroupID == "" {
		return fmt.Errorf("config: group_id is empty")
	}
	if c.ContainerID == "" {
		return fmt.Errorf("config: container_id is empty")
	}
	switch c.Remote.Type {
	case "", RemoteDir, RemoteMinio, RemoteNone:
	default:
		return fmt.Errorf("config: unknown remote type %q", c.Remote.Type)
	}
	if c.AccountCheckTimeoutSeconds < 0 || c.PollIntervalSeconds < 0 || c.TombstoneRetentionDays < 0 {
		return fmt.Errorf("config: negative interval")
	}
	return nil
}

// Dir returns the shared-group directory every process of the group opens.
func (c *Config) Dir() string {
	if c.SharedDir != "" {
		return c.SharedDir
	}
	return filepath.Join(BaseDir(), c.GroupID)
}

// StoreFile returns the SQLite store path inside the shared directory.
func (c *Config) StoreFile() string {
	return filepath.Join(c.Dir(), "store.sqlite")
}

// SignalFilePath returns the cross-process change signal file.
func (c *Config) SignalFilePath() string {
	return filepath.Join(c.Dir(), ".sharedstore-notify")
}

// LogFilePath returns the log file path, or "" when file logging is disabled.
func (c *Config) LogFilePath() string {
	switch c.LogFile {
	case "":
		return filepath.Join(c.Dir(), "sharedstore.log")
	case "none", "off":
		return ""
	}
	return c.LogFile
}

// RemoteDirPath returns the directory container root for the dir remote.
func (c *Config) RemoteDirPath() string {
	if c.Remote.Dir != "" {
		return c.Remote.Dir
	}
	return filepath.Join(c.Dir(), "remote")
}

// AccountCheckTimeout bounds the remote account query at startup.
func (c *Config) AccountCheckTimeout() time.Duration {
	if c.AccountCheckTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AccountCheckTimeoutSeconds) * time.Second
}

// PollInterval is the signal watcher's fallback poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// TombstoneRetention is how long deletions are remembered before they are
// pruned from the remote document. Zero means forever.
func (c *Config) TombstoneRetention() time.Duration {
	return time.Duration(c.TombstoneRetentionDays) * 24 * time.Hour
}

// IsToolEnabled checks if an MCP tool is enabled.
func (c *Config) IsToolEnabled(name string) bool {
	for _, t := range c.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}
