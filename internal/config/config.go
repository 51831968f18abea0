package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the main configuration for the content service.
type Config struct {
	InstanceID      string             `toml:"instance_id"`
	BaseDir         string             `toml:"base_dir"`
	LogDir          string             `toml:"log_dir"`
	LogLevel        string             `toml:"log_level"`
	DefaultProvider string             `toml:"default_provider,omitempty"`
	Providers       []ProviderConfig   `toml:"providers"`
	Cache           CacheConfig        `toml:"cache"`
	Polling         PollingConfig      `toml:"polling"`
	Webhook         WebhookConfig      `toml:"webhook"`
	Localization    LocalizationConfig `toml:"localization"`
	Server          ServerConfig       `toml:"server"`
	Database        DatabaseConfig     `toml:"database"`
	Snapshots       SnapshotConfig     `toml:"snapshots"`
}

// ProviderConfig represents one content source.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ProviderConfig struct {
	Type string `toml:"type"` // "github", "filesystem" or "memory"
	ID   string `toml:"id"`

	// GitHub-specific fields (only used when Type == "github")
	Owner                 string  `toml:"owner,omitempty"`
	Repository            string  `toml:"repository,omitempty"`
	Branch                string  `toml:"branch,omitempty"`
	APIToken              string  `toml:"api_token,omitempty"`
	APIBaseURL            string  `toml:"api_base_url,omitempty"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds,omitempty"`
	RequestsPerSecond     float64 `toml:"requests_per_second,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	RootDir string   `toml:"root_dir,omitempty"`
	Ignore  []string `toml:"ignore,omitempty"`

	ContentPath         string   `toml:"content_path,omitempty"`
	SupportedExtensions []string `toml:"supported_extensions,omitempty"`
	IndexFile           string   `toml:"index_file,omitempty"`
	FillConcurrency     int      `toml:"fill_concurrency,omitempty"`
}

// RequestTimeout returns the per-call timeout, or zero for the client default.
func (p ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// CacheConfig controls generation lifetime.
type CacheConfig struct {
	DurationMinutes int `toml:"duration_minutes"`
}

// Duration returns the generation lifetime.
func (c CacheConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// PollingConfig controls the background change poller.
type PollingConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
}

// Interval returns the poll interval.
func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// WebhookConfig holds the shared secret for push notifications.
// An empty secret disables signature validation.
type WebhookConfig struct {
	Secret string `toml:"secret,omitempty"`
}

// LocalizationConfig controls locale extraction for every provider.
type LocalizationConfig struct {
	Enabled          bool     `toml:"enabled"`
	DefaultLocale    string   `toml:"default_locale"`
	SupportedLocales []string `toml:"supported_locales,omitempty"`
}

// ServerConfig controls the HTTP listener used by `cms serve`.
type ServerConfig struct {
	Address string `toml:"address"`
}

// DatabaseConfig represents configuration for the state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SnapshotConfig controls archiving of loaded generations.
type SnapshotConfig struct {
	Enabled    bool             `toml:"enabled"`
	Retain     int              `toml:"retain"` // archives kept per provider; 0 keeps all
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`

	// Passphrase unlocks the private key for warm starts. Only read from the environment.
	Passphrase string `toml:"-"`
}

// VaultConfig represents configuration for a snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static S3 credentials. Only read from the environment; when empty the
	// default AWS credential chain is used.
	S3AccessKeyID     string `toml:"-"`
	S3SecretAccessKey string `toml:"-"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// EnvOverrides are settings taken from the environment after the file is read.
// Secrets belong here rather than in the config file.
type EnvOverrides struct {
	GitHubToken        string `env:"CMS_GITHUB_TOKEN"`
	WebhookSecret      string `env:"CMS_WEBHOOK_SECRET"`
	LogLevel           string `env:"CMS_LOG_LEVEL"`
	ServerAddress      string `env:"CMS_SERVER_ADDRESS"`
	SnapshotPassphrase string `env:"CMS_SNAPSHOT_PASSPHRASE"`
	S3AccessKeyID      string `env:"CMS_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey  string `env:"CMS_S3_SECRET_ACCESS_KEY"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Cache:      CacheConfig{DurationMinutes: 30},
		Polling:    PollingConfig{Enabled: true, IntervalSeconds: 60},
		Localization: LocalizationConfig{
			DefaultLocale: "en",
		},
		Server:   ServerConfig{Address: "127.0.0.1:8080"},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Snapshots: SnapshotConfig{
			Retain: 10,
			Vault:  VaultConfig{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "snapshots")},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "cms.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "cms.key"),
			},
		},
	}
}

// ApplyEnv overlays environment overrides onto cfg. The GitHub token only
// fills providers that have none configured.
func (c *Config) ApplyEnv() error {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.applyOverrides(o)
	return nil
}

func (c *Config) applyOverrides(o EnvOverrides) {
	if o.GitHubToken != "" {
		for i := range c.Providers {
			if c.Providers[i].Type == "github" && c.Providers[i].APIToken == "" {
				c.Providers[i].APIToken = o.GitHubToken
			}
		}
	}
	if o.WebhookSecret != "" {
		c.Webhook.Secret = o.WebhookSecret
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.ServerAddress != "" {
		c.Server.Address = o.ServerAddress
	}
	if o.SnapshotPassphrase != "" {
		c.Snapshots.Passphrase = o.SnapshotPassphrase
	}
	if o.S3AccessKeyID != "" && o.S3SecretAccessKey != "" {
		c.Snapshots.Vault.S3AccessKeyID = o.S3AccessKeyID
		c.Snapshots.Vault.S3SecretAccessKey = o.S3SecretAccessKey
	}
}

// Validate checks the provider list and the tagged unions.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	var ids []string
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if slices.Contains(ids, p.ID) {
			return fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		ids = append(ids, p.ID)

		switch p.Type {
		case "github":
			if p.Owner == "" || p.Repository == "" {
				return fmt.Errorf("provider %q: github provider requires owner and repository", p.ID)
			}
		case "filesystem":
			if p.RootDir == "" {
				return fmt.Errorf("provider %q: filesystem provider requires root_dir", p.ID)
			}
		case "memory":
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.ID, p.Type)
		}
		if p.RequestTimeoutSeconds < 0 || p.RequestsPerSecond < 0 || p.FillConcurrency < 0 {
			return fmt.Errorf("provider %q: limits must not be negative", p.ID)
		}
	}
	if c.DefaultProvider != "" && !slices.Contains(ids, c.DefaultProvider) {
		return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
	}
	if c.Cache.DurationMinutes < 0 {
		return fmt.Errorf("cache.duration_minutes must not be negative")
	}
	if c.Snapshots.Retain < 0 {
		return fmt.Errorf("snapshots.retain must not be negative")
	}
	if c.Polling.Enabled && c.Polling.IntervalSeconds <= 0 {
		return fmt.Errorf("polling.interval_seconds must be positive when polling is enabled")
	}
	switch c.Database.Type {
	case "sqlite", "memory", "":
	default:
		return fmt.Errorf("unknown database type: %s", c.Database.Type)
	}
	return nil
}

// Redacted returns a copy safe to print: tokens and secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = slices.Clone(c.Providers)
	for i := range out.Providers {
		if out.Providers[i].APIToken != "" {
			out.Providers[i].APIToken = "********"
		}
	}
	if out.Webhook.Secret != "" {
		out.Webhook.Secret = "********"
	}
	return &out
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Config may carry tokens.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
