package app

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cms-go/internal/config"

	"github.com/caarlos0/env/v11"
)

// WebhookSecretEnv names the variable the webhook secret is read from.
// `cms config init` never writes the secret to the file.
const WebhookSecretEnv = "CMS_WEBHOOK_SECRET"

// Defaults are the settings a new config file is seeded with. Each can be
// overridden from the environment:
//   - CMS_CONFIG_PATH: config file location (default: ~/.config/cms.toml)
//   - CMS_HOME: base directory for cms data (default: ~/.local/share/cms)
//   - CMS_POLL_INTERVAL: how often providers are checked for new commits
//   - CMS_CACHE_TTL: how long a loaded generation is served
//   - CMS_SNAPSHOT_RETAIN: archives kept per provider, 0 keeps all
type Defaults struct {
	ConfigPath     string        `env:"CMS_CONFIG_PATH"`
	BaseDir        string        `env:"CMS_HOME"`
	PollInterval   time.Duration `env:"CMS_POLL_INTERVAL" envDefault:"1m"`
	CacheTTL       time.Duration `env:"CMS_CACHE_TTL" envDefault:"30m"`
	SnapshotRetain int           `env:"CMS_SNAPSHOT_RETAIN" envDefault:"10"`
}

// LoadDefaults reads the defaults, filling unset paths from the home directory.
func LoadDefaults() (Defaults, error) {
	d, err := env.ParseAs[Defaults]()
	if err != nil {
		return Defaults{}, fmt.Errorf("parse env: %w", err)
	}
	if d.ConfigPath == "" || d.BaseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		d.ConfigPath = cmp.Or(d.ConfigPath, filepath.Join(homeDir, ".config", "cms.toml"))
		d.BaseDir = cmp.Or(d.BaseDir, filepath.Join(homeDir, ".local", "share", "cms"))
	}

	switch {
	case d.PollInterval < time.Second:
		return Defaults{}, fmt.Errorf("CMS_POLL_INTERVAL must be at least 1s, got %s", d.PollInterval)
	case d.CacheTTL < time.Minute:
		return Defaults{}, fmt.Errorf("CMS_CACHE_TTL must be at least 1m, got %s", d.CacheTTL)
	case d.SnapshotRetain < 0:
		return Defaults{}, fmt.Errorf("CMS_SNAPSHOT_RETAIN must not be negative")
	}
	return d, nil
}

// Config returns the configuration `cms config init` writes. Durations are
// truncated to the file's units.
func (d Defaults) Config(instanceID string) *config.Config {
	cfg := config.NewConfig(instanceID, d.BaseDir)
	cfg.Polling.IntervalSeconds = int(d.PollInterval / time.Second)
	cfg.Cache.DurationMinutes = int(d.CacheTTL / time.Minute)
	cfg.Snapshots.Retain = d.SnapshotRetain
	return cfg
}
