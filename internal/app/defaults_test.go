package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name    string
		env     map[string]string
		want    Defaults
		wantErr bool
	}{
		{
			name: "home dir fallbacks",
			want: Defaults{
				ConfigPath:     filepath.Join(homeDir, ".config", "cms.toml"),
				BaseDir:        filepath.Join(homeDir, ".local", "share", "cms"),
				PollInterval:   time.Minute,
				CacheTTL:       30 * time.Minute,
				SnapshotRetain: 10,
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"CMS_CONFIG_PATH":     "/custom/config.toml",
				"CMS_HOME":            "/custom/cms",
				"CMS_POLL_INTERVAL":   "15s",
				"CMS_CACHE_TTL":       "2h",
				"CMS_SNAPSHOT_RETAIN": "0",
			},
			want: Defaults{
				ConfigPath:     "/custom/config.toml",
				BaseDir:        "/custom/cms",
				PollInterval:   15 * time.Second,
				CacheTTL:       2 * time.Hour,
				SnapshotRetain: 0,
			},
		},
		{name: "poll interval too short", env: map[string]string{"CMS_POLL_INTERVAL": "10ms"}, wantErr: true},
		{name: "cache ttl too short", env: map[string]string{"CMS_CACHE_TTL": "30s"}, wantErr: true},
		{name: "negative retention", env: map[string]string{"CMS_SNAPSHOT_RETAIN": "-1"}, wantErr: true},
		{name: "unparsable duration", env: map[string]string{"CMS_CACHE_TTL": "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"CMS_CONFIG_PATH", "CMS_HOME", "CMS_POLL_INTERVAL", "CMS_CACHE_TTL", "CMS_SNAPSHOT_RETAIN"} {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := LoadDefaults()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LoadDefaults() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadDefaults() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LoadDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaults_Config(t *testing.T) {
	d := Defaults{
		ConfigPath:     "/etc/cms.toml",
		BaseDir:        "/var/lib/cms",
		PollInterval:   90 * time.Second,
		CacheTTL:       45 * time.Minute,
		SnapshotRetain: 3,
	}

	cfg := d.Config("instance-1")
	if cfg.InstanceID != "instance-1" || cfg.BaseDir != "/var/lib/cms" {
		t.Errorf("Config() identity = %q at %q", cfg.InstanceID, cfg.BaseDir)
	}
	if cfg.Polling.Interval() != 90*time.Second {
		t.Errorf("Polling.Interval() = %s, want 1m30s", cfg.Polling.Interval())
	}
	if cfg.Cache.Duration() != 45*time.Minute {
		t.Errorf("Cache.Duration() = %s, want 45m", cfg.Cache.Duration())
	}
	if cfg.Snapshots.Retain != 3 {
		t.Errorf("Snapshots.Retain = %d, want 3", cfg.Snapshots.Retain)
	}
	if cfg.Webhook.Secret != "" {
		t.Errorf("Webhook.Secret = %q, want empty", cfg.Webhook.Secret)
	}
	if want := filepath.Join("/var/lib/cms", "snapshots"); cfg.Snapshots.Vault.FSVaultRoot != want {
		t.Errorf("FSVaultRoot = %q, want %q", cfg.Snapshots.Vault.FSVaultRoot, want)
	}
}
