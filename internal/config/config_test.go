package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Session.PollIntervalMs != 1000 {
		t.Errorf("Session.PollIntervalMs = %d, want 1000", cfg.Session.PollIntervalMs)
	}
	if cfg.Session.DebounceMs != 1000 {
		t.Errorf("Session.DebounceMs = %d, want 1000", cfg.Session.DebounceMs)
	}
	if cfg.Session.PairingTimeoutSeconds != 300 {
		t.Errorf("Session.PairingTimeoutSeconds = %d, want 300", cfg.Session.PairingTimeoutSeconds)
	}
	if cfg.Session.ProbeBackoffMaxMs != 30000 {
		t.Errorf("Session.ProbeBackoffMaxMs = %d, want 30000", cfg.Session.ProbeBackoffMaxMs)
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9464" {
		t.Errorf("Metrics.ListenAddr = %q, want %q", cfg.Metrics.ListenAddr, "127.0.0.1:9464")
	}
}

func TestSessionConfig_Durations(t *testing.T) {
	s := SessionConfig{
		PollIntervalMs:        250,
		DebounceMs:            1500,
		LoginTimeoutSeconds:   60,
		PairingTimeoutSeconds: 120,
		ProbeBackoffMaxMs:     10000,
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"PollInterval", s.PollInterval(), 250 * time.Millisecond},
		{"Debounce", s.Debounce(), 1500 * time.Millisecond},
		{"LoginTimeout", s.LoginTimeout(), time.Minute},
		{"PairingTimeout", s.PairingTimeout(), 2 * time.Minute},
		{"ProbeBackoffMax", s.ProbeBackoffMax(), 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestResolveDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	t.Run("defaults under config dir", func(t *testing.T) {
		store := StoreConfig{}
		if got := store.ResolveStoreDir(); got != "/custom/config/webpair/store" {
			t.Errorf("ResolveStoreDir() = %q", got)
		}
		probe := ProbeConfig{}
		if got := probe.ResolveProbeDir(); got != "/custom/config/webpair/probe" {
			t.Errorf("ResolveProbeDir() = %q", got)
		}
	})

	t.Run("explicit path", func(t *testing.T) {
		store := StoreConfig{Dir: "/var/lib/webpair"}
		if got := store.ResolveStoreDir(); got != "/var/lib/webpair" {
			t.Errorf("ResolveStoreDir() = %q", got)
		}
	})

	t.Run("home expansion", func(t *testing.T) {
		t.Setenv("HOME", "/home/tester")
		probe := ProbeConfig{Dir: "~/webpair/probe"}
		if got := probe.ResolveProbeDir(); got != filepath.Join("/home/tester", "webpair/probe") {
			t.Errorf("ResolveProbeDir() = %q", got)
		}
	})
}

func TestConfigDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/webpair" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/webpair")
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		if got := ConfigDir(); !strings.HasSuffix(got, filepath.Join(".config", "webpair")) {
			t.Errorf("ConfigDir() = %q, want suffix .config/webpair", got)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/webpair/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestLoad(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Session.DebounceMs != 1000 {
			t.Errorf("Session.DebounceMs = %d, want 1000", cfg.Session.DebounceMs)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("session.debounce_ms", 250)
		viper.Set("probe.dir", "/tmp/probe")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Session.DebounceMs != 250 {
			t.Errorf("Session.DebounceMs = %d, want 250", cfg.Session.DebounceMs)
		}
		if cfg.Probe.Dir != "/tmp/probe" {
			t.Errorf("Probe.Dir = %q, want /tmp/probe", cfg.Probe.Dir)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("logging.level", "verbose")

		_, err := Load()
		if err == nil {
			t.Fatal("Load() should fail on invalid level")
		}
		if _, ok := err.(ValidationErrors); !ok {
			t.Errorf("Load() error type = %T, want ValidationErrors", err)
		}
	})
}

func TestGet_FallsBackToDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
	SetDefaults()
	viper.Set("session.poll_interval_ms", -5)

	cfg := Get()
	if cfg.Session.PollIntervalMs != Default().Session.PollIntervalMs {
		t.Errorf("Get() should fall back to defaults, got poll interval %d", cfg.Session.PollIntervalMs)
	}
}

func TestConfig_SessionIDFor(t *testing.T) {
	cfg := Default()
	if got := cfg.SessionIDFor("/srv/probes/work/"); got != "work" {
		t.Errorf("SessionIDFor() = %q, want %q", got, "work")
	}

	cfg.Session.ID = "personal"
	if got := cfg.SessionIDFor("/srv/probes/work"); got != "personal" {
		t.Errorf("SessionIDFor() = %q, want %q", got, "personal")
	}

	cfg.Store.Dir = "/var/lib/webpair"
	if got := cfg.SessionStoreDir("personal"); got != "/var/lib/webpair/personal" {
		t.Errorf("SessionStoreDir() = %q", got)
	}
}
