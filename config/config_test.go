package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("Port = %d, want default %d", cfg.Server.Port, def.Server.Port)
	}
	if cfg.Detection.MinVolumeUSD != 5000 || cfg.Detection.MinTrades != 10 {
		t.Errorf("detection defaults = %v/%v, want 5000/10",
			cfg.Detection.MinVolumeUSD, cfg.Detection.MinTrades)
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9999
detection:
  min_volume_usd: 12000
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Detection.MinVolumeUSD != 12000 {
		t.Errorf("MinVolumeUSD = %v, want 12000", cfg.Detection.MinVolumeUSD)
	}

	// Unspecified fields backfill from defaults.
	if cfg.Detection.MinTrades != 10 {
		t.Errorf("MinTrades = %d, want default 10", cfg.Detection.MinTrades)
	}
	if cfg.Exchange.BaseURL == "" {
		t.Error("Exchange.BaseURL not backfilled")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}
