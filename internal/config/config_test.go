package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "swapbot.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"program":{"program_id":"2ZHz4gmsvTj9QL6yXa5cNrVXm9oJ2mnBDX8PaQxoRQZb"},"venue":{"pools_file":"pools.yaml"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Program.Mode != "local" || cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected driver defaults: %+v", cfg)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if want := filepath.Join(filepath.Dir(path), "pools.yaml"); cfg.Venue.PoolsFile != want {
		t.Fatalf("pools file not resolved: %s", cfg.Venue.PoolsFile)
	}
	if cfg.Auth.MaxClockSkewSeconds != 300 {
		t.Fatalf("unexpected skew: %d", cfg.Auth.MaxClockSkewSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TEST_SWAPBOT_DSN", "user:pass@tcp(db:3306)/swapbot")
	path := writeConfig(t, `{"program":{"program_id":"x"},"storage":{"driver":"mysql","mysql":{"dsn_env":"TEST_SWAPBOT_DSN"}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.MySQL.DSN != "user:pass@tcp(db:3306)/swapbot" {
		t.Fatalf("dsn not overridden: %q", cfg.Storage.MySQL.DSN)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing program": `{}`,
		"bad mode":        `{"program":{"program_id":"x","mode":"remote"}}`,
		"mysql no dsn":    `{"program":{"program_id":"x"},"storage":{"driver":"mysql"}}`,
		"kafka no broker": `{"program":{"program_id":"x"},"queue":{"driver":"kafka"}}`,
		"chain no rpc":    `{"program":{"program_id":"x","mode":"chain"}}`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
