package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for explicitly named missing file")
	}

	// No explicit path: missing file falls back to defaults.
	dir := t.TempDir()
	oldWD, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)

	cfg, err = NewLoader("").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.DBPath != "bookmarkd.db" {
		t.Errorf("DBPath = %q, want bookmarkd.db", cfg.DBPath)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", cfg.PingInterval)
	}
	if cfg.PongTimeout != 10*time.Second {
		t.Errorf("PongTimeout = %v, want 10s", cfg.PongTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarkd.yaml")
	data := `addr: ":9090"
db_path: /var/lib/bookmarkd/data.db
auth_secret: hunter2
ping_interval: 15s
pong_timeout: 5s
log_file: /var/log/bookmarkd.log
log_max_size_mb: 100
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.DBPath != "/var/lib/bookmarkd/data.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.AuthSecret != "hunter2" {
		t.Errorf("AuthSecret = %q", cfg.AuthSecret)
	}
	if cfg.PingInterval != 15*time.Second {
		t.Errorf("PingInterval = %v, want 15s", cfg.PingInterval)
	}
	if cfg.LogFile != "/var/log/bookmarkd.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	if cfg.LogMaxSizeMB != 100 {
		t.Errorf("LogMaxSizeMB = %d, want 100", cfg.LogMaxSizeMB)
	}
	// Unset keys keep their defaults.
	if cfg.LogMaxBackups != 3 {
		t.Errorf("LogMaxBackups = %d, want 3", cfg.LogMaxBackups)
	}
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarkd.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOOKMARKD_ADDR", ":7070")
	t.Setenv("BOOKMARKD_AUTH_SECRET", "from-env")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Errorf("Addr = %q, want env override :7070", cfg.Addr)
	}
	if cfg.AuthSecret != "from-env" {
		t.Errorf("AuthSecret = %q, want from-env", cfg.AuthSecret)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty addr", "addr: \"\"\n"},
		{"empty db path", "db_path: \"\"\n"},
		{"zero ping interval", "ping_interval: 0s\n"},
		{"negative pong timeout", "pong_timeout: -1s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bookmarkd.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewLoader(path).Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarkd.yaml")
	if err := os.WriteFile(path, []byte(":: not yaml ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}
