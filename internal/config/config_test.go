package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  host: 0.0.0.0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Sessions.MaxSessions != 100 {
		t.Errorf("Sessions.MaxSessions = %d, want 100", cfg.Sessions.MaxSessions)
	}
	if cfg.Sessions.MaxMessagesPerSession != 50 {
		t.Errorf("Sessions.MaxMessagesPerSession = %d, want 50", cfg.Sessions.MaxMessagesPerSession)
	}
	if cfg.Snapshot.MaxSnapshots != 24 {
		t.Errorf("Snapshot.MaxSnapshots = %d, want 24", cfg.Snapshot.MaxSnapshots)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HOSTCTL_TEST_API_KEY", "secret-value")
	path := writeTempConfig(t, "llm:\n  providers:\n    anthropic:\n      api_key: \"${HOSTCTL_TEST_API_KEY}\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "secret-value" {
		t.Errorf("APIKey = %q, want secret-value", got)
	}
}

func TestLoadRejectsInvalidLoggingFormat(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  format: xml\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid logging.format")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(basePath, []byte("server:\n  http_port: 9999\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\ndaemon:\n  work_dir: /tmp/hostctl\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("Server.HTTPPort = %d, want 9999 (from include)", cfg.Server.HTTPPort)
	}
	if cfg.Daemon.WorkDir != "/tmp/hostctl" {
		t.Errorf("Daemon.WorkDir = %q, want /tmp/hostctl", cfg.Daemon.WorkDir)
	}
}
