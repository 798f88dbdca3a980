package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telecine/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[ftp]
host = "studio.example.com"
username = "ingest"
`)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s to be used", path)
	}
	if cfg.FTP.Port != 21 {
		t.Fatalf("expected default FTP port, got %d", cfg.FTP.Port)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("expected default max retries, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.WorkersPerKind != 1 {
		t.Fatalf("expected single worker per kind, got %d", cfg.Workflow.WorkersPerKind)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("expected console logging, got %q", cfg.Logging.Format)
	}
}

func TestLoadRequiresFTPHost(t *testing.T) {
	path := writeConfig(t, `
[ftp]
username = "ingest"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error when ftp.host missing")
	} else if !strings.Contains(err.Error(), "ftp.host") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsHeartbeatTimeoutBelowInterval(t *testing.T) {
	path := writeConfig(t, `
[ftp]
host = "studio.example.com"
username = "ingest"

[workflow]
heartbeat_interval = 60
heartbeat_timeout = 30
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected heartbeat validation error")
	}
}

func TestLoadRejectsAnalysisWithoutTranscription(t *testing.T) {
	path := writeConfig(t, `
[ftp]
host = "studio.example.com"
username = "ingest"

[analysis]
enabled = true
command = "vlm-describe"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected analysis/transcription dependency error")
	}
}

func TestExpandedPathsAreAbsolute(t *testing.T) {
	path := writeConfig(t, `
[paths]
staging_dir = "~/staging"

[ftp]
host = "studio.example.com"
username = "ingest"
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("expected absolute staging dir, got %q", cfg.Paths.StagingDir)
	}
	if strings.Contains(cfg.Paths.StagingDir, "~") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.StagingDir)
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := writeConfig(t, config.SampleConfig())
	// Sample ships with an empty FTP host; only normalization is exercised.
	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error for empty sample ftp.host")
	}
	if !strings.Contains(err.Error(), "ftp.host") {
		t.Fatalf("unexpected error: %v", err)
	}
}
