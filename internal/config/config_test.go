package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tera.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogVerbosity != LogDebug {
		t.Fatalf("expected default log_verbosity debug, got %q", cfg.LogVerbosity)
	}
	if cfg.Port != 16768 {
		t.Fatalf("expected default port 16768, got %d", cfg.Port)
	}
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	body := "# a comment\n\nlog_verbosity warning\nhost 0.0.0.0\nport 1884\nmetrics_enabled true\n"
	path := writeTempConfig(t, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogVerbosity != LogWarning {
		t.Fatalf("expected log_verbosity warning, got %q", cfg.LogVerbosity)
	}
	if cfg.Host != "0.0.0.0" {
		t.Fatalf("expected host 0.0.0.0, got %q", cfg.Host)
	}
	if cfg.Port != 1884 {
		t.Fatalf("expected port 1884, got %d", cfg.Port)
	}
	if !cfg.MetricsEnabled {
		t.Fatal("expected metrics_enabled true")
	}
}

func TestLoadIgnoresUnknownKeysButKeepsRaw(t *testing.T) {
	path := writeTempConfig(t, "custom_key custom_value\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, ok := cfg.Raw("custom_key")
	if !ok || v != "custom_value" {
		t.Fatalf("expected raw custom_key=custom_value, got %q, %v", v, ok)
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeTempConfig(t, "this-line-has-no-value\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error on malformed line")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}
