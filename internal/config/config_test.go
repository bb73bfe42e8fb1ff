package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL == "" || cfg.Evaluation != ModePerRole {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  base_url: https://es.internal:9200
  username: admin
  timeout: 5s
  mutations_per_second: 10
cert_dir: /var/lib/clustersec/certs
audit_log_path: /var/log/clustersec/audit.log
evaluation_mode: global-union
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://es.internal:9200" {
		t.Fatalf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout.Std() != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.Evaluation != ModeGlobalUnion {
		t.Fatalf("evaluation = %q", cfg.Evaluation)
	}
	// Fields the file omits keep their defaults.
	if cfg.ReportDir != "reports" {
		t.Fatalf("report_dir = %q", cfg.ReportDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLUSTERSEC_API_USERNAME", "from-env")
	t.Setenv("CLUSTERSEC_API_PASSWORD", "hunter2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Username != "from-env" || cfg.API.Password != "hunter2" {
		t.Fatalf("env overrides not applied: %+v", cfg.API)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = " " }},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"empty mode", func(c *Config) { c.Evaluation = "" }},
		{"unknown mode", func(c *Config) { c.Evaluation = "per-user" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api: [not a map"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadPropagatesValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("evaluation_mode: bogus\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
