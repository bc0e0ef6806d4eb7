package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("expected max_conns 10, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Pipeline.ProbeAttempts != 5 {
		t.Errorf("expected 5 probe attempts, got %d", cfg.Pipeline.ProbeAttempts)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
pipeline:
  test_timeout: 30s
  probe_attempts: 2
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Pipeline.TestTimeout != 30*time.Second {
		t.Errorf("expected test_timeout 30s, got %v", cfg.Pipeline.TestTimeout)
	}
	if cfg.Pipeline.ProbeAttempts != 2 {
		t.Errorf("expected probe_attempts 2, got %d", cfg.Pipeline.ProbeAttempts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Git.MaxConcurrent != 4 {
		t.Errorf("expected default git pool size, got %d", cfg.Git.MaxConcurrent)
	}
}

func TestLoadYAMLMissingFileIsOK(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
}

func TestLoadYAMLMalformed(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("RELAY_PORT", "7070")
	t.Setenv("RELAY_WEBHOOK_SECRET", "s3cret")
	t.Setenv("VERCEL_TOKEN", "tok")
	t.Setenv("RELAY_PROBE_BACKOFF", "250ms")

	cfg := Defaults()
	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Webhook.GitHubSecret != "s3cret" {
		t.Errorf("expected webhook secret from env, got %q", cfg.Webhook.GitHubSecret)
	}
	if cfg.Pipeline.DeployToken != "tok" {
		t.Errorf("expected deploy token from env, got %q", cfg.Pipeline.DeployToken)
	}
	if cfg.Pipeline.ProbeBackoff != 250*time.Millisecond {
		t.Errorf("expected probe backoff 250ms, got %v", cfg.Pipeline.ProbeBackoff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"bad breaker", func(c *Config) { c.Breaker.MaxFailures = 0 }, true},
		{"bad git pool", func(c *Config) { c.Git.MaxConcurrent = 0 }, true},
		{"pg dsn set, bad conns", func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 }, true},
		{"pg disabled ignores conns", func(c *Config) { c.Postgres.MaxConns = 0 }, false},
		{"bad probes", func(c *Config) { c.Pipeline.ProbeAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
