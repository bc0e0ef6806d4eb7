package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "relay.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "RELAY_PORT")
	setString(&cfg.Server.CORSOrigin, "RELAY_CORS_ORIGIN")
	setString(&cfg.Server.PublicURL, "RELAY_PUBLIC_URL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RELAY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RELAY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "RELAY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "RELAY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "RELAY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "RELAY_LLM_URL")
	setString(&cfg.LLM.APIKey, "RELAY_LLM_API_KEY")
	setString(&cfg.LLM.Model, "RELAY_LLM_MODEL")
	setInt(&cfg.LLM.MaxIterations, "RELAY_LLM_MAX_ITERATIONS")
	setString(&cfg.Logging.Level, "RELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RELAY_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "RELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "RELAY_BREAKER_TIMEOUT")
	setInt(&cfg.Git.MaxConcurrent, "RELAY_GIT_MAX_CONCURRENT")
	setString(&cfg.Webhook.GitHubSecret, "RELAY_WEBHOOK_SECRET")
	setDuration(&cfg.Pipeline.TestTimeout, "RELAY_TEST_TIMEOUT")
	setDuration(&cfg.Pipeline.DeployTimeout, "RELAY_DEPLOY_TIMEOUT")
	setString(&cfg.Pipeline.DeployToken, "VERCEL_TOKEN")
	setInt(&cfg.Pipeline.ProbeAttempts, "RELAY_PROBE_ATTEMPTS")
	setDuration(&cfg.Pipeline.ProbeBackoff, "RELAY_PROBE_BACKOFF")
	setDuration(&cfg.Pipeline.ProbeTimeout, "RELAY_PROBE_TIMEOUT")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.Notifiers.DiscordWebhook, "RELAY_DISCORD_WEBHOOK")
	setString(&cfg.Notifiers.SlackWebhook, "RELAY_SLACK_WEBHOOK")
	setString(&cfg.Notifiers.SMTP.Host, "RELAY_SMTP_HOST")
	setInt(&cfg.Notifiers.SMTP.Port, "RELAY_SMTP_PORT")
	setString(&cfg.Notifiers.SMTP.From, "RELAY_SMTP_FROM")
	setString(&cfg.Notifiers.SMTP.Password, "RELAY_SMTP_PASSWORD")
	setString(&cfg.Notifiers.EmailTo, "RELAY_EMAIL_TO")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Git.MaxConcurrent < 1 {
		return errors.New("git.max_concurrent must be >= 1")
	}
	if cfg.Pipeline.ProbeAttempts < 1 {
		return errors.New("pipeline.probe_attempts must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
