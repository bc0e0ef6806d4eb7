// Package config provides hierarchical configuration loading for Relay.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Relay service.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	LLM       LLM       `yaml:"llm"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Git       Git       `yaml:"git"`
	Webhook   Webhook   `yaml:"webhook"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	GitHub    GitHub    `yaml:"github"`
	Notifiers Notifiers `yaml:"notifiers"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// PublicURL is the externally reachable base URL used when building the
	// status/replay links returned by the webhook endpoint.
	PublicURL string `yaml:"public_url"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN disables
// durable event persistence; the in-memory backlog still works.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the optional JetStream event mirror configuration. An empty URL
// disables mirroring.
type NATS struct {
	URL string `yaml:"url"`
}

// LLM holds the OpenAI-compatible chat-completions endpoint used by the
// reasoning delegate. An empty URL disables delegation; stages fall back to
// their deterministic paths.
type LLM struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	MaxIterations int    `yaml:"max_iterations"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for the LLM client.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Git holds clone pool configuration.
type Git struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Webhook holds ingress verification configuration. An empty secret accepts
// unsigned payloads.
type Webhook struct {
	GitHubSecret string `yaml:"github_secret"`
}

// Pipeline holds per-stage execution limits.
type Pipeline struct {
	TestTimeout   time.Duration `yaml:"test_timeout"`
	DeployTimeout time.Duration `yaml:"deploy_timeout"`
	DeployToken   string        `yaml:"deploy_token"`
	ProbeAttempts int           `yaml:"probe_attempts"`
	ProbeBackoff  time.Duration `yaml:"probe_backoff"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// GitHub holds the API token used for issue creation on incidents.
type GitHub struct {
	Token string `yaml:"token"`
}

// Notifiers holds incident alert targets; empty values disable a target.
type Notifiers struct {
	DiscordWebhook string `yaml:"discord_webhook"`
	SlackWebhook   string `yaml:"slack_webhook"`
	SMTP           SMTP   `yaml:"smtp"`
	EmailTo        string `yaml:"email_to"`
}

// SMTP holds the email notifier transport settings.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Password string `yaml:"password"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			PublicURL:  "http://localhost:8080",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		LLM: LLM{
			Model:         "claude-3-5-sonnet-20241022",
			MaxIterations: 10,
		},
		Logging: Logging{
			Level:   "info",
			Service: "relay-core",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Git: Git{
			MaxConcurrent: 4,
		},
		Pipeline: Pipeline{
			TestTimeout:   5 * time.Minute,
			DeployTimeout: 10 * time.Minute,
			ProbeAttempts: 5,
			ProbeBackoff:  2 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
	}
}
