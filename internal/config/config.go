// Package config provides service configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (COSTERA_ prefix, runtime override)
//  2. Config file (costera.yaml in the working directory or /etc/costera)
//  3. Defaults
//
// Validation uses sentinel errors so callers can branch with errors.Is().
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidListenAddr indicates the server listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrNoModels indicates the model allowlist is empty.
	ErrNoModels = errors.New("at least one model must be configured")

	// ErrInvalidStepBudget indicates the tool-loop step budget is out of range.
	ErrInvalidStepBudget = errors.New("invalid step budget")

	// ErrMissingCookieSecret indicates the session cookie secret is not set.
	ErrMissingCookieSecret = errors.New("missing cookie secret")

	// ErrShortCookieSecret indicates the session cookie secret is too short.
	ErrShortCookieSecret = errors.New("cookie secret must be at least 32 bytes")
)

// Step budget bounds for the model⇄tool loop.
const (
	DefaultStepBudget = 5
	MaxStepBudget     = 16
)

// Server holds HTTP server settings.
type Server struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Dev         bool     `mapstructure:"dev"`
	TrustProxy  bool     `mapstructure:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst"`
}

// Postgres holds database connection settings.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ConnString returns a plain pgx-compatible connection string, suitable for
// both single connections (migrations) and pools.
func (p Postgres) ConnString() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("user=%s", p.User),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}

// PoolConnString returns the connection string with pool sizing applied.
// Only pgxpool understands pool_max_conns, so this must not be handed to
// database/sql.
func (p Postgres) PoolConnString() string {
	s := p.ConnString()
	if p.MaxConns > 0 {
		s += fmt.Sprintf(" pool_max_conns=%d", p.MaxConns)
	}
	return s
}

// AI holds model selection and tool-loop settings.
type AI struct {
	// Provider selects the genkit plugin ("googleai" is the only wired provider).
	Provider string `mapstructure:"provider"`

	// Models is the allowlist of model identifiers a request may name.
	// Each entry is provider-qualified, e.g. "googleai/gemini-2.5-flash".
	Models []string `mapstructure:"models"`

	// DefaultModel is used by the generative document tools.
	DefaultModel string `mapstructure:"default_model"`

	// StepBudget caps model⇄tool round-trips per turn submission.
	StepBudget int `mapstructure:"step_budget"`
}

// Auth holds credential resolution settings.
type Auth struct {
	// ServiceURL is the base URL of the token verification service.
	// Empty disables the bearer path (cookie-only).
	ServiceURL string `mapstructure:"service_url"`

	// CookieSecret signs the session cookie (HMAC-SHA256). Min 32 bytes.
	CookieSecret string `mapstructure:"cookie_secret"`
}

// Weather holds the external forecast endpoint.
type Weather struct {
	BaseURL string `mapstructure:"base_url"`
}

// Observability holds optional OTLP trace export settings.
type Observability struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Config is the root configuration.
type Config struct {
	Server        Server        `mapstructure:"server"`
	Postgres      Postgres      `mapstructure:"postgres"`
	AI            AI            `mapstructure:"ai"`
	Auth          Auth          `mapstructure:"auth"`
	Weather       Weather       `mapstructure:"weather"`
	Observability Observability `mapstructure:"observability"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("costera")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/costera")

	v.SetEnvPrefix("COSTERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No file is fine; defaults + env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.dev", false)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_burst", 60)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "costera")
	v.SetDefault("postgres.dbname", "costera")
	v.SetDefault("postgres.sslmode", "prefer")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("ai.provider", "googleai")
	v.SetDefault("ai.models", []string{"googleai/gemini-2.5-flash"})
	v.SetDefault("ai.default_model", "googleai/gemini-2.5-flash")
	v.SetDefault("ai.step_budget", DefaultStepBudget)

	// Registered empty so AutomaticEnv can populate them; viper only maps
	// environment variables for keys it already knows.
	v.SetDefault("auth.service_url", "")
	v.SetDefault("auth.cookie_secret", "")

	v.SetDefault("weather.base_url", "https://api.open-meteo.com/v1/forecast")

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "costera")
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrInvalidListenAddr
	}
	if c.Postgres.Host == "" {
		return ErrInvalidPostgresHost
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Postgres.DBName == "" {
		return ErrInvalidPostgresDBName
	}
	if len(c.AI.Models) == 0 {
		return ErrNoModels
	}
	if c.AI.StepBudget <= 0 || c.AI.StepBudget > MaxStepBudget {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidStepBudget, c.AI.StepBudget, MaxStepBudget)
	}
	if c.Auth.CookieSecret == "" {
		return ErrMissingCookieSecret
	}
	if len(c.Auth.CookieSecret) < 32 {
		return ErrShortCookieSecret
	}
	return nil
}

// ModelAllowed reports whether id is in the configured model allowlist.
func (a AI) ModelAllowed(id string) bool {
	for _, m := range a.Models {
		if m == id {
			return true
		}
	}
	return false
}
