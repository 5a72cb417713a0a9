// Package config loads and validates service configuration.
//
// Sources in priority order: environment variables, optional config
// file, built-in defaults. Secrets (API keys, tokens, DSN passwords)
// are never logged.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Validation sentinels. Callers match with errors.Is.
var (
	ErrMissingDatabase      = errors.New("database configuration missing")
	ErrMissingOpenAIKey     = errors.New("OPENAI_API_KEY not set")
	ErrMissingPerplexityKey = errors.New("PERPLEXITY_API_KEY not set")
	ErrInvalidLanguage      = errors.New("unsupported language")
)

// SupportedLanguages lists the languages the knowledge base carries
// per-language columns for. German is the canonical source language.
var SupportedLanguages = []string{"de", "en", "fr", "es"}

// Config is the root configuration for the fixwise service.
type Config struct {
	Server    Server
	Database  Database
	Providers Providers
	Log       Log
}

// Server configures the HTTP API.
type Server struct {
	Addr string
	// APIToken guards all /api/v1 routes. Empty disables auth, which
	// is only acceptable in local development.
	APIToken string
	// AllowedOrigins for CORS. "*" during development.
	AllowedOrigins []string
	// RateLimitPerSecond per client IP.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Database configures the Postgres connection.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Providers holds AI provider credentials and model names.
type Providers struct {
	OpenAIKey     string
	PerplexityKey string

	// Model assignments. Defaults mirror production.
	ChatModel       string // structuring, temp 0.1
	FallbackModel   string // LLM-only fallback, translation, guides
	SearchModel     string // web research
	HarvestModel    string // harvester research
	EmbeddingModel  string
	EmbeddingDims   int
}

// Log configures logging output.
type Log struct {
	Level     string
	JSON      bool
	AddSource bool
}

// Load reads configuration from the environment and an optional
// fixwise.yaml in the working directory or /etc/fixwise.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("fixwise")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fixwise")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FIXWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindWellKnownEnv(v)

	cfg := &Config{
		Server: Server{
			Addr:               v.GetString("server.addr"),
			APIToken:           v.GetString("server.api_token"),
			AllowedOrigins:     v.GetStringSlice("server.allowed_origins"),
			RateLimitPerSecond: v.GetFloat64("server.rate_limit_per_second"),
			RateLimitBurst:     v.GetInt("server.rate_limit_burst"),
		},
		Database: Database{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Providers: Providers{
			OpenAIKey:      v.GetString("providers.openai_key"),
			PerplexityKey:  v.GetString("providers.perplexity_key"),
			ChatModel:      v.GetString("providers.chat_model"),
			FallbackModel:  v.GetString("providers.fallback_model"),
			SearchModel:    v.GetString("providers.search_model"),
			HarvestModel:   v.GetString("providers.harvest_model"),
			EmbeddingModel: v.GetString("providers.embedding_model"),
			EmbeddingDims:  v.GetInt("providers.embedding_dims"),
		},
		Log: Log{
			Level:     v.GetString("log.level"),
			JSON:      v.GetBool("log.json"),
			AddSource: v.GetBool("log.add_source"),
		},
	}

	if dbURL := v.GetString("database_url"); dbURL != "" {
		if err := parseDatabaseURL(dbURL, &cfg.Database); err != nil {
			return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_second", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "fixwise")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("providers.chat_model", "gpt-4o")
	v.SetDefault("providers.fallback_model", "gpt-4o-mini")
	v.SetDefault("providers.search_model", "sonar")
	v.SetDefault("providers.harvest_model", "sonar-pro")
	v.SetDefault("providers.embedding_model", "text-embedding-3-small")
	v.SetDefault("providers.embedding_dims", 1536)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.add_source", false)
}

// bindWellKnownEnv maps conventional unprefixed environment variables
// onto their config keys so deployments can use the names every other
// tool expects.
func bindWellKnownEnv(v *viper.Viper) {
	// BindEnv only errors on empty input.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("providers.openai_key", "OPENAI_API_KEY", "FIXWISE_PROVIDERS_OPENAI_KEY")
	_ = v.BindEnv("providers.perplexity_key", "PERPLEXITY_API_KEY", "FIXWISE_PROVIDERS_PERPLEXITY_KEY")
	_ = v.BindEnv("server.api_token", "FIXWISE_API_TOKEN", "FIXWISE_SERVER_API_TOKEN")
}

// Validate checks the parts every run mode needs. Provider keys are
// validated lazily by the provider constructors instead, because some
// modes (migrations, version) never talk to a provider.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		return ErrMissingDatabase
	}
	return nil
}

// ValidLanguage reports whether lang is one of the supported
// knowledge-base languages.
func ValidLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// parseDatabaseURL fills db from a postgres:// URL. Individual fields
// already set by more specific env vars are overwritten: a DATABASE_URL
// is treated as authoritative when present.
func parseDatabaseURL(raw string, db *Database) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unexpected scheme %q", u.Scheme)
	}

	db.Host = u.Hostname()
	db.Port = 5432
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &db.Port); err != nil {
			return fmt.Errorf("invalid port %q", p)
		}
	}
	if u.User != nil {
		db.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			db.Password = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		db.Name = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		db.SSLMode = mode
	}
	return nil
}

// ConnectionString returns a keyword/value DSN for pgx.
func (d Database) ConnectionString() string {
	parts := []string{
		"host=" + quoteDSNValue(d.Host),
		fmt.Sprintf("port=%d", d.Port),
		"user=" + quoteDSNValue(d.User),
		"dbname=" + quoteDSNValue(d.Name),
	}
	if d.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(d.Password))
	}
	if d.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSNValue(d.SSLMode))
	}
	return strings.Join(parts, " ")
}

// URL returns a postgres:// URL form of the DSN, as required by the
// migration driver.
func (d Database) URL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// quoteDSNValue quotes a keyword/value DSN value when it contains
// spaces or quotes.
func quoteDSNValue(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " '\\") {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
