// Package config provides application configuration with multi-source
// priority: environment variables > config file (~/.paperbase/config.yaml) >
// defaults.
//
// The Manager in manager.go is the only component that touches the backing
// file. Callers hold a *Config snapshot and go back to the Manager when they
// need a fresh one; Save invalidates the cached snapshot.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates retrieval parameters are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel is the default Gemini embedder model. It outputs 3072
// dimensions by default but supports truncation to 768 via
// OutputDimensionality; the pgvector schema uses 768 (see db migrations).
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "gpt-4o"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Generation adapter behavior
	GenerateTimeoutSec   int `mapstructure:"generate_timeout_sec" json:"generate_timeout_sec"`
	IncompleteRetryLimit int `mapstructure:"incomplete_retry_limit" json:"incomplete_retry_limit"`

	// Embedding / RAG configuration
	EmbedderModel  string  `mapstructure:"embedder_model" json:"embedder_model"`
	ChunkSize      int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	RetrievalK     int     `mapstructure:"retrieval_k" json:"retrieval_k"`
	RetrievalFetchK int    `mapstructure:"retrieval_fetch_k" json:"retrieval_fetch_k"`
	ScoreThreshold float32 `mapstructure:"score_threshold" json:"score_threshold"`
	EmbedRateLimit int     `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // embed calls per second

	// Task tracker
	TaskTTLMinutes int `mapstructure:"task_ttl_minutes" json:"task_ttl_minutes"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Observability (OTLP trace export)
	Otel OtelConfig `mapstructure:"otel" json:"otel"`
}

// OtelConfig configures the OTLP trace exporter.
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // host:port, empty disables tracing
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("generate_timeout_sec", 120)
	v.SetDefault("incomplete_retry_limit", 2)

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)
	v.SetDefault("retrieval_k", 8)
	v.SetDefault("retrieval_fetch_k", 24)
	v.SetDefault("score_threshold", 0.25)
	v.SetDefault("embed_rate_limit", 10)

	v.SetDefault("task_ttl_minutes", 60)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "paperbase")
	v.SetDefault("postgres_password", "paperbase_dev_password")
	v.SetDefault("postgres_db_name", "paperbase")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", "127.0.0.1:3900")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.environment", "dev")
	v.SetDefault("otel.service_name", "paperbase")
}

// bindEnvVariables binds runtime override environment variables.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins,
// not through viper; Validate only checks their presence for the selected
// provider.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PAPERBASE_PROVIDER")
	mustBind("model_name", "PAPERBASE_MODEL_NAME")
	mustBind("embedder_model", "PAPERBASE_EMBEDDER_MODEL")
	mustBind("listen_addr", "PAPERBASE_LISTEN_ADDR")
	mustBind("otel.endpoint", "PAPERBASE_OTEL_ENDPOINT")
}

// quoteDSNValue single-quotes a DSN value so passwords with spaces or '='
// survive keyword/value parsing.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// PostgresConnectionString returns the keyword/value DSN for pgxpool.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// PostgresURL returns the PostgreSQL URL for golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL applies DATABASE_URL over the individual postgres_*
// settings when set. Common in cloud deployments.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL format: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must use postgres:// scheme, got %q", parsed.Scheme)
	}

	c.PostgresHost = parsed.Hostname()
	if port := parsed.Port(); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
	}
	if parsed.User != nil {
		c.PostgresUser = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	c.PostgresDBName = strings.TrimPrefix(parsed.Path, "/")
	if mode := parsed.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o".
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOpenAI {
		return ProviderOpenAI + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked to rule out substring matching.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
