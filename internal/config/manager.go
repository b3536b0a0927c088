package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"
)

// Manager owns the settings file. It caches the parsed Config in memory and
// invalidates the cache on Save, so every caller observes updated settings on
// its next Load without re-reading the file on every access.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	dir    string // config directory, e.g. ~/.paperbase
	cached *Config
}

// NewManager creates a Manager rooted at dir. Empty dir resolves to
// ~/.paperbase.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting user home directory: %w", err)
		}
		dir = filepath.Join(home, ".paperbase")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, "config.yaml")
}

// Load returns the current configuration.
// Priority: environment variables > config file > defaults.
// The parsed result is cached until the next Save.
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(m.dir)

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	m.cached = &cfg
	return m.cached, nil
}

// Save writes cfg to the settings file and invalidates the cache. The file is
// locked with flock for the duration of the write so concurrent processes do
// not interleave partial writes.
func (m *Manager) Save(cfg *Config) error {
	if cfg == nil {
		return ErrConfigNil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lock := flock.New(m.Path() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking config file: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	v := viper.New()
	v.SetConfigFile(m.Path())
	v.SetConfigType("yaml")

	v.Set("provider", cfg.Provider)
	v.Set("model_name", cfg.ModelName)
	v.Set("temperature", cfg.Temperature)
	v.Set("max_tokens", cfg.MaxTokens)
	v.Set("generate_timeout_sec", cfg.GenerateTimeoutSec)
	v.Set("incomplete_retry_limit", cfg.IncompleteRetryLimit)
	v.Set("embedder_model", cfg.EmbedderModel)
	v.Set("chunk_size", cfg.ChunkSize)
	v.Set("chunk_overlap", cfg.ChunkOverlap)
	v.Set("retrieval_k", cfg.RetrievalK)
	v.Set("retrieval_fetch_k", cfg.RetrievalFetchK)
	v.Set("score_threshold", cfg.ScoreThreshold)
	v.Set("embed_rate_limit", cfg.EmbedRateLimit)
	v.Set("task_ttl_minutes", cfg.TaskTTLMinutes)
	v.Set("postgres_host", cfg.PostgresHost)
	v.Set("postgres_port", cfg.PostgresPort)
	v.Set("postgres_user", cfg.PostgresUser)
	v.Set("postgres_password", cfg.PostgresPassword)
	v.Set("postgres_db_name", cfg.PostgresDBName)
	v.Set("postgres_ssl_mode", cfg.PostgresSSLMode)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("otel.endpoint", cfg.Otel.Endpoint)
	v.Set("otel.environment", cfg.Otel.Environment)
	v.Set("otel.service_name", cfg.Otel.ServiceName)

	if err := v.WriteConfigAs(m.Path()); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Invalidate so the next Load re-reads the file (env overrides included).
	m.cached = nil
	return nil
}
