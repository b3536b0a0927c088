package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a config that passes Validate, for tests to mutate.
func validConfig() *Config {
	return &Config{
		Provider:             ProviderGemini,
		ModelName:            "gemini-2.5-flash",
		Temperature:          0.3,
		MaxTokens:            4096,
		GenerateTimeoutSec:   120,
		IncompleteRetryLimit: 2,
		EmbedderModel:        DefaultEmbedderModel,
		ChunkSize:            500,
		ChunkOverlap:         50,
		RetrievalK:           8,
		RetrievalFetchK:      24,
		ScoreThreshold:       0.25,
		EmbedRateLimit:       10,
		TaskTTLMinutes:       60,
		PostgresHost:         "localhost",
		PostgresPort:         5432,
		PostgresUser:         "paperbase",
		PostgresPassword:     "secret",
		PostgresDBName:       "paperbase",
		PostgresSSLMode:      "disable",
		ListenAddr:           "127.0.0.1:3900",
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = " " }, ErrInvalidModelName},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"overlap >= size", func(c *Config) { c.ChunkOverlap = 500 }, ErrInvalidChunking},
		{"fetch_k below k", func(c *Config) { c.RetrievalFetchK = 4 }, ErrInvalidRetrieval},
		{"threshold above one", func(c *Config) { c.ScoreThreshold = 1.5 }, ErrInvalidRetrieval},
		{"bad port", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"bad sslmode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg := validConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestFullModelName(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "googleai/gemini-2.5-flash", cfg.FullModelName())

	cfg.Provider = ProviderOpenAI
	cfg.ModelName = "gpt-4o"
	assert.Equal(t, "openai/gpt-4o", cfg.FullModelName())

	cfg.ModelName = "openai/gpt-4o-mini"
	assert.Equal(t, "openai/gpt-4o-mini", cfg.FullModelName())
}

func TestPostgresURLEncodesCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p@ss/word"

	u := cfg.PostgresURL()
	assert.True(t, strings.HasPrefix(u, "postgres://"))
	assert.NotContains(t, u, "p@ss/word") // must be percent-encoded
	assert.Contains(t, u, "sslmode=disable")
}

func TestMarshalJSONMasksPassword(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "supersecretpassword"

	data, err := cfg.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecretpassword")
	assert.Contains(t, string(data), maskedValue)
}

func TestManagerLoadSaveRoundTrip(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DATABASE_URL", "")

	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, 500, cfg.ChunkSize)

	// Same cached pointer until Save.
	again, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	updated := *cfg
	updated.ChunkSize = 800
	updated.ChunkOverlap = 80
	require.NoError(t, m.Save(&updated))

	reloaded, err := m.Load()
	require.NoError(t, err)
	assert.NotSame(t, cfg, reloaded)
	assert.Equal(t, 800, reloaded.ChunkSize)
}

func TestManagerSaveRejectsInvalid(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	bad := validConfig()
	bad.Temperature = 9
	assert.ErrorIs(t, m.Save(bad), ErrInvalidTemperature)
	assert.Error(t, m.Save(nil))
}

func TestManagerDatabaseURLOverride(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DATABASE_URL", "postgres://alice:pw@db.internal:6432/papers?sslmode=require")

	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.PostgresHost)
	assert.Equal(t, 6432, cfg.PostgresPort)
	assert.Equal(t, "alice", cfg.PostgresUser)
	assert.Equal(t, "papers", cfg.PostgresDBName)
	assert.Equal(t, "require", cfg.PostgresSSLMode)
}
