package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gk")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 4000, cfg.ProviderMaxTokens)
	assert.Equal(t, 8000, cfg.GeminiMaxTokens)
	assert.InDelta(t, 0.7, cfg.ProviderTemperature, 0.0001)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, "gk", cfg.GroqKey)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "SERVER_ADDRESS: \":9090\"\nSTORE_BACKEND: Redis\nSTREAM_IDLE_TIMEOUT: 5s\nCORS_ALLOW_ORIGINS: \"http://a.test, http://b.test\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddress)
	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins())
}

func TestValidate(t *testing.T) {
	cfg := Config{StoreBackend: "postgres"}
	assert.Error(t, cfg.Validate())

	cfg = Config{StoreBackend: "mongo"}
	assert.Error(t, cfg.Validate())

	cfg = Config{StoreBackend: " MEMORY "}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
}

func TestOpenRouterKeyFallback(t *testing.T) {
	assert.Equal(t, "legacy", Config{ChimeraKey: "legacy"}.OpenRouterAPIKey())
	assert.Equal(t, "main", Config{OpenRouterKey: "main", ChimeraKey: "legacy"}.OpenRouterAPIKey())
}
