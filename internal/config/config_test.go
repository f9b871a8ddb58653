package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paintEstimator/internal/llm"
)

// chdir keeps a stray .env in the working directory out of the tests.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, llm.DefaultModel, cfg.Gemini.Model)
	assert.Equal(t, llm.BackendGeminiAPI, cfg.Gemini.Backend)
	assert.Equal(t, 120*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, 60, cfg.Gemini.RatePerMinute)
	assert.False(t, cfg.Media.Enabled())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("GEMINI_API_KEY", " key-123 ")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("GEMINI_TIMEOUT", "30s")
	t.Setenv("S3_BUCKET", "plans")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("S3_KEY_PREFIX", "/uploads/")
	t.Setenv("S3_FORCE_PATH_STYLE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "key-123", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.Model)
	assert.Equal(t, 30*time.Second, cfg.Gemini.Timeout)
	assert.True(t, cfg.Media.Enabled())
	assert.Equal(t, "uploads", cfg.Media.KeyPrefix)
	assert.True(t, cfg.Media.ForcePathStyle)
}

func TestLoadReadsDotEnvAndYAML(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_API_KEY=from-dotenv\n"), 0o600))
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("cache_ttl: 5m\nlog_level: debug\n"), 0o600))
	// t.Setenv restores the original value; unset so godotenv may fill it.
	t.Setenv("GEMINI_API_KEY", "")
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Gemini.APIKey)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingYAMLIsOptional(t *testing.T) {
	dir := chdir(t)

	_, err := Load(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	chdir(t)
	t.Setenv("GEMINI_BACKEND", "openai")

	_, err := Load("")
	assert.ErrorContains(t, err, "GEMINI_BACKEND")
}
