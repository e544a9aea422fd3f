package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{
		"SERVER_PORT", "DEFAULT_THRESHOLD", "MAX_TEXT_LENGTH", "REGISTRY_WATCH",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "DETECTION_STREAM", "LOG_LEVEL", "ANALYSIS_TIMEOUT", "ANALYSIS_RETENTION_DAYS",
	} {
		t.Setenv(k, "")
	}

	assert.Equal(t, ":8080", ServerAddr())
	assert.Equal(t, 0.5, DefaultThreshold())
	assert.Equal(t, 50000, MaxTextLength())
	assert.Equal(t, 200, MaxConversationMessages())
	assert.False(t, RegistryWatch())
	assert.Equal(t, 100.0, RateLimitRPS())
	assert.Equal(t, 20, RateLimitBurst())
	assert.Equal(t, "leandeep:detections", DetectionStream())
	assert.Equal(t, "info", LogLevel())
	assert.Equal(t, 30*time.Second, AnalysisTimeout())
	assert.Zero(t, AnalysisRetention())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "abc")
	t.Setenv("DEFAULT_THRESHOLD", "1.5")
	t.Setenv("REGISTRY_WATCH", "maybe")
	t.Setenv("BATCH_CONCURRENCY", "-2")

	assert.Equal(t, 8080, ServerPort())
	assert.Equal(t, 0.5, DefaultThreshold())
	assert.False(t, RegistryWatch())
	assert.Equal(t, 4, BatchConcurrency())

	t.Setenv("ANALYSIS_TIMEOUT", "5s")
	assert.Equal(t, 5*time.Second, AnalysisTimeout())

	t.Setenv("ANALYSIS_RETENTION_DAYS", "7")
	assert.Equal(t, 7*24*time.Hour, AnalysisRetention())
}

func TestLoadReadsEnvAndSecret(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SERVER_PORT=9191\nREGISTRY_WATCH=true\n"), 0o600))
	require.NoError(t, os.WriteFile(envFile+".secret", []byte("REDIS_URL=redis://localhost:6379/0\n"), 0o600))

	t.Setenv("LEANDEEP_ENV", envFile)
	t.Setenv("SERVER_PORT", "")
	t.Setenv("REGISTRY_WATCH", "")
	t.Setenv("REDIS_URL", "")
	// godotenv does not override variables that are already set.
	require.NoError(t, os.Unsetenv("SERVER_PORT"))
	require.NoError(t, os.Unsetenv("REGISTRY_WATCH"))
	require.NoError(t, os.Unsetenv("REDIS_URL"))

	require.NoError(t, Load())
	assert.Equal(t, 9191, ServerPort())
	assert.True(t, RegistryWatch())
	assert.Equal(t, "redis://localhost:6379/0", RedisURL())
}
