package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "security-events", cfg.KafkaTopic)
	assert.Equal(t, 5, cfg.BruteForceMaxAttempts)
	assert.Equal(t, 300, cfg.BruteForceWindowSecs)
	assert.Equal(t, 900, cfg.BruteForceBlockSecs)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("BRUTE_FORCE_MAX_ATTEMPTS", "10")

	cfg := Load()
	assert.Equal(t, "9999", cfg.ServerPort)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 10, cfg.BruteForceMaxAttempts)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	assert.Equal(t, 0, Load().RedisDB)
}
