package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":              "9090",
		"DB_PATH":           ":memory:",
		"LOG_LEVEL":         "debug",
		"LOG_FORMAT":        "text",
		"CORS_ORIGINS":      " https://pos.example.com , ,https://admin.example.com",
		"REDIS_ADDRESS":     "redis:6379",
		"ROUTING_SERIALIZE": "true",
		"ROUTING_LOCK_TTL":  "5s",
		"MONITOR_INTERVAL":  "0",
	}))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, []string{"https://pos.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "redis:6379", cfg.RedisAddress)
	assert.True(t, cfg.Serialize)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, time.Duration(0), cfg.MonitorInterval)
}

func TestFromEnv_Invalid(t *testing.T) {
	for _, kv := range [][2]string{
		{"PORT", "eighty"},
		{"ROUTING_SERIALIZE", "maybe"},
		{"ROUTING_LOCK_TTL", "-1s"},
		{"MONITOR_INTERVAL", "soon"},
	} {
		_, err := FromEnv(env(map[string]string{kv[0]: kv[1]}))
		assert.Error(t, err, kv[0])
	}
}

func TestLogger_LevelAndLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.Equal(t, logrus.InfoLevel, newLogger("loud", "text", &buf).GetLevel())

	LogError(logger, "routing", "Process", "persist failed", map[string]string{"ticket": "t1"}, errors.New("disk full"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "disk full", entry["msg"])
	assert.Equal(t, "routing", entry["module"])
	assert.Equal(t, "Process", entry["funcName"])
	assert.NotNil(t, entry["data"])
}
