/*
Package config loads runtime configuration and builds the shared logger.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory (optional, via godotenv)
  3. Process environment
  4. Command-line flags (applied by cmd/server)

ENVIRONMENT:
  PORT                      HTTP port (8080)
  DB_PATH                   SQLite path, ":memory:" allowed (cash-router.db)
  LOG_LEVEL                 logrus level name (info)
  LOG_FORMAT                json | text (json)
  CORS_ORIGINS              comma separated (http://localhost:3000,http://localhost:5173)
  REDIS_ADDRESS             enables the distributed sequencer when set
  ROUTING_SERIALIZE         true to serialize decisions per rule (false)
  ROUTING_LOCK_TTL          lock TTL, Go duration (30s)
  MONITOR_INTERVAL          ratio monitor period, 0 disables (5m)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	DBPath          string
	LogLevel        string
	LogFormat       string
	CORSOrigins     []string
	RedisAddress    string
	Serialize       bool
	LockTTL         time.Duration
	MonitorInterval time.Duration
}

func Default() Config {
	return Config{
		Port:            8080,
		DBPath:          "cash-router.db",
		LogLevel:        "info",
		LogFormat:       "json",
		CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		Serialize:       false,
		LockTTL:         30 * time.Second,
		MonitorInterval: 5 * time.Minute,
	}
}

// Load reads .env (if present) and the environment on top of Default.
func Load() (Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return cfg, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("REDIS_ADDRESS"); ok {
		cfg.RedisAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup("ROUTING_SERIALIZE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ROUTING_SERIALIZE %q", v)
		}
		cfg.Serialize = b
	}
	if v, ok := lookup("ROUTING_LOCK_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid ROUTING_LOCK_TTL %q", v)
		}
		cfg.LockTTL = d
	}
	if v, ok := lookup("MONITOR_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("invalid MONITOR_INTERVAL %q", v)
		}
		cfg.MonitorInterval = d
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
