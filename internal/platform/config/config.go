package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server and the backfill CLI read from the
// environment so main stays lean.
type Config struct {
	Addr     string
	LogLevel string

	// IngestEnabled is the deployment-level feature gate. When false the
	// gateway answers 403 to every forward regardless of credentials.
	IngestEnabled bool

	PostgresURL  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	// MasterSecret feeds context key derivation. Read once at startup,
	// never logged. When set, event metadata is sealed at rest; a value
	// that fails key setup is a hard startup error.
	MasterSecret string

	// CoVerifyURL enables remote signature co-verification when non-empty.
	CoVerifyURL     string
	CoVerifyChain   string
	CoVerifyTimeout time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	FreshnessWindow time.Duration

	SyncTargetURL     string
	SyncTargetTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:               envOr("SYNCMESH_ADDR", ":8080"),
		LogLevel:           envOr("SYNCMESH_LOG_LEVEL", "info"),
		IngestEnabled:      os.Getenv("SYNCMESH_INGEST_ENABLED") != "false",
		PostgresURL:        os.Getenv("SYNCMESH_POSTGRES_URL"),
		RedisURL:           os.Getenv("SYNCMESH_REDIS_URL"),
		KafkaBrokers:       splitList(os.Getenv("SYNCMESH_KAFKA_BROKERS")),
		KafkaTopic:         envOr("SYNCMESH_KAFKA_TOPIC", "syncmesh.events"),
		MasterSecret:       os.Getenv("SYNCMESH_MASTER_SECRET"),
		CoVerifyURL:        os.Getenv("SYNCMESH_COVERIFY_URL"),
		CoVerifyChain:      os.Getenv("SYNCMESH_COVERIFY_CHAIN"),
		CoVerifyTimeout:    envDuration("SYNCMESH_COVERIFY_TIMEOUT", 5*time.Second),
		RateLimitPerWindow: envInt("SYNCMESH_RATELIMIT_PER_WINDOW", 60),
		RateLimitWindow:    envDuration("SYNCMESH_RATELIMIT_WINDOW", time.Minute),
		FreshnessWindow:    envDuration("SYNCMESH_FRESHNESS_WINDOW", 5*time.Minute),
		SyncTargetURL:      os.Getenv("SYNCMESH_SYNC_TARGET_URL"),
		SyncTargetTimeout:  envDuration("SYNCMESH_SYNC_TARGET_TIMEOUT", 10*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
