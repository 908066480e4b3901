package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved runtime configuration of the CDN simulator.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// StoreBackend is "memory" or "redis".
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EdgeStrategy is "round-robin" or "weighted".
	EdgeStrategy string

	DefaultBandwidthBps    float64
	SegmentDurationSeconds float64

	// AudioTracks is a list of "lang:name[:default]" entries.
	AudioTracks []string

	// AuthTokens is a list of "token:tier" entries.
	AuthTokens     []string
	AuthTokenTTL   time.Duration
	CDNTokenSecret string

	RateLimitPerMinute int
}

// FromEnv builds a Config from the process environment, applying defaults for
// anything unset. Call Load first if a .env file should be honoured.
func FromEnv() Config {
	return Config{
		Port:                   GetEnv("PORT", "8080"),
		LogLevel:               GetEnv("LOG_LEVEL", "info"),
		LogFormat:              GetEnv("LOG_FORMAT", "json"),
		StoreBackend:           GetEnv("STORE_BACKEND", "memory"),
		RedisAddr:              GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          GetEnv("REDIS_PASSWORD", ""),
		RedisDB:                GetEnvInt("REDIS_DB", 0),
		EdgeStrategy:           GetEnv("EDGE_STRATEGY", "round-robin"),
		DefaultBandwidthBps:    GetEnvFloat("DEFAULT_BANDWIDTH_BPS", 5_000_000),
		SegmentDurationSeconds: GetEnvFloat("SEGMENT_DURATION_SECONDS", 6),
		AudioTracks:            GetEnvList("AUDIO_TRACKS", []string{"en:English:default", "es:Spanish"}),
		AuthTokens:             GetEnvList("AUTH_TOKENS", []string{"demo-token:premium", "basic-token:basic"}),
		AuthTokenTTL:           GetEnvDuration("AUTH_TOKEN_TTL", time.Hour),
		CDNTokenSecret:         GetEnv("CDN_TOKEN_SECRET", "cdnsim-dev-secret"),
		RateLimitPerMinute:     GetEnvInt("RATE_LIMIT_PER_MINUTE", 600),
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for float values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration parses values such as "90s" or "1h".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvList splits a comma separated variable, dropping blank entries.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
