// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr string

	// TileEndpoints are the upstream map-data URLs tried in rotation.
	TileEndpoints []string
	TileSizeDeg   float64
	TileBudget    int

	FetchConcurrency  int64
	FetchMaxRetries   int
	FetchBaseBackoff  time.Duration
	FetchMaxBackoff   time.Duration
	RateLimitCooldown time.Duration
	EndpointCooldown  time.Duration

	// BundlePath optionally warm-starts the tile store; empty means cold.
	BundlePath string
}

// Load reads the environment, first merging a .env file when present.
func Load() Config {
	// Missing .env is fine, env vars may come from the process.
	_ = godotenv.Load()

	return Config{
		ListenAddr:        getString("LISTEN_ADDR", ":8080"),
		TileEndpoints:     getStrings("TILE_ENDPOINTS", "http://localhost:5050/tiles"),
		TileSizeDeg:       getFloat("TILE_SIZE_DEG", 0.01),
		TileBudget:        getInt("TILE_BUDGET", 400),
		FetchConcurrency:  int64(getInt("FETCH_CONCURRENCY", 3)),
		FetchMaxRetries:   getInt("FETCH_MAX_RETRIES", 4),
		FetchBaseBackoff:  getDuration("FETCH_BASE_BACKOFF", 250*time.Millisecond),
		FetchMaxBackoff:   getDuration("FETCH_MAX_BACKOFF", 4*time.Second),
		RateLimitCooldown: getDuration("RATE_LIMIT_COOLDOWN", 5*time.Second),
		EndpointCooldown:  getDuration("ENDPOINT_COOLDOWN", 10*time.Second),
		BundlePath:        getString("BUNDLE_PATH", ""),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getStrings(key, fallback string) []string {
	raw := getString(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
