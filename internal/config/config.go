// Package config loads the proxy's configuration from the environment, in
// the teacher's envOr style.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds every environment-sourced setting the proxy needs —
// spec.md §6 "Configuration (environment)".
type Config struct {
	ProxyAPIKey     string // PROXY_API_KEY, required
	BloxsAPIKey     string // BLOXS_API_KEY
	BloxsAPISecret  string // BLOXS_API_SECRET
	BloxsBaseURL    string // BLOXS_BASE_URL, required
	EnableLearning  bool   // ENABLE_LEARNING
	LearningBackend string // LEARNING_KV_BACKEND: "bbolt" | "s3" | "none" or "" (none)

	LearningBoltPath         string // LEARNING_BOLT_PATH
	LearningS3Bucket         string // LEARNING_S3_BUCKET
	LearningS3Prefix         string // LEARNING_S3_PREFIX
	LearningS3ForcePathStyle bool   // LEARNING_S3_FORCE_PATH_STYLE

	ForbiddenOwnerNames []string // FORBIDDEN_OWNER_NAMES, comma-separated

	ListenAddr string // LISTEN_ADDR
	LogLevel   slog.Level
}

// Load reads Config from the process environment, applying the same
// fallback defaults pattern the teacher's config.Load uses.
func Load() Config {
	return Config{
		ProxyAPIKey:    os.Getenv("PROXY_API_KEY"),
		BloxsAPIKey:    os.Getenv("BLOXS_API_KEY"),
		BloxsAPISecret: os.Getenv("BLOXS_API_SECRET"),
		BloxsBaseURL:   strings.TrimSuffix(os.Getenv("BLOXS_BASE_URL"), "/"),
		EnableLearning: isTruthy(os.Getenv("ENABLE_LEARNING")),

		LearningBackend:          strings.ToLower(envOr("LEARNING_KV_BACKEND", "")),
		LearningBoltPath:         envOr("LEARNING_BOLT_PATH", "/data/bloxs-learning.db"),
		LearningS3Bucket:         envOr("LEARNING_S3_BUCKET", "bloxs-odata-learning"),
		LearningS3Prefix:         os.Getenv("LEARNING_S3_PREFIX"),
		LearningS3ForcePathStyle: envOr("LEARNING_S3_FORCE_PATH_STYLE", "true") == "true",

		ForbiddenOwnerNames: splitCSV(os.Getenv("FORBIDDEN_OWNER_NAMES")),

		ListenAddr: envOr("LISTEN_ADDR", ":8080"),
		LogLevel:   parseLogLevel(envOr("LOG_LEVEL", "info")),
	}
}

// splitCSV splits a comma-separated environment value, trimming whitespace
// and dropping empty segments.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// isTruthy parses the "1", "true", "yes" (case-insensitive) truthy forms
// spec.md §4.6 defines for ENABLE_LEARNING.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
