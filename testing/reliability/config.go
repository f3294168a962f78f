package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum goroutines for concurrent tests
	MaxMemoryMB   int           // Heap limit after churn
}

// getReliabilityConfig reads configuration from environment variables
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         getEnv("HYPERTRACEZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("HYPERTRACEZ_RELIABILITY_DURATION", "30s")),
		MaxGoroutines: parseInt(getEnv("HYPERTRACEZ_RELIABILITY_MAX_GOROUTINES", "100")),
		MaxMemoryMB:   parseInt(getEnv("HYPERTRACEZ_RELIABILITY_MAX_MEMORY_MB", "512")),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

// parseDuration falls back to 30s on malformed input.
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 30 * time.Second
}
