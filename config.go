package hypertracez

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable suffixes read by MetricsConfigFromEnv.
const (
	envMetricsPort            = "METRICS_PORT"
	envMetricsAllowedProps    = "METRICS_ALLOWED_PROPERTIES"
	envMetricsRuntimeDefaults = "METRICS_RUNTIME_DEFAULTS"
)

// MetricsConfigFromEnv reads a MetricsConfig from prefix_METRICS_PORT,
// prefix_METRICS_ALLOWED_PROPERTIES (comma separated) and
// prefix_METRICS_RUNTIME_DEFAULTS (bool, default true).
// Unset variables keep their defaults; malformed values are an error.
func MetricsConfigFromEnv(prefix string) (MetricsConfig, error) {
	var cfg MetricsConfig

	if v := getEnv(prefix, envMetricsPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return MetricsConfig{}, fmt.Errorf("%s: %w", envName(prefix, envMetricsPort), err)
		}
		cfg.Port = port
	}

	if v := getEnv(prefix, envMetricsAllowedProps); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.AllowedCustomProperties = append(cfg.AllowedCustomProperties, p)
			}
		}
	}

	if v := getEnv(prefix, envMetricsRuntimeDefaults); v != "" {
		collect, err := strconv.ParseBool(v)
		if err != nil {
			return MetricsConfig{}, fmt.Errorf("%s: %w", envName(prefix, envMetricsRuntimeDefaults), err)
		}
		cfg.DisableRuntimeDefaults = !collect
	}

	return cfg, nil
}

func envName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// getEnv returns the trimmed environment variable value, or "" when unset.
func getEnv(prefix, key string) string {
	return strings.TrimSpace(os.Getenv(envName(prefix, key)))
}
