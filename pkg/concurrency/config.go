package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceExplicit   ConfigSource = "explicit"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxConcurrent = "TREEVIEW_MAX_CONCURRENT"
	EnvMultiplier    = "TREEVIEW_CONCURRENCY_MULTIPLIER"
)

// Config holds concurrency configuration parameters
type Config struct {
	MaxConcurrent int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: explicit > env vars > auto-detection.
// An explicit value of zero or less means "not set".
func LoadConfig(explicit int) *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	switch {
	case explicit > 0:
		config.MaxConcurrent = explicit
		config.Source = ConfigSourceExplicit
	case getEnvInt(EnvMaxConcurrent, 0) > 0:
		config.MaxConcurrent = getEnvInt(EnvMaxConcurrent, 0)
		config.Source = ConfigSourceEnvVar
	case getEnvInt(EnvMultiplier, 0) > 0:
		config.MaxConcurrent = config.EffectiveCPUs * getEnvInt(EnvMultiplier, 0)
		config.Source = ConfigSourceEnvVar
	default:
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return config
}

// NewLimiter creates a limiter sized by the configuration.
func (c *Config) NewLimiter() *Limiter {
	return NewLimiter(c.MaxConcurrent)
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns defaults based on environment. Node
// expansion mostly waits on file and blob reads, so more goroutines than
// CPUs pay off.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
