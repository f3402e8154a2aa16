// Package config loads application configuration from files and the
// environment using Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/health-analytics-server/internal/domain"
)

// Manager loads and validates the application configuration.
type Manager struct {
	config *domain.Config
}

// NewManager creates a configuration manager and loads configuration
// from config files, environment variables, and defaults.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/health-analytics/")

	viper.SetEnvPrefix("HEALTH_ANALYTICS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// The config file is optional; defaults and env vars suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Backend defaults
	viper.SetDefault("backend.mode", "local")
	viper.SetDefault("backend.remote_fallback", true)

	// Remote inference defaults
	viper.SetDefault("remote.timeout_ms", 15000)
	viper.SetDefault("remote.rate_limit", 5.0)

	// Cache defaults
	viper.SetDefault("cache.ttl_seconds", 300)
	viper.SetDefault("cache.max_entries", 4096)
	viper.SetDefault("cache.redis_url", "")

	// Analysis defaults. The ensemble weights and the anomaly
	// threshold are tunable constants with no clinical derivation.
	viper.SetDefault("analysis.weights.health_risk", 0.4)
	viper.SetDefault("analysis.weights.adherence", 0.3)
	viper.SetDefault("analysis.weights.treatment_outcome", 0.3)
	viper.SetDefault("analysis.anomaly_threshold", 0.15)
	viper.SetDefault("analysis.top_concern_limit", 3)

	// Training defaults
	viper.SetDefault("training.epochs", 50)
	viper.SetDefault("training.batch_size", 16)
	viper.SetDefault("training.validation_split", 0.2)
	viper.SetDefault("training.learning_rate", 0.05)

	// Store defaults
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.path", "./data/assessments.db")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration from its sources.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate checks the configuration for inconsistencies.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Backend.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid backend mode: %s", config.Backend.Mode)
	}

	if config.Backend.Mode == "remote" && len(config.Remote.Credentials) == 0 {
		return fmt.Errorf("backend mode 'remote' requires at least one remote credential")
	}
	for i, cred := range config.Remote.Credentials {
		switch cred.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("remote credential %d: unknown provider %q", i, cred.Provider)
		}
		if cred.APIKey == "" {
			return fmt.Errorf("remote credential %d: api_key is required", i)
		}
	}

	if config.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %d", config.Cache.TTLSeconds)
	}

	if config.Analysis.AnomalyThreshold <= 0 || config.Analysis.AnomalyThreshold >= 1 {
		return fmt.Errorf("anomaly threshold must be in (0,1), got %f", config.Analysis.AnomalyThreshold)
	}

	w := config.Analysis.Weights
	if w.HealthRisk < 0 || w.Adherence < 0 || w.TreatmentOutcome < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if w.HealthRisk+w.Adherence+w.TreatmentOutcome == 0 {
		return fmt.Errorf("at least one ensemble weight must be positive")
	}

	switch config.Store.Driver {
	case "sqlite":
		if config.Store.Path == "" {
			return fmt.Errorf("sqlite store requires a path")
		}
	case "postgres":
		if config.Store.DSN == "" {
			return fmt.Errorf("postgres store requires a DSN")
		}
	case "":
	default:
		return fmt.Errorf("invalid store driver: %s", config.Store.Driver)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
