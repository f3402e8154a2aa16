package domain

import (
	"time"
)

// Config is the main application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Training TrainingConfig `mapstructure:"training"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig selects the inference strategy.
type BackendConfig struct {
	// Mode is "local" or "remote". The other backend, when
	// configured, serves as the fallback tier before the rule engine.
	Mode string `mapstructure:"mode"`
	// RemoteFallback enables the remote backend as the second tier
	// when Mode is "local" and credentials are configured.
	RemoteFallback bool `mapstructure:"remote_fallback"`
}

// RemoteCredential is one entry of the ordered failover list.
type RemoteCredential struct {
	Provider string `mapstructure:"provider"` // "anthropic" or "openai"
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

// RemoteConfig holds remote inference settings.
type RemoteConfig struct {
	TimeoutMS   int                `mapstructure:"timeout_ms"`
	Credentials []RemoteCredential `mapstructure:"credentials"`
	// RateLimit is requests per second per provider.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// Timeout returns the remote timeout as a duration.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CacheConfig holds prediction cache settings.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
	// DomainTTLSeconds overrides the TTL per domain.
	DomainTTLSeconds map[string]int `mapstructure:"domain_ttl_seconds"`
	MaxEntries       int            `mapstructure:"max_entries"`
	// RedisURL enables the optional distributed tier when non-empty.
	RedisURL string `mapstructure:"redis_url"`
}

// TTL returns the effective TTL for a domain.
func (c CacheConfig) TTL(d Domain) time.Duration {
	if secs, ok := c.DomainTTLSeconds[string(d)]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// EnsembleWeights are the relative weights of the weighted combination.
// They are renormalized over the domains actually present.
type EnsembleWeights struct {
	HealthRisk       float64 `mapstructure:"health_risk"`
	Adherence        float64 `mapstructure:"adherence"`
	TreatmentOutcome float64 `mapstructure:"treatment_outcome"`
}

// AnalysisConfig holds ensemble and anomaly tuning. The defaults are
// configurable engineering constants, not validated clinical thresholds.
type AnalysisConfig struct {
	Weights          EnsembleWeights `mapstructure:"weights"`
	AnomalyThreshold float64         `mapstructure:"anomaly_threshold"`
	TopConcernLimit  int             `mapstructure:"top_concern_limit"`
}

// TrainingConfig holds offline training settings.
type TrainingConfig struct {
	Epochs          int     `mapstructure:"epochs"`
	BatchSize       int     `mapstructure:"batch_size"`
	ValidationSplit float64 `mapstructure:"validation_split"`
	LearningRate    float64 `mapstructure:"learning_rate"`
}

// StoreConfig selects and configures assessment persistence.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}
