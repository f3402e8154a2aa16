package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-analytics-server/internal/domain"
)

func validConfig() *domain.Config {
	return &domain.Config{
		Server:  domain.ServerConfig{Host: "0.0.0.0", Port: 8080},
		Backend: domain.BackendConfig{Mode: "local"},
		Cache:   domain.CacheConfig{TTLSeconds: 300},
		Analysis: domain.AnalysisConfig{
			Weights:          domain.EnsembleWeights{HealthRisk: 0.4, Adherence: 0.3, TreatmentOutcome: 0.3},
			AnomalyThreshold: 0.15,
			TopConcernLimit:  3,
		},
		Store:   domain.StoreConfig{Driver: "sqlite", Path: "./data/assessments.db"},
		Logging: domain.LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestManagerDefaults(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Backend.Mode)
	assert.Equal(t, 15000, cfg.Remote.TimeoutMS)
	assert.Equal(t, 300, cfg.Cache.TTLSeconds)
	assert.InDelta(t, 0.4, cfg.Analysis.Weights.HealthRisk, 1e-9)
	assert.InDelta(t, 0.15, cfg.Analysis.AnomalyThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Training.Epochs)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, m.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Server.Port = 0
	assert.Error(t, m.Validate())
}

func TestValidateRejectsUnknownBackendMode(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Backend.Mode = "hybrid"
	assert.Error(t, m.Validate())
}

func TestValidateRemoteModeNeedsCredentials(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Backend.Mode = "remote"
	assert.Error(t, m.Validate())

	m.config.Remote.Credentials = []domain.RemoteCredential{
		{Provider: "anthropic", APIKey: "key"},
	}
	assert.NoError(t, m.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Remote.Credentials = []domain.RemoteCredential{
		{Provider: "cohere", APIKey: "key"},
	}
	assert.Error(t, m.Validate())
}

func TestValidateRejectsBadAnomalyThreshold(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Analysis.AnomalyThreshold = 1.5
	assert.Error(t, m.Validate())
}

func TestValidateRejectsZeroWeights(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Analysis.Weights = domain.EnsembleWeights{}
	assert.Error(t, m.Validate())
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	m := &Manager{config: validConfig()}
	m.config.Store.Driver = "postgres"
	assert.Error(t, m.Validate())

	m.config.Store.DSN = "postgres://localhost/health"
	assert.NoError(t, m.Validate())
}

func TestRemoteTimeoutHelper(t *testing.T) {
	cfg := domain.RemoteConfig{TimeoutMS: 15000}
	assert.Equal(t, "15s", cfg.Timeout().String())
}
