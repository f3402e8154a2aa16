package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-analytics-server/internal/analysis"
	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/features"
	"github.com/health-analytics-server/internal/inference"
	"github.com/health-analytics-server/internal/predcache"
	"github.com/health-analytics-server/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &domain.Config{
		Server:   domain.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Cache:    domain.CacheConfig{TTLSeconds: 300},
		Analysis: domain.AnalysisConfig{AnomalyThreshold: 0.15, TopConcernLimit: 3},
		Training: domain.TrainingConfig{Epochs: 5, ValidationSplit: 0.2, LearningRate: 0.05},
		Logging:  domain.LoggingConfig{Level: "error", Format: "json"},
	}

	local := inference.NewLocalBackend(logger, features.NewNormalizer(), cfg.Analysis)

	cache, err := predcache.New(logger, cfg.Cache)
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "assessments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	analyzer := analysis.NewAnalyzer(
		logger, local, nil, analysis.NewRuleEngine(logger), cache,
		analysis.NewAggregator(domain.EnsembleWeights{HealthRisk: 0.4, Adherence: 0.3, TreatmentOutcome: 0.3}),
	)

	return NewServer(cfg, logger, analyzer, cache, st, local)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestComprehensiveAnalysisEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s, "/api/v1/analysis/comprehensive", domain.AnalysisRequest{
		PatientRef: "patient-1",
		Features: domain.PatientFeatureSet{
			domain.AttrAge:        58,
			domain.AttrBMI:        29,
			domain.AttrSystolicBP: 142,
		},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.AnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Assessment)
	assert.NotEmpty(t, resp.Assessment.ID)
	assert.Len(t, resp.Assessment.PerDomain, 3)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestComprehensiveAnalysisPersistsAssessment(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s, "/api/v1/analysis/comprehensive", domain.AnalysisRequest{
		Features: domain.PatientFeatureSet{domain.AttrAge: 40},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.AnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/"+resp.Assessment.ID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFailureEnvelopeCarriesFallback(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s, "/api/v1/analysis/comprehensive", domain.AnalysisRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp domain.AnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	require.NotNil(t, resp.FallbackAnalysis)
	assert.NotEmpty(t, resp.FallbackAnalysis.PerDomain)
	for _, p := range resp.FallbackAnalysis.PerDomain {
		assert.True(t, p.Fallback)
	}
}

func TestDomainAnalysisEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s, "/api/v1/analysis/domain/healthRisk", jsonBody{
		"features": domain.PatientFeatureSet{domain.AttrAge: 70, domain.AttrSmoker: 1},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success    bool               `json:"success"`
		Prediction *domain.Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, domain.DomainHealthRisk, resp.Prediction.Domain)
}

func TestDomainAnalysisUnknownDomain(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s, "/api/v1/analysis/domain/nonsense", jsonBody{
		"features": domain.PatientFeatureSet{domain.AttrAge: 70},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMissingAssessmentReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/nope", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpointReportsCacheStats(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Contains(t, resp, "cache")
}

func TestTrainEndpoint(t *testing.T) {
	s := newTestServer(t)

	sample := make([]float64, 10)
	for i := range sample {
		sample[i] = 0.4
	}
	w := postJSON(t, s, "/api/v1/train/medicationAdherence", trainRequest{
		Samples: [][]float64{sample, sample, sample},
		Labels:  [][]float64{{0.9}, {0.9}, {0.9}},
		Seed:    7,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                   `json:"success"`
		Report  *inference.TrainReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Report)
	assert.Len(t, resp.Report.Epochs, 5)
}

type jsonBody = map[string]any
