package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/predcache"
)

// stubBackend counts calls and serves canned results per domain.
type stubBackend struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Predict(_ context.Context, d domain.Domain, _ domain.PatientFeatureSet) (*domain.Prediction, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return &domain.Prediction{
		Domain:      d,
		Score:       0.5,
		Level:       "medium",
		Confidence:  0.8,
		Provenance:  domain.Provenance(s.name),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestAnalyzer(t *testing.T, primary, secondary *stubBackend) *Analyzer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cache, err := predcache.New(logger, domain.CacheConfig{TTLSeconds: 300})
	require.NoError(t, err)

	agg := NewAggregator(domain.EnsembleWeights{HealthRisk: 0.4, Adherence: 0.3, TreatmentOutcome: 0.3})
	if secondary == nil {
		return NewAnalyzer(logger, primary, nil, NewRuleEngine(logger), cache, agg)
	}
	return NewAnalyzer(logger, primary, secondary, NewRuleEngine(logger), cache, agg)
}

func baseRequest() *domain.AnalysisRequest {
	return &domain.AnalysisRequest{
		PatientRef: "patient-1",
		Features: domain.PatientFeatureSet{
			domain.AttrAge: 58,
			domain.AttrBMI: 29,
		},
	}
}

func TestComprehensiveAnalysisBaseDomains(t *testing.T) {
	primary := &stubBackend{name: "local"}
	analyzer := newTestAnalyzer(t, primary, nil)

	a := analyzer.ComprehensiveAnalysis(context.Background(), baseRequest())
	require.NotNil(t, a)

	assert.Len(t, a.PerDomain, 3)
	assert.Contains(t, a.PerDomain, domain.DomainHealthRisk)
	assert.Contains(t, a.PerDomain, domain.DomainAdherence)
	assert.Contains(t, a.PerDomain, domain.DomainProgression)
	assert.NotContains(t, a.PerDomain, domain.DomainVitalAnomaly)
	assert.NotContains(t, a.PerDomain, domain.DomainTreatmentOutcome)
	assert.Equal(t, "patient-1", a.ID)
}

func TestComprehensiveAnalysisOptionalSections(t *testing.T) {
	primary := &stubBackend{name: "local"}
	analyzer := newTestAnalyzer(t, primary, nil)

	req := baseRequest()
	req.Vitals = domain.PatientFeatureSet{domain.AttrHeartRate: 88}
	req.Treatment = domain.PatientFeatureSet{domain.AttrTreatmentComplexity: 4}

	a := analyzer.ComprehensiveAnalysis(context.Background(), req)
	assert.Len(t, a.PerDomain, 5)
	assert.Contains(t, a.PerDomain, domain.DomainVitalAnomaly)
	assert.Contains(t, a.PerDomain, domain.DomainTreatmentOutcome)
}

func TestAnalyzerFallsBackToSecondary(t *testing.T) {
	primary := &stubBackend{name: "local", err: errors.New("model offline")}
	secondary := &stubBackend{name: "remote"}
	analyzer := newTestAnalyzer(t, primary, secondary)

	p := analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, domain.PatientFeatureSet{domain.AttrAge: 50})
	require.NotNil(t, p)
	assert.Equal(t, domain.Provenance("remote"), p.Provenance)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestAnalyzerFallsBackToRules(t *testing.T) {
	primary := &stubBackend{name: "local", err: errors.New("model offline")}
	analyzer := newTestAnalyzer(t, primary, nil)

	p := analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, domain.PatientFeatureSet{
		domain.AttrAge:    70,
		domain.AttrSmoker: 1,
	})
	require.NotNil(t, p)
	assert.True(t, p.Fallback)
	assert.Equal(t, domain.ProvenanceFallback, p.Provenance)
}

func TestAnalyzerCachesModelResults(t *testing.T) {
	primary := &stubBackend{name: "local"}
	analyzer := newTestAnalyzer(t, primary, nil)

	fs := domain.PatientFeatureSet{domain.AttrAge: 50}
	first := analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, fs)
	second := analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, fs)

	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, first.Score, second.Score)
}

func TestAnalyzerNeverCachesHeuristicResults(t *testing.T) {
	primary := &stubBackend{name: "local", err: errors.New("model offline")}
	analyzer := newTestAnalyzer(t, primary, nil)

	fs := domain.PatientFeatureSet{domain.AttrAge: 50}
	analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, fs)
	analyzer.AnalyzeDomain(context.Background(), domain.DomainHealthRisk, fs)

	// Both calls reach the backend; nothing heuristic was cached.
	assert.Equal(t, 2, primary.callCount())
}

func TestFallbackAssessmentTouchesNoBackend(t *testing.T) {
	primary := &stubBackend{name: "local"}
	analyzer := newTestAnalyzer(t, primary, nil)

	req := baseRequest()
	req.Vitals = domain.PatientFeatureSet{domain.AttrHeartRate: 145}

	a := analyzer.FallbackAssessment(req)
	require.NotNil(t, a)
	assert.Equal(t, 0, primary.callCount())
	for _, p := range a.PerDomain {
		assert.True(t, p.Fallback)
	}
}
