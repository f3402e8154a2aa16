package analysis

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/inference"
	"github.com/health-analytics-server/internal/predcache"
)

// Analyzer runs the full prediction pipeline: cache lookup, primary
// backend, optional secondary backend, and finally the rule engine.
// The pipeline is total: a prediction always comes back, at worst a
// heuristic one.
type Analyzer struct {
	logger    *logrus.Logger
	primary   inference.Backend
	secondary inference.Backend
	rules     *RuleEngine
	cache     *predcache.Cache
	agg       *Aggregator
}

// NewAnalyzer wires the pipeline. secondary may be nil.
func NewAnalyzer(
	logger *logrus.Logger,
	primary inference.Backend,
	secondary inference.Backend,
	rules *RuleEngine,
	cache *predcache.Cache,
	agg *Aggregator,
) *Analyzer {
	return &Analyzer{
		logger:    logger,
		primary:   primary,
		secondary: secondary,
		rules:     rules,
		cache:     cache,
		agg:       agg,
	}
}

// AnalyzeDomain produces one domain's prediction for a feature set.
func (a *Analyzer) AnalyzeDomain(ctx context.Context, d domain.Domain, fs domain.PatientFeatureSet) *domain.Prediction {
	return a.predictDomain(ctx, d, fs)
}

// ComprehensiveAnalysis evaluates every applicable domain concurrently
// and aggregates the results. A backend failure in one domain degrades
// only that domain; the others are unaffected.
func (a *Analyzer) ComprehensiveAnalysis(ctx context.Context, req *domain.AnalysisRequest) *domain.OverallAssessment {
	domains := req.Domains()
	fs := req.CombinedFeatures()

	results := make([]*domain.Prediction, len(domains))
	var wg sync.WaitGroup
	for i, d := range domains {
		wg.Add(1)
		go func(idx int, d domain.Domain) {
			defer wg.Done()
			results[idx] = a.predictDomain(ctx, d, fs)
		}(i, d)
	}
	wg.Wait()

	preds := make(map[domain.Domain]*domain.Prediction, len(domains))
	for i, d := range domains {
		preds[d] = results[i]
	}

	assessment := a.agg.Aggregate(preds)
	assessment.ID = req.PatientRef

	a.logger.WithFields(logrus.Fields{
		"domains":    len(domains),
		"risk_score": assessment.OverallRiskScore,
		"risk_level": assessment.RiskLevel,
	}).Info("Comprehensive analysis completed")

	return assessment
}

// FallbackAssessment builds an assessment entirely from the rule
// engine. It backs the failure envelope when the pipeline itself
// cannot run, so it touches no backend and no cache.
func (a *Analyzer) FallbackAssessment(req *domain.AnalysisRequest) *domain.OverallAssessment {
	fs := req.CombinedFeatures()
	preds := make(map[domain.Domain]*domain.Prediction)
	for _, d := range req.Domains() {
		preds[d] = a.rules.Predict(d, fs)
	}
	assessment := a.agg.Aggregate(preds)
	assessment.ID = req.PatientRef
	return assessment
}

func (a *Analyzer) predictDomain(ctx context.Context, d domain.Domain, fs domain.PatientFeatureSet) *domain.Prediction {
	key := predcache.Key(d, fs)
	if pred, ok := a.cache.Get(ctx, key); ok {
		return pred
	}

	pred, err := a.primary.Predict(ctx, d, fs)
	if err != nil && a.secondary != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"domain":  d,
			"backend": a.primary.Name(),
		}).Warn("Primary backend failed, trying secondary")
		pred, err = a.secondary.Predict(ctx, d, fs)
	}
	if err != nil {
		a.logger.WithError(err).WithField("domain", d).Warn("All backends failed, using rule engine")
		return a.rules.Predict(d, fs)
	}

	// Heuristic results are never cached; a later call should get
	// another chance at a model answer.
	a.cache.Put(ctx, d, key, pred)
	return pred
}
