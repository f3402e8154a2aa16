package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-analytics-server/internal/domain"
)

func defaultWeights() domain.EnsembleWeights {
	return domain.EnsembleWeights{HealthRisk: 0.4, Adherence: 0.3, TreatmentOutcome: 0.3}
}

func pred(d domain.Domain, score float64, level string, recs ...string) *domain.Prediction {
	return &domain.Prediction{
		Domain:          d,
		Score:           score,
		Level:           level,
		Confidence:      0.8,
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
	}
}

func TestAggregateWeightedEnsemble(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
		domain.DomainHealthRisk:       pred(domain.DomainHealthRisk, 0.8, "high"),
		domain.DomainAdherence:        pred(domain.DomainAdherence, 0.5, "medium"),
		domain.DomainTreatmentOutcome: pred(domain.DomainTreatmentOutcome, 0.6, "medium"),
	})

	// 0.4*0.8 + 0.3*(1-0.5) + 0.3*(1-0.6) = 0.59
	assert.InDelta(t, 0.59, a.OverallRiskScore, 1e-9)
	assert.Equal(t, domain.RiskMedium, a.RiskLevel)
}

func TestAggregateRenormalizesOverPresentDomains(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
		domain.DomainHealthRisk: pred(domain.DomainHealthRisk, 0.5, "medium"),
		domain.DomainAdherence:  pred(domain.DomainAdherence, 0.8, "high"),
	})

	// (0.4*0.5 + 0.3*0.2) / 0.7
	assert.InDelta(t, 0.26/0.7, a.OverallRiskScore, 1e-9)
}

func TestAggregateHighRiskThreshold(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
		domain.DomainHealthRisk: pred(domain.DomainHealthRisk, 0.9, "high"),
	})

	assert.InDelta(t, 0.9, a.OverallRiskScore, 1e-9)
	assert.Equal(t, domain.RiskHigh, a.RiskLevel)
}

func TestAggregateMonotonicInHealthRisk(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	prev := -1.0
	for _, score := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
			domain.DomainHealthRisk: pred(domain.DomainHealthRisk, score, "medium"),
			domain.DomainAdherence:  pred(domain.DomainAdherence, 0.6, "medium"),
		})
		assert.Greater(t, a.OverallRiskScore, prev)
		prev = a.OverallRiskScore
	}
}

func TestAggregateNoRiskBearingDomains(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
		domain.DomainVitalAnomaly: pred(domain.DomainVitalAnomaly, 0.4, domain.VitalElevated),
		domain.DomainProgression:  pred(domain.DomainProgression, 0.6, domain.TrendStable),
	})

	assert.InDelta(t, 0.5, a.OverallRiskScore, 1e-9)
}

func TestAggregateKeyFindingsPerDomain(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	preds := map[domain.Domain]*domain.Prediction{
		domain.DomainHealthRisk: pred(domain.DomainHealthRisk, 0.8, "high"),
		domain.DomainAdherence:  pred(domain.DomainAdherence, 0.5, "medium"),
	}
	preds[domain.DomainAdherence].Fallback = true

	a := agg.Aggregate(preds)
	require.Len(t, a.KeyFindings, 2)
	assert.Contains(t, a.KeyFindings[0], "Overall health risk")
	assert.Contains(t, a.KeyFindings[1], "[heuristic]")
}

func TestPrioritizedActionsSortedByPriority(t *testing.T) {
	agg := NewAggregator(defaultWeights())

	a := agg.Aggregate(map[domain.Domain]*domain.Prediction{
		domain.DomainHealthRisk:   pred(domain.DomainHealthRisk, 0.1, "low", "keep up preventive care"),
		domain.DomainVitalAnomaly: pred(domain.DomainVitalAnomaly, 0.9, domain.VitalCritical, "seek prompt review"),
		domain.DomainProgression:  pred(domain.DomainProgression, 0.5, domain.TrendStable, "continue management"),
	})

	require.Len(t, a.PrioritizedActions, 3)
	assert.Equal(t, domain.PriorityUrgent, a.PrioritizedActions[0].Priority)
	assert.Equal(t, domain.PriorityMedium, a.PrioritizedActions[1].Priority)
	assert.Equal(t, domain.PriorityLow, a.PrioritizedActions[2].Priority)
	assert.Equal(t, "immediately", a.PrioritizedActions[0].Timeframe)
}
