package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/health-analytics-server/internal/domain"
)

// Aggregator combines per-domain predictions into the overall
// assessment using a weighted ensemble over the risk-bearing domains.
type Aggregator struct {
	weights domain.EnsembleWeights
}

// NewAggregator creates an aggregator with the configured ensemble
// weights. Zero weights fall back to the 0.4/0.3/0.3 defaults.
func NewAggregator(weights domain.EnsembleWeights) *Aggregator {
	if weights.HealthRisk == 0 && weights.Adherence == 0 && weights.TreatmentOutcome == 0 {
		weights = domain.EnsembleWeights{HealthRisk: 0.4, Adherence: 0.3, TreatmentOutcome: 0.3}
	}
	return &Aggregator{weights: weights}
}

// Aggregate builds the overall assessment. The ensemble weights are
// renormalized over the risk-bearing domains actually present, so a
// request without a treatment plan still produces a well-scaled score.
// Adherence and treatment-outcome scores measure success probability
// and enter the ensemble inverted.
func (a *Aggregator) Aggregate(preds map[domain.Domain]*domain.Prediction) *domain.OverallAssessment {
	type contribution struct {
		weight float64
		risk   float64
	}
	var contribs []contribution

	if p, ok := preds[domain.DomainHealthRisk]; ok {
		contribs = append(contribs, contribution{a.weights.HealthRisk, p.Score})
	}
	if p, ok := preds[domain.DomainAdherence]; ok {
		contribs = append(contribs, contribution{a.weights.Adherence, 1 - p.Score})
	}
	if p, ok := preds[domain.DomainTreatmentOutcome]; ok {
		contribs = append(contribs, contribution{a.weights.TreatmentOutcome, 1 - p.Score})
	}

	var overall float64
	if len(contribs) > 0 {
		var weightSum, riskSum float64
		for _, c := range contribs {
			weightSum += c.weight
			riskSum += c.weight * c.risk
		}
		if weightSum > 0 {
			overall = riskSum / weightSum
		}
	} else {
		// No risk-bearing domain present; average whatever is.
		var sum float64
		for _, p := range preds {
			sum += p.Score
		}
		if len(preds) > 0 {
			overall = sum / float64(len(preds))
		}
	}
	overall = clamp01(overall)

	level := domain.RiskLow
	switch {
	case overall > 0.6:
		level = domain.RiskHigh
	case overall > 0.3:
		level = domain.RiskMedium
	}

	return &domain.OverallAssessment{
		OverallRiskScore:   overall,
		RiskLevel:          level,
		KeyFindings:        keyFindings(preds),
		PrioritizedActions: prioritizedActions(preds),
		PerDomain:          preds,
		GeneratedAt:        time.Now().UTC(),
	}
}

// domainOrder keeps findings and actions in a stable, readable order
// regardless of map iteration.
var domainOrder = []domain.Domain{
	domain.DomainHealthRisk,
	domain.DomainVitalAnomaly,
	domain.DomainProgression,
	domain.DomainAdherence,
	domain.DomainTreatmentOutcome,
}

var domainLabel = map[domain.Domain]string{
	domain.DomainHealthRisk:       "Overall health risk",
	domain.DomainAdherence:        "Medication adherence",
	domain.DomainVitalAnomaly:     "Vital sign pattern",
	domain.DomainProgression:      "Condition trajectory",
	domain.DomainTreatmentOutcome: "Treatment outlook",
}

func keyFindings(preds map[domain.Domain]*domain.Prediction) []string {
	findings := make([]string, 0, len(preds))
	for _, d := range domainOrder {
		p, ok := preds[d]
		if !ok {
			continue
		}
		finding := fmt.Sprintf("%s: %s (score %.2f)", domainLabel[d], p.Level, p.Score)
		if p.Fallback {
			finding += " [heuristic]"
		}
		findings = append(findings, finding)
	}
	return findings
}

func prioritizedActions(preds map[domain.Domain]*domain.Prediction) []domain.ActionItem {
	var actions []domain.ActionItem

	for _, d := range domainOrder {
		p, ok := preds[d]
		if !ok {
			continue
		}
		priority := actionPriority(d, p)
		for _, rec := range p.Recommendations {
			actions = append(actions, domain.ActionItem{
				Action:    rec,
				Priority:  priority,
				Category:  string(d),
				Timeframe: timeframe(priority),
			})
		}
	}

	// Stable sort keeps the per-domain ordering for equal priorities.
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority.Rank() > actions[j].Priority.Rank()
	})
	return actions
}

func actionPriority(d domain.Domain, p *domain.Prediction) domain.ActionPriority {
	if d == domain.DomainVitalAnomaly && p.Level == domain.VitalCritical {
		return domain.PriorityUrgent
	}

	switch d {
	case domain.DomainVitalAnomaly:
		if p.Level == domain.VitalElevated {
			return domain.PriorityMedium
		}
	case domain.DomainProgression:
		if p.Level == domain.TrendDeclining {
			return domain.PriorityHigh
		}
		if p.Level == domain.TrendStable {
			return domain.PriorityMedium
		}
	case domain.DomainAdherence, domain.DomainTreatmentOutcome:
		// Success-probability domains: low scores need attention.
		if p.Level == "low" {
			return domain.PriorityHigh
		}
		if p.Level == "medium" {
			return domain.PriorityMedium
		}
	default:
		if p.Level == "high" {
			return domain.PriorityHigh
		}
		if p.Level == "medium" {
			return domain.PriorityMedium
		}
	}
	return domain.PriorityLow
}

func timeframe(p domain.ActionPriority) string {
	switch p {
	case domain.PriorityUrgent:
		return "immediately"
	case domain.PriorityHigh:
		return "within 1 week"
	case domain.PriorityMedium:
		return "within 1 month"
	default:
		return "routine"
	}
}
