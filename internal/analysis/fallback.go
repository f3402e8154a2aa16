// Package analysis combines the per-domain predictions into the
// overall patient assessment and supplies the deterministic rule
// engine used when no model backend can answer.
package analysis

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/domain"
)

// RuleEngine scores every domain with hand-written clinical heuristics.
// It is total: any feature set, including an empty one, yields a
// prediction. Missing fields simply contribute nothing.
type RuleEngine struct {
	logger *logrus.Logger
}

// NewRuleEngine creates the fallback rule engine.
func NewRuleEngine(logger *logrus.Logger) *RuleEngine {
	return &RuleEngine{logger: logger}
}

// fallbackConfidence is deliberately low; heuristic scores carry less
// signal than model output.
const fallbackConfidence = 0.4

// Predict scores one domain from the raw feature set.
func (e *RuleEngine) Predict(d domain.Domain, fs domain.PatientFeatureSet) *domain.Prediction {
	var pred *domain.Prediction
	switch d {
	case domain.DomainHealthRisk:
		pred = e.healthRisk(fs)
	case domain.DomainAdherence:
		pred = e.adherence(fs)
	case domain.DomainVitalAnomaly:
		pred = e.vitalAnomaly(fs)
	case domain.DomainProgression:
		pred = e.progression(fs)
	case domain.DomainTreatmentOutcome:
		pred = e.treatmentOutcome(fs)
	default:
		pred = &domain.Prediction{
			Domain: d,
			Level:  string(domain.RiskLow),
		}
	}

	pred.Confidence = fallbackConfidence
	pred.Provenance = domain.ProvenanceFallback
	pred.Fallback = true
	pred.GeneratedAt = time.Now().UTC()

	e.logger.WithFields(logrus.Fields{
		"domain": d,
		"score":  pred.Score,
		"level":  pred.Level,
	}).Debug("Rule engine prediction")

	return pred
}

func (e *RuleEngine) healthRisk(fs domain.PatientFeatureSet) *domain.Prediction {
	score := 0.0
	var factors []string

	if fs.Value(domain.AttrAge) > 65 {
		score += 0.2
		factors = append(factors, "advanced age")
	}
	if fs.Value(domain.AttrBMI) > 30 {
		score += 0.2
		factors = append(factors, "obesity")
	}
	if fs.Value(domain.AttrSmoker) >= 1 {
		score += 0.3
		factors = append(factors, "active smoker")
	}
	if conditions := fs.Value(domain.AttrChronicConditions); conditions > 2 {
		score += 0.15 * conditions
		factors = append(factors, "multiple chronic conditions")
	}
	score = clamp01(score)

	level := domain.RiskLow
	switch {
	case score > 0.6:
		level = domain.RiskHigh
	case score > 0.3:
		level = domain.RiskMedium
	}

	recs := []string{"Maintain regular preventive care"}
	if level == domain.RiskHigh {
		recs = []string{"Arrange a full clinical evaluation", "Address modifiable risk factors"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainHealthRisk,
		Score:           score,
		Level:           string(level),
		Factors:         factors,
		Recommendations: recs,
	}
}

func (e *RuleEngine) adherence(fs domain.PatientFeatureSet) *domain.Prediction {
	score := 0.8
	var factors []string

	if fs.Value(domain.AttrMedicationCount) > 5 {
		score -= 0.1
		factors = append(factors, "high medication count")
	}
	if fs.Value(domain.AttrDosesPerDay) > 3 {
		score -= 0.15
		factors = append(factors, "frequent daily dosing")
	}
	if fs.Value(domain.AttrSideEffectBurden) > 5 {
		score -= 0.1
		factors = append(factors, "side effect burden")
	}
	if fs.Value(domain.AttrCostBurden) > 5 {
		score -= 0.1
		factors = append(factors, "medication cost burden")
	}
	if fs.Has(domain.AttrHealthLiteracy) && fs.Value(domain.AttrHealthLiteracy) < 3 {
		score -= 0.1
		factors = append(factors, "low health literacy")
	}
	score = clamp01(score)

	level := "low"
	switch {
	case score > 0.75:
		level = "high"
	case score > 0.45:
		level = "medium"
	}

	recs := []string{"Continue current medication routine"}
	if level == "low" {
		recs = []string{"Simplify the regimen with the prescriber", "Add adherence reminders"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainAdherence,
		Score:           score,
		Level:           level,
		Factors:         factors,
		Recommendations: recs,
	}
}

// vitalBound flags a reading outside its acceptable range; the wider
// critical range flags readings needing prompt attention.
type vitalBound struct {
	attr        string
	low, high   float64
	critLow     float64
	critHigh    float64
	description string
}

var vitalBounds = []vitalBound{
	{domain.AttrHeartRate, 50, 110, 40, 130, "heart rate out of range"},
	{domain.AttrSystolicBP, 90, 160, 80, 180, "systolic blood pressure out of range"},
	{domain.AttrDiastolicBP, 55, 100, 45, 115, "diastolic blood pressure out of range"},
	{domain.AttrTemperature, 35.5, 38, 35, 39.5, "body temperature out of range"},
	{domain.AttrRespiratoryRate, 10, 24, 8, 30, "respiratory rate out of range"},
	{domain.AttrOxygenSaturation, 92, 101, 88, 101, "oxygen saturation low"},
}

func (e *RuleEngine) vitalAnomaly(fs domain.PatientFeatureSet) *domain.Prediction {
	var factors []string
	deviations := 0
	critical := false

	for _, b := range vitalBounds {
		if !fs.Has(b.attr) {
			continue
		}
		v := fs.Value(b.attr)
		if v < b.low || v > b.high {
			deviations++
			factors = append(factors, b.description)
			if v < b.critLow || v > b.critHigh {
				critical = true
			}
		}
	}

	score := clamp01(float64(deviations) / float64(len(vitalBounds)) * 2)

	level := domain.VitalNormal
	recs := []string{"Vital signs within acceptable ranges"}
	if critical {
		level = domain.VitalCritical
		recs = []string{"Seek prompt clinical review of abnormal vital signs"}
	} else if deviations > 0 {
		level = domain.VitalElevated
		recs = []string{"Re-measure and monitor the flagged vital signs"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainVitalAnomaly,
		Score:           score,
		Level:           level,
		Factors:         factors,
		Recommendations: recs,
	}
}

func (e *RuleEngine) progression(fs domain.PatientFeatureSet) *domain.Prediction {
	score := 0.3
	var factors []string

	if fs.Value(domain.AttrSymptomSeverity) > 6 {
		score += 0.15
		factors = append(factors, "worsening symptoms")
	}
	if fs.Value(domain.AttrChronicConditions) > 2 {
		score += 0.1
		factors = append(factors, "multiple chronic conditions")
	}
	if fs.Value(domain.AttrPriorHospitalizations) > 1 {
		score += 0.1
		factors = append(factors, "recent hospitalizations")
	}
	if change := fs.Value(domain.AttrWeightChange); change > 5 || change < -5 {
		score += 0.1
		factors = append(factors, "significant weight change")
	}
	if fs.Value(domain.AttrAge) > 70 {
		score += 0.05
	}
	score = clamp01(score)

	level := domain.TrendImproving
	switch {
	case score > 0.66:
		level = domain.TrendDeclining
	case score > 0.33:
		level = domain.TrendStable
	}

	recs := []string{"Continue current management plan"}
	if level == domain.TrendDeclining {
		recs = []string{"Escalate to the treating physician for plan review"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainProgression,
		Score:           score,
		Level:           level,
		Factors:         factors,
		Recommendations: recs,
	}
}

func (e *RuleEngine) treatmentOutcome(fs domain.PatientFeatureSet) *domain.Prediction {
	score := 0.7
	var factors []string

	if fs.Value(domain.AttrPriorTreatmentFailures) > 1 {
		score -= 0.15
		factors = append(factors, "prior treatment failures")
	}
	if fs.Value(domain.AttrTreatmentComplexity) > 6 {
		score -= 0.1
		factors = append(factors, "complex treatment plan")
	}
	if fs.Value(domain.AttrChronicConditions) > 2 {
		score -= 0.1
		factors = append(factors, "comorbidity burden")
	}
	if fs.Value(domain.AttrSupportAtHome) >= 1 {
		score += 0.05
	}
	score = clamp01(score)

	level := "low"
	switch {
	case score > 0.7:
		level = "high"
	case score > 0.4:
		level = "medium"
	}

	recs := []string{"Current treatment plan looks viable"}
	if level == "low" {
		recs = []string{"Consider adjusting the treatment plan with the care team"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainTreatmentOutcome,
		Score:           score,
		Level:           level,
		Factors:         factors,
		Recommendations: recs,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
