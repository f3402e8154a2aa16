// Package features maps raw patient attributes into bounded numeric
// feature vectors, one layout per prediction domain.
package features

import (
	"fmt"

	"github.com/health-analytics-server/internal/domain"
)

// ProgressionSteps is the fixed history window of the sequence model.
const ProgressionSteps = 30

// featureSpec binds an attribute name to the largest value it is
// normalized against. Raw values are divided by Max and clamped to
// [0,1]; patient-entered data is untrusted, so out-of-range input
// clamps instead of failing.
type featureSpec struct {
	Attr string
	Max  float64
}

var healthRiskSpec = []featureSpec{
	{domain.AttrAge, 100},
	{domain.AttrBMI, 50},
	{domain.AttrSystolicBP, 200},
	{domain.AttrDiastolicBP, 120},
	{domain.AttrHeartRate, 200},
	{domain.AttrCholesterol, 300},
	{domain.AttrGlucose, 300},
	{domain.AttrSmoker, 1},
	{domain.AttrFamilyHistory, 1},
	{domain.AttrExerciseHours, 20},
	{domain.AttrStressLevel, 10},
	{domain.AttrSleepHours, 12},
	{domain.AttrMedicationCount, 20},
	{domain.AttrChronicConditions, 10},
	{domain.AttrPriorHospitalizations, 10},
}

var adherenceSpec = []featureSpec{
	{domain.AttrAge, 100},
	{domain.AttrMedicationCount, 20},
	{domain.AttrMedicationComplexity, 10},
	{domain.AttrDosesPerDay, 10},
	{domain.AttrSideEffectBurden, 10},
	{domain.AttrCostBurden, 10},
	{domain.AttrSupportAtHome, 1},
	{domain.AttrHealthLiteracy, 10},
	{domain.AttrStressLevel, 10},
	{domain.AttrPriorHospitalizations, 10},
}

var vitalAnomalySpec = []featureSpec{
	{domain.AttrSystolicBP, 200},
	{domain.AttrDiastolicBP, 120},
	{domain.AttrHeartRate, 200},
	{domain.AttrTemperature, 45},
	{domain.AttrRespiratoryRate, 40},
	{domain.AttrOxygenSaturation, 100},
	{domain.AttrGlucose, 300},
	{domain.AttrWeightChange, 20},
}

// progressionSpec lists the per-step features of the sequence model.
// The normalized vector is the flattened window: step 0 first.
var progressionSpec = []featureSpec{
	{domain.AttrGlucose, 300},
	{domain.AttrSystolicBP, 200},
	{domain.AttrHeartRate, 200},
	{domain.AttrBMI, 50},
	{domain.AttrSymptomSeverity, 10},
}

var treatmentOutcomeSpec = []featureSpec{
	{domain.AttrAge, 100},
	{domain.AttrBMI, 50},
	{domain.AttrSmoker, 1},
	{domain.AttrChronicConditions, 10},
	{domain.AttrMedicationCount, 20},
	{domain.AttrTreatmentComplexity, 10},
	{domain.AttrTreatmentDurationWeeks, 52},
	{domain.AttrPriorTreatmentFailures, 5},
	{domain.AttrExerciseHours, 20},
	{domain.AttrStressLevel, 10},
	{domain.AttrSleepHours, 12},
	{domain.AttrSupportAtHome, 1},
}

var domainSpecs = map[domain.Domain][]featureSpec{
	domain.DomainHealthRisk:       healthRiskSpec,
	domain.DomainAdherence:        adherenceSpec,
	domain.DomainVitalAnomaly:     vitalAnomalySpec,
	domain.DomainProgression:      progressionSpec,
	domain.DomainTreatmentOutcome: treatmentOutcomeSpec,
}

// Normalizer converts patient feature sets into the fixed-width
// normalized vectors each domain model expects. It is a pure function
// holder and safe for concurrent use.
type Normalizer struct{}

// NewNormalizer creates a feature normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Width returns the normalized vector width for a domain.
func (n *Normalizer) Width(d domain.Domain) int {
	spec, ok := domainSpecs[d]
	if !ok {
		return 0
	}
	if d == domain.DomainProgression {
		return len(spec) * ProgressionSteps
	}
	return len(spec)
}

// FieldNames returns the ordered attribute names behind each position
// of the normalized vector (per step for the progression domain).
func (n *Normalizer) FieldNames(d domain.Domain) []string {
	spec := domainSpecs[d]
	names := make([]string, len(spec))
	for i, fs := range spec {
		names[i] = fs.Attr
	}
	return names
}

// Normalize maps a patient feature set into the domain's vector. Every
// output value is in [0,1]; missing attributes contribute zero.
func (n *Normalizer) Normalize(d domain.Domain, fs domain.PatientFeatureSet) ([]float64, error) {
	spec, ok := domainSpecs[d]
	if !ok {
		return nil, fmt.Errorf("unknown domain: %s", d)
	}

	if d == domain.DomainProgression {
		return n.normalizeSequence(spec, fs), nil
	}

	vec := make([]float64, len(spec))
	for i, f := range spec {
		vec[i] = clamp01(fs.Value(f.Attr) / f.Max)
	}
	return vec, nil
}

// normalizeSequence builds the flattened 30-step window. A per-step
// history value may be supplied as "<attr>_<step>"; otherwise the
// current snapshot value is carried across the whole window.
func (n *Normalizer) normalizeSequence(spec []featureSpec, fs domain.PatientFeatureSet) []float64 {
	vec := make([]float64, 0, len(spec)*ProgressionSteps)
	for step := 0; step < ProgressionSteps; step++ {
		for _, f := range spec {
			raw := fs.Value(f.Attr)
			if v, ok := fs[fmt.Sprintf("%s_%d", f.Attr, step)]; ok {
				raw = v
			}
			vec = append(vec, clamp01(raw/f.Max))
		}
	}
	return vec
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
