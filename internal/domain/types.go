// Package domain contains the core entities of the predictive
// health-analytics pipeline: patient feature sets, per-domain
// predictions, and the combined overall assessment.
package domain

import (
	"time"
)

// Domain identifies one of the five prediction categories. The values
// double as the JSON keys of the perDomain section of an assessment.
type Domain string

const (
	DomainHealthRisk       Domain = "healthRisk"
	DomainAdherence        Domain = "medicationAdherence"
	DomainVitalAnomaly     Domain = "vitalAnomalies"
	DomainProgression      Domain = "diseaseProgression"
	DomainTreatmentOutcome Domain = "treatmentOutcome"
)

// AllDomains lists every prediction domain in a stable order.
var AllDomains = []Domain{
	DomainHealthRisk,
	DomainAdherence,
	DomainVitalAnomaly,
	DomainProgression,
	DomainTreatmentOutcome,
}

// IsValid reports whether the domain is one of the five known categories.
func (d Domain) IsValid() bool {
	switch d {
	case DomainHealthRisk, DomainAdherence, DomainVitalAnomaly,
		DomainProgression, DomainTreatmentOutcome:
		return true
	default:
		return false
	}
}

// String returns the string representation of the domain.
func (d Domain) String() string {
	return string(d)
}

// Provenance tags where a prediction came from.
type Provenance string

const (
	ProvenanceLocal    Provenance = "local"
	ProvenanceRemote   Provenance = "remote"
	ProvenanceFallback Provenance = "fallback"
)

// RiskLevel is the categorical level attached to risk-oriented
// predictions and to the overall assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Vital-anomaly levels. Critical findings escalate the action list.
const (
	VitalNormal   = "normal"
	VitalElevated = "elevated"
	VitalCritical = "critical"
)

// Disease-progression trend levels.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// ActionPriority orders items in the prioritized action list.
type ActionPriority string

const (
	PriorityUrgent ActionPriority = "urgent"
	PriorityHigh   ActionPriority = "high"
	PriorityMedium ActionPriority = "medium"
	PriorityLow    ActionPriority = "low"
)

// Rank returns the numeric ordering of a priority (urgent=4 .. low=1).
// Unknown priorities rank lowest.
func (p ActionPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// PatientFeatureSet maps named clinical attributes to numeric values.
// Boolean attributes are carried as 0/1. The set is owned by the caller
// and treated as immutable for the duration of an inference call.
type PatientFeatureSet map[string]float64

// Well-known attribute names. Callers may supply any subset; missing
// attributes normalize to zero.
const (
	AttrAge                   = "age"
	AttrBMI                   = "bmi"
	AttrSystolicBP            = "systolicBP"
	AttrDiastolicBP           = "diastolicBP"
	AttrHeartRate             = "heartRate"
	AttrCholesterol           = "cholesterol"
	AttrGlucose               = "glucose"
	AttrTemperature           = "temperature"
	AttrRespiratoryRate       = "respiratoryRate"
	AttrOxygenSaturation      = "oxygenSaturation"
	AttrWeightChange          = "weightChange"
	AttrSmoker                = "smoker"
	AttrFamilyHistory         = "familyHistory"
	AttrExerciseHours         = "exerciseHours"
	AttrStressLevel           = "stressLevel"
	AttrSleepHours            = "sleepHours"
	AttrMedicationCount       = "medicationCount"
	AttrChronicConditions     = "chronicConditions"
	AttrPriorHospitalizations = "priorHospitalizations"
	AttrSymptomSeverity       = "symptomSeverity"

	// Adherence-specific extensions.
	AttrMedicationComplexity = "medicationComplexity"
	AttrDosesPerDay          = "dosesPerDay"
	AttrSideEffectBurden     = "sideEffectBurden"
	AttrCostBurden           = "costBurden"
	AttrSupportAtHome        = "supportAtHome"
	AttrHealthLiteracy       = "healthLiteracy"

	// Treatment-outcome extensions.
	AttrTreatmentComplexity    = "treatmentComplexity"
	AttrTreatmentDurationWeeks = "treatmentDurationWeeks"
	AttrPriorTreatmentFailures = "priorTreatmentFailures"
)

// Value returns the attribute value, or zero when absent.
func (fs PatientFeatureSet) Value(name string) float64 {
	return fs[name]
}

// Has reports whether the attribute was supplied by the caller.
func (fs PatientFeatureSet) Has(name string) bool {
	_, ok := fs[name]
	return ok
}

// Merged returns a new feature set containing fs overlaid with extra.
// Neither input is modified.
func (fs PatientFeatureSet) Merged(extra PatientFeatureSet) PatientFeatureSet {
	out := make(PatientFeatureSet, len(fs)+len(extra))
	for k, v := range fs {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Prediction is the per-domain inference result. It is created by a
// backend or the fallback rule engine and never mutated afterwards.
type Prediction struct {
	Domain          Domain     `json:"domain"`
	Score           float64    `json:"score"`
	Level           string     `json:"level"`
	Confidence      float64    `json:"confidence"`
	Factors         []string   `json:"factors,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	Provenance      Provenance `json:"provenance"`
	Fallback        bool       `json:"fallback"`
	GeneratedAt     time.Time  `json:"generatedAt"`
}

// ActionItem is one entry of the prioritized action list.
type ActionItem struct {
	Action    string         `json:"action"`
	Priority  ActionPriority `json:"priority"`
	Category  string         `json:"category"`
	Timeframe string         `json:"timeframe"`
}

// OverallAssessment combines the per-domain predictions into one
// weighted risk picture with a prioritized action list.
type OverallAssessment struct {
	ID                 string                 `json:"id,omitempty"`
	OverallRiskScore   float64                `json:"overallRiskScore"`
	RiskLevel          RiskLevel              `json:"riskLevel"`
	KeyFindings        []string               `json:"keyFindings"`
	PrioritizedActions []ActionItem           `json:"prioritizedActions"`
	PerDomain          map[Domain]*Prediction `json:"perDomain"`
	GeneratedAt        time.Time              `json:"generatedAt"`
}

// AnalysisRequest is the input of a comprehensive analysis. Vitals and
// Treatment are optional: their presence controls whether the
// vital-anomaly and treatment-outcome domains are evaluated at all.
type AnalysisRequest struct {
	PatientRef string            `json:"patientRef,omitempty"`
	Features   PatientFeatureSet `json:"features"`
	Vitals     PatientFeatureSet `json:"vitals,omitempty"`
	Treatment  PatientFeatureSet `json:"treatment,omitempty"`
}

// Domains returns the domains to evaluate for this request, honoring
// the optional vitals and treatment sections.
func (r *AnalysisRequest) Domains() []Domain {
	domains := []Domain{DomainHealthRisk, DomainAdherence, DomainProgression}
	if len(r.Vitals) > 0 {
		domains = append(domains, DomainVitalAnomaly)
	}
	if len(r.Treatment) > 0 {
		domains = append(domains, DomainTreatmentOutcome)
	}
	return domains
}

// CombinedFeatures overlays the optional vitals and treatment sections
// onto the base feature set for backends that take one flat set.
func (r *AnalysisRequest) CombinedFeatures() PatientFeatureSet {
	fs := r.Features
	if fs == nil {
		fs = PatientFeatureSet{}
	}
	if len(r.Vitals) > 0 {
		fs = fs.Merged(r.Vitals)
	}
	if len(r.Treatment) > 0 {
		fs = fs.Merged(r.Treatment)
	}
	return fs
}

// AnalysisResponse is the API-facing envelope. The core never returns a
// bare error: on failure Success is false and FallbackAnalysis carries
// a rule-derived assessment the caller can still use.
type AnalysisResponse struct {
	Success          bool               `json:"success"`
	Error            string             `json:"error,omitempty"`
	Assessment       *OverallAssessment `json:"assessment,omitempty"`
	FallbackAnalysis *OverallAssessment `json:"fallbackAnalysis,omitempty"`
}
