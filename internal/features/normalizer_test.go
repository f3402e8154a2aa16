package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-analytics-server/internal/domain"
)

func TestNormalizeBounds(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name     string
		features domain.PatientFeatureSet
	}{
		{
			name: "typical values",
			features: domain.PatientFeatureSet{
				domain.AttrAge:        54,
				domain.AttrBMI:        27.5,
				domain.AttrSystolicBP: 138,
				domain.AttrSmoker:     1,
			},
		},
		{
			name: "negative raw input clamps to zero",
			features: domain.PatientFeatureSet{
				domain.AttrAge:        -5,
				domain.AttrSleepHours: -3,
			},
		},
		{
			name: "absurdly large input clamps to one",
			features: domain.PatientFeatureSet{
				domain.AttrAge:     10000,
				domain.AttrGlucose: 99999,
			},
		},
		{
			name:     "empty feature set",
			features: domain.PatientFeatureSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, d := range domain.AllDomains {
				vec, err := n.Normalize(d, tt.features)
				require.NoError(t, err)
				require.Len(t, vec, n.Width(d))
				for i, v := range vec {
					assert.GreaterOrEqual(t, v, 0.0, "domain %s index %d", d, i)
					assert.LessOrEqual(t, v, 1.0, "domain %s index %d", d, i)
				}
			}
		})
	}
}

func TestNormalizeWidths(t *testing.T) {
	n := NewNormalizer()

	assert.Equal(t, 15, n.Width(domain.DomainHealthRisk))
	assert.Equal(t, 10, n.Width(domain.DomainAdherence))
	assert.Equal(t, 8, n.Width(domain.DomainVitalAnomaly))
	assert.Equal(t, 5*ProgressionSteps, n.Width(domain.DomainProgression))
	assert.Equal(t, 12, n.Width(domain.DomainTreatmentOutcome))
}

func TestNormalizeMissingAttributesDefaultToZero(t *testing.T) {
	n := NewNormalizer()

	vec, err := n.Normalize(domain.DomainHealthRisk, domain.PatientFeatureSet{
		domain.AttrAge: 50,
	})
	require.NoError(t, err)

	// Age is position 0 of the health-risk layout.
	assert.InDelta(t, 0.5, vec[0], 1e-9)
	for i := 1; i < len(vec); i++ {
		assert.Zero(t, vec[i])
	}
}

func TestNormalizeLinearScaling(t *testing.T) {
	n := NewNormalizer()

	vec, err := n.Normalize(domain.DomainVitalAnomaly, domain.PatientFeatureSet{
		domain.AttrSystolicBP:       100, // /200
		domain.AttrOxygenSaturation: 95,  // /100
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, vec[0], 1e-9)
	assert.InDelta(t, 0.95, vec[5], 1e-9)
}

func TestNormalizeSequenceTilesSnapshot(t *testing.T) {
	n := NewNormalizer()

	fs := domain.PatientFeatureSet{
		domain.AttrGlucose: 150, // /300 = 0.5
	}
	vec, err := n.Normalize(domain.DomainProgression, fs)
	require.NoError(t, err)

	// Glucose is the first feature of every step.
	for step := 0; step < ProgressionSteps; step++ {
		assert.InDelta(t, 0.5, vec[step*5], 1e-9, "step %d", step)
	}
}

func TestNormalizeSequencePerStepOverride(t *testing.T) {
	n := NewNormalizer()

	fs := domain.PatientFeatureSet{
		domain.AttrGlucose: 150,
		"glucose_3":        300,
	}
	vec, err := n.Normalize(domain.DomainProgression, fs)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, vec[0*5], 1e-9)
	assert.InDelta(t, 1.0, vec[3*5], 1e-9)
	assert.InDelta(t, 0.5, vec[4*5], 1e-9)
}

func TestNormalizeUnknownDomain(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize(domain.Domain("bogus"), domain.PatientFeatureSet{})
	assert.Error(t, err)
}
