package inference

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/features"
)

// Deterministic seeds give every freshly constructed model fixed
// parameters, so serving predictions are reproducible until an
// explicit training run changes the weights.
var modelSeeds = map[domain.Domain]int64{
	domain.DomainHealthRisk:       11,
	domain.DomainAdherence:        23,
	domain.DomainVitalAnomaly:     37,
	domain.DomainProgression:      41,
	domain.DomainTreatmentOutcome: 53,
}

// localModel pairs a model handle with the lock that keeps offline
// training exclusive of serving.
type localModel struct {
	mu  sync.RWMutex
	ff  *feedForward
	rnn *recurrentNet
}

// LocalBackend serves predictions from in-process numeric models, one
// architecture per domain: a softmax classifier for health risk, a
// sigmoid regressor for adherence and treatment outcome, an
// autoencoder for vital anomalies, and a sequence model for disease
// progression.
type LocalBackend struct {
	logger           *logrus.Logger
	normalizer       *features.Normalizer
	buffers          *BufferPool
	models           map[domain.Domain]*localModel
	anomalyThreshold float64
	topConcernLimit  int
}

// NewLocalBackend constructs the per-domain models. A domain whose
// model fails to initialize is logged once and served by the caller's
// fallback path from then on.
func NewLocalBackend(logger *logrus.Logger, normalizer *features.Normalizer, cfg domain.AnalysisConfig) *LocalBackend {
	b := &LocalBackend{
		logger:           logger,
		normalizer:       normalizer,
		buffers:          NewBufferPool(),
		models:           make(map[domain.Domain]*localModel),
		anomalyThreshold: cfg.AnomalyThreshold,
		topConcernLimit:  cfg.TopConcernLimit,
	}
	if b.anomalyThreshold <= 0 {
		b.anomalyThreshold = 0.15
	}
	if b.topConcernLimit <= 0 {
		b.topConcernLimit = 3
	}

	for _, d := range domain.AllDomains {
		model, err := b.buildModel(d)
		if err != nil {
			logger.WithError(err).WithField("domain", d).Error("Failed to initialize local model")
			continue
		}
		b.models[d] = model
	}

	logger.WithField("model_count", len(b.models)).Info("Initialized local inference backend")
	return b
}

func (b *LocalBackend) buildModel(d domain.Domain) (*localModel, error) {
	width := b.normalizer.Width(d)
	if width == 0 {
		return nil, fmt.Errorf("no feature layout for domain %s", d)
	}
	seed := modelSeeds[d]

	switch d {
	case domain.DomainHealthRisk:
		return &localModel{ff: newFeedForward(seed, []int{width, 16, 3}, actSigmoid, actSoftmax)}, nil
	case domain.DomainAdherence:
		return &localModel{ff: newFeedForward(seed, []int{width, 12, 1}, actSigmoid, actSigmoid)}, nil
	case domain.DomainVitalAnomaly:
		return &localModel{ff: newFeedForward(seed, []int{width, 4, width}, actSigmoid, actSigmoid)}, nil
	case domain.DomainProgression:
		perStep := width / features.ProgressionSteps
		return &localModel{rnn: newRecurrentNet(seed, perStep, 8, features.ProgressionSteps)}, nil
	case domain.DomainTreatmentOutcome:
		return &localModel{ff: newFeedForward(seed, []int{width, 12, 1}, actSigmoid, actSigmoid)}, nil
	default:
		return nil, fmt.Errorf("unknown domain %s", d)
	}
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return "local" }

// Predict normalizes the feature set and runs the domain's model. The
// numeric buffers of the prediction are pool-scoped: acquisition and
// release are paired on every exit path.
func (b *LocalBackend) Predict(ctx context.Context, d domain.Domain, fs domain.PatientFeatureSet) (*domain.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, ok := b.models[d]
	if !ok {
		return nil, fmt.Errorf("domain %s: %w", d, domain.ErrModelUnavailable)
	}

	vec, err := b.normalizer.Normalize(d, fs)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", d, err)
	}

	model.mu.RLock()
	defer model.mu.RUnlock()

	var pred *domain.Prediction
	err = b.buffers.WithScope(func(s *Scope) error {
		switch d {
		case domain.DomainHealthRisk:
			pred = b.interpretHealthRisk(model.ff.forward(s, vec), vec)
		case domain.DomainAdherence:
			pred = b.interpretAdherence(model.ff.forward(s, vec)[0], vec)
		case domain.DomainVitalAnomaly:
			pred = b.interpretVitalAnomaly(model.ff.forward(s, vec), vec)
		case domain.DomainProgression:
			pred = b.interpretProgression(model.rnn.forward(s, vec))
		case domain.DomainTreatmentOutcome:
			pred = b.interpretTreatmentOutcome(model.ff.forward(s, vec)[0], vec)
		default:
			return fmt.Errorf("domain %s: %w", d, domain.ErrModelUnavailable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"domain": d,
		"score":  pred.Score,
		"level":  pred.Level,
	}).Debug("Local prediction completed")

	return pred, nil
}

func (b *LocalBackend) interpretHealthRisk(probs, vec []float64) *domain.Prediction {
	// probs is scope-owned; read everything out before returning.
	pLow, pMed, pHigh := probs[0], probs[1], probs[2]
	score := 0.15*pLow + 0.5*pMed + 0.9*pHigh

	level := domain.RiskLow
	confidence := pLow
	if pMed > confidence {
		level, confidence = domain.RiskMedium, pMed
	}
	if pHigh > confidence {
		level, confidence = domain.RiskHigh, pHigh
	}

	factors := b.elevatedFactors(domain.DomainHealthRisk, vec)
	recs := []string{"Maintain regular checkups and preventive screening"}
	if level == domain.RiskHigh {
		recs = []string{
			"Schedule a comprehensive clinical evaluation",
			"Review modifiable risk factors with a physician",
		}
	} else if level == domain.RiskMedium {
		recs = []string{"Address elevated risk factors through lifestyle changes"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainHealthRisk,
		Score:           score,
		Level:           string(level),
		Confidence:      confidence,
		Factors:         factors,
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (b *LocalBackend) interpretAdherence(p float64, vec []float64) *domain.Prediction {
	level := "low"
	switch {
	case p > 0.75:
		level = "high"
	case p > 0.45:
		level = "medium"
	}

	recs := []string{"Continue current medication routine"}
	if p <= 0.45 {
		recs = []string{
			"Simplify the medication schedule where possible",
			"Set up reminders or a pill organizer",
		}
	} else if p <= 0.75 {
		recs = []string{"Discuss adherence barriers at the next visit"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainAdherence,
		Score:           p,
		Level:           level,
		Confidence:      0.5 + math.Abs(p-0.5),
		Factors:         b.elevatedFactors(domain.DomainAdherence, vec),
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (b *LocalBackend) interpretVitalAnomaly(reconstruction, vec []float64) *domain.Prediction {
	names := b.normalizer.FieldNames(domain.DomainVitalAnomaly)

	type fieldError struct {
		name string
		err  float64
	}
	perField := make([]fieldError, len(vec))
	var mae float64
	for i := range vec {
		e := math.Abs(vec[i] - reconstruction[i])
		perField[i] = fieldError{name: names[i], err: e}
		mae += e
	}
	mae /= float64(len(vec))

	level := domain.VitalNormal
	if mae > 2*b.anomalyThreshold {
		level = domain.VitalCritical
	} else if mae > b.anomalyThreshold {
		level = domain.VitalElevated
	}

	var factors []string
	if level != domain.VitalNormal {
		sort.SliceStable(perField, func(i, j int) bool {
			return perField[i].err > perField[j].err
		})
		limit := b.topConcernLimit
		if limit > len(perField) {
			limit = len(perField)
		}
		for _, f := range perField[:limit] {
			factors = append(factors, fmt.Sprintf("%s deviates from expected pattern", f.name))
		}
	}

	recs := []string{"Vital signs within expected pattern"}
	if level == domain.VitalCritical {
		recs = []string{"Seek prompt clinical review of abnormal vital signs"}
	} else if level == domain.VitalElevated {
		recs = []string{"Re-measure and monitor the flagged vital signs"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainVitalAnomaly,
		Score:           math.Min(mae/(2*b.anomalyThreshold), 1.0),
		Level:           level,
		Confidence:      clampRange(1-mae, 0.5, 0.95),
		Factors:         factors,
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (b *LocalBackend) interpretProgression(p float64) *domain.Prediction {
	level := domain.TrendImproving
	switch {
	case p > 0.66:
		level = domain.TrendDeclining
	case p > 0.33:
		level = domain.TrendStable
	}

	recs := []string{"Continue current management plan"}
	if level == domain.TrendDeclining {
		recs = []string{"Escalate to the treating physician for plan review"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainProgression,
		Score:           p,
		Level:           level,
		Confidence:      0.5 + math.Abs(p-0.5),
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (b *LocalBackend) interpretTreatmentOutcome(p float64, vec []float64) *domain.Prediction {
	level := "low"
	switch {
	case p > 0.7:
		level = "high"
	case p > 0.4:
		level = "medium"
	}

	recs := []string{"Current treatment plan looks viable"}
	if p <= 0.4 {
		recs = []string{"Consider adjusting the treatment plan with the care team"}
	}

	return &domain.Prediction{
		Domain:          domain.DomainTreatmentOutcome,
		Score:           p,
		Level:           level,
		Confidence:      0.5 + math.Abs(p-0.5),
		Factors:         b.elevatedFactors(domain.DomainTreatmentOutcome, vec),
		Recommendations: recs,
		Provenance:      domain.ProvenanceLocal,
		GeneratedAt:     time.Now().UTC(),
	}
}

// elevatedFactors names the input fields whose normalized value sits in
// the top of their range, as the human-readable contributing factors.
func (b *LocalBackend) elevatedFactors(d domain.Domain, vec []float64) []string {
	names := b.normalizer.FieldNames(d)
	var factors []string
	for i, v := range vec {
		if i < len(names) && v > 0.7 {
			factors = append(factors, fmt.Sprintf("elevated %s", names[i]))
		}
	}
	return factors
}

// Train runs an offline SGD training pass for one domain's model. It
// takes the model's write lock, so it never runs concurrently with
// predictions against the same model. Labels are one-hot vectors for
// the health-risk classifier, single values for the regressors and the
// sequence model, and are ignored for the autoencoder (which always
// reconstructs its input).
func (b *LocalBackend) Train(ctx context.Context, d domain.Domain, samples, labels [][]float64, opts TrainOptions) (*TrainReport, error) {
	model, ok := b.models[d]
	if !ok {
		return nil, fmt.Errorf("domain %s: %w", d, domain.ErrModelUnavailable)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("domain %s: no training samples", d)
	}
	if d != domain.DomainVitalAnomaly && len(labels) != len(samples) {
		return nil, fmt.Errorf("domain %s: %d samples but %d labels", d, len(samples), len(labels))
	}

	width := b.normalizer.Width(d)
	for i, sample := range samples {
		if len(sample) != width {
			return nil, fmt.Errorf("domain %s: sample %d has %d features, want %d", d, i, len(sample), width)
		}
	}

	if opts.Epochs <= 0 {
		opts.Epochs = 50
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.05
	}
	if opts.ValidationSplit <= 0 || opts.ValidationSplit >= 1 {
		opts.ValidationSplit = 0.2
	}

	// Autoencoder targets are the inputs themselves.
	if d == domain.DomainVitalAnomaly {
		labels = samples
	} else {
		labelWidth := 1
		if model.ff != nil {
			labelWidth = model.ff.outputSize()
		}
		for i, label := range labels {
			if len(label) != labelWidth {
				return nil, fmt.Errorf("domain %s: label %d has %d values, want %d", d, i, len(label), labelWidth)
			}
		}
	}

	// Deterministic shuffle, then split off the validation tail.
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	valCount := int(float64(len(idx)) * opts.ValidationSplit)
	if valCount == 0 && len(idx) > 1 {
		valCount = 1
	}
	trainIdx := idx[:len(idx)-valCount]
	valIdx := idx[len(idx)-valCount:]

	model.mu.Lock()
	defer model.mu.Unlock()

	report := &TrainReport{Domain: d, Samples: len(samples)}
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var trainLoss float64
		err := b.buffers.WithScope(func(s *Scope) error {
			for _, i := range trainIdx {
				if model.rnn != nil {
					trainLoss += model.rnn.trainSample(s, samples[i], labels[i][0], opts.LearningRate)
				} else {
					trainLoss += model.ff.trainSample(s, samples[i], labels[i], opts.LearningRate)
				}
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		if len(trainIdx) > 0 {
			trainLoss /= float64(len(trainIdx))
		}

		var valLoss float64
		err = b.buffers.WithScope(func(s *Scope) error {
			for _, i := range valIdx {
				if model.rnn != nil {
					valLoss += model.rnn.loss(s, samples[i], labels[i][0])
				} else {
					valLoss += model.ff.loss(s, samples[i], labels[i])
				}
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		if len(valIdx) > 0 {
			valLoss /= float64(len(valIdx))
		}

		report.Epochs = append(report.Epochs, EpochMetrics{
			Epoch:          epoch,
			TrainLoss:      trainLoss,
			ValidationLoss: valLoss,
		})

		b.logger.WithFields(logrus.Fields{
			"domain":          d,
			"epoch":           epoch,
			"train_loss":      trainLoss,
			"validation_loss": valLoss,
		}).Debug("Training epoch completed")
	}

	b.logger.WithFields(logrus.Fields{
		"domain":  d,
		"samples": len(samples),
		"epochs":  opts.Epochs,
	}).Info("Offline training run completed")

	return report, nil
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
