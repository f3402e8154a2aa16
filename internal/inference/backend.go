package inference

import (
	"context"

	"github.com/health-analytics-server/internal/domain"
)

// Backend produces a per-domain prediction from a raw patient feature
// set. Implementations: LocalBackend (numeric models) and
// RemoteBackend (language-model inference). The serving backend is
// selected by configuration, not by runtime registry lookup.
type Backend interface {
	Name() string
	Predict(ctx context.Context, d domain.Domain, fs domain.PatientFeatureSet) (*domain.Prediction, error)
}

// TrainOptions tunes an offline training run.
type TrainOptions struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	LearningRate    float64
	Seed            int64
}

// EpochMetrics reports the losses of one training epoch.
type EpochMetrics struct {
	Epoch          int     `json:"epoch"`
	TrainLoss      float64 `json:"train_loss"`
	ValidationLoss float64 `json:"validation_loss"`
}

// TrainReport is the outcome of an offline training run.
type TrainReport struct {
	Domain  domain.Domain  `json:"domain"`
	Samples int            `json:"samples"`
	Epochs  []EpochMetrics `json:"epochs"`
}

// Trainer is implemented by backends that expose offline training.
// Training is not required for serving and must never run concurrently
// with predictions against the same model.
type Trainer interface {
	Train(ctx context.Context, d domain.Domain, features, labels [][]float64, opts TrainOptions) (*TrainReport, error)
}
