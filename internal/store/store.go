// Package store persists completed assessments so they can be fetched
// by id later.
package store

import (
	"context"
	"time"

	"github.com/health-analytics-server/internal/domain"
)

// AssessmentRecord is one persisted assessment.
type AssessmentRecord struct {
	ID         string                    `json:"id"`
	PatientRef string                    `json:"patientRef,omitempty"`
	Assessment *domain.OverallAssessment `json:"assessment"`
	CreatedAt  time.Time                 `json:"createdAt"`
}

// Store persists assessment records. Implementations: SQLiteStore and
// PostgresStore.
type Store interface {
	Save(ctx context.Context, rec *AssessmentRecord) error
	Get(ctx context.Context, id string) (*AssessmentRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*AssessmentRecord, error)
	Close() error
}
