package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/health-analytics-server/internal/domain"
)

// PostgresStore implements Store on PostgreSQL for multi-instance
// deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with the given DSN and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		patient_ref TEXT NOT NULL DEFAULT '',
		assessment JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_patient_ref ON assessments(patient_ref);
	CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Save inserts or replaces the record.
func (s *PostgresStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	payload, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, patient_ref, assessment, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET patient_ref = $2, assessment = $3`,
		rec.ID, rec.PatientRef, payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// Get fetches one record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_ref, assessment, created_at FROM assessments WHERE id = $1`, id)

	rec, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest records, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*AssessmentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_ref, assessment, created_at FROM assessments ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var recs []*AssessmentRecord
	for rows.Next() {
		rec, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
