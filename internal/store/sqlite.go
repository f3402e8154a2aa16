package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/health-analytics-server/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens the database file, creating it and the schema
// if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		patient_ref TEXT DEFAULT '',
		assessment TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_patient_ref ON assessments(patient_ref);
	CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	payload, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assessments (id, patient_ref, assessment, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.PatientRef, string(payload), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// Get fetches one record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*AssessmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_ref, assessment, created_at FROM assessments WHERE id = ?`, id)

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
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*AssessmentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_ref, assessment, created_at FROM assessments ORDER BY created_at DESC LIMIT ?`, limit)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(s scanner) (*AssessmentRecord, error) {
	rec := &AssessmentRecord{}
	var payload string

	if err := s.Scan(&rec.ID, &rec.PatientRef, &payload, &rec.CreatedAt); err != nil {
		return nil, err
	}

	rec.Assessment = &domain.OverallAssessment{}
	if err := json.Unmarshal([]byte(payload), rec.Assessment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment: %w", err)
	}
	return rec, nil
}
