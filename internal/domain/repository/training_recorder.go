package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"urban_analysis/internal/domain/model"
)

// SampleRecorder persists labeled training samples for later model fits.
type SampleRecorder interface {
	SaveSamples(ctx context.Context, run string, samples []model.LabeledSample) error
	LoadSamples(ctx context.Context, run string) ([]model.LabeledSample, error)
}

type PostgresSampleRecorder struct {
	db *sqlx.DB
}

func NewPostgresSampleRecorder(db *sqlx.DB) *PostgresSampleRecorder {
	return &PostgresSampleRecorder{db: db}
}

func (r *PostgresSampleRecorder) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS training_samples (
			run         TEXT NOT NULL,
			features    JSONB NOT NULL,
			label       INTEGER NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create training_samples table: %w", err)
	}
	return nil
}

func (r *PostgresSampleRecorder) SaveSamples(ctx context.Context, run string, samples []model.LabeledSample) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO training_samples (run, features, label)
		VALUES ($1, $2, $3)`
	for i, s := range samples {
		features, err := json.Marshal(s.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal sample %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, insert, run, features, s.Label); err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples of run %q: %w", run, err)
	}
	return nil
}

func (r *PostgresSampleRecorder) LoadSamples(ctx context.Context, run string) ([]model.LabeledSample, error) {
	const query = `
		SELECT features, label
		FROM training_samples
		WHERE run = $1
		ORDER BY recorded_at`
	rows, err := r.db.QueryxContext(ctx, query, run)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples of run %q: %w", run, err)
	}
	defer rows.Close()

	var samples []model.LabeledSample
	for rows.Next() {
		var features []byte
		var label int
		if err := rows.Scan(&features, &label); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		var s model.LabeledSample
		s.Label = label
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return nil, fmt.Errorf("failed to parse sample features: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
