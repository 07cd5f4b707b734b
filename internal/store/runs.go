package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sawpanic/maverick/internal/models"
)

// RunRepo persists per-algorithm screening run records. These are the
// first-class freshness/failure state: one row per algorithm per scheduler
// invocation.
type RunRepo struct {
	db *DB
}

// Insert records a new pending run.
func (r *RunRepo) Insert(ctx context.Context, run models.ScreeningRun) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO screening_runs (id, algorithm, started_at, status, error_detail, candidates)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Algorithm, run.StartedAt, run.Status, run.ErrorDetail, run.Candidates)
	if err != nil {
		return fmt.Errorf("failed to insert screening run: %w", err)
	}
	return nil
}

// Complete finalizes a run with its terminal status.
func (r *RunRepo) Complete(ctx context.Context, run models.ScreeningRun) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var dateAnalyzed interface{}
	if !run.DateAnalyzed.IsZero() {
		dateAnalyzed = run.DateAnalyzed
	}

	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE screening_runs
		SET completed_at = $2, status = $3, error_detail = $4,
		    date_analyzed = $5, candidates = $6
		WHERE id = $1`,
		run.ID, run.CompletedAt, run.Status, run.ErrorDetail, dateAnalyzed, run.Candidates)
	if err != nil {
		return fmt.Errorf("failed to complete screening run: %w", err)
	}
	return nil
}

// LatestSucceeded returns the most recent succeeded run for an algorithm.
func (r *RunRepo) LatestSucceeded(ctx context.Context, algorithm string) (*models.ScreeningRun, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var run models.ScreeningRun
	err := r.db.conn.GetContext(ctx, &run, `
		SELECT id, algorithm, started_at, completed_at, status, error_detail,
		       date_analyzed, candidates
		FROM screening_runs
		WHERE algorithm = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`,
		algorithm, models.RunSucceeded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest succeeded run for %s: %w", algorithm, err)
	}
	return &run, nil
}

// LatestByAlgorithms returns the most recent succeeded run per algorithm.
func (r *RunRepo) LatestByAlgorithms(ctx context.Context, algorithms []string) (map[string]models.ScreeningRun, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var runs []models.ScreeningRun
	err := r.db.conn.SelectContext(ctx, &runs, `
		SELECT DISTINCT ON (algorithm)
		       id, algorithm, started_at, completed_at, status, error_detail,
		       date_analyzed, candidates
		FROM screening_runs
		WHERE algorithm = ANY($1) AND status = $2
		ORDER BY algorithm, started_at DESC`,
		pq.Array(algorithms), models.RunSucceeded)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest runs: %w", err)
	}

	out := make(map[string]models.ScreeningRun, len(runs))
	for _, run := range runs {
		out[run.Algorithm] = run
	}
	return out, nil
}

// FreshnessFloor returns the minimum date_analyzed across the latest
// succeeded runs of the named algorithms, or the zero time when none of
// them has ever succeeded.
func (r *RunRepo) FreshnessFloor(ctx context.Context, algorithms []string) (time.Time, error) {
	runs, err := r.LatestByAlgorithms(ctx, algorithms)
	if err != nil {
		return time.Time{}, err
	}

	var floor time.Time
	for _, run := range runs {
		if floor.IsZero() || run.DateAnalyzed.Before(floor) {
			floor = run.DateAnalyzed
		}
	}
	return floor, nil
}
