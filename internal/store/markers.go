package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkerRepo persists the daily-cycle completion marker. The marker, not
// an in-process flag, is the idempotency guard: it survives restarts, so a
// relaunched process never re-runs a completed trading day.
type MarkerRepo struct {
	db *DB
}

// LastCompletedCycle returns the most recent completed cycle date, or the
// zero time when no cycle has ever completed.
func (r *MarkerRepo) LastCompletedCycle(ctx context.Context) (time.Time, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var date time.Time
	err := r.db.conn.GetContext(ctx, &date,
		`SELECT cycle_date FROM scheduler_markers ORDER BY cycle_date DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cycle marker: %w", err)
	}
	return date, nil
}

// MarkCompleted records a completed cycle for the given trading date.
func (r *MarkerRepo) MarkCompleted(ctx context.Context, cycleDate time.Time) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO scheduler_markers (cycle_date, completed_at)
		VALUES ($1, now())
		ON CONFLICT (cycle_date) DO UPDATE SET completed_at = now()`,
		cycleDate)
	if err != nil {
		return fmt.Errorf("failed to mark cycle completed: %w", err)
	}
	return nil
}
