package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/maverick/internal/models"
)

// BarRepo persists daily bars. The (symbol, bar_date) primary key enforces
// the at-most-one-bar invariant; every write is an upsert.
type BarRepo struct {
	db *DB
}

// UpsertBatch writes bars in one transaction, updating rows that already
// exist for the natural key.
func (r *BarRepo) UpsertBatch(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, bar_date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, bar_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return 0, fmt.Errorf("failed to upsert bar %s@%s: %w",
				bar.Symbol, bar.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bar upsert: %w", err)
	}
	return len(bars), nil
}

// Range reads bars for one symbol in ascending date order.
func (r *BarRepo) Range(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var bars []models.Bar
	err := r.db.conn.SelectContext(ctx, &bars, `
		SELECT symbol, bar_date, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND bar_date BETWEEN $2 AND $3
		ORDER BY bar_date ASC`,
		symbol, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars for %s: %w", symbol, err)
	}
	return bars, nil
}

// History reads the most recent limit bars for one symbol, ascending.
func (r *BarRepo) History(ctx context.Context, symbol string, limit int) ([]models.Bar, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var bars []models.Bar
	err := r.db.conn.SelectContext(ctx, &bars, `
		SELECT symbol, bar_date, open, high, low, close, volume
		FROM (
			SELECT symbol, bar_date, open, high, low, close, volume
			FROM bars WHERE symbol = $1
			ORDER BY bar_date DESC LIMIT $2
		) recent
		ORDER BY bar_date ASC`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read bar history for %s: %w", symbol, err)
	}
	return bars, nil
}

// LatestDate returns the newest stored trading date for a symbol, or the
// zero time when the symbol has no bars.
func (r *BarRepo) LatestDate(ctx context.Context, symbol string) (time.Time, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var latest time.Time
	err := r.db.conn.GetContext(ctx, &latest,
		`SELECT bar_date FROM bars WHERE symbol = $1 ORDER BY bar_date DESC LIMIT 1`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest bar date for %s: %w", symbol, err)
	}
	return latest, nil
}
