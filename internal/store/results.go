package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/maverick/internal/models"
)

// ResultRepo persists ranked screening results.
type ResultRepo struct {
	db *DB
}

type resultRow struct {
	Algorithm    string    `db:"algorithm"`
	Symbol       string    `db:"symbol"`
	Score        float64   `db:"score"`
	Rank         int       `db:"rank"`
	DateAnalyzed time.Time `db:"date_analyzed"`
	Criteria     []byte    `db:"criteria"`
}

// ReplaceForRun atomically replaces an algorithm's result set for one
// analysis date. Sibling algorithms' rows are untouched.
func (r *ResultRepo) ReplaceForRun(ctx context.Context, algorithm string, dateAnalyzed time.Time, results []models.ScreeningResult) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM screening_results WHERE algorithm = $1 AND date_analyzed = $2`,
		algorithm, dateAnalyzed); err != nil {
		return fmt.Errorf("failed to clear %s results: %w", algorithm, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO screening_results (algorithm, symbol, score, rank, date_analyzed, criteria)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, result := range results {
		criteria, err := json.Marshal(result.Criteria)
		if err != nil {
			return fmt.Errorf("failed to marshal criteria for %s: %w", result.Symbol, err)
		}
		if _, err := stmt.ExecContext(ctx,
			result.Algorithm, result.Symbol, result.Score, result.Rank,
			result.DateAnalyzed, criteria); err != nil {
			return fmt.Errorf("failed to insert result %s/%s: %w", algorithm, result.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// TopRanked reads an algorithm's most recent result set in rank order.
func (r *ResultRepo) TopRanked(ctx context.Context, algorithm string, limit int) ([]models.ScreeningResult, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var rows []resultRow
	err := r.db.conn.SelectContext(ctx, &rows, `
		SELECT algorithm, symbol, score, rank, date_analyzed, criteria
		FROM screening_results
		WHERE algorithm = $1
		  AND date_analyzed = (
			SELECT MAX(date_analyzed) FROM screening_results WHERE algorithm = $1
		  )
		ORDER BY rank ASC
		LIMIT $2`,
		algorithm, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s results: %w", algorithm, err)
	}

	results := make([]models.ScreeningResult, 0, len(rows))
	for _, row := range rows {
		result := models.ScreeningResult{
			Algorithm:    row.Algorithm,
			Symbol:       row.Symbol,
			Score:        row.Score,
			Rank:         row.Rank,
			DateAnalyzed: row.DateAnalyzed,
		}
		if len(row.Criteria) > 0 {
			if err := json.Unmarshal(row.Criteria, &result.Criteria); err != nil {
				return nil, fmt.Errorf("failed to unmarshal criteria for %s: %w", row.Symbol, err)
			}
		}
		results = append(results, result)
	}
	return results, nil
}
