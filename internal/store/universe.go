package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// tickerPattern allows 1-10 characters: letters, digits, hyphens, and dots
// (BRK-B and BF.B are valid).
var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateTicker checks the ticker format after normalization.
func ValidateTicker(symbol string) error {
	normalized := NormalizeTicker(symbol)
	if normalized == "" {
		return fmt.Errorf("ticker symbol cannot be empty")
	}
	if !tickerPattern.MatchString(normalized) {
		return fmt.Errorf("invalid ticker symbol %q: use 1-10 characters (letters, digits, hyphens, and dots only)", symbol)
	}
	return nil
}

// UniverseRepo manages the screened stock universe.
type UniverseRepo struct {
	db *DB
}

// ActiveSymbols lists the symbols included in bar refresh and screening.
func (r *UniverseRepo) ActiveSymbols(ctx context.Context) ([]string, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var symbols []string
	err := r.db.conn.SelectContext(ctx, &symbols,
		`SELECT symbol FROM universe WHERE is_active ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to read active universe: %w", err)
	}
	return symbols, nil
}

// Register adds a ticker to the universe, reactivating it if it was
// previously deactivated. Returns true when the row was newly created.
func (r *UniverseRepo) Register(ctx context.Context, symbol, companyName, sector string) (bool, error) {
	if err := ValidateTicker(symbol); err != nil {
		return false, err
	}
	symbol = NormalizeTicker(symbol)

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var inserted bool
	err := r.db.conn.GetContext(ctx, &inserted, `
		INSERT INTO universe (symbol, company_name, sector, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (symbol) DO UPDATE SET is_active = TRUE
		RETURNING (xmax = 0)`,
		symbol, companyName, sector)
	if err != nil {
		return false, fmt.Errorf("failed to register %s: %w", symbol, err)
	}
	return inserted, nil
}

// Deactivate removes a ticker from future refreshes and screening runs
// without deleting its history.
func (r *UniverseRepo) Deactivate(ctx context.Context, symbol string) error {
	if err := ValidateTicker(symbol); err != nil {
		return err
	}

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.conn.ExecContext(ctx,
		`UPDATE universe SET is_active = FALSE WHERE symbol = $1`,
		NormalizeTicker(symbol))
	if err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", symbol, err)
	}
	return nil
}
