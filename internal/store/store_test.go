package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/models"
)

func mockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewWithConn(sqlx.NewDb(conn, "sqlmock"), 5*time.Second), mock
}

func TestBarRepo_UpsertBatch(t *testing.T) {
	db, mock := mockDB(t)

	date := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		{Symbol: "AAPL", Date: date, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(102),
			Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(101), Volume: 5000},
		{Symbol: "AAPL", Date: date.AddDate(0, 0, 1), Open: decimal.NewFromInt(101), High: decimal.NewFromInt(103),
			Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(102), Volume: 6000},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`(?s)INSERT INTO bars.+ON CONFLICT \(symbol, bar_date\) DO UPDATE`)
	for range bars {
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	n, err := db.Bars().UpsertBatch(context.Background(), bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarRepo_UpsertBatchEmpty(t *testing.T) {
	db, mock := mockDB(t)

	n, err := db.Bars().UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarRepo_HistoryAscending(t *testing.T) {
	db, mock := mockDB(t)

	rows := sqlmock.NewRows([]string{"symbol", "bar_date", "open", "high", "low", "close", "volume"}).
		AddRow("AAPL", time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), "100", "102", "99", "101.2500", 5000).
		AddRow("AAPL", time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), "101", "103", "100", "102", 6000)
	mock.ExpectQuery(`(?s)SELECT symbol, bar_date,.+ORDER BY bar_date ASC`).
		WithArgs("AAPL", 504).
		WillReturnRows(rows)

	bars, err := db.Bars().History(context.Background(), "AAPL", 504)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
	assert.Equal(t, "101.2500", bars[0].Close.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkerRepo_MarkCompletedUpserts(t *testing.T) {
	db, mock := mockDB(t)

	cycleDate := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)INSERT INTO scheduler_markers.+ON CONFLICT \(cycle_date\) DO UPDATE`).
		WithArgs(cycleDate).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.Markers().MarkCompleted(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkerRepo_LastCompletedCycleEmpty(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`SELECT cycle_date FROM scheduler_markers`).
		WillReturnRows(sqlmock.NewRows([]string{"cycle_date"}))

	last, err := db.Markers().LastCompletedCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestResultRepo_ReplaceForRunIsTransactional(t *testing.T) {
	db, mock := mockDB(t)

	date := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	results := []models.ScreeningResult{
		{Algorithm: "maverick", Symbol: "AAPL", Score: 100, Rank: 1, DateAnalyzed: date,
			Criteria: map[string]float64{"momentum_score": 90}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM screening_results WHERE algorithm = \$1 AND date_analyzed = \$2`).
		WithArgs("maverick", date).
		WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(`(?s)INSERT INTO screening_results.+VALUES`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Results().ReplaceForRun(context.Background(), "maverick", date, results)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniverseRepo_RegisterReportsNewRow(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`(?s)INSERT INTO universe.+RETURNING \(xmax = 0\)`).
		WithArgs("AAPL", "Apple Inc.", "Technology").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	inserted, err := db.Universe().Register(context.Background(), "aapl ", "Apple Inc.", "Technology")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniverseRepo_RegisterRejectsBadTicker(t *testing.T) {
	db, _ := mockDB(t)

	_, err := db.Universe().Register(context.Background(), "not a ticker!", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ticker")
}

func TestValidateTicker(t *testing.T) {
	for _, valid := range []string{"AAPL", "BRK-B", "BF.B", "X", "msft"} {
		assert.NoError(t, ValidateTicker(valid), valid)
	}
	for _, invalid := range []string{"", "TOOLONGSYMBOL", "BAD SYM", "A$PL"} {
		assert.Error(t, ValidateTicker(invalid), invalid)
	}
}

func TestCacheRepo_DeletePrefix(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectExec(`DELETE FROM cache_entries WHERE key LIKE`).
		WithArgs("v1:screening:maverick:").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := db.CacheEntries().DeletePrefix(context.Background(), "v1:screening:maverick:")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_LatestSucceededNoRows(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`(?s)SELECT id, algorithm,.+FROM screening_runs`).
		WithArgs("maverick", models.RunSucceeded).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := db.Runs().LatestSucceeded(context.Background(), "maverick")
	require.NoError(t, err)
	assert.Nil(t, run)
}
