package budget

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	m := NewManager(sqlx.NewDb(mockDB, "postgres"), DefaultConfig(), 5*time.Second)
	m.now = func() time.Time {
		return time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	}
	return m, mock
}

func expectStatus(mock sqlmock.Sqlmock, used, remaining, runs int) {
	mock.ExpectExec("INSERT INTO token_budget").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT month_year").
		WithArgs("2026-08").
		WillReturnRows(sqlmock.NewRows([]string{
			"month_year", "monthly_limit", "tokens_used", "tokens_remaining",
			"discovery_allocation_pct", "scanning_allocation_pct",
			"runs_completed", "categories_scanned", "opportunities_found",
		}).AddRow("2026-08", 900000, used, remaining, 20, 80, runs, runs, 0))
}

func TestStatusAllocations(t *testing.T) {
	m, mock := newTestManager(t)
	expectStatus(mock, 90000, 810000, 3)

	status, err := m.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026-08", status.Month)
	assert.Equal(t, 180000, status.DiscoveryBudget)
	assert.Equal(t, 720000, status.ScanningBudget)
	assert.InDelta(t, 10.0, status.UtilizationPct, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanRun(t *testing.T) {
	m, mock := newTestManager(t)

	expectStatus(mock, 899500, 500, 10)
	ok, err := m.CanRun(context.Background(), 400)
	require.NoError(t, err)
	assert.True(t, ok)

	expectStatus(mock, 899500, 500, 10)
	ok, err = m.CanRun(context.Background(), 600)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveDebitsLedger(t *testing.T) {
	m, mock := newTestManager(t)

	expectStatus(mock, 1000, 899000, 1)
	mock.ExpectQuery("UPDATE token_budget").
		WithArgs(250, "2026-08").
		WillReturnRows(sqlmock.NewRows([]string{"tokens_remaining"}).AddRow(898750))

	ok, err := m.Reserve(context.Background(), 250, RunTypeScanning)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRefusedWhenExhausted(t *testing.T) {
	m, mock := newTestManager(t)

	// Status shows 100 remaining; no UPDATE is issued.
	expectStatus(mock, 899900, 100, 20)

	ok, err := m.Reserve(context.Background(), 250, RunTypeDiscovery)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectExec("UPDATE token_budget").
		WithArgs(1200, 2, 5, "2026-08").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.RecordRun(context.Background(), 1200, 2, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyBudgetPacing(t *testing.T) {
	m, mock := newTestManager(t)

	// Day 10 of a 30 day month leaves 21 days including today.
	expectStatus(mock, 480000, 420000, 8)

	daily, err := m.DailyBudget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20000, daily)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokensForASINs(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Equal(t, 5, m.TokensForASINs(0))
	assert.Equal(t, 205, m.TokensForASINs(100))
}
