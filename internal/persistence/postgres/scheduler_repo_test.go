package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/persistence"
)

func TestGetConfig(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulerRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT key, value FROM scheduler_config").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("enabled", "true").
			AddRow("run_interval_hours", "24"))

	config, err := repo.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "true", config["enabled"])
	assert.Equal(t, "24", config["run_interval_hours"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetConfig(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulerRepo(db, 5*time.Second)

	mock.ExpectExec("INSERT INTO scheduler_config").
		WithArgs("enabled", "false").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetConfig(context.Background(), "enabled", "false"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAndCompleteRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulerRepo(db, 5*time.Second)

	run := persistence.PipelineRun{
		RunID:     "run-1",
		Status:    "running",
		StartedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO pipeline_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.InsertRun(context.Background(), run))

	run.Status = "completed"
	run.CompletedAt = run.StartedAt.Add(5 * time.Minute)
	mock.ExpectExec("UPDATE pipeline_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CompleteRun(context.Background(), run))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshViewValidatesName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMaintenanceRepo(db, 5*time.Second)

	err := repo.RefreshView(context.Background(), "mv_latest; DROP TABLE asins")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid view name")

	mock.ExpectExec("REFRESH MATERIALIZED VIEW mv_latest_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.RefreshView(context.Background(), "mv_latest_snapshots"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
