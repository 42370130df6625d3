package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus-io/smartacus/internal/persistence"
)

type schedulerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSchedulerRepo creates a PostgreSQL scheduler repository.
func NewSchedulerRepo(db *sqlx.DB, timeout time.Duration) persistence.SchedulerRepo {
	return &schedulerRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetConfig returns all scheduler_config key/value pairs.
func (r *schedulerRepo) GetConfig(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `SELECT key, value FROM scheduler_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduler config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		config[key] = value
	}

	return config, rows.Err()
}

// SetConfig writes one scheduler_config entry.
func (r *schedulerRepo) SetConfig(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO scheduler_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}

	return nil
}

// InsertRun records the start of a pipeline run.
func (r *schedulerRepo) InsertRun(ctx context.Context, run persistence.PipelineRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metrics, errs, err := marshalRunDetails(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pipeline_runs (run_id, status, started_at, metrics, errors)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Status, run.StartedAt, metrics, errs); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}

	return nil
}

// CompleteRun records the outcome of a pipeline run.
func (r *schedulerRepo) CompleteRun(ctx context.Context, run persistence.PipelineRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metrics, errs, err := marshalRunDetails(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE pipeline_runs
		SET status = $2, completed_at = $3, metrics = $4, errors = $5
		WHERE run_id = $1`

	if _, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Status, run.CompletedAt, metrics, errs); err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.RunID, err)
	}

	return nil
}

// RecentRuns returns the newest pipeline runs.
func (r *schedulerRepo) RecentRuns(ctx context.Context, limit int) ([]persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, status, started_at, COALESCE(completed_at, started_at), metrics, errors
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []persistence.PipelineRun
	for rows.Next() {
		var run persistence.PipelineRun
		var metrics, errs []byte
		if err := rows.Scan(&run.RunID, &run.Status, &run.StartedAt, &run.CompletedAt, &metrics, &errs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &run.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run metrics: %w", err)
			}
		}
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &run.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run errors: %w", err)
			}
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func marshalRunDetails(run persistence.PipelineRun) ([]byte, []byte, error) {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run metrics: %w", err)
	}
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run errors: %w", err)
	}
	return metrics, errs, nil
}

type maintenanceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMaintenanceRepo creates a PostgreSQL maintenance repository.
func NewMaintenanceRepo(db *sqlx.DB, timeout time.Duration) persistence.MaintenanceRepo {
	return &maintenanceRepo{
		db:      db,
		timeout: timeout,
	}
}

var viewNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// RefreshView refreshes one materialized view. The name is validated since
// it cannot be bound as a parameter.
func (r *maintenanceRepo) RefreshView(ctx context.Context, name string) error {
	if !viewNamePattern.MatchString(name) {
		return fmt.Errorf("invalid view name: %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "REFRESH MATERIALIZED VIEW "+name); err != nil {
		return fmt.Errorf("failed to refresh view %s: %w", name, err)
	}

	return nil
}
