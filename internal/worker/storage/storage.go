package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// Storage records export run transitions in the run-history table
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// upsertRun keeps identifiers and progress already known for a run when a
// later transition does not carry them.
const upsertRun = `
	INSERT INTO export_runs (
		correlation_id, remote_job_id, job_name, start_date, end_date,
		state, progress, error_message, artifact_path, row_count,
		submitted_at, updated_at, completed_at
	) VALUES (
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?
	)
	ON CONFLICT (correlation_id) DO UPDATE SET
		remote_job_id = CASE WHEN excluded.remote_job_id <> '' THEN excluded.remote_job_id ELSE export_runs.remote_job_id END,
		state         = excluded.state,
		progress      = COALESCE(excluded.progress, export_runs.progress),
		error_message = excluded.error_message,
		artifact_path = excluded.artifact_path,
		row_count     = excluded.row_count,
		submitted_at  = COALESCE(excluded.submitted_at, export_runs.submitted_at),
		updated_at    = excluded.updated_at,
		completed_at  = excluded.completed_at
`

// RecordRun inserts or updates the run keyed by its correlation ID
func (s *Storage) RecordRun(ctx context.Context, run domain.RunRecord) error {
	var submittedAt, completedAt sql.NullTime
	if !run.SubmittedAt.IsZero() {
		submittedAt = sql.NullTime{Time: dbTime(run.SubmittedAt), Valid: true}
	}
	if run.IsFinal() {
		completedAt = sql.NullTime{Time: dbTime(run.UpdatedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertRun),
		run.CorrelationID,
		run.RemoteJobID,
		run.JobName,
		dbTime(run.StartDate),
		dbTime(run.EndDate),
		run.State,
		run.Progress,
		run.ErrorMessage,
		run.ArtifactPath,
		run.RowCount,
		submittedAt,
		dbTime(run.UpdatedAt),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("Run state recorded",
		slog.String("correlation_id", run.CorrelationID),
		slog.String("state", run.State),
	)

	return nil
}

// dbTime normalizes to UTC at the precision both backends keep.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
