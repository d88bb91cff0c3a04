package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/traffic-export/internal/api/domain"
	"github.com/cuongbtq/traffic-export/internal/api/model"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

const runColumns = `
	correlation_id, remote_job_id, job_name, start_date, end_date,
	state, progress, error_message, artifact_path, row_count,
	submitted_at, updated_at, completed_at
`

func (s *Storage) GetRun(ctx context.Context, correlationID string) (*model.Run, error) {
	var run model.Run
	query := s.db.Rebind(`SELECT ` + runColumns + ` FROM export_runs WHERE correlation_id = ?`)

	err := s.db.GetContext(ctx, &run, query, correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

type RunFilter struct {
	JobName  string
	State    string
	PageSize int
	Cursor   *RunCursor
}

type RunCursor struct {
	UpdatedAt     time.Time
	CorrelationID string
}

func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs WHERE 1=1`
	args := []interface{}{}

	// Filters
	if filter.JobName != "" {
		query += " AND job_name = ?"
		args = append(args, filter.JobName)
	}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	if filter.Cursor != nil {
		query += " AND (updated_at, correlation_id) < (?, ?)"
		args = append(args, filter.Cursor.UpdatedAt.UTC(), filter.Cursor.CorrelationID)
	}

	// Newest first, correlation_id breaks ties for stable pages
	query += " ORDER BY updated_at DESC, correlation_id DESC"

	// Fetch one extra to determine if there are more results
	query += " LIMIT ?"
	args = append(args, filter.PageSize+1)

	var runs []model.Run
	err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}
