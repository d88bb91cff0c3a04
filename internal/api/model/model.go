package model

import (
	"database/sql"
	"time"
)

type Run struct {
	CorrelationID string          `db:"correlation_id"`
	RemoteJobID   string          `db:"remote_job_id"`
	JobName       string          `db:"job_name"`
	StartDate     time.Time       `db:"start_date"`
	EndDate       time.Time       `db:"end_date"`
	State         string          `db:"state"`
	Progress      sql.NullFloat64 `db:"progress"`
	ErrorMessage  string          `db:"error_message"`
	ArtifactPath  string          `db:"artifact_path"`
	RowCount      int64           `db:"row_count"`
	SubmittedAt   sql.NullTime    `db:"submitted_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CompletedAt   sql.NullTime    `db:"completed_at"`
}
