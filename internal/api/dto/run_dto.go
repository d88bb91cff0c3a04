package dto

type ListRunsRequest struct {
	JobName  string `form:"job_name"`
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	CorrelationID string   `json:"correlation_id"`
	RemoteJobID   string   `json:"remote_job_id,omitempty"`
	JobName       string   `json:"job_name"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	State         string   `json:"state"`
	Progress      *float64 `json:"progress,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	ArtifactPath  string   `json:"artifact_path,omitempty"`
	RowCount      int64    `json:"row_count"`
	SubmittedAt   string   `json:"submitted_at,omitempty"`
	UpdatedAt     string   `json:"updated_at"`
	CompletedAt   string   `json:"completed_at,omitempty"`
}

type WatermarkResponse struct {
	Watermark    string   `json:"watermark"`
	PendingDates []string `json:"pending_dates"`
}
