package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/traffic-export/internal/api/model"
	"github.com/cuongbtq/traffic-export/internal/api/storage"
)

// RunStore reads the run history
type RunStore interface {
	GetRun(ctx context.Context, correlationID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.Run, error)
}

// WatermarkReader reads the batch checkpoint
type WatermarkReader interface {
	Load() (time.Time, error)
	PendingDates(today time.Time) ([]time.Time, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Runs        RunStore
	Watermark   WatermarkReader
	HealthCheck func(ctx context.Context) error // optional
	Now         func() time.Time                // optional, defaults to time.Now
}

// StatusHandler serves read-only export status
type StatusHandler struct {
	logger    *slog.Logger
	runs      RunStore
	watermark WatermarkReader
	now       func() time.Time
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &StatusHandler{
		logger:    deps.Logger,
		runs:      deps.Runs,
		watermark: deps.Watermark,
		now:       now,
	}
}
