package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/traffic-export/internal/api/domain"
	"github.com/cuongbtq/traffic-export/internal/api/dto"
	"github.com/cuongbtq/traffic-export/internal/api/model"
	"github.com/cuongbtq/traffic-export/internal/api/storage"
	workerdomain "github.com/cuongbtq/traffic-export/internal/worker/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetWatermark handles GET /api/v1/watermark
// Returns the current watermark and the dates the next batch would export
func (h *StatusHandler) GetWatermark(c *gin.Context) {
	wm, err := h.watermark.Load()
	if err != nil {
		if errors.Is(err, workerdomain.ErrNoWatermark) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "watermark not found",
			})
			return
		}
		h.logger.Error("Failed to load watermark", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load watermark",
		})
		return
	}

	pending, err := h.watermark.PendingDates(h.now())
	if err != nil {
		h.logger.Error("Failed to compute pending dates", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to compute pending dates",
		})
		return
	}

	dates := make([]string, len(pending))
	for i, d := range pending {
		dates[i] = d.Format(workerdomain.DateFormat)
	}

	c.JSON(http.StatusOK, dto.WatermarkResponse{
		Watermark:    wm.Format(workerdomain.WatermarkFormat),
		PendingDates: dates,
	})
}

// GetRun handles GET /api/v1/runs/:correlation_id
func (h *StatusHandler) GetRun(c *gin.Context) {
	correlationID := c.Param("correlation_id")

	if _, err := uuid.Parse(correlationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "correlation_id must be a valid UUID",
		})
		return
	}

	run, err := h.runs.GetRun(c.Request.Context(), correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

// ListRuns handles GET /api/v1/runs
// Lists runs newest first with optional filtering and cursor pagination
func (h *StatusHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.State != "" && !domain.IsValidRunState(req.State) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown state",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		JobName:  req.JobName,
		State:    req.State,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = toRunDTO(&runs[i])
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&storage.RunCursor{
			UpdatedAt:     last.UpdatedAt,
			CorrelationID: last.CorrelationID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toRunDTO(run *model.Run) dto.RunDTO {
	out := dto.RunDTO{
		CorrelationID: run.CorrelationID,
		RemoteJobID:   run.RemoteJobID,
		JobName:       run.JobName,
		StartDate:     run.StartDate.UTC().Format(workerdomain.DateFormat),
		EndDate:       run.EndDate.UTC().Format(workerdomain.DateFormat),
		State:         run.State,
		ErrorMessage:  run.ErrorMessage,
		ArtifactPath:  run.ArtifactPath,
		RowCount:      run.RowCount,
		UpdatedAt:     run.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if run.Progress.Valid {
		p := run.Progress.Float64
		out.Progress = &p
	}
	if run.SubmittedAt.Valid {
		out.SubmittedAt = run.SubmittedAt.Time.UTC().Format(time.RFC3339)
	}
	if run.CompletedAt.Valid {
		out.CompletedAt = run.CompletedAt.Time.UTC().Format(time.RFC3339)
	}
	return out
}
