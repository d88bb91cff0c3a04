package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// BatchResult summarizes a daily batch run.
type BatchResult struct {
	Pending   []time.Time
	Completed []time.Time
	Artifacts []domain.Artifact
}

// RunBatch exports every pending date in ascending order, one at a time.
// The watermark advances after each date's artifact is published; the
// first failure aborts the batch and leaves the watermark at the last
// completed date, so the next invocation resumes there.
func (w *Worker) RunBatch(ctx context.Context, today time.Time) (BatchResult, error) {
	var result BatchResult

	pending, err := w.watermark.PendingDates(today)
	if err != nil {
		w.logger.Error("Failed to compute pending dates",
			slog.String("error", err.Error()),
		)
		return result, fmt.Errorf("failed to compute pending dates: %w", err)
	}
	result.Pending = pending

	if len(pending) == 0 {
		w.logger.Info("No pending dates, watermark is up to date")
		return result, nil
	}

	w.logger.Info("Starting batch",
		slog.Int("pending", len(pending)),
		slog.String("first", pending[0].Format(domain.DateFormat)),
		slog.String("last", pending[len(pending)-1].Format(domain.DateFormat)),
	)

	for _, date := range pending {
		name := date.Format(domain.DateFormat)
		req := w.NewRequest(name, date, date.AddDate(0, 0, 1))

		artifact, handle, err := w.processJob(ctx, req)
		if err != nil {
			w.logger.Error("Batch aborted",
				slog.String("date", name),
				slog.Int("completed", len(result.Completed)),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("failed to export %s: %w", name, err)
		}

		// The artifact is durable; only now may the checkpoint move past it.
		if err := w.watermark.Advance(date); err != nil {
			w.logger.Error("Failed to advance watermark",
				slog.String("date", name),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("failed to advance watermark to %s: %w", name, err)
		}

		result.Completed = append(result.Completed, date)
		result.Artifacts = append(result.Artifacts, artifact)
		w.notify(ctx, req, handle, artifact, name)

		w.logger.Info("Date exported",
			slog.String("date", name),
			slog.String("path", artifact.Path),
			slog.Int64("rows", artifact.Rows),
		)
	}

	w.logger.Info("Batch completed",
		slog.Int("completed", len(result.Completed)),
	)
	return result, nil
}

// RunSingle exports an arbitrary [start, end) window under a sanitized job
// name. The watermark is neither read nor written.
func (w *Worker) RunSingle(ctx context.Context, start, end time.Time, name string) (domain.Artifact, error) {
	name = SanitizeJobName(name)
	if name == "" {
		name = fmt.Sprintf("%s_%s", start.Format(domain.DateFormat), end.Format(domain.DateFormat))
	}

	req := w.NewRequest(name, start, end)
	artifact, handle, err := w.processJob(ctx, req)
	if err != nil {
		w.logger.Error("Single export failed",
			slog.String("job_name", name),
			slog.String("error", err.Error()),
		)
		return domain.Artifact{}, fmt.Errorf("failed to export %s: %w", name, err)
	}

	w.notify(ctx, req, handle, artifact, "")
	w.logger.Info("Single export completed",
		slog.String("job_name", name),
		slog.String("path", artifact.Path),
		slog.Int64("rows", artifact.Rows),
	)
	return artifact, nil
}

// processJob takes one request from submission to a published artifact.
func (w *Worker) processJob(ctx context.Context, req domain.ExportJobRequest) (domain.Artifact, domain.JobHandle, error) {
	// Step 1: Validate before anything is sent
	if err := req.Validate(); err != nil {
		return domain.Artifact{}, domain.JobHandle{}, err
	}

	// Step 2: Submit with retry
	handle, err := w.SubmitWithRetry(ctx, req, w.policy.SubmitAttempts)
	if err != nil {
		return domain.Artifact{}, handle, err
	}

	// Step 3: Poll until terminal; a resubmission changes the handle
	handle, err = w.AwaitCompletion(ctx, handle, req)
	if err != nil {
		return domain.Artifact{}, handle, err
	}
	req.CorrelationID = handle.CorrelationID

	// Step 4: Download the result archive
	body, err := w.client.FetchResult(ctx, handle.CorrelationID)
	if err != nil {
		w.logger.Error("Failed to download results",
			slog.String("correlation_id", handle.CorrelationID),
			slog.String("error", err.Error()),
		)
		w.record(ctx, req, handle, domain.RunStateFailed, func(r *domain.RunRecord) {
			r.ErrorMessage = err.Error()
		})
		return domain.Artifact{}, handle, err
	}
	defer body.Close()

	// Step 5: Convert and publish the artifact atomically
	artifact, err := w.materializer.Materialize(ctx, body, req.Name)
	if err != nil {
		w.logger.Error("Failed to materialize results",
			slog.String("correlation_id", handle.CorrelationID),
			slog.String("job_name", req.Name),
			slog.String("error", err.Error()),
		)
		w.record(ctx, req, handle, domain.RunStateFailed, func(r *domain.RunRecord) {
			r.ErrorMessage = err.Error()
		})
		return domain.Artifact{}, handle, err
	}

	w.record(ctx, req, handle, domain.RunStateMaterialized, func(r *domain.RunRecord) {
		r.ArtifactPath = artifact.Path
		r.RowCount = artifact.Rows
	})
	return artifact, handle, nil
}

// notify announces a published artifact. Failures are logged only.
func (w *Worker) notify(ctx context.Context, req domain.ExportJobRequest, handle domain.JobHandle, artifact domain.Artifact, date string) {
	if w.notifier == nil {
		return
	}

	event := domain.ArtifactEvent{
		JobName:       req.Name,
		Date:          date,
		Path:          artifact.Path,
		Rows:          artifact.Rows,
		CorrelationID: handle.CorrelationID,
		RemoteJobID:   handle.RemoteJobID,
		PublishedAt:   w.clock.Now().UTC(),
	}
	if err := w.notifier.PublishArtifact(ctx, event); err != nil {
		w.logger.Warn("Failed to publish artifact notification",
			slog.String("job_name", req.Name),
			slog.String("error", err.Error()),
		)
	}
}
