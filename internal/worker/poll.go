package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// AwaitCompletion polls the job behind handle until it succeeds, fails for
// good or runs out of its wall-clock budget. A FAILED or KILLED job is
// resubmitted while the policy's resubmission budget lasts. The returned
// handle is the one whose result should be fetched.
func (w *Worker) AwaitCompletion(ctx context.Context, handle domain.JobHandle, req domain.ExportJobRequest) (domain.JobHandle, error) {
	// The budget runs from the first submission and survives resubmission.
	deadline := handle.SubmittedAt.Add(w.policy.Timeout)

	var (
		resubmissions int
		statusErrors  int
		lastState     = domain.JobStateQueued
	)

	for {
		if err := ctx.Err(); err != nil {
			return handle, interrupted(handle, err)
		}

		if !w.clock.Now().Before(deadline) {
			err := &domain.JobTimeoutError{
				RemoteJobID: handle.RemoteJobID,
				Timeout:     w.policy.Timeout,
				LastState:   lastState,
			}
			w.logger.Error("Job timed out",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.Duration("timeout", w.policy.Timeout),
				slog.String("last_state", string(lastState)),
			)
			w.record(ctx, req, handle, domain.RunStateTimedOut, func(r *domain.RunRecord) {
				r.ErrorMessage = err.Error()
			})
			return handle, err
		}

		status, err := w.client.CheckStatus(ctx, handle.RemoteJobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return handle, interrupted(handle, ctxErr)
			}

			statusErrors++
			var statusErr *domain.StatusError
			if !errors.As(err, &statusErr) || statusErrors > w.policy.StatusErrorTolerance {
				w.logger.Error("Failed to get job status",
					slog.String("remote_job_id", handle.RemoteJobID),
					slog.Int("consecutive_errors", statusErrors),
					slog.String("error", err.Error()),
				)
				w.record(ctx, req, handle, domain.RunStateFailed, func(r *domain.RunRecord) {
					r.ErrorMessage = err.Error()
				})
				return handle, err
			}

			w.logger.Warn("Failed to get job status, polling again",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.Int("consecutive_errors", statusErrors),
				slog.Int("tolerance", w.policy.StatusErrorTolerance),
				slog.String("error", err.Error()),
			)
			if err := w.sleep(ctx, w.policy.PollInterval, deadline); err != nil {
				return handle, interrupted(handle, err)
			}
			continue
		}
		statusErrors = 0

		switch {
		case status.State == domain.JobStateSucceeded:
			w.logger.Info("Job succeeded",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.String("correlation_id", handle.CorrelationID),
			)
			w.record(ctx, req, handle, domain.RunStateSucceeded, withProgress(status))
			return handle, nil

		case status.State.IsTerminalFailure():
			lastState = status.State
			if resubmissions >= w.policy.Resubmissions {
				err := &domain.JobFailedError{
					RemoteJobID: handle.RemoteJobID,
					State:       status.State,
					Submissions: resubmissions + 1,
				}
				w.logger.Error("Job failed",
					slog.String("remote_job_id", handle.RemoteJobID),
					slog.String("state", string(status.State)),
					slog.Int("resubmissions", resubmissions),
				)
				w.record(ctx, req, handle, domain.RunStateFailed, func(r *domain.RunRecord) {
					r.ErrorMessage = err.Error()
				})
				return handle, err
			}

			resubmissions++
			w.logger.Warn("Job failed, resubmitting",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.String("state", string(status.State)),
				slog.Int("resubmission", resubmissions),
				slog.Int("max_resubmissions", w.policy.Resubmissions),
			)
			w.record(ctx, req, handle, domain.RunStateResubmitted, func(r *domain.RunRecord) {
				r.ErrorMessage = fmt.Sprintf("remote state %s", status.State)
			})

			req = req.WithNewCorrelationID()
			next, err := w.submitWithRetry(ctx, req, 0, deadline)
			if err != nil {
				if errors.Is(err, errBudgetExhausted) {
					timeoutErr := &domain.JobTimeoutError{
						RemoteJobID: handle.RemoteJobID,
						Timeout:     w.policy.Timeout,
						LastState:   lastState,
					}
					w.logger.Error("Job timed out during resubmission",
						slog.String("remote_job_id", handle.RemoteJobID),
						slog.Duration("timeout", w.policy.Timeout),
						slog.String("error", err.Error()),
					)
					w.record(ctx, req, domain.JobHandle{}, domain.RunStateTimedOut, func(r *domain.RunRecord) {
						r.ErrorMessage = timeoutErr.Error()
					})
					return handle, timeoutErr
				}
				return handle, err
			}
			handle = next
			lastState = domain.JobStateQueued

		case status.State == domain.JobStateRateLimited:
			lastState = status.State
			w.logger.Warn("Rate limit exceeded, cooling down",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.Duration("cooldown", w.policy.RateLimitCooldown),
			)
			w.record(ctx, req, handle, domain.RunStateRateLimited)
			if err := w.sleep(ctx, w.policy.RateLimitCooldown, deadline); err != nil {
				return handle, interrupted(handle, err)
			}

		default:
			lastState = status.State
			w.logger.Debug("Job in progress",
				slog.String("remote_job_id", handle.RemoteJobID),
				slog.String("state", string(status.State)),
			)
			w.record(ctx, req, handle, domain.RunStatePolling, withProgress(status))
		}

		if err := w.sleep(ctx, w.policy.PollInterval, deadline); err != nil {
			return handle, interrupted(handle, err)
		}
	}
}

func interrupted(handle domain.JobHandle, err error) error {
	return fmt.Errorf("waiting for job %s interrupted: %w", handle.RemoteJobID, err)
}

func withProgress(status domain.Status) func(*domain.RunRecord) {
	return func(r *domain.RunRecord) {
		r.Progress = status.Progress
	}
}
