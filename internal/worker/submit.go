package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// SubmitDelay is the wait before submission attempt n (0-based):
// base * n². The first attempt is never delayed.
func SubmitDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt*attempt)
}

// quadraticBackOff yields SubmitDelay for attempts 1, 2, ...
type quadraticBackOff struct {
	base    time.Duration
	attempt int
}

func (b *quadraticBackOff) NextBackOff() time.Duration {
	b.attempt++
	return SubmitDelay(b.base, b.attempt)
}

func (b *quadraticBackOff) Reset() {
	b.attempt = 0
}

// budgetBackOff clips every delay to the time left before deadline and
// stops once the deadline has passed. A zero deadline disables it.
type budgetBackOff struct {
	backoff.BackOff
	clock    Clock
	deadline time.Time
}

func (b *budgetBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || b.deadline.IsZero() {
		return next
	}
	remaining := b.deadline.Sub(b.clock.Now())
	if remaining <= 0 {
		return backoff.Stop
	}
	if next > remaining {
		return remaining
	}
	return next
}

// errBudgetExhausted marks a submission abandoned because the job's
// wall-clock budget ran out between attempts.
var errBudgetExhausted = errors.New("job time budget exhausted during submission")

func budgetSpent(clock Clock, deadline time.Time) bool {
	return !deadline.IsZero() && !clock.Now().Before(deadline)
}

// SubmitWithRetry submits req, retrying rejected or failed submissions up
// to maxAttempts times in total. A non-positive maxAttempts uses the
// policy's SubmitAttempts.
func (w *Worker) SubmitWithRetry(ctx context.Context, req domain.ExportJobRequest, maxAttempts int) (domain.JobHandle, error) {
	return w.submitWithRetry(ctx, req, maxAttempts, time.Time{})
}

// submitWithRetry is SubmitWithRetry bounded by deadline: no attempt starts
// after it and backoff sleeps never cross it. Running out of budget yields
// an error wrapping errBudgetExhausted.
func (w *Worker) submitWithRetry(ctx context.Context, req domain.ExportJobRequest, maxAttempts int, deadline time.Time) (domain.JobHandle, error) {
	if maxAttempts <= 0 {
		maxAttempts = w.policy.SubmitAttempts
	}

	w.logger.Info("Submitting job",
		slog.String("job_name", req.Name),
		slog.String("correlation_id", req.CorrelationID),
		slog.String("start_date", req.StartDate.Format(domain.DateFormat)),
		slog.String("end_date", req.EndDate.Format(domain.DateFormat)),
	)
	w.record(ctx, req, domain.JobHandle{}, domain.RunStateCreated)

	var (
		remoteJobID string
		attempts    int
		lastErr     error
	)
	operation := func() error {
		if attempts > 0 && budgetSpent(w.clock, deadline) {
			return backoff.Permanent(lastErr)
		}

		attempts++
		id, err := w.client.Submit(ctx, req)
		if err == nil {
			remoteJobID = id
			return nil
		}
		lastErr = err

		var subErr *domain.SubmissionError
		if errors.As(err, &subErr) {
			return err
		}
		// Invalid requests and encoding failures will not improve on retry.
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		w.logger.Warn("Job submission attempt failed, retrying",
			slog.String("correlation_id", req.CorrelationID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("retry_after", next),
			slog.String("error", err.Error()),
		)
	}

	policy := backoff.WithContext(
		&budgetBackOff{
			BackOff:  backoff.WithMaxRetries(&quadraticBackOff{base: w.policy.SubmitBaseDelay}, uint64(maxAttempts-1)),
			clock:    w.clock,
			deadline: deadline,
		},
		ctx,
	)

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, newClockTimer(ctx, w.clock))
	if err != nil {
		var subErr *domain.SubmissionError
		if errors.As(err, &subErr) {
			subErr.Attempts = attempts
		}

		if ctx.Err() == nil && budgetSpent(w.clock, deadline) {
			w.logger.Error("Job submission ran out of time budget",
				slog.String("correlation_id", req.CorrelationID),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
			return domain.JobHandle{}, fmt.Errorf("%w: %w", errBudgetExhausted, err)
		}

		w.logger.Error("Job submission failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		w.record(ctx, req, domain.JobHandle{}, domain.RunStateFailed, func(r *domain.RunRecord) {
			r.ErrorMessage = err.Error()
		})

		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return domain.JobHandle{}, fmt.Errorf("job submission interrupted: %w", ctxErr)
		}
		return domain.JobHandle{}, err
	}

	handle := domain.JobHandle{
		RemoteJobID:   remoteJobID,
		CorrelationID: req.CorrelationID,
		SubmittedAt:   w.clock.Now(),
	}

	w.logger.Info("Job submitted successfully",
		slog.String("job_name", req.Name),
		slog.String("remote_job_id", remoteJobID),
		slog.String("correlation_id", req.CorrelationID),
		slog.Int("attempts", attempts),
	)
	w.record(ctx, req, handle, domain.RunStateSubmitted)

	return handle, nil
}
