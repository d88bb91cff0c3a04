package worker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// ExportClient performs single calls against the remote export service.
type ExportClient interface {
	Submit(ctx context.Context, req domain.ExportJobRequest) (string, error)
	CheckStatus(ctx context.Context, remoteJobID string) (domain.Status, error)
	FetchResult(ctx context.Context, correlationID string) (io.ReadCloser, error)
}

// ResultMaterializer converts a downloaded archive into a published artifact.
type ResultMaterializer interface {
	Materialize(ctx context.Context, r io.Reader, outputName string) (domain.Artifact, error)
}

// WatermarkStore is the resumption checkpoint of the daily batch.
type WatermarkStore interface {
	PendingDates(today time.Time) ([]time.Time, error)
	Advance(date time.Time) error
}

// RunRecorder stores lifecycle transitions for inspection.
type RunRecorder interface {
	RecordRun(ctx context.Context, run domain.RunRecord) error
}

// Notifier announces published artifacts.
type Notifier interface {
	PublishArtifact(ctx context.Context, event domain.ArtifactEvent) error
}

// Policy holds the retry, polling and timeout knobs of a job lifecycle.
type Policy struct {
	PollInterval         time.Duration
	Timeout              time.Duration // wall-clock budget per job, from first submission
	SubmitAttempts       int
	SubmitBaseDelay      time.Duration
	Resubmissions        int // resubmissions allowed after FAILED/KILLED
	RateLimitCooldown    time.Duration
	StatusErrorTolerance int // consecutive status errors tolerated before giving up
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:         60 * time.Second,
		Timeout:              300 * time.Minute,
		SubmitAttempts:       3,
		SubmitBaseDelay:      10 * time.Second,
		Resubmissions:        1,
		RateLimitCooldown:    300 * time.Second,
		StatusErrorTolerance: 0,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.PollInterval <= 0 {
		p.PollInterval = def.PollInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.SubmitAttempts <= 0 {
		p.SubmitAttempts = def.SubmitAttempts
	}
	if p.SubmitBaseDelay < 0 {
		p.SubmitBaseDelay = def.SubmitBaseDelay
	}
	if p.Resubmissions < 0 {
		p.Resubmissions = 0
	}
	if p.RateLimitCooldown <= 0 {
		p.RateLimitCooldown = def.RateLimitCooldown
	}
	if p.StatusErrorTolerance < 0 {
		p.StatusErrorTolerance = 0
	}
	return p
}

// RequestTemplate holds the request fields shared by every job.
type RequestTemplate struct {
	Times             domain.TimeWindow
	DaysOfWeek        []int
	Granularity       domain.Granularity
	Columns           []string
	QualityThresholds []int
	SegmentIDs        []string
	TravelTimeUnits   string
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Client       ExportClient
	Materializer ResultMaterializer
	Watermark    WatermarkStore
	Recorder     RunRecorder // optional
	Notifier     Notifier    // optional
	Clock        Clock       // optional, defaults to RealClock
	Template     RequestTemplate
	Policy       Policy
}

// Worker drives export jobs from submission to a published artifact.
type Worker struct {
	logger       *slog.Logger
	client       ExportClient
	materializer ResultMaterializer
	watermark    WatermarkStore
	recorder     RunRecorder
	notifier     Notifier
	clock        Clock
	template     RequestTemplate
	policy       Policy
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:       cfg.Logger,
		client:       cfg.Client,
		materializer: cfg.Materializer,
		watermark:    cfg.Watermark,
		recorder:     cfg.Recorder,
		notifier:     cfg.Notifier,
		clock:        cfg.Clock,
		template:     cfg.Template,
		policy:       cfg.Policy.withDefaults(),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.clock == nil {
		w.clock = RealClock()
	}
	return w
}

// Policy returns the effective policy after defaults.
func (w *Worker) Policy() Policy {
	return w.policy
}

// NewRequest builds a request for [start, end) from the template with a
// fresh correlation ID.
func (w *Worker) NewRequest(name string, start, end time.Time) domain.ExportJobRequest {
	t := w.template
	dow := t.DaysOfWeek
	if len(dow) == 0 {
		dow = domain.AllDaysOfWeek
	}
	return domain.ExportJobRequest{
		CorrelationID:     domain.NewCorrelationID(),
		Name:              name,
		StartDate:         start,
		EndDate:           end,
		Times:             t.Times,
		DaysOfWeek:        append([]int(nil), dow...),
		Granularity:       t.Granularity,
		Columns:           append([]string(nil), t.Columns...),
		QualityThresholds: append([]int(nil), t.QualityThresholds...),
		SegmentIDs:        append([]string(nil), t.SegmentIDs...),
		TravelTimeUnits:   t.TravelTimeUnits,
	}
}

// SanitizeJobName makes an ad-hoc job name safe for use as a file name.
func SanitizeJobName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ":", "")
	name = strings.ReplaceAll(name, "/", "-")
	return strings.ReplaceAll(name, `\`, "-")
}

// sleep waits for d, clipped to the time left before deadline.
func (w *Worker) sleep(ctx context.Context, d time.Duration, deadline time.Time) error {
	if remaining := deadline.Sub(w.clock.Now()); remaining < d {
		d = remaining
	}
	if d <= 0 {
		return ctx.Err()
	}
	return w.clock.Sleep(ctx, d)
}

// record stores a lifecycle transition. Failures are logged only: the
// watermark file, not the run history, is the resumption checkpoint.
func (w *Worker) record(ctx context.Context, req domain.ExportJobRequest, handle domain.JobHandle, state string, mutate ...func(*domain.RunRecord)) {
	if w.recorder == nil {
		return
	}

	run := domain.RunRecord{
		CorrelationID: req.CorrelationID,
		RemoteJobID:   handle.RemoteJobID,
		JobName:       req.Name,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		State:         state,
		SubmittedAt:   handle.SubmittedAt,
		UpdatedAt:     w.clock.Now(),
	}
	for _, m := range mutate {
		m(&run)
	}

	if err := w.recorder.RecordRun(ctx, run); err != nil {
		w.logger.Warn("Failed to record run state",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
	}
}
