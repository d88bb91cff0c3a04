// Package exportapi is a thin client for the RITIS PDA export endpoints.
// Each method performs exactly one HTTP call; retry and polling policy
// live in the worker package.
package exportapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

const (
	defaultBaseURL = "https://pda-api.ritis.org"
	defaultVersion = "v2"

	// maxErrorBody caps how much of an error response is kept for error values.
	maxErrorBody = 64 << 10
)

// Client talks to the remote export service.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
	insecure   bool
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the service root, e.g. for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithVersion sets the API version path segment.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithHTTPClient sets the HTTP client. It takes precedence over
// WithInsecureSkipVerify and WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithInsecureSkipVerify disables TLS certificate verification for this
// client only.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) { c.insecure = skip }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		version: defaultVersion,
		timeout: 5 * time.Minute,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per client
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: c.timeout}
	}
	return c
}

func (c *Client) endpoint(path string, query url.Values) string {
	query.Set("key", c.apiKey)
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.version, path, query.Encode())
}

// Submit posts an export job and returns the remote job ID.
func (c *Client) Submit(ctx context.Context, req domain.ExportJobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(newSubmitBody(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("submit/export", url.Values{}), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Submitting export job",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("start_date", req.StartDate.Format(domain.DateFormat)),
		slog.String("end_date", req.EndDate.Format(domain.DateFormat)),
		slog.Int("segments", len(req.SegmentIDs)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.SubmissionError{Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.SubmissionError{
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp.Body),
			Attempts:   1,
		}
	}

	// The job may exist remotely from here on; a malformed reply is not a
	// SubmissionError so that the same uuid is never posted twice.
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("Submit accepted but response unreadable, job may exist remotely",
			slog.String("correlation_id", req.CorrelationID),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: failed to decode submit response for %s: %v", domain.ErrMalformedResponse, req.CorrelationID, err)
	}
	if out.ID.String() == "" {
		c.logger.Warn("Submit accepted without a job id, job may exist remotely",
			slog.String("correlation_id", req.CorrelationID),
			slog.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("%w: submit response for %s has no job id", domain.ErrMalformedResponse, req.CorrelationID)
	}

	return out.ID.String(), nil
}

// CheckStatus fetches the state of a remote job. HTTP 429 yields a
// RATE_LIMITED status rather than an error.
func (c *Client) CheckStatus(ctx context.Context, remoteJobID string) (domain.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("jobs/status", url.Values{"jobId": {remoteJobID}}), nil)
	if err != nil {
		return domain.Status{}, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Status{}, &domain.StatusError{RemoteJobID: remoteJobID, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return domain.Status{}, &domain.StatusError{
				RemoteJobID: remoteJobID,
				StatusCode:  resp.StatusCode,
				Err:         fmt.Errorf("failed to decode status response: %w", err),
			}
		}
		status := domain.Status{State: domain.JobState(strings.ToUpper(out.State)), Progress: out.Progress}
		if status.Progress != nil {
			c.logger.Debug("Job progress",
				slog.String("remote_job_id", remoteJobID),
				slog.String("state", string(status.State)),
				slog.Float64("progress", *status.Progress),
			)
		}
		return status, nil

	case http.StatusTooManyRequests:
		c.logger.Warn("Status check rate limited",
			slog.String("remote_job_id", remoteJobID),
			slog.String("body", readErrorBody(resp.Body)),
		)
		return domain.Status{State: domain.JobStateRateLimited}, nil

	default:
		return domain.Status{}, &domain.StatusError{
			RemoteJobID: remoteJobID,
			StatusCode:  resp.StatusCode,
			Body:        readErrorBody(resp.Body),
		}
	}
}

// FetchResult opens the result archive of a succeeded job. The caller must
// close the returned stream.
func (c *Client) FetchResult(ctx context.Context, correlationID string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("results/export", url.Values{"uuid": {correlationID}}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build results request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.DownloadError{CorrelationID: correlationID, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &domain.DownloadError{
			CorrelationID: correlationID,
			StatusCode:    resp.StatusCode,
			Body:          readErrorBody(resp.Body),
		}
	}

	return resp.Body, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	return strings.TrimSpace(string(b))
}
