package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/traffic-export/internal/exportapi"
	"github.com/cuongbtq/traffic-export/internal/materialize"
	"github.com/cuongbtq/traffic-export/internal/watermark"
	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

var batchToday = time.Date(2024, 1, 4, 9, 30, 0, 0, time.UTC)

type fakeMaterializer struct {
	mu     sync.Mutex
	names  []string
	failOn map[string]error
}

func (m *fakeMaterializer) Materialize(_ context.Context, r io.Reader, outputName string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.names = append(m.names, outputName)
	if err := m.failOn[outputName]; err != nil {
		return domain.Artifact{}, &domain.MaterializeError{OutputName: outputName, Err: err}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Path: "/out/" + outputName + ".parquet", Rows: 10}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.ArtifactEvent
	err    error
}

func (n *fakeNotifier) PublishArtifact(_ context.Context, event domain.ArtifactEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func seedWatermark(t *testing.T, content string) *watermark.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "last_run.txt")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return watermark.NewStore(path, discardLogger())
}

func readWatermark(t *testing.T, store *watermark.Store) string {
	t.Helper()

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func newBatchWorker(client *fakeClient, m ResultMaterializer, store WatermarkStore, n Notifier) *Worker {
	return NewWorker(&Config{
		Logger:       discardLogger(),
		Client:       client,
		Materializer: m,
		Watermark:    store,
		Notifier:     n,
		Clock:        newFakeClock(),
		Template:     testTemplate(),
		Policy:       DefaultPolicy(),
	})
}

func TestRunBatch(t *testing.T) {
	client := &fakeClient{archive: []byte("zip")}
	m := &fakeMaterializer{}
	n := &fakeNotifier{}
	store := seedWatermark(t, "2024-01-01 00:00:00\n")

	w := newBatchWorker(client, m, store, n)
	result, err := w.RunBatch(context.Background(), batchToday)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, m.names)
	assert.Len(t, result.Pending, 2)
	assert.Equal(t, result.Pending, result.Completed)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, "/out/2024-01-03.parquet", result.Artifacts[1].Path)
	assert.Equal(t, "2024-01-03 00:00:00", readWatermark(t, store))

	// One request per day, [D, D+1).
	require.Len(t, client.submitted, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), client.submitted[0].StartDate)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), client.submitted[0].EndDate)
	assert.Equal(t, []string{client.submitted[0].CorrelationID, client.submitted[1].CorrelationID}, client.fetched)

	require.Len(t, n.events, 2)
	assert.Equal(t, "2024-01-02", n.events[0].Date)
	assert.Equal(t, "job-1", n.events[0].RemoteJobID)
	assert.Equal(t, int64(10), n.events[0].Rows)
}

func TestRunBatch_UpToDate(t *testing.T) {
	client := &fakeClient{}
	store := seedWatermark(t, "2024-01-03 00:00:00\n")

	w := newBatchWorker(client, &fakeMaterializer{}, store, nil)
	result, err := w.RunBatch(context.Background(), batchToday)
	require.NoError(t, err)

	assert.Empty(t, result.Pending)
	assert.Zero(t, client.submitCalls)
	assert.Equal(t, "2024-01-03 00:00:00", readWatermark(t, store))
}

func TestRunBatch_NoWatermark(t *testing.T) {
	client := &fakeClient{}
	w := newBatchWorker(client, &fakeMaterializer{}, seedWatermark(t, ""), nil)

	_, err := w.RunBatch(context.Background(), batchToday)
	require.ErrorIs(t, err, domain.ErrNoWatermark)
	assert.Zero(t, client.submitCalls)
}

func TestRunBatch_FailureAbortsAndResumes(t *testing.T) {
	store := seedWatermark(t, "2023-12-31 00:00:00\n")
	crash := errors.New("disk full")

	// First run: the second date fails to materialize.
	client := &fakeClient{archive: []byte("zip")}
	m := &fakeMaterializer{failOn: map[string]error{"2024-01-02": crash}}
	w := newBatchWorker(client, m, store, nil)

	result, err := w.RunBatch(context.Background(), batchToday)
	require.Error(t, err)

	var matErr *domain.MaterializeError
	require.ErrorAs(t, err, &matErr)
	assert.ErrorIs(t, err, crash)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, m.names, "dates after the failure must not be attempted")
	assert.Len(t, result.Completed, 1)
	assert.Equal(t, "2024-01-01 00:00:00", readWatermark(t, store))

	// Second run picks up the failed date.
	m = &fakeMaterializer{}
	w = newBatchWorker(&fakeClient{archive: []byte("zip")}, m, store, nil)

	_, err = w.RunBatch(context.Background(), batchToday)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, m.names)
	assert.Equal(t, "2024-01-03 00:00:00", readWatermark(t, store))
}

func TestRunBatch_TerminalErrorsLeaveWatermark(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeClient
		checkFn func(t *testing.T, err error)
	}{
		{
			name: "job failed",
			client: &fakeClient{statuses: []statusReply{
				{status: domain.Status{State: domain.JobStateFailed}},
			}},
			checkFn: func(t *testing.T, err error) {
				var target *domain.JobFailedError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name:   "download failed",
			client: &fakeClient{fetchErr: &domain.DownloadError{CorrelationID: "x", StatusCode: 404, Body: "not found"}},
			checkFn: func(t *testing.T, err error) {
				var target *domain.DownloadError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "submission rejected",
			client: &fakeClient{submitErrs: []error{
				rejected(401, "bad key"), rejected(401, "bad key"), rejected(401, "bad key"),
			}},
			checkFn: func(t *testing.T, err error) {
				var target *domain.SubmissionError
				assert.ErrorAs(t, err, &target)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedWatermark(t, "2024-01-01 00:00:00\n")
			m := &fakeMaterializer{}
			n := &fakeNotifier{}
			w := newBatchWorker(tt.client, m, store, n)

			_, err := w.RunBatch(context.Background(), batchToday)
			require.Error(t, err)
			tt.checkFn(t, err)

			assert.Empty(t, m.names)
			assert.Empty(t, n.events)
			assert.Equal(t, "2024-01-01 00:00:00", readWatermark(t, store))
		})
	}
}

func TestRunBatch_NotifierFailureIsNotFatal(t *testing.T) {
	store := seedWatermark(t, "2024-01-02 00:00:00\n")
	n := &fakeNotifier{err: errors.New("broker unreachable")}
	w := newBatchWorker(&fakeClient{archive: []byte("zip")}, &fakeMaterializer{}, store, n)

	_, err := w.RunBatch(context.Background(), batchToday)
	require.NoError(t, err)
	assert.Len(t, n.events, 1)
	assert.Equal(t, "2024-01-03 00:00:00", readWatermark(t, store))
}

func TestRunSingle(t *testing.T) {
	client := &fakeClient{archive: []byte("zip")}
	m := &fakeMaterializer{}
	store := seedWatermark(t, "2024-01-01 00:00:00\n")
	w := newBatchWorker(client, m, store, nil)

	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)

	artifact, err := w.RunSingle(context.Background(), start, end, "June 2023: I-95")
	require.NoError(t, err)

	assert.Equal(t, "/out/June_2023_I-95.parquet", artifact.Path)
	assert.Equal(t, []string{"June_2023_I-95"}, m.names)
	require.Len(t, client.submitted, 1)
	assert.Equal(t, start, client.submitted[0].StartDate)
	assert.Equal(t, end, client.submitted[0].EndDate)
	assert.Equal(t, "2024-01-01 00:00:00", readWatermark(t, store), "ad-hoc runs never touch the watermark")
}

func TestRunSingle_InvalidWindow(t *testing.T) {
	client := &fakeClient{}
	w := newBatchWorker(client, &fakeMaterializer{}, nil, nil)

	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := w.RunSingle(context.Background(), day, day, "empty")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, client.submitCalls)
}

func readingsArchive(t *testing.T, rows int) []byte {
	t.Helper()

	var csv strings.Builder
	csv.WriteString("xd_id,measurement_tstamp,speed,travel_time_minutes,confidence_score\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&csv, "%d,2024-01-02 %02d:00:00,%d.5,1.2%d,30\n", 1236893704+i, i, 50+i, i)
	}

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	f, err := zw.Create(domain.ReadingsEntry)
	require.NoError(t, err)
	_, err = f.Write([]byte(csv.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRunBatch_EndToEnd(t *testing.T) {
	archive := readingsArchive(t, 10)

	var (
		mu      sync.Mutex
		nextID  int
		uuids   = map[string]bool{}
		polls   int
		fetches int
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/submit/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		var body struct {
			UUID  string `json:"uuid"`
			Dates []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"dates"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		nextID++
		id := nextID
		uuids[body.UUID] = true
		mu.Unlock()

		fmt.Fprintf(w, `{"id": %d}`, id)
	})
	mux.HandleFunc("/v2/jobs/status", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		// Every job reports RUNNING once before it succeeds.
		if n%2 == 1 {
			fmt.Fprint(w, `{"state": "RUNNING", "progress": 50}`)
			return
		}
		fmt.Fprint(w, `{"state": "SUCCEEDED", "progress": 100}`)
	})
	mux.HandleFunc("/v2/results/export", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		known := uuids[r.URL.Query().Get("uuid")]
		mu.Unlock()

		if !known {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	outputDir := filepath.Join(t.TempDir(), "parquet")
	m, err := materialize.New(&materialize.Config{
		OutputDir: outputDir,
		TempDir:   t.TempDir(),
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	store := seedWatermark(t, "2024-01-01 00:00:00\n")
	clock := newFakeClock()

	w := NewWorker(&Config{
		Logger:       discardLogger(),
		Client:       exportapi.New("secret", exportapi.WithBaseURL(server.URL), exportapi.WithLogger(discardLogger())),
		Materializer: m,
		Watermark:    store,
		Clock:        clock,
		Template:     testTemplate(),
		Policy:       DefaultPolicy(),
	})

	result, err := w.RunBatch(context.Background(), time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)

	assert.Equal(t, "2024-01-03 00:00:00", readWatermark(t, store))
	assert.Equal(t, 2, fetches)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, clock.Sleeps())

	for _, day := range []string{"2024-01-02", "2024-01-03"} {
		path := filepath.Join(outputDir, day+".parquet")

		f, err := os.Open(path)
		require.NoError(t, err)
		info, err := f.Stat()
		require.NoError(t, err)

		pf, err := parquet.OpenFile(f, info.Size())
		require.NoError(t, err)
		assert.Equal(t, int64(10), pf.NumRows(), day)
		require.NoError(t, f.Close())
	}

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files may remain in the output directory")
}
