package materialize

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

func newTestMaterializer(t *testing.T) (*Materializer, string, string) {
	t.Helper()

	outputDir := filepath.Join(t.TempDir(), "out")
	tempDir := t.TempDir()

	m, err := New(&Config{
		OutputDir: outputDir,
		TempDir:   tempDir,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return m, outputDir, tempDir
}

func readingsCSV(rows int) string {
	var b strings.Builder
	b.WriteString("xd_id,measurement_tstamp,speed,historical_average_speed,confidence_score,cvalue,is_closed\n")
	for i := 0; i < rows; i++ {
		cvalue := fmt.Sprintf("%d.5", 90+i%10)
		if i%3 == 0 {
			cvalue = ""
		}
		fmt.Fprintf(&b, "%d,2024-01-02 00:%02d:00,%d,%d.25,30,%s,%t\n", 1236893704+i, i, 40+i, 38+i, cvalue, i%2 == 0)
	}
	return b.String()
}

func zipArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func openParquet(t *testing.T, path string) *parquet.File {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	info, err := f.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)
	return pf
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected %s to be empty", dir)
}

func TestMaterialize(t *testing.T) {
	m, outputDir, tempDir := newTestMaterializer(t)

	archive := zipArchive(t, map[string]string{
		"Readings.csv": readingsCSV(10),
		"Contents.txt": "export metadata",
	})

	artifact, err := m.Materialize(context.Background(), bytes.NewReader(archive), "2024-01-02")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outputDir, "2024-01-02.parquet"), artifact.Path)
	assert.Equal(t, int64(10), artifact.Rows)

	pf := openParquet(t, artifact.Path)
	assert.Equal(t, int64(10), pf.NumRows())

	kinds := map[string]parquet.Kind{
		"xd_id":                    parquet.Int64,
		"speed":                    parquet.Int64,
		"historical_average_speed": parquet.Double,
		"cvalue":                   parquet.Double,
		"is_closed":                parquet.Boolean,
		"measurement_tstamp":       parquet.ByteArray,
	}
	for name, kind := range kinds {
		leaf, ok := pf.Schema().Lookup(name)
		require.True(t, ok, "column %s missing", name)
		assert.Equal(t, kind, leaf.Node.Type().Kind(), "column %s", name)
		assert.True(t, leaf.Node.Optional(), "column %s", name)
	}

	// Leaf columns keep the CSV header order.
	var order []string
	for _, path := range pf.Schema().Columns() {
		order = append(order, path[0])
	}
	assert.Equal(t, []string{
		"xd_id", "measurement_tstamp", "speed", "historical_average_speed",
		"confidence_score", "cvalue", "is_closed",
	}, order)

	reader := pf.RowGroups()[0].Rows()
	defer reader.Close()
	rows := make([]parquet.Row, 1)
	n, err := reader.ReadRows(rows)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, 1, n)
	assert.Equal(t, int64(1236893704), rows[0][0].Int64())
	assert.Equal(t, "2024-01-02 00:00:00", rows[0][1].String())
	assert.True(t, rows[0][5].IsNull(), "first cvalue is empty")

	// Only the artifact is left behind.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-01-02.parquet", entries[0].Name())
	assertDirEmpty(t, tempDir)
}

func TestMaterialize_NestedEntry(t *testing.T) {
	m, _, _ := newTestMaterializer(t)

	archive := zipArchive(t, map[string]string{
		"export/Readings.csv": readingsCSV(3),
	})

	artifact, err := m.Materialize(context.Background(), bytes.NewReader(archive), "nested")
	require.NoError(t, err)
	assert.Equal(t, int64(3), artifact.Rows)
}

func TestMaterialize_HeaderOnly(t *testing.T) {
	m, _, _ := newTestMaterializer(t)

	archive := zipArchive(t, map[string]string{
		"Readings.csv": "xd_id,speed\n",
	})

	artifact, err := m.Materialize(context.Background(), bytes.NewReader(archive), "empty-day")
	require.NoError(t, err)
	assert.Equal(t, int64(0), artifact.Rows)

	pf := openParquet(t, artifact.Path)
	assert.Equal(t, int64(0), pf.NumRows())
	assert.Len(t, pf.Schema().Columns(), 2)
}

func TestMaterialize_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       func(t *testing.T) io.Reader
		outputName string
		wantIs     error
		wantMsg    string
	}{
		{
			name: "missing readings entry",
			body: func(t *testing.T) io.Reader {
				return bytes.NewReader(zipArchive(t, map[string]string{"Other.csv": "a\n1\n"}))
			},
			outputName: "2024-01-02",
			wantIs:     domain.ErrEntryNotFound,
		},
		{
			name: "not a zip archive",
			body: func(t *testing.T) io.Reader {
				return strings.NewReader("definitely not a zip")
			},
			outputName: "2024-01-02",
			wantMsg:    "failed to open zip archive",
		},
		{
			name: "ragged csv",
			body: func(t *testing.T) io.Reader {
				return bytes.NewReader(zipArchive(t, map[string]string{"Readings.csv": "a,b\n1,2\n3\n"}))
			},
			outputName: "2024-01-02",
			wantMsg:    "failed to scan readings",
		},
		{
			name: "duplicate header",
			body: func(t *testing.T) io.Reader {
				return bytes.NewReader(zipArchive(t, map[string]string{"Readings.csv": "a,a\n1,2\n"}))
			},
			outputName: "2024-01-02",
			wantMsg:    "duplicate column",
		},
		{
			name: "path in output name",
			body: func(t *testing.T) io.Reader {
				return bytes.NewReader(zipArchive(t, map[string]string{"Readings.csv": readingsCSV(1)}))
			},
			outputName: "../escape",
			wantMsg:    "must not contain path separators",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, outputDir, tempDir := newTestMaterializer(t)

			_, err := m.Materialize(context.Background(), tt.body(t), tt.outputName)
			require.Error(t, err)

			var matErr *domain.MaterializeError
			require.True(t, errors.As(err, &matErr))
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}

			assertDirEmpty(t, outputDir)
			assertDirEmpty(t, tempDir)
		})
	}
}

func TestMaterialize_Canceled(t *testing.T) {
	m, outputDir, tempDir := newTestMaterializer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := zipArchive(t, map[string]string{"Readings.csv": readingsCSV(5)})
	_, err := m.Materialize(ctx, bytes.NewReader(archive), "2024-01-02")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assertDirEmpty(t, outputDir)
	assertDirEmpty(t, tempDir)
}

func TestMaterialize_ReplacesExisting(t *testing.T) {
	m, _, _ := newTestMaterializer(t)

	first := zipArchive(t, map[string]string{"Readings.csv": readingsCSV(2)})
	_, err := m.Materialize(context.Background(), bytes.NewReader(first), "day")
	require.NoError(t, err)

	second := zipArchive(t, map[string]string{"Readings.csv": readingsCSV(7)})
	artifact, err := m.Materialize(context.Background(), bytes.NewReader(second), "day")
	require.NoError(t, err)

	pf := openParquet(t, artifact.Path)
	assert.Equal(t, int64(7), pf.NumRows())
}

func TestColumnKind_Observe(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   columnKind
	}{
		{name: "ints", values: []string{"1", "-2", "30"}, want: kindInt},
		{name: "int then float", values: []string{"1", "2.5"}, want: kindFloat},
		{name: "float then int", values: []string{"2.5", "1"}, want: kindFloat},
		{name: "bools", values: []string{"true", "FALSE"}, want: kindBool},
		{name: "bool then int", values: []string{"true", "1"}, want: kindString},
		{name: "int then text", values: []string{"1", "abc"}, want: kindString},
		{name: "timestamps", values: []string{"2024-01-02 00:00:00"}, want: kindString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := kindUnknown
			for _, v := range tt.values {
				k = k.observe(v)
			}
			assert.Equal(t, tt.want, k)
		})
	}
}
