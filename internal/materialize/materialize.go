// Package materialize turns downloaded export archives into Parquet files.
package materialize

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/parquet-go/parquet-go"

	"github.com/cuongbtq/traffic-export/internal/fsutil"
	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// Extension is appended to every artifact name.
const Extension = ".parquet"

const rowBatchSize = 1024

// Config holds materializer configuration
type Config struct {
	OutputDir string
	TempDir   string // defaults to os.TempDir()
	EntryName string // defaults to domain.ReadingsEntry
	Logger    *slog.Logger
}

// Materializer converts result archives into columnar files under OutputDir.
type Materializer struct {
	outputDir string
	tempDir   string
	entryName string
	logger    *slog.Logger
}

// New creates a Materializer, creating the output directory if needed.
func New(cfg *Config) (*Materializer, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m := &Materializer{
		outputDir: cfg.OutputDir,
		tempDir:   cfg.TempDir,
		entryName: cfg.EntryName,
		logger:    cfg.Logger,
	}
	if m.entryName == "" {
		m.entryName = domain.ReadingsEntry
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// ArtifactPath returns where the artifact for outputName is published.
func (m *Materializer) ArtifactPath(outputName string) string {
	return filepath.Join(m.outputDir, outputName+Extension)
}

// Materialize reads a ZIP archive from r and publishes its readings entry
// as <outputName>.parquet. Either the complete file appears at the final
// path or nothing does; scratch files are removed on every path.
func (m *Materializer) Materialize(ctx context.Context, r io.Reader, outputName string) (artifact domain.Artifact, err error) {
	defer func() {
		if err != nil {
			err = &domain.MaterializeError{OutputName: outputName, Err: err}
		}
	}()

	if err := validateName(outputName); err != nil {
		return domain.Artifact{}, err
	}

	// Step 1: Spool the archive; zip needs random access.
	archive, cleanupArchive, err := m.spool(r, "export-*.zip")
	if err != nil {
		return domain.Artifact{}, err
	}
	defer cleanupArchive()

	// Step 2: Extract the readings entry to a scoped temp file
	readings, cleanupReadings, err := m.extract(archive)
	if err != nil {
		return domain.Artifact{}, err
	}
	defer cleanupReadings()

	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}

	// Step 3: Infer the column types
	schema, err := inferSchema(readings)
	if err != nil {
		return domain.Artifact{}, err
	}

	// Step 4: Convert and publish atomically
	finalPath := m.ArtifactPath(outputName)
	rows, err := m.convert(ctx, readings, schema, finalPath)
	if err != nil {
		return domain.Artifact{}, err
	}

	m.logger.Info("Saved parquet file",
		slog.String("path", finalPath),
		slog.Int64("rows", rows),
		slog.Int("columns", len(schema.columns)),
	)

	return domain.Artifact{Path: finalPath, Rows: rows}, nil
}

// spool copies r into a temp file and returns it rewound.
func (m *Materializer) spool(r io.Reader, pattern string) (*os.File, func(), error) {
	f, err := os.CreateTemp(m.tempDir, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		var result *multierror.Error
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			result = multierror.Append(result, cerr)
		}
		if rerr := os.Remove(f.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			result = multierror.Append(result, rerr)
		}
		if result.ErrorOrNil() != nil {
			m.logger.Warn("Failed to clean up temp file",
				slog.String("path", f.Name()),
				slog.Any("error", result),
			)
		}
	}

	if r != nil {
		if _, err := io.Copy(f, r); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}
	return f, cleanup, nil
}

func (m *Materializer) extract(archive *os.File) (*os.File, func(), error) {
	info, err := archive.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	zr, err := zip.NewReader(archive, info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open zip archive: %w", err)
	}

	entry := findEntry(zr, m.entryName)
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, m.entryName)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer rc.Close()

	return m.spool(rc, "readings-*.csv")
}

// findEntry prefers an exact name match and falls back to a nested entry
// with the same base name.
func findEntry(zr *zip.Reader, name string) *zip.File {
	var nested *zip.File
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
		if nested == nil && path.Base(f.Name) == name {
			nested = f
		}
	}
	return nested
}

func (m *Materializer) convert(ctx context.Context, readings *os.File, schema *tableSchema, finalPath string) (int64, error) {
	if _, err := readings.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind readings: %w", err)
	}

	out, err := fsutil.CreateAtomic(finalPath, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		if aerr := out.Abort(); aerr != nil {
			m.logger.Warn("Failed to discard partial output",
				slog.String("path", finalPath),
				slog.Any("error", aerr),
			)
		}
	}()

	reader := newCSVReader(readings)
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	writer := parquet.NewWriter(out, schema.parquet)
	batch := make([]parquet.Row, 0, rowBatchSize)
	var rows int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
		rows += int64(len(batch))
		batch = batch[:0]
		return ctx.Err()
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read csv row %d: %w", rows+int64(len(batch))+1, err)
		}

		row, err := schema.row(record)
		if err != nil {
			return 0, fmt.Errorf("invalid csv row %d: %w", rows+int64(len(batch))+1, err)
		}
		batch = append(batch, row)

		if len(batch) == rowBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish parquet file: %w", err)
	}

	if err := out.Commit(); err != nil {
		return 0, err
	}
	return rows, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	return reader
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("output name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("output name %q must not contain path separators", name)
	}
	return nil
}
