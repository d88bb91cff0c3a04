// Package watermark persists the date through which exports are complete.
package watermark

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/traffic-export/internal/fsutil"
	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

// Store is a single-line watermark file holding "YYYY-MM-DD 00:00:00".
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the watermark file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current watermark date. It returns domain.ErrNoWatermark
// when the file does not exist.
func (s *Store) Load() (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: %s", domain.ErrNoWatermark, s.path)
		}
		return time.Time{}, fmt.Errorf("failed to read watermark file: %w", err)
	}

	wm, err := Parse(string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark file %s: %w", s.path, err)
	}
	return wm, nil
}

// PendingDates returns the dates still to export as of today.
func (s *Store) PendingDates(today time.Time) ([]time.Time, error) {
	wm, err := s.Load()
	if err != nil {
		return nil, err
	}

	dates := PendingDates(wm, today)
	s.logger.Debug("Computed pending dates",
		slog.String("watermark", wm.Format(domain.DateFormat)),
		slog.String("today", Day(today).Format(domain.DateFormat)),
		slog.Int("count", len(dates)),
	)
	return dates, nil
}

// Advance moves the watermark to date. The write is crash-safe: the file
// is either the old or the new value, never partial.
func (s *Store) Advance(date time.Time) error {
	date = Day(date)

	current, err := s.Load()
	if err != nil && !errors.Is(err, domain.ErrNoWatermark) {
		return err
	}
	if err == nil && date.Before(current) {
		return fmt.Errorf("%w: %s is before %s", domain.ErrWatermarkRegression,
			date.Format(domain.DateFormat), current.Format(domain.DateFormat))
	}

	if err := fsutil.WriteFile(s.path, []byte(Format(date)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}

	s.logger.Info("Watermark advanced",
		slog.String("watermark", Format(date)),
		slog.String("path", s.path),
	)
	return nil
}

// Seed writes an initial watermark. An existing watermark is only replaced
// when force is set.
func (s *Store) Seed(date time.Time, force bool) error {
	if _, err := s.Load(); err == nil && !force {
		return fmt.Errorf("watermark %s already exists", s.path)
	}

	date = Day(date)
	if err := fsutil.WriteFile(s.path, []byte(Format(date)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}

	s.logger.Info("Watermark seeded",
		slog.String("watermark", Format(date)),
		slog.String("path", s.path),
	)
	return nil
}

// PendingDates lists the days after wm up to and including the day
// before today, in ascending order.
func PendingDates(wm, today time.Time) []time.Time {
	yesterday := Day(today).AddDate(0, 0, -1)

	var dates []time.Time
	for d := Day(wm).AddDate(0, 0, 1); !d.After(yesterday); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Day truncates t to its calendar date, expressed as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Format renders a watermark line.
func Format(date time.Time) string {
	return Day(date).Format(domain.WatermarkFormat)
}

// Parse reads a watermark line. A bare date is accepted as well.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(domain.WatermarkFormat, s); err == nil {
		return Day(t), nil
	}
	t, err := time.Parse(domain.DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q", s)
	}
	return t, nil
}
