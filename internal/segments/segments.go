// Package segments loads the XD segment identifiers an export job covers.
package segments

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load reads a comma-delimited segment list. Line breaks are tolerated,
// surrounding whitespace is trimmed and empty entries are dropped.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segments file: %w", err)
	}
	defer f.Close()

	ids, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse segments file %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("segments file %s contains no segment ids", path)
	}
	return ids, nil
}

// Parse reads segment identifiers from r, preserving their order.
func Parse(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, field := range record {
			if id := strings.TrimSpace(field); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}
