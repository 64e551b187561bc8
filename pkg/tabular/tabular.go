// Package tabular reads and writes the CSV tables that carry all durable
// state: ledger tables, maintenance catalogs, the workorder queue, and the
// cache index. Writes follow the replace-on-success contract: data goes to
// a temp file in the same directory, is fsynced, then renamed over the
// target, so a crash leaves the prior version intact.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMissingHeader is returned when a table has no header row.
var ErrMissingHeader = errors.New("tabular: table has no header row")

// Read parses a CSV table into one map per row, keyed by header. A missing
// file is not an error; it reads as an empty table.
func Read(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tabular: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	if len(header) == 0 {
		return nil, ErrMissingHeader
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteAtomic writes a table with the given header order, atomically.
func WriteAtomic(path string, headers []string, rows []map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tabular: mkdir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("tabular: temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(headers); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("tabular: write header %s: %w", path, err)
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, col := range headers {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("tabular: write row %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("tabular: flush %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("tabular: fsync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tabular: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("tabular: rename %s: %w", path, err)
	}
	return nil
}
