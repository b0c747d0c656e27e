// Package ledger maintains the append-only master CSV catalogs and writes the
// per-run export tables.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"horizon/internal/models"
)

var (
	ErrMissingIDColumn = errors.New("ledger file has no id column")
	ErrColumnMismatch  = errors.New("ledger header does not match the canonical schema")
)

// Columns is the canonical catalog schema. Order is part of the contract:
// downstream importers read these files positionally.
var Columns = []string{
	"id", "project_id", "title", "type", "steep", "dimension", "scope",
	"impact", "ttm", "sentiment", "source", "tags", "text", "magnitude",
	"distance", "color_hex", "feasibility", "urgency", "created_at", "updated_at",
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func recordToRow(r models.Record) []string {
	return []string{
		r.ID, r.ProjectID, r.Title, r.Type, r.Steep, r.Dimension, r.Scope,
		formatFloatPtr(r.Impact), r.TTM, r.Sentiment, r.Source, r.Tags, r.Text,
		formatFloatPtr(r.Magnitude), formatIntPtr(r.Distance), r.ColorHex,
		formatFloatPtr(r.Feasibility), formatFloatPtr(r.Urgency),
		r.CreatedAt, r.UpdatedAt,
	}
}

// ExistingIDs scans a ledger file and returns the set of ids already present.
// A missing file means an empty set.
func ExistingIDs(path string) (map[string]bool, error) {
	ids := make(map[string]bool)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	if len(rows) == 0 {
		return ids, nil
	}

	idCol := -1
	for i, name := range rows[0] {
		if name == "id" {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingIDColumn, path)
	}

	for _, row := range rows[1:] {
		if idCol < len(row) && row[idCol] != "" {
			ids[row[idCol]] = true
		}
	}

	return ids, nil
}

// Append adds records whose ids are not yet in the ledger and returns how many
// were written. The header is written only when the file is new or empty.
func Append(path string, records []models.Record) (int, error) {
	seen, err := ExistingIDs(path)
	if err != nil {
		return 0, err
	}

	var fresh []models.Record
	for _, r := range records {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	needHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		needHeader = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if needHeader {
		if err := writer.Write(Columns); err != nil {
			return 0, fmt.Errorf("failed to write ledger header: %w", err)
		}
	}
	for _, r := range fresh {
		if err := writer.Write(recordToRow(r)); err != nil {
			return 0, fmt.Errorf("failed to write ledger row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush ledger %s: %w", path, err)
	}

	return len(fresh), nil
}

// extraColumns returns the sorted union of the Extra keys across rows.
func extraColumns(rows []models.StagingRow) []string {
	keys := make(map[string]bool)
	for _, row := range rows {
		for k := range row.Extra {
			keys[k] = true
		}
	}
	cols := make([]string, 0, len(keys))
	for k := range keys {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// WriteTable writes rows to path with the canonical columns followed by the
// given extra columns, filled from each row's Extra map.
func WriteTable(path string, rows []models.StagingRow, extra []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	header := append(append([]string{}, Columns...), extra...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", path, err)
	}

	for _, row := range rows {
		out := recordToRow(row.Record)
		for _, k := range extra {
			out = append(out, row.Extra[k])
		}
		if err := writer.Write(out); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}

// WriteExports writes the per-run tables under dir: the full staging table and
// the accepted, review, and rejected partitions. All four share one header,
// the canonical columns plus the sorted union of diagnostic keys.
func WriteExports(dir string, staging, accepted, review, rejected []models.StagingRow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	extra := extraColumns(staging)

	files := []struct {
		name string
		rows []models.StagingRow
	}{
		{"daily_staging.csv", staging},
		{"daily_accepted.csv", accepted},
		{"daily_review.csv", review},
		{"daily_rejected.csv", rejected},
	}
	for _, file := range files {
		if err := WriteTable(filepath.Join(dir, file.name), file.rows, extra); err != nil {
			return err
		}
	}
	return nil
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// ReadTable reads a staging or catalog table back into rows. Canonical
// columns fill the record; anything else lands in Extra.
func ReadTable(path string) ([]models.StagingRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	raw, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	canonical := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		canonical[c] = true
	}

	header := raw[0]
	var rows []models.StagingRow
	for _, line := range raw[1:] {
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(line) {
				fields[name] = line[i]
			}
		}

		row := models.StagingRow{
			Record: models.Record{
				ID:          fields["id"],
				ProjectID:   fields["project_id"],
				Title:       fields["title"],
				Type:        fields["type"],
				Steep:       fields["steep"],
				Dimension:   fields["dimension"],
				Scope:       fields["scope"],
				Impact:      parseFloatPtr(fields["impact"]),
				TTM:         fields["ttm"],
				Sentiment:   fields["sentiment"],
				Source:      fields["source"],
				Tags:        fields["tags"],
				Text:        fields["text"],
				Magnitude:   parseFloatPtr(fields["magnitude"]),
				Distance:    parseIntPtr(fields["distance"]),
				ColorHex:    fields["color_hex"],
				Feasibility: parseFloatPtr(fields["feasibility"]),
				Urgency:     parseFloatPtr(fields["urgency"]),
				CreatedAt:   fields["created_at"],
				UpdatedAt:   fields["updated_at"],
			},
			Extra: make(map[string]string),
		}
		for name, value := range fields {
			if !canonical[name] {
				row.Extra[name] = value
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// ValidateSchema checks that a catalog file begins with the canonical columns
// and that every row covers them. It returns the number of data rows.
func ValidateSchema(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrColumnMismatch, path)
	}

	header := rows[0]
	if len(header) < len(Columns) {
		return 0, fmt.Errorf("%w: %s has %d columns, want at least %d",
			ErrColumnMismatch, path, len(header), len(Columns))
	}
	for i, want := range Columns {
		if header[i] != want {
			return 0, fmt.Errorf("%w: %s column %d is %q, want %q",
				ErrColumnMismatch, path, i, header[i], want)
		}
	}

	for i, row := range rows[1:] {
		if len(row) < len(Columns) {
			return 0, fmt.Errorf("%w: %s row %d has %d fields", ErrColumnMismatch, path, i+2, len(row))
		}
	}

	return len(rows) - 1, nil
}
