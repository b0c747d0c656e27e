package ledger

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"horizon/internal/models"
)

func testRecord(id string) models.Record {
	return models.Record{
		ID:        id,
		ProjectID: "proj-1",
		Title:     "Record " + id,
		Type:      "S",
		Steep:     "Technological",
		Dimension: "Energy",
		Scope:     "signals",
		Impact:    models.Float(7),
		Sentiment: "Neutral",
		Source:    "https://example.com/" + id,
		Text:      "Body text for " + id,
		Magnitude: models.Float(6.43),
		Distance:  models.Int(6),
		ColorHex:  "#94A3B8",
		CreatedAt: "2025-06-01T00:00:00Z",
		UpdatedAt: "2025-06-01T00:00:00Z",
	}
}

func readAllRows(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}

	return rows
}

func TestAppend_NewFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")

	added, err := Append(path, []models.Record{testRecord("a"), testRecord("b")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if added != 2 {
		t.Errorf("Expected 2 rows added, got %d", added)
	}

	rows := readAllRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(rows))
	}

	if !reflect.DeepEqual(rows[0], Columns) {
		t.Errorf("Header mismatch: %v", rows[0])
	}
}

func TestAppend_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")

	if _, err := Append(path, []models.Record{testRecord("a"), testRecord("b")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Re-appending the same ids adds nothing.
	added, err := Append(path, []models.Record{testRecord("a"), testRecord("b")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if added != 0 {
		t.Errorf("Expected 0 rows on re-append, got %d", added)
	}

	// A mixed batch adds only the unseen ids.
	added, err = Append(path, []models.Record{testRecord("b"), testRecord("c"), testRecord("d")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if added != 2 {
		t.Errorf("Expected 2 of 3 rows added, got %d", added)
	}

	rows := readAllRows(t, path)
	if len(rows) != 5 {
		t.Errorf("Expected header plus 4 rows, got %d lines", len(rows))
	}

	// The header appears exactly once.
	headerCount := 0
	for _, row := range rows {
		if len(row) > 0 && row[0] == "id" {
			headerCount++
		}
	}

	if headerCount != 1 {
		t.Errorf("Expected exactly one header line, got %d", headerCount)
	}
}

func TestAppend_SkipsEmptyIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")

	rec := testRecord("")
	added, err := Append(path, []models.Record{rec})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if added != 0 {
		t.Errorf("Expected records without ids skipped, got %d added", added)
	}
}

func TestAppend_NullableColumnsExportEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")

	rec := testRecord("a")
	rec.Magnitude = nil
	rec.Distance = nil
	rec.Feasibility = nil

	if _, err := Append(path, []models.Record{rec}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows := readAllRows(t, path)
	row := rows[1]

	// magnitude is column 13, distance 14, feasibility 16.
	if row[13] != "" || row[14] != "" || row[16] != "" {
		t.Errorf("Expected empty cells for nil columns, got %q/%q/%q", row[13], row[14], row[16])
	}

	if row[7] != "7" {
		t.Errorf("Expected impact rendered without trailing zeros, got %q", row[7])
	}
}

func TestExistingIDs_MissingFile(t *testing.T) {
	ids, err := ExistingIDs(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("ExistingIDs failed: %v", err)
	}

	if len(ids) != 0 {
		t.Errorf("Expected empty set for missing file, got %d", len(ids))
	}
}

func TestExistingIDs_NoIDColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("name,value\na,1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := ExistingIDs(path); !errors.Is(err, ErrMissingIDColumn) {
		t.Errorf("Expected ErrMissingIDColumn, got %v", err)
	}
}

func TestWriteExports_SharedHeaderWithSortedExtras(t *testing.T) {
	dir := t.TempDir()

	accepted := models.StagingRow{
		Record: testRecord("a"),
		Extra:  map[string]string{"decision": "accept", "priority_index": "72.5"},
	}
	rejected := models.StagingRow{
		Record: testRecord("b"),
		Extra:  map[string]string{"decision": "reject", "duplicate_flag": "true"},
	}
	staging := []models.StagingRow{accepted, rejected}

	err := WriteExports(dir, staging,
		[]models.StagingRow{accepted}, nil, []models.StagingRow{rejected})
	if err != nil {
		t.Fatalf("WriteExports failed: %v", err)
	}

	wantHeader := append(append([]string{}, Columns...), "decision", "duplicate_flag", "priority_index")

	for _, name := range []string{"daily_staging.csv", "daily_accepted.csv", "daily_review.csv", "daily_rejected.csv"} {
		rows := readAllRows(t, filepath.Join(dir, name))
		if !reflect.DeepEqual(rows[0], wantHeader) {
			t.Errorf("%s header = %v, want %v", name, rows[0], wantHeader)
		}
	}

	staged := readAllRows(t, filepath.Join(dir, "daily_staging.csv"))
	if len(staged) != 3 {
		t.Fatalf("Expected 2 staging rows, got %d", len(staged)-1)
	}

	// Missing extra keys render as empty cells.
	decisionCol := len(Columns)
	if staged[1][decisionCol] != "accept" || staged[2][decisionCol] != "reject" {
		t.Errorf("Unexpected decision cells: %q, %q", staged[1][decisionCol], staged[2][decisionCol])
	}

	if staged[1][decisionCol+1] != "" || staged[2][decisionCol+1] != "true" {
		t.Errorf("Unexpected duplicate_flag cells: %q, %q", staged[1][decisionCol+1], staged[2][decisionCol+1])
	}
}

func TestReadTable_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")

	original := []models.StagingRow{
		{
			Record: testRecord("a"),
			Extra:  map[string]string{"decision": "review", "priority_index": "51.2"},
		},
	}

	if err := WriteTable(path, original, []string{"decision", "priority_index"}); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}

	rows, err := ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}

	got := rows[0]
	if got.Record.ID != "a" || got.Record.Title != "Record a" {
		t.Errorf("Record fields lost: %+v", got.Record)
	}

	if got.Record.Magnitude == nil || *got.Record.Magnitude != 6.43 {
		t.Errorf("Expected magnitude 6.43, got %v", got.Record.Magnitude)
	}

	if got.Record.Distance == nil || *got.Record.Distance != 6 {
		t.Errorf("Expected distance 6, got %v", got.Record.Distance)
	}

	if got.Record.Feasibility != nil {
		t.Errorf("Expected nil feasibility, got %v", got.Record.Feasibility)
	}

	if got.Extra["decision"] != "review" || got.Extra["priority_index"] != "51.2" {
		t.Errorf("Extra fields lost: %v", got.Extra)
	}
}

func TestValidateSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")

	if _, err := Append(path, []models.Record{testRecord("a"), testRecord("b")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count, err := ValidateSchema(path)
	if err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}

	if count != 2 {
		t.Errorf("Expected 2 data rows, got %d", count)
	}
}

func TestValidateSchema_WrongColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := strings.Join([]string{"id,title,other", "a,b,c"}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := ValidateSchema(path); !errors.Is(err, ErrColumnMismatch) {
		t.Errorf("Expected ErrColumnMismatch, got %v", err)
	}
}

func TestValidateSchema_AllowsExtraColumns(t *testing.T) {
	// Staging tables carry diagnostic columns after the canonical ones.
	dir := t.TempDir()
	path := filepath.Join(dir, "staging.csv")

	rows := []models.StagingRow{{Record: testRecord("a"), Extra: map[string]string{"decision": "accept"}}}
	if err := WriteTable(path, rows, []string{"decision"}); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}

	count, err := ValidateSchema(path)
	if err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}

	if count != 1 {
		t.Errorf("Expected 1 data row, got %d", count)
	}
}
