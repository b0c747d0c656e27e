package pipeline

import (
	"bufio"
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
	"testing"

	"horizon/internal/capability"
	"horizon/internal/catalog"
	"horizon/internal/config"
	"horizon/internal/ledger"
	"horizon/internal/logger"
	"horizon/internal/models"
)

func quietLogger() *logger.Logger {
	return logger.NewLoggerTo(io.Discard, "error")
}

func testPipelineConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.Sources = filepath.Join(dir, "sources.csv")
	cfg.Paths.Corpus = filepath.Join(dir, "corpus.csv")
	cfg.Paths.OutputRoot = filepath.Join(dir, "out")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Collector.RespectRobots = false
	cfg.Collector.RateLimitSeconds = 0
	cfg.Collector.MinTextLength = 20
	cfg.Collector.Retry.MaxAttempts = 1
	cfg.Capability.Disabled = true

	corpus := strings.Join([]string{
		"id,project_id,title,text,type,scope,dimension,tags",
		`c1,proj-test,Fusion pilot plants,Private fusion ventures broke ground on pilot plants,S,signals,Energy,"[""fusion""]"`,
		`c2,proj-test,Quiet supply chains,Logistics firms run dark warehouses end to end,S,signals,Industry,"[""logistics""]"`,
	}, "\n")
	if err := os.WriteFile(cfg.Paths.Corpus, []byte(corpus), 0644); err != nil {
		t.Fatalf("Failed to write corpus: %v", err)
	}

	return cfg
}

// extractOnlyClient answers the extractor with one candidate per document and
// fails every other role, forcing the deterministic fallbacks.
type extractOnlyClient struct{}

func (extractOnlyClient) Call(_ context.Context, role capability.Role, input any) (json.RawMessage, error) {
	if role != capability.RoleExtractor {
		return nil, capability.ErrUnavailable
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Doc models.Document `json:"doc"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	out := map[string]any{
		"doc_id": envelope.Doc.DocID,
		"candidates": []map[string]any{{
			"candidate_id":  "cand-" + envelope.Doc.ContentHash[:8],
			"title":         "Signal from " + envelope.Doc.CanonicalURL,
			"claim_summary": envelope.Doc.CleanText,
		}},
	}
	return json.Marshal(out)
}

const feedArticle = `<html><body><article><p>Regional grid operators are testing
autonomous battery dispatch at the neighborhood level, with early pilots showing
faster frequency response and less curtailment of rooftop solar capacity.</p>
</article></body></html>`

func newFeedServer(t *testing.T, entries int) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/feed.xml":
			var items strings.Builder
			for i := 1; i <= entries; i++ {
				fmt.Fprintf(&items, `<item><title>Entry %d</title><link>%s/articles/%d</link></item>`,
					i, server.URL, i)
			}
			fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>`+
				items.String()+`</channel></rss>`)
		case strings.HasPrefix(r.URL.Path, "/articles/"):
			fmt.Fprintf(w, "%s<p>Entry body %s.</p>", feedArticle, r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))

	t.Cleanup(server.Close)
	return server
}

func TestRun_DeterministicFlow(t *testing.T) {
	cfg := testPipelineConfig(t)
	server := newFeedServer(t, 2)

	p := New(cfg, quietLogger(), extractOnlyClient{})

	summary, err := p.Run(context.Background(), Options{
		Date: "2025-06-15",
		SourcesOverride: []models.Source{
			{Name: "Grid Journal", FetchURL: server.URL + "/feed.xml", Tier: "A"},
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.DocsFetched != 2 {
		t.Errorf("DocsFetched = %d, want 2", summary.DocsFetched)
	}
	if summary.Candidates != 2 {
		t.Errorf("Candidates = %d, want 2", summary.Candidates)
	}
	if summary.Accept+summary.Review+summary.Reject != 2 {
		t.Errorf("Decisions do not cover all candidates: %+v", summary)
	}

	// Unrelated text from a tier A source lands in accept.
	if summary.Accept != 2 {
		t.Errorf("Accept = %d, want 2 (review %d, reject %d)", summary.Accept, summary.Review, summary.Reject)
	}

	outputDir := cfg.Paths.RunOutputDir("2025-06-15")
	for _, name := range []string{"daily_staging.csv", "daily_accepted.csv", "daily_review.csv", "daily_rejected.csv", "collector_report.json"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Errorf("Missing run output %s: %v", name, err)
		}
	}

	// Accepted records, and only those, reach the master catalog.
	ids, err := ledger.ExistingIDs(cfg.Paths.LedgerPath())
	if err != nil {
		t.Fatalf("ExistingIDs failed: %v", err)
	}
	if len(ids) != summary.Accept {
		t.Errorf("Master catalog has %d rows, want %d", len(ids), summary.Accept)
	}

	if _, err := ledger.ValidateSchema(filepath.Join(outputDir, "daily_staging.csv")); err != nil {
		t.Errorf("Staging table failed schema validation: %v", err)
	}

	rows, err := ledger.ReadTable(filepath.Join(outputDir, "daily_staging.csv"))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	for _, row := range rows {
		if row.Extra["decision"] == "" {
			t.Error("Staging row missing decision diagnostic")
		}
		if row.Record.ProjectID != "proj-test" {
			t.Errorf("ProjectID = %q, want proj-test", row.Record.ProjectID)
		}
	}

	assertRunLogEvents(t, cfg.Paths.LogDir, "run_start", "collector_summary", "master_append", "exporter_output", "run_end")
}

func TestRun_RerunAddsNoLedgerRows(t *testing.T) {
	cfg := testPipelineConfig(t)
	server := newFeedServer(t, 1)

	p := New(cfg, quietLogger(), extractOnlyClient{})
	opts := Options{
		Date: "2025-06-15",
		SourcesOverride: []models.Source{
			{Name: "Grid Journal", FetchURL: server.URL + "/feed.xml", Tier: "A"},
		},
	}

	first, err := p.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Accept == 0 {
		t.Fatal("Expected the first run to accept at least one record")
	}

	// Identical inputs produce identical record ids, so the second run's
	// ledger append is a no-op.
	if _, err := p.Run(context.Background(), opts); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	ids, err := ledger.ExistingIDs(cfg.Paths.LedgerPath())
	if err != nil {
		t.Fatalf("ExistingIDs failed: %v", err)
	}

	if len(ids) != first.Accept {
		t.Errorf("Master catalog has %d rows after re-run, want %d", len(ids), first.Accept)
	}
}

func TestRun_GuardsAgainstConcurrentRuns(t *testing.T) {
	cfg := testPipelineConfig(t)
	p := New(cfg, quietLogger(), capability.Unavailable{})

	p.running.Store(true)
	defer p.running.Store(false)

	_, err := p.Run(context.Background(), Options{Date: "2025-06-15"})
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
}

func TestRun_UnavailableClientProducesNoCandidates(t *testing.T) {
	cfg := testPipelineConfig(t)
	server := newFeedServer(t, 1)

	p := New(cfg, quietLogger(), capability.Unavailable{})

	summary, err := p.Run(context.Background(), Options{
		Date: "2025-06-16",
		SourcesOverride: []models.Source{
			{Name: "Grid Journal", FetchURL: server.URL + "/feed.xml", Tier: "B"},
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.DocsFetched != 1 || summary.Candidates != 0 {
		t.Errorf("DocsFetched/Candidates = %d/%d, want 1/0", summary.DocsFetched, summary.Candidates)
	}

	// Export tables still exist, with headers only.
	staging := filepath.Join(cfg.Paths.RunOutputDir("2025-06-16"), "daily_staging.csv")
	count, err := ledger.ValidateSchema(staging)
	if err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected an empty staging table, got %d rows", count)
	}
}

func TestTierFor(t *testing.T) {
	sources := []models.Source{
		{Name: "Alpha", Tier: "A"},
		{Name: "Beta", Tier: "B"},
		{Name: "Alpha", Tier: "D"},
	}

	if got := tierFor(sources, "Beta"); got != "B" {
		t.Errorf("tierFor(Beta) = %q, want B", got)
	}

	// First occurrence wins for duplicate names.
	if got := tierFor(sources, "Alpha"); got != "A" {
		t.Errorf("tierFor(Alpha) = %q, want A", got)
	}

	if got := tierFor(sources, "Gamma"); got != "" {
		t.Errorf("tierFor(Gamma) = %q, want empty", got)
	}
}

func TestLogDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	runLog := logger.NewRunLog(filepath.Join(dir, "run.jsonl"))

	logDuplicateNames([]models.Source{
		{Name: "Alpha"}, {Name: "Beta"}, {Name: "Alpha"}, {Name: "Alpha"},
	}, runLog)

	events := readEvents(t, runLog.Path())

	count := 0
	for _, e := range events {
		if e["event"] == "duplicate_source_name" {
			count++
			if e["source_name"] != "Alpha" {
				t.Errorf("Unexpected duplicate name: %v", e["source_name"])
			}
		}
	}

	if count != 2 {
		t.Errorf("Expected 2 duplicate events, got %d", count)
	}
}

func TestCorpusIndexRecords(t *testing.T) {
	corpus := &catalog.Corpus{
		Records: []catalog.CorpusRecord{
			{ID: "c1", Title: "T1", Text: "body", Type: "S", Scope: "signals"},
		},
	}

	records := corpusIndexRecords(corpus)

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].ID != "c1" || records[0].Title != "T1" || records[0].Scope != "signals" {
		t.Errorf("Unexpected record: %+v", records[0])
	}
}

func TestExporterStub(t *testing.T) {
	cfg := testPipelineConfig(t)
	p := New(cfg, quietLogger(), capability.Unavailable{})

	dir := t.TempDir()
	if err := ledger.WriteExports(dir, nil, nil, nil, nil); err != nil {
		t.Fatalf("WriteExports failed: %v", err)
	}

	output := p.exporterStub("run-1", "2025-06-15", dir, 5, 2, 2, 1)

	if output.RunID != "run-1" {
		t.Errorf("RunID = %q", output.RunID)
	}
	if output.Counts.Total != 5 || output.Counts.Accept != 2 || output.Counts.Review != 2 || output.Counts.Reject != 1 {
		t.Errorf("Unexpected counts: %+v", output.Counts)
	}
	if !output.SchemaValidation.Valid {
		t.Errorf("Expected valid schema, got errors %v", output.SchemaValidation.Errors)
	}
	if output.Outputs["accepted_file"] != filepath.Join(dir, "daily_accepted.csv") {
		t.Errorf("Unexpected outputs: %v", output.Outputs)
	}

	// A missing staging table marks validation invalid.
	output = p.exporterStub("run-2", "2025-06-15", t.TempDir(), 0, 0, 0, 0)
	if output.SchemaValidation.Valid {
		t.Error("Expected invalid schema for a missing staging table")
	}
	if len(output.SchemaValidation.Errors) == 0 {
		t.Error("Expected validation errors to be reported")
	}
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open run log: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("Malformed run log line: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func assertRunLogEvents(t *testing.T, logDir string, names ...string) {
	t.Helper()

	entries, err := os.ReadDir(logDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("Expected a run log in %s: %v", logDir, err)
	}

	events := readEvents(t, filepath.Join(logDir, entries[0].Name()))

	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if name, ok := e["event"].(string); ok {
			seen[name] = true
		}
	}

	for _, name := range names {
		if !seen[name] {
			t.Errorf("Run log missing %s event", name)
		}
	}
}
