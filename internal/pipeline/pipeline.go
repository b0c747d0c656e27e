// Package pipeline orchestrates a full ingestion run: source rotation,
// collection, extraction, comparison, scoring, curation, and export.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"horizon/internal/capability"
	"horizon/internal/catalog"
	"horizon/internal/collector"
	"horizon/internal/config"
	"horizon/internal/ledger"
	"horizon/internal/logger"
	"horizon/internal/models"
	"horizon/internal/rotation"
	"horizon/internal/scoring"
	"horizon/internal/simindex"
	"horizon/internal/synthesis"
)

// ErrRunInProgress is returned when a run is started while another is active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Options select what a single run covers.
type Options struct {
	Date              string
	FullSweep         bool
	Synthesize        bool
	MaxDocsPerSource  int
	MaxDocsTotal      int
	MaxRuntimeSeconds int
	SourcesOverride   []models.Source
}

// Summary reports the outcome of one run.
type Summary struct {
	RunID                  string
	DocsFetched            int
	DocsFailed             int
	Candidates             int
	Accept                 int
	Review                 int
	Reject                 int
	ImportanceDistribution map[int]int
	ForcesCreated          int
}

// Pipeline wires the run phases together. One run at a time.
type Pipeline struct {
	cfg     *config.Config
	log     *logger.Logger
	client  capability.Client
	running atomic.Bool
}

// New creates a pipeline.
func New(cfg *config.Config, log *logger.Logger, client capability.Client) *Pipeline {
	return &Pipeline{cfg: cfg, log: log, client: client}
}

// candidateResult holds one candidate's full processing state until
// calibration has settled the importance distances.
type candidateResult struct {
	cand    models.Candidate
	comp    models.Comparison
	scores  *models.Scores
	curated *models.Record
}

// extractorOutput is the extractor response envelope.
type extractorOutput struct {
	DocID      string             `json:"doc_id"`
	Candidates []models.Candidate `json:"candidates"`
}

// curatorOutput is the curator response envelope.
type curatorOutput struct {
	CandidateID string         `json:"candidate_id"`
	Record      *models.Record `json:"record"`
}

// exporterOutput is the exporter response envelope.
type exporterOutput struct {
	RunID   string            `json:"run_id"`
	Outputs map[string]string `json:"outputs"`
	Counts  struct {
		Total  int `json:"total"`
		Accept int `json:"accept"`
		Review int `json:"review"`
		Reject int `json:"reject"`
	} `json:"counts"`
	SchemaValidation struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	} `json:"schema_validation"`
}

// Run executes one full pipeline pass for the given date.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	runID := uuid.NewString()
	startTime := time.Now()

	outputDir := p.cfg.Paths.RunOutputDir(opts.Date)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runLog := logger.NewRunLog(filepath.Join(p.cfg.Paths.LogDir,
		fmt.Sprintf("run_%s_%s.jsonl", opts.Date, runID)))
	runLog.Event("run_start", map[string]any{
		"run_id":              runID,
		"date":                opts.Date,
		"capability_disabled": p.cfg.Capability.Disabled,
	})

	corpus, err := catalog.LoadCorpus(p.cfg.Paths.Corpus)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	index := simindex.New()
	index.Build(corpusIndexRecords(corpus))
	p.log.Info("corpus indexed", "records", index.Len(), "project_id", corpus.ProjectID)

	sources, err := p.selectSources(opts, runLog)
	if err != nil {
		return nil, err
	}

	coll := collector.New(p.cfg.Collector, p.log)
	maxPerSource := opts.MaxDocsPerSource
	if maxPerSource <= 0 {
		maxPerSource = p.cfg.Pipeline.MaxDocsPerSource
	}
	collected := coll.Fetch(ctx, sources, maxPerSource)

	maxTotal := opts.MaxDocsTotal
	if maxTotal <= 0 {
		maxTotal = p.cfg.Pipeline.MaxDocsTotal
	}
	if maxTotal > 0 && len(collected.Docs) > maxTotal {
		collected.Docs = collected.Docs[:maxTotal]
	}

	maxCandidates := p.cfg.Pipeline.MaxCandidatesPerDoc
	runLog.Event("llm_call_estimate", map[string]any{
		"docs":            len(collected.Docs),
		"estimated_calls": len(collected.Docs)*(1+maxCandidates*3) + 1,
	})

	if err := writeCollectorReport(outputDir, collected.Stats); err != nil {
		p.log.Warn("failed to write collector report", "error", err)
	}
	runLog.Event("collector_summary", map[string]any{
		"sources":      len(sources),
		"docs_fetched": len(collected.Docs),
		"failed":       collected.Failed,
	})

	maxRuntime := opts.MaxRuntimeSeconds
	if maxRuntime <= 0 {
		maxRuntime = p.cfg.Pipeline.MaxRuntimeSeconds
	}

	var results []*candidateResult
	candidatesTotal := 0

	for _, doc := range collected.Docs {
		if maxRuntime > 0 && time.Since(startTime) > time.Duration(maxRuntime)*time.Second {
			runLog.Event("runtime_budget_exceeded", map[string]any{"doc_id": doc.DocID})
			break
		}

		candidates := p.extract(ctx, doc, corpus, runLog)
		if len(candidates) > maxCandidates {
			candidates = candidates[:maxCandidates]
		}

		for i := range candidates {
			models.NormalizeCandidate(&candidates[i], doc, corpus.Dimensions)
		}

		for _, cand := range candidates {
			candidatesTotal++

			comp := p.compare(ctx, cand, index, runLog)
			tier := tierFor(sources, cand.SourceName)
			scores := p.score(ctx, cand, comp, tier, runLog)
			curated := p.curate(ctx, cand, comp, scores, corpus.ProjectID, runLog)

			results = append(results, &candidateResult{
				cand:    cand,
				comp:    comp,
				scores:  scores,
				curated: curated,
			})
		}
	}

	allScores := make([]*models.Scores, len(results))
	for i, r := range results {
		allScores[i] = r.scores
	}
	scoring.Calibrate(allScores)

	now := time.Now().UTC().Format(time.RFC3339)
	var staging, acceptRows, reviewRows, rejectRows []models.StagingRow
	var acceptRecords []models.Record
	importanceDist := make(map[int]int)

	for _, r := range results {
		record := models.BuildRecord(r.cand, *r.scores, corpus.ProjectID, r.curated, corpus.Dimensions, now)
		row := models.BuildStagingRow(record, r.cand, r.comp, *r.scores)

		staging = append(staging, row)
		importanceDist[r.scores.Importance]++

		switch r.scores.Decision {
		case models.DecisionAccept:
			acceptRows = append(acceptRows, row)
			acceptRecords = append(acceptRecords, record)
		case models.DecisionReview:
			reviewRows = append(reviewRows, row)
		default:
			rejectRows = append(rejectRows, row)
		}
	}

	if err := ledger.WriteExports(outputDir, staging, acceptRows, reviewRows, rejectRows); err != nil {
		return nil, fmt.Errorf("failed to write exports: %w", err)
	}

	masterAdded, err := ledger.Append(p.cfg.Paths.LedgerPath(), acceptRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to append to ledger: %w", err)
	}
	runLog.Event("master_append", map[string]any{"rows_added": masterAdded})

	forcesCreated := 0
	if opts.Synthesize && len(acceptRows) > 0 {
		result, err := synthesis.Run(ctx, p.client, acceptRows, corpus.ProjectID,
			outputDir, p.cfg.Paths.ForcesLedgerPath(), runLog)
		if err != nil {
			runLog.Event("synthesis_error", map[string]any{"error": err.Error()})
			p.log.Error("synthesis failed", "error", err)
		} else {
			forcesCreated = result.ForcesCreated
			if len(result.Forces) > 0 {
				forcesAdded, err := ledger.Append(p.cfg.Paths.ForcesLedgerPath(), result.Forces)
				if err != nil {
					return nil, fmt.Errorf("failed to append to forces ledger: %w", err)
				}
				runLog.Event("forces_master_append", map[string]any{"rows_added": forcesAdded})
			}
		}
	}

	p.export(ctx, runID, opts.Date, outputDir, staging, len(acceptRows), len(reviewRows), len(rejectRows), runLog)

	summary := &Summary{
		RunID:                  runID,
		DocsFetched:            len(collected.Docs),
		DocsFailed:             collected.Failed,
		Candidates:             candidatesTotal,
		Accept:                 len(acceptRows),
		Review:                 len(reviewRows),
		Reject:                 len(rejectRows),
		ImportanceDistribution: importanceDist,
		ForcesCreated:          forcesCreated,
	}

	runLog.Event("run_end", map[string]any{
		"docs_fetched":            summary.DocsFetched,
		"docs_failed":             summary.DocsFailed,
		"candidates":              summary.Candidates,
		"accept":                  summary.Accept,
		"review":                  summary.Review,
		"reject":                  summary.Reject,
		"importance_distribution": importanceDist,
		"forces_created":          forcesCreated,
	})

	return summary, nil
}

// selectSources resolves the run's source batch: the override when given,
// otherwise the rotation batch for the date.
func (p *Pipeline) selectSources(opts Options, runLog *logger.RunLog) ([]models.Source, error) {
	if opts.SourcesOverride != nil {
		return opts.SourcesOverride, nil
	}

	all, err := catalog.LoadSources(p.cfg.Paths.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	logDuplicateNames(all, runLog)

	scheduler := rotation.NewScheduler(p.cfg.Paths.RotationStatePath(), p.cfg.Rotation.BatchSize)
	batch, info, err := scheduler.NextBatch(all, opts.Date, opts.FullSweep)
	if err != nil {
		return nil, fmt.Errorf("failed to advance rotation: %w", err)
	}

	runLog.Event("rotation_batch", map[string]any{
		"offset":       info.Offset,
		"batch_size":   info.BatchSize,
		"day_in_cycle": info.DayInCycle,
		"cycle_length": info.CycleLength,
		"total":        info.Total,
		"full_sweep":   opts.FullSweep,
	})
	p.log.Info("rotation batch selected",
		"sources", len(batch), "day_in_cycle", info.DayInCycle, "cycle_length", info.CycleLength)

	return batch, nil
}

// extract asks the extractor for candidates, falling back to an empty set.
func (p *Pipeline) extract(ctx context.Context, doc models.Document, corpus *catalog.Corpus, runLog *logger.RunLog) []models.Candidate {
	raw, err := p.client.Call(ctx, capability.RoleExtractor, map[string]any{
		"doc":        doc,
		"dimensions": corpus.Dimensions,
		"tag_vocab":  corpus.TagVocab,
	})
	if err != nil {
		runLog.Event("extractor_error", map[string]any{"doc_id": doc.DocID, "error": err.Error()})
		return nil
	}

	var output extractorOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		runLog.Event("extractor_error", map[string]any{"doc_id": doc.DocID, "error": err.Error()})
		return nil
	}
	return output.Candidates
}

// compare asks the comparator for a dedup verdict, falling back to the
// lexical neighbor similarities.
func (p *Pipeline) compare(ctx context.Context, cand models.Candidate, index *simindex.Index, runLog *logger.RunLog) models.Comparison {
	neighbors := index.Query(cand.Title+" "+cand.ClaimSummary+" "+cand.WhyItMatters, p.cfg.Pipeline.NeighborTopK)

	raw, err := p.client.Call(ctx, capability.RoleComparator, map[string]any{
		"candidate": cand,
		"neighbors": neighbors,
	})
	if err == nil {
		var comp models.Comparison
		if uerr := json.Unmarshal(raw, &comp); uerr == nil {
			return comp
		} else {
			err = uerr
		}
	}
	runLog.Event("comparator_error", map[string]any{"candidate_id": cand.CandidateID, "error": err.Error()})

	maxSim := 0.0
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Similarity > maxSim {
			maxSim = n.Similarity
		}
		ids = append(ids, n.ID)
	}
	return models.Comparison{
		CandidateID:   cand.CandidateID,
		MaxSimilarity: maxSim,
		NearestIDs:    ids,
		DuplicateFlag: maxSim >= p.cfg.Scoring.DuplicateSimilarity,
		Rationale:     "Lexical neighbor similarity.",
	}
}

// score asks the scorer and clamps its output against the duplicate rule,
// falling back to the deterministic rules.
func (p *Pipeline) score(ctx context.Context, cand models.Candidate, comp models.Comparison, tier string, runLog *logger.RunLog) *models.Scores {
	raw, err := p.client.Call(ctx, capability.RoleScorer, map[string]any{
		"candidate":           cand,
		"comparison":          comp,
		"source_tier":         tier,
		"corroboration_count": 1,
	})
	if err == nil {
		var scores models.Scores
		if uerr := json.Unmarshal(raw, &scores); uerr == nil {
			scoring.Enforce(&scores, comp, p.cfg.Scoring)
			return &scores
		} else {
			err = uerr
		}
	}
	runLog.Event("scorer_error", map[string]any{"candidate_id": cand.CandidateID, "error": err.Error()})

	scores := scoring.Score(cand, comp, tier, p.cfg.Scoring)
	return &scores
}

// curate asks the curator for the final record fields. A nil return means
// the record is assembled from the candidate alone.
func (p *Pipeline) curate(ctx context.Context, cand models.Candidate, comp models.Comparison, scores *models.Scores, projectID string, runLog *logger.RunLog) *models.Record {
	raw, err := p.client.Call(ctx, capability.RoleCurator, map[string]any{
		"candidate":  cand,
		"comparison": comp,
		"scores":     scores,
		"project_id": projectID,
	})
	if err == nil {
		var output curatorOutput
		if uerr := json.Unmarshal(raw, &output); uerr == nil {
			return output.Record
		} else {
			err = uerr
		}
	}
	runLog.Event("curator_error", map[string]any{"candidate_id": cand.CandidateID, "error": err.Error()})
	return nil
}

// export asks the exporter for a run manifest, falling back to a locally
// computed one, and logs whichever it got.
func (p *Pipeline) export(ctx context.Context, runID, date, outputDir string,
	staging []models.StagingRow, accept, review, reject int, runLog *logger.RunLog) {

	rows := make([]map[string]any, len(staging))
	for i, row := range staging {
		rows[i] = map[string]any{
			"decision": row.Extra["decision"],
			"record":   row.Record,
		}
	}

	raw, err := p.client.Call(ctx, capability.RoleExporter, map[string]any{
		"run_id": runID,
		"date":   date,
		"rows":   rows,
	})

	var output exporterOutput
	if err == nil {
		if uerr := json.Unmarshal(raw, &output); uerr != nil {
			err = uerr
		}
	}
	if err != nil {
		runLog.Event("exporter_error", map[string]any{"error": err.Error()})
		output = p.exporterStub(runID, date, outputDir, len(staging), accept, review, reject)
	}

	runLog.Event("exporter_output", map[string]any{"data": output})
}

func (p *Pipeline) exporterStub(runID, date, outputDir string, total, accept, review, reject int) exporterOutput {
	var output exporterOutput
	output.RunID = runID
	output.Outputs = map[string]string{
		"all_candidates_file": filepath.Join(outputDir, "daily_staging.csv"),
		"accepted_file":       filepath.Join(outputDir, "daily_accepted.csv"),
		"pending_review_file": filepath.Join(outputDir, "daily_review.csv"),
		"rejected_file":       filepath.Join(outputDir, "daily_rejected.csv"),
	}
	output.Counts.Total = total
	output.Counts.Accept = accept
	output.Counts.Review = review
	output.Counts.Reject = reject

	output.SchemaValidation.Valid = true
	if _, err := ledger.ValidateSchema(filepath.Join(outputDir, "daily_staging.csv")); err != nil {
		output.SchemaValidation.Valid = false
		output.SchemaValidation.Errors = []string{err.Error()}
	}
	return output
}

// tierFor returns the tier of the first catalog source with the given name.
func tierFor(sources []models.Source, name string) string {
	for _, s := range sources {
		if s.Name == name {
			return s.Tier
		}
	}
	return ""
}

// logDuplicateNames records catalog source names that appear more than once.
// Tier lookups resolve to the first occurrence.
func logDuplicateNames(sources []models.Source, runLog *logger.RunLog) {
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if seen[s.Name] {
			runLog.Event("duplicate_source_name", map[string]any{"source_name": s.Name})
			continue
		}
		seen[s.Name] = true
	}
}

func corpusIndexRecords(corpus *catalog.Corpus) []simindex.Record {
	records := make([]simindex.Record, len(corpus.Records))
	for i, r := range corpus.Records {
		records[i] = simindex.Record{
			ID:    r.ID,
			Title: r.Title,
			Text:  r.Text,
			Type:  r.Type,
			Scope: r.Scope,
		}
	}
	return records
}

func writeCollectorReport(dir string, stats []collector.SourceStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "collector_report.json"), data, 0o644)
}
