// Package synthesis clusters accepted signals into higher-order forces and
// maintains the forces catalog.
package synthesis

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"horizon/internal/capability"
	"horizon/internal/ledger"
	"horizon/internal/logger"
	"horizon/internal/models"
)

// maxExistingForces caps how many known forces are sent along with a
// synthesis request.
const maxExistingForces = 50

var forceTypeColors = map[string]string{
	models.TypeMegatrend:  "#3B82F6",
	models.TypeTrend:      "#10B981",
	models.TypeWeakSignal: "#F59E0B",
	models.TypeWildcard:   "#EF4444",
}

var forceTypeScopes = map[string]string{
	models.TypeMegatrend:  "megatrends",
	models.TypeTrend:      "trends",
	models.TypeWeakSignal: "weak_signals",
	models.TypeWildcard:   "wildcards",
}

// Force is one clustered force proposed by the synthesizer.
type Force struct {
	ForceID            string      `json:"force_id"`
	Title              string      `json:"title"`
	Type               string      `json:"type"`
	Steep              string      `json:"steep"`
	Dimension          string      `json:"dimension"`
	Text               string      `json:"text"`
	Tags               models.Tags `json:"tags"`
	SourceSignalIDs    []string    `json:"source_signal_ids"`
	SynthesisRationale string      `json:"synthesis_rationale"`
}

// Output is the synthesizer response envelope.
type Output struct {
	Forces         []Force        `json:"forces"`
	ClusterSummary map[string]any `json:"cluster_summary"`
}

// Result reports what a synthesis pass produced.
type Result struct {
	ForcesCreated  int
	Forces         []models.Record
	ClusterSummary map[string]any
}

type signalInput struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Text          string `json:"text"`
	Steep         string `json:"steep"`
	Dimension     string `json:"dimension"`
	Tags          string `json:"tags"`
	Source        string `json:"source"`
	PriorityIndex string `json:"priority_index"`
	CreatedAt     string `json:"created_at"`
}

type forceSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// BuildRecord turns a force into a catalog record. Forces carry a fixed
// impact and distance, a type-specific scope and color, and a tag linking
// back to the source signal ids.
func BuildRecord(force Force, projectID string, now time.Time) models.Record {
	ts := now.UTC().Format(time.RFC3339)

	forceType := force.Type
	if forceType == "" {
		forceType = models.TypeWeakSignal
	}

	scope := forceTypeScopes[forceType]
	if scope == "" {
		scope = "forces"
	}
	color := forceTypeColors[forceType]
	if color == "" {
		color = models.DefaultColorHex
	}

	tags := append(models.Tags{}, force.Tags...)
	if len(force.SourceSignalIDs) > 0 {
		tags = append(tags, "synthesized_from:"+strings.Join(force.SourceSignalIDs, ","))
	}

	id := force.ForceID
	if id == "" {
		id = uuid.NewString()
	}

	sourceIDs := force.SourceSignalIDs
	if len(sourceIDs) > 3 {
		sourceIDs = sourceIDs[:3]
	}

	return models.Record{
		ID:        id,
		ProjectID: projectID,
		Title:     force.Title,
		Type:      forceType,
		Steep:     force.Steep,
		Dimension: force.Dimension,
		Scope:     scope,
		Impact:    models.Float(models.DefaultImpact),
		Sentiment: models.DefaultSentiment,
		Source:    strings.Join(sourceIDs, ", "),
		Tags:      tags.Encode(),
		Text:      force.Text,
		Distance:  models.Int(5),
		ColorHex:  color,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func prepareSignals(accepted []models.StagingRow) []signalInput {
	signals := make([]signalInput, 0, len(accepted))
	for _, row := range accepted {
		r := row.Record
		if r.ID == "" || r.Title == "" {
			continue
		}

		text := r.Text
		if text == "" {
			text = r.Title
		}
		steep := r.Steep
		if steep == "" {
			steep = models.DefaultSteep
		}
		dimension := r.Dimension
		if dimension == "" {
			dimension = "General"
		}

		signals = append(signals, signalInput{
			ID:            r.ID,
			Title:         r.Title,
			Text:          text,
			Steep:         steep,
			Dimension:     dimension,
			Tags:          r.Tags,
			Source:        r.Source,
			PriorityIndex: row.Extra["priority_index"],
			CreatedAt:     r.CreatedAt,
		})
	}
	return signals
}

// loadExistingForces reads id, title, and type from the forces catalog so the
// synthesizer can extend existing forces instead of re-creating them.
func loadExistingForces(path string) ([]forceSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open forces catalog: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read forces catalog: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[name] = i
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var forces []forceSummary
	for _, row := range rows[1:] {
		forces = append(forces, forceSummary{
			ID:    field(row, "id"),
			Title: field(row, "title"),
			Type:  field(row, "type"),
		})
		if len(forces) >= maxExistingForces {
			break
		}
	}
	return forces, nil
}

// Run sends the accepted rows to the synthesizer, writes the per-run force
// tables under dir, and returns the resulting force records. The caller
// appends them to the forces catalog.
func Run(ctx context.Context, client capability.Client, accepted []models.StagingRow,
	projectID, dir, forcesLedgerPath string, runLog *logger.RunLog) (Result, error) {

	if len(accepted) == 0 {
		runLog.Event("synthesis_skipped", map[string]any{"reason": "no_accepted_signals"})
		return Result{}, nil
	}

	signals := prepareSignals(accepted)
	existing, err := loadExistingForces(forcesLedgerPath)
	if err != nil {
		return Result{}, err
	}

	raw, err := client.Call(ctx, capability.RoleSynthesizer, map[string]any{
		"signals":         signals,
		"existing_forces": existing,
		"project_id":      projectID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("synthesizer call failed: %w", err)
	}

	var output Output
	if err := json.Unmarshal(raw, &output); err != nil {
		return Result{}, fmt.Errorf("failed to decode synthesizer output: %w", err)
	}

	runLog.Event("synthesis_complete", map[string]any{
		"signals_input":   len(signals),
		"forces_output":   len(output.Forces),
		"cluster_summary": output.ClusterSummary,
	})

	now := time.Now()
	records := make([]models.Record, 0, len(output.Forces))
	staging := make([]models.StagingRow, 0, len(output.Forces))
	for _, force := range output.Forces {
		record := BuildRecord(force, projectID, now)
		records = append(records, record)
		staging = append(staging, models.StagingRow{
			Record: record,
			Extra: map[string]string{
				"source_signal_ids":   strings.Join(force.SourceSignalIDs, ","),
				"synthesis_rationale": force.SynthesisRationale,
			},
		})
	}

	if len(records) > 0 {
		acceptedRows := make([]models.StagingRow, len(records))
		for i, record := range records {
			acceptedRows[i] = models.StagingRow{Record: record}
		}
		if err := ledger.WriteTable(filepath.Join(dir, "forces_accepted.csv"), acceptedRows, nil); err != nil {
			return Result{}, err
		}
		extra := []string{"source_signal_ids", "synthesis_rationale"}
		if err := ledger.WriteTable(filepath.Join(dir, "forces_all_candidates.csv"), staging, extra); err != nil {
			return Result{}, err
		}
	}

	return Result{
		ForcesCreated:  len(records),
		Forces:         records,
		ClusterSummary: output.ClusterSummary,
	}, nil
}
