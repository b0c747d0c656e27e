// Package catalog loads the external source catalog and the existing corpus
// of reference records used to seed the similarity index. Both are
// row-oriented CSV datasets maintained outside this system and read once per
// run.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"horizon/internal/models"
)

// Loader errors.
var (
	ErrMissingSourceColumns = errors.New("source catalog must have source_name, source_link, tier columns")
	ErrEmptyCorpus          = errors.New("corpus file has no rows")
)

// Corpus is the existing reference corpus: prior records plus the derived
// vocabulary the extractor and curator work against.
type Corpus struct {
	Records    []CorpusRecord
	ProjectID  string
	Dimensions []string
	TagVocab   []string
}

// CorpusRecord is one prior reference record.
type CorpusRecord struct {
	ID    string
	Title string
	Text  string
	Type  string
	Scope string
}

// LoadSources reads the source catalog. Column lookup is case-insensitive;
// a missing tier defaults to C.
func LoadSources(path string) ([]models.Source, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source catalog: %w", err)
	}

	col := columnIndex(header)

	nameIdx, okName := col["source_name"]
	linkIdx, okLink := col["source_link"]
	tierIdx, okTier := col["tier"]

	if !okName || !okLink || !okTier {
		return nil, ErrMissingSourceColumns
	}

	sources := make([]models.Source, 0, len(rows))

	for _, row := range rows {
		tier := strings.ToUpper(strings.TrimSpace(field(row, tierIdx)))
		if tier == "" {
			tier = "C"
		}

		sources = append(sources, models.Source{
			Name:        strings.TrimSpace(field(row, nameIdx)),
			FetchURL:    strings.TrimSpace(field(row, linkIdx)),
			Tier:        tier,
			CrawlMethod: optional(row, col, "crawl_method"),
			Frequency:   optional(row, col, "frequency"),
			Priority:    optional(row, col, "priority"),
			Notes:       optional(row, col, "notes"),
		})
	}

	return sources, nil
}

// LoadCorpus reads the existing corpus and derives the project id (most
// frequent project_id value), the sorted distinct dimension set, and the
// sorted tag vocabulary.
func LoadCorpus(path string) (*Corpus, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyCorpus
	}

	col := columnIndex(header)

	projectCounts := make(map[string]int)
	dimensionSet := make(map[string]bool)
	tagSet := make(map[string]bool)

	records := make([]CorpusRecord, 0, len(rows))

	for _, row := range rows {
		records = append(records, CorpusRecord{
			ID:    optional(row, col, "id"),
			Title: optional(row, col, "title"),
			Text:  optional(row, col, "text"),
			Type:  optional(row, col, "type"),
			Scope: optional(row, col, "scope"),
		})

		if pid := optional(row, col, "project_id"); pid != "" {
			projectCounts[pid]++
		}

		if dim := optional(row, col, "dimension"); dim != "" {
			dimensionSet[dim] = true
		}

		for _, tag := range models.ParseTags(optional(row, col, "tags")) {
			tagSet[tag] = true
		}
	}

	return &Corpus{
		Records:    records,
		ProjectID:  mode(projectCounts),
		Dimensions: sortedKeys(dimensionSet),
		TagVocab:   sortedKeys(tagSet),
	}, nil
}

func readCSV(path string) ([][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	if len(all) == 0 {
		return nil, nil, nil
	}

	return all[1:], all[0], nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	return col
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}

	return row[idx]
}

func optional(row []string, col map[string]int, name string) string {
	idx, ok := col[name]
	if !ok {
		return ""
	}

	return strings.TrimSpace(field(row, idx))
}

func mode(counts map[string]int) string {
	best := ""
	bestCount := 0

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}

	return best
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
