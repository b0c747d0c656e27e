// Package simindex implements the lexical similarity index used for
// duplicate detection. Similarity blends Jaccard overlap of token sets with
// cosine similarity of token-frequency vectors; the blend keeps an
// exact-overlap signal while still weighting term importance, without
// semantic embeddings. The index is rebuilt once per run from the corpus
// snapshot and never updated mid-run.
package simindex

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]{3,}`)

// Record is one indexed corpus entry.
type Record struct {
	ID    string
	Title string
	Text  string
	Type  string
	Scope string
}

// Neighbor is one query result, similarity in [0, 1].
type Neighbor struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Type       string  `json:"type"`
	Scope      string  `json:"scope"`
	Similarity float64 `json:"similarity"`
}

// Index answers nearest-neighbor queries over the corpus.
type Index struct {
	records     []Record
	tokenSets   []map[string]bool
	tokenCounts []map[string]int
}

// New creates an empty index.
func New() *Index {
	return &Index{}
}

// Build (re)builds the index from the corpus snapshot. Each record is
// indexed over its title and text.
func (ix *Index) Build(records []Record) {
	ix.records = records
	ix.tokenSets = make([]map[string]bool, len(records))
	ix.tokenCounts = make([]map[string]int, len(records))

	for i, rec := range records {
		tokens := tokenize(rec.Title + " " + rec.Text)
		ix.tokenSets[i] = tokenSet(tokens)
		ix.tokenCounts[i] = tokenCounts(tokens)
	}
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	return len(ix.records)
}

// Query returns the topK records most similar to the text, descending by
// similarity; ties keep corpus order.
func (ix *Index) Query(text string, topK int) []Neighbor {
	tokens := tokenize(text)
	qSet := tokenSet(tokens)
	qCounts := tokenCounts(tokens)

	similarities := make([]float64, len(ix.records))
	order := make([]int, len(ix.records))

	for i := range ix.records {
		j := jaccard(qSet, ix.tokenSets[i])
		c := cosine(qCounts, ix.tokenCounts[i])
		similarities[i] = (j + c) / 2.0
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return similarities[order[a]] > similarities[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}

	neighbors := make([]Neighbor, 0, topK)

	for _, i := range order[:topK] {
		rec := ix.records[i]
		neighbors = append(neighbors, Neighbor{
			ID:         rec.ID,
			Title:      rec.Title,
			Type:       rec.Type,
			Scope:      rec.Scope,
			Similarity: round4(similarities[i]),
		})
	}

	return neighbors
}

// tokenize lowercases and extracts alphanumeric tokens of length >= 3.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}

	return set
}

func tokenCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	return counts
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	inter := 0

	for t := range small {
		if large[t] {
			inter++
		}
	}

	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}

	return float64(inter) / float64(union)
}

func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	dot := 0

	for t, va := range small {
		if vb, ok := large[t]; ok {
			dot += va * vb
		}
	}

	normA := 0.0
	for _, v := range a {
		normA += float64(v * v)
	}

	normB := 0.0
	for _, v := range b {
		normB += float64(v * v)
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float64(dot) / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
