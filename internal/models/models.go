// Package models defines the fixed-shape entities that flow through the
// pipeline: sources, documents, candidates, comparisons, scores, and the
// canonical export record.
package models

import (
	"encoding/json"
	"strings"
)

// Decision values for a scored candidate.
const (
	DecisionAccept = "accept"
	DecisionReview = "review"
	DecisionReject = "reject"
)

// Candidate type suggestions and force types.
const (
	TypeSignal     = "S"
	TypeWeakSignal = "WS"
	TypeTrend      = "T"
	TypeWildcard   = "WC"
	TypeMegatrend  = "MT"
)

// Record defaults.
const (
	DefaultScope     = "signals"
	DefaultSentiment = "Neutral"
	DefaultColorHex  = "#94A3B8"
	DefaultImpact    = 7.0
	DefaultSteep     = "Technological"
	OtherDimension   = "Other"
	MaxTags          = 8
)

// steepAxes is the valid classification axis set. Political exists in some
// STEEP variants but is unused here.
var steepAxes = map[string]bool{
	"Social":        true,
	"Technological": true,
	"Economic":      true,
	"Environmental": true,
}

// ValidSteep reports whether the value is a known STEEP axis.
func ValidSteep(value string) bool {
	return steepAxes[strings.TrimSpace(value)]
}

// Source is one row of the source catalog, immutable within a run.
type Source struct {
	Name        string `json:"source_name"`
	FetchURL    string `json:"source_link"`
	Tier        string `json:"tier"`
	CrawlMethod string `json:"crawl_method,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Document is one fetched item, never mutated after creation.
type Document struct {
	DocID        string `json:"doc_id"`
	SourceName   string `json:"source_name"`
	SourceURL    string `json:"source_url"`
	CanonicalURL string `json:"canonical_url"`
	PublishedAt  string `json:"published_at,omitempty"`
	RetrievedAt  string `json:"retrieved_at"`
	CleanText    string `json:"clean_text"`
	ContentHash  string `json:"content_hash"`
}

// Tags is a tag list that tolerates the wire representations produced by the
// inference service: a JSON array, a JSON-encoded array in a string, or a
// comma-separated string.
type Tags []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanTags(list)

		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		*t = nil

		return nil //nolint:nilerr // unknown shapes normalize to empty, not errors
	}

	*t = ParseTags(text)

	return nil
}

// ParseTags normalizes a free-form tags value: a JSON array string or a
// comma-separated list, deduplicated, at most MaxTags entries.
func ParseTags(text string) Tags {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var list []string
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return cleanTags(list)
	}

	return cleanTags(strings.Split(text, ","))
}

func cleanTags(values []string) Tags {
	seen := make(map[string]bool, len(values))

	var out Tags

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}

		seen[v] = true

		out = append(out, v)
		if len(out) == MaxTags {
			break
		}
	}

	return out
}

// Encode returns the JSON encoding used in the tags export column, or the
// empty string for an empty list.
func (t Tags) Encode() string {
	if len(t) == 0 {
		return ""
	}

	data, err := json.Marshal([]string(t))
	if err != nil {
		return ""
	}

	return string(data)
}

// Candidate is a proposed signal extracted from a document.
type Candidate struct {
	CandidateID     string `json:"candidate_id"`
	DocID           string `json:"doc_id"`
	SourceName      string `json:"source_name"`
	CanonicalURL    string `json:"canonical_url"`
	PublishedAt     string `json:"published_at,omitempty"`
	RetrievedAt     string `json:"retrieved_at"`
	ContentHash     string `json:"content_hash"`
	Title           string `json:"title"`
	ClaimSummary    string `json:"claim_summary"`
	WhyItMatters    string `json:"why_it_matters"`
	EvidenceSnippet string `json:"evidence_snippet"`
	ProposedSteep   string `json:"proposed_steep"`
	ProposedDim     string `json:"proposed_dimension"`
	ProposedTags    Tags   `json:"proposed_tags"`
	TypeSuggested   string `json:"type_suggested"`
}

// Comparison is the dedup verdict for one candidate.
type Comparison struct {
	CandidateID   string   `json:"candidate_id"`
	MaxSimilarity float64  `json:"max_similarity"`
	NearestIDs    []string `json:"nearest_ids"`
	DuplicateFlag bool     `json:"duplicate_flag"`
	Rationale     string   `json:"comparison_rationale,omitempty"`
}

// Scores carries the decision output for one candidate.
type Scores struct {
	CandidateID         string  `json:"candidate_id"`
	Novelty             float64 `json:"novelty_score"`
	Credibility         float64 `json:"credibility_score"`
	Relevance           float64 `json:"relevance_score"`
	PriorityIndex       float64 `json:"priority_index"`
	Importance          int     `json:"importance_distance"`
	Decision            string  `json:"decision"`
	PromotionSuggestion string  `json:"promotion_suggestion,omitempty"`
	Rationale           string  `json:"scoring_rationale,omitempty"`
}

// Record is the canonical 20-column export row. Nullable numeric columns are
// pointers so absent values export as empty cells, never as zeros.
type Record struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Steep       string   `json:"steep"`
	Dimension   string   `json:"dimension"`
	Scope       string   `json:"scope"`
	Impact      *float64 `json:"impact"`
	TTM         string   `json:"ttm"`
	Sentiment   string   `json:"sentiment"`
	Source      string   `json:"source"`
	Tags        string   `json:"tags"`
	Text        string   `json:"text"`
	Magnitude   *float64 `json:"magnitude"`
	Distance    *int     `json:"distance"`
	ColorHex    string   `json:"color_hex"`
	Feasibility *float64 `json:"feasibility"`
	Urgency     *float64 `json:"urgency"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// StagingRow is a record plus the per-candidate diagnostic columns carried by
// the run's staging, review, and reject tables.
type StagingRow struct {
	Record Record
	Extra  map[string]string
}

// Float returns a pointer to v, for the nullable record columns.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
