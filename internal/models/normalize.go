package models

import (
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"horizon/pkg/textutil"
)

// NormalizeCandidate fills missing or invalid candidate fields with
// deterministic defaults drawn from the originating document, so downstream
// stages always see a complete candidate.
func NormalizeCandidate(c *Candidate, doc Document, dimensions []string) {
	c.DocID = doc.DocID
	c.SourceName = textutil.FirstNonEmpty(c.SourceName, doc.SourceName)
	c.CanonicalURL = textutil.FirstNonEmpty(c.CanonicalURL, doc.CanonicalURL)
	c.RetrievedAt = textutil.FirstNonEmpty(c.RetrievedAt, doc.RetrievedAt)
	c.ContentHash = textutil.FirstNonEmpty(c.ContentHash, doc.ContentHash)

	if c.PublishedAt == "" {
		c.PublishedAt = doc.PublishedAt
	}

	if c.Title == "" {
		c.Title = textutil.Truncate(doc.CleanText, 120)
	}

	if c.ClaimSummary == "" {
		c.ClaimSummary = textutil.Truncate(doc.CleanText, 200)
	}

	if c.WhyItMatters == "" {
		c.WhyItMatters = slice(doc.CleanText, 200, 400)
	}

	if c.EvidenceSnippet == "" {
		c.EvidenceSnippet = textutil.Truncate(doc.CleanText, 240)
	}

	// A missing id is rebuilt from stable content rather than minted, so
	// reprocessing the same document yields the same candidate id.
	if c.CandidateID == "" {
		c.CandidateID = "cand-" + textutil.HashText(c.ContentHash+"|"+c.Title+"|"+c.ClaimSummary)[:16]
	}

	if !ValidSteep(c.ProposedSteep) {
		c.ProposedSteep = DefaultSteep
	}

	if !slices.Contains(dimensions, c.ProposedDim) {
		c.ProposedDim = OtherDimension
	}

	switch c.TypeSuggested {
	case TypeSignal, TypeWeakSignal, TypeTrend, TypeWildcard:
	default:
		c.TypeSuggested = TypeSignal
	}
}

// NormalizeRecord fills empty record fields with the canonical defaults.
// Nullable numeric columns without a default stay nil and export as empty.
func NormalizeRecord(r *Record) {
	if r.Type == "" {
		r.Type = TypeSignal
	}

	if r.Scope == "" {
		r.Scope = DefaultScope
	}

	if r.Impact == nil {
		r.Impact = Float(DefaultImpact)
	}

	if r.Sentiment == "" {
		r.Sentiment = DefaultSentiment
	}

	if r.ColorHex == "" {
		r.ColorHex = DefaultColorHex
	}
}

// BuildRecord assembles the canonical record for a scored candidate,
// preferring curated fields and falling back to the candidate's own.
// A nil curated record means the curation step fell back to the stub.
func BuildRecord(cand Candidate, scores Scores, projectID string, curated *Record, dimensions []string, now string) Record {
	var cur Record
	if curated != nil {
		cur = *curated
	}

	steep := cand.ProposedSteep
	if ValidSteep(cur.Steep) {
		steep = cur.Steep
	} else if !ValidSteep(steep) {
		steep = DefaultSteep
	}

	dimension := cand.ProposedDim
	if slices.Contains(dimensions, cur.Dimension) {
		dimension = cur.Dimension
	}

	if !slices.Contains(dimensions, dimension) {
		dimension = OtherDimension
	}

	tags := ParseTags(cur.Tags)
	if len(tags) == 0 {
		tags = cand.ProposedTags
	}

	text := textutil.FirstNonEmpty(
		cur.Text,
		strings.TrimSpace(cand.ClaimSummary+" "+cand.WhyItMatters),
	)

	rec := Record{
		ID:        signalID(cand),
		ProjectID: projectID,
		Title:     textutil.FirstNonEmpty(cur.Title, cand.Title),
		Type:      TypeSignal,
		Steep:     steep,
		Dimension: dimension,
		Scope:     DefaultScope,
		Impact:    Float(DefaultImpact),
		Sentiment: DefaultSentiment,
		Source:    cand.CanonicalURL,
		Tags:      tags.Encode(),
		Text:      text,
		Magnitude: Float(round2(scores.PriorityIndex / 10.0)),
		Distance:  Int(scores.Importance),
		ColorHex:  DefaultColorHex,
		CreatedAt: now,
		UpdatedAt: now,
	}

	NormalizeRecord(&rec)

	return rec
}

// signalID derives the record id from the candidate's content hash and
// candidate id. Reprocessing the same document content yields the same id,
// which the ledger's dedup-by-id then turns into a no-op.
func signalID(cand Candidate) string {
	if cand.ContentHash == "" && cand.CandidateID == "" {
		return uuid.NewString()
	}

	return textutil.HashText(cand.ContentHash + "|" + cand.CandidateID)[:32]
}

// BuildStagingRow attaches the per-candidate diagnostic columns to a record
// for the run's staging, review, and reject tables.
func BuildStagingRow(rec Record, cand Candidate, comp Comparison, scores Scores) StagingRow {
	return StagingRow{
		Record: rec,
		Extra: map[string]string{
			"candidate_id":         cand.CandidateID,
			"doc_id":               cand.DocID,
			"canonical_url":        cand.CanonicalURL,
			"published_at":         cand.PublishedAt,
			"content_hash":         cand.ContentHash,
			"claim_summary":        cand.ClaimSummary,
			"why_it_matters":       cand.WhyItMatters,
			"evidence_snippet":     cand.EvidenceSnippet,
			"max_similarity":       FormatFloat(comp.MaxSimilarity),
			"nearest_ids":          strings.Join(comp.NearestIDs, ","),
			"duplicate_flag":       strconv.FormatBool(comp.DuplicateFlag),
			"novelty_score":        FormatFloat(scores.Novelty),
			"credibility_score":    FormatFloat(scores.Credibility),
			"relevance_score":      FormatFloat(scores.Relevance),
			"priority_index":       FormatFloat(scores.PriorityIndex),
			"importance_distance":  strconv.Itoa(scores.Importance),
			"decision":             scores.Decision,
			"promotion_suggestion": scores.PromotionSuggestion,
			"scoring_rationale":    scores.Rationale,
		},
	}
}

// FormatFloat renders a float for CSV output without trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func slice(s string, from, to int) string {
	runes := []rune(s)
	if from >= len(runes) {
		return ""
	}

	if to > len(runes) {
		to = len(runes)
	}

	return string(runes[from:to])
}
