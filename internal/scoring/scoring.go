// Package scoring implements the deterministic decision engine: novelty from
// similarity, credibility from source trust tier, the weighted priority
// index with credibility gates, importance bucketing, the accept/review/
// reject decision, and the run-level calibration pass.
package scoring

import (
	"math"

	"horizon/internal/config"
	"horizon/internal/models"
)

// tierCredibility maps a source trust tier to its base credibility score.
// Unknown tiers fall back to C.
var tierCredibility = map[string]float64{
	"A": 85,
	"B": 72,
	"C": 58,
	"D": 35,
}

// importanceBins maps a priority index onto the 1-10 importance scale.
// Values below the lowest range map to 1, above the highest to 10.
var importanceBins = []struct {
	low, high float64
	bucket    int
}{
	{0, 14, 1},
	{15, 24, 2},
	{25, 34, 3},
	{35, 44, 4},
	{45, 54, 5},
	{55, 64, 6},
	{65, 74, 7},
	{75, 84, 8},
	{85, 92, 9},
	{93, 100, 10},
}

// stubRelevance is the fixed relevance assumed when no inference-based
// relevance is available.
const stubRelevance = 55.0

// NoveltyFromSimilarity maps max similarity to a novelty score in [0, 100].
// Monotonic decreasing: near-zero similarity approaches 100 novelty; at or
// above 0.90 similarity novelty collapses to at most 15, reaching 0 at 1.0;
// at or below 0.70 it is at least 85; linear in between.
func NoveltyFromSimilarity(maxSimilarity float64) float64 {
	var novelty float64

	switch {
	case maxSimilarity >= 0.90:
		novelty = 15.0 * (1 - (maxSimilarity-0.90)/0.10)
	case maxSimilarity <= 0.70:
		novelty = 85.0 + (0.70-maxSimilarity)*150.0
	default:
		slope := (85.0 - 15.0) / (0.70 - 0.90)
		novelty = 15.0 + slope*(maxSimilarity-0.90)
	}

	return math.Max(0, math.Min(100, novelty))
}

// CredibilityForTier returns the base credibility for a trust tier.
func CredibilityForTier(tier string) float64 {
	if score, ok := tierCredibility[tier]; ok {
		return score
	}

	return tierCredibility["C"]
}

// ImportanceBucket maps a priority index into one of ten importance buckets.
func ImportanceBucket(priority float64) int {
	for _, bin := range importanceBins {
		if priority >= bin.low && priority <= bin.high {
			return bin.bucket
		}
	}

	if priority < 0 {
		return 1
	}

	return 10
}

// Score derives the full score set for a candidate. The duplicate
// short-circuit overrides everything: a flagged or threshold-crossing
// candidate is rejected with importance 1 regardless of other scores.
func Score(cand models.Candidate, comp models.Comparison, sourceTier string, cfg config.ScoringConfig) models.Scores {
	novelty := NoveltyFromSimilarity(comp.MaxSimilarity)
	credibility := CredibilityForTier(sourceTier)
	relevance := stubRelevance

	priority := 0.45*relevance + 0.35*novelty + 0.20*credibility

	// Credibility gates override raw priority.
	if credibility < 40 {
		priority = math.Min(priority, 50)
	}

	if credibility < 25 {
		priority = math.Min(priority, 35)
	}

	scores := models.Scores{
		CandidateID:         cand.CandidateID,
		Novelty:             round2(novelty),
		Credibility:         round2(credibility),
		Relevance:           round2(relevance),
		PriorityIndex:       round2(priority),
		PromotionSuggestion: "none",
		Rationale:           "Deterministic scoring from similarity and source tier.",
	}

	if comp.DuplicateFlag || comp.MaxSimilarity >= cfg.DuplicateSimilarity {
		scores.Importance = 1
		scores.Decision = models.DecisionReject

		return scores
	}

	scores.Importance = ImportanceBucket(priority)

	switch {
	case priority >= cfg.AcceptPriority && credibility >= cfg.MinCredibilityAccept:
		scores.Decision = models.DecisionAccept
	case priority >= cfg.ReviewMinPriority || credibility >= cfg.MinCredibilityReview:
		scores.Decision = models.DecisionReview
	default:
		scores.Decision = models.DecisionReject
	}

	return scores
}

// Enforce applies the duplicate short-circuit and decision thresholds to a
// score set produced by the inference service, so remote output cannot
// bypass the dedup invariant.
func Enforce(scores *models.Scores, comp models.Comparison, cfg config.ScoringConfig) {
	if comp.DuplicateFlag || comp.MaxSimilarity >= cfg.DuplicateSimilarity {
		scores.Importance = 1
		scores.Decision = models.DecisionReject
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
