package scoring

import (
	"sort"

	"horizon/internal/models"
)

// calibrationMinimum is the eligible-candidate count below which calibration
// does not run: small runs keep their formula buckets untouched.
const calibrationMinimum = 10

// Calibrate re-buckets importance by percentile rank of priority index among
// the run's non-rejected candidates, so importance reflects relative rank
// within the run rather than absolute formula output. The top ~7% land in
// [8, 10], the next ~28% in [6, 7], and the remainder is capped at 5.
func Calibrate(scores []*models.Scores) {
	eligible := make([]*models.Scores, 0, len(scores))

	for _, s := range scores {
		if s.Decision != models.DecisionReject {
			eligible = append(eligible, s)
		}
	}

	if len(eligible) < calibrationMinimum {
		return
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		return eligible[a].PriorityIndex > eligible[b].PriorityIndex
	})

	n := len(eligible)
	top := max(1, n*7/100)
	mid := max(1, n*28/100)

	for i, s := range eligible {
		switch {
		case i < top:
			s.Importance = clamp(s.Importance, 8, 10)
		case i < top+mid:
			s.Importance = clamp(s.Importance, 6, 7)
		default:
			if s.Importance > 5 {
				s.Importance = 5
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
