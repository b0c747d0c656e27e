package scoring

import (
	"fmt"
	"testing"

	"horizon/internal/models"
)

func makeScores(n int) []*models.Scores {
	scores := make([]*models.Scores, n)
	for i := range scores {
		priority := float64(100 - i)
		scores[i] = &models.Scores{
			CandidateID:   fmt.Sprintf("c%d", i),
			PriorityIndex: priority,
			Importance:    ImportanceBucket(priority),
			Decision:      models.DecisionReview,
		}
	}

	return scores
}

func TestCalibrate_SkipsSmallRuns(t *testing.T) {
	scores := makeScores(9)
	before := make([]int, len(scores))
	for i, s := range scores {
		before[i] = s.Importance
	}

	Calibrate(scores)

	for i, s := range scores {
		if s.Importance != before[i] {
			t.Errorf("Expected importance untouched below 10 eligible, %s changed %d -> %d",
				s.CandidateID, before[i], s.Importance)
		}
	}
}

func TestCalibrate_RejectedNotEligible(t *testing.T) {
	// 9 eligible plus 5 rejected stays under the minimum.
	scores := makeScores(9)
	for i := 0; i < 5; i++ {
		scores = append(scores, &models.Scores{
			CandidateID:   fmt.Sprintf("r%d", i),
			PriorityIndex: 90,
			Importance:    9,
			Decision:      models.DecisionReject,
		})
	}

	Calibrate(scores)

	for _, s := range scores[:9] {
		if s.Importance != ImportanceBucket(s.PriorityIndex) {
			t.Errorf("Expected no calibration with only 9 eligible, %s became %d",
				s.CandidateID, s.Importance)
		}
	}
}

func TestCalibrate_Distribution(t *testing.T) {
	scores := makeScores(100)

	Calibrate(scores)

	// Top 7 land in [8, 10], next 28 in [6, 7], remainder at most 5.
	for i, s := range scores {
		switch {
		case i < 7:
			if s.Importance < 8 || s.Importance > 10 {
				t.Errorf("Rank %d: expected importance in [8,10], got %d", i, s.Importance)
			}
		case i < 35:
			if s.Importance < 6 || s.Importance > 7 {
				t.Errorf("Rank %d: expected importance in [6,7], got %d", i, s.Importance)
			}
		default:
			if s.Importance > 5 {
				t.Errorf("Rank %d: expected importance <= 5, got %d", i, s.Importance)
			}
		}
	}
}

func TestCalibrate_RaisesAndLowers(t *testing.T) {
	// 10 eligible with flat formula importance: the top rank is raised to 8,
	// the tail is capped at 5.
	scores := make([]*models.Scores, 10)
	for i := range scores {
		scores[i] = &models.Scores{
			CandidateID:   fmt.Sprintf("c%d", i),
			PriorityIndex: float64(70 - i),
			Importance:    7,
			Decision:      models.DecisionAccept,
		}
	}

	Calibrate(scores)

	if scores[0].Importance != 8 {
		t.Errorf("Expected top candidate raised to 8, got %d", scores[0].Importance)
	}

	if scores[1].Importance != 7 {
		t.Errorf("Expected second candidate kept at 7, got %d", scores[1].Importance)
	}

	if scores[9].Importance != 5 {
		t.Errorf("Expected tail capped at 5, got %d", scores[9].Importance)
	}
}
