// Package rotation selects the deterministic daily slice of the source
// catalog. State is an explicit {last_offset, last_date} record persisted as
// JSON between runs; repeated calls on the same date reuse the same offset so
// retries neither skip nor duplicate sources.
package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"horizon/internal/models"
)

// State is the persisted rotation position.
type State struct {
	LastOffset int    `json:"last_offset"`
	LastDate   string `json:"last_date"`
}

// Info describes the current position in the rotation cycle, for reporting.
type Info struct {
	Offset      int
	BatchSize   int
	DayInCycle  int
	CycleLength int
	Total       int
}

// Scheduler rotates through the source catalog in fixed-size daily batches.
type Scheduler struct {
	statePath string
	batchSize int
}

// NewScheduler creates a scheduler persisting state at statePath.
func NewScheduler(statePath string, batchSize int) *Scheduler {
	return &Scheduler{statePath: statePath, batchSize: batchSize}
}

// NextBatch returns the slice of sources for the given date. With fullSweep
// the entire catalog is returned unmodified and no state changes. An empty
// catalog yields an empty batch with no state mutation. The batch wraps
// around the end of the catalog when needed.
func (s *Scheduler) NextBatch(allSources []models.Source, date string, fullSweep bool) ([]models.Source, Info, error) {
	if fullSweep {
		return allSources, s.infoAt(0, len(allSources)), nil
	}

	total := len(allSources)
	if total == 0 {
		return nil, Info{BatchSize: s.batchSize}, nil
	}

	state := s.loadState()
	offset := s.offsetFor(state, date, total)

	size := s.batchSize
	if size > total {
		size = total
	}

	end := offset + size

	var batch []models.Source
	if end <= total {
		batch = append(batch, allSources[offset:end]...)
	} else {
		batch = append(batch, allSources[offset:]...)
		batch = append(batch, allSources[:end-total]...)
	}

	if err := s.saveState(State{LastOffset: offset, LastDate: date}); err != nil {
		return nil, Info{}, fmt.Errorf("failed to persist rotation state: %w", err)
	}

	return batch, s.infoAt(offset, total), nil
}

// PeekInfo reports the cycle position the next call for date would use,
// without mutating state.
func (s *Scheduler) PeekInfo(allSources []models.Source, date string) Info {
	total := len(allSources)
	if total == 0 {
		return Info{BatchSize: s.batchSize}
	}

	return s.infoAt(s.offsetFor(s.loadState(), date, total), total)
}

func (s *Scheduler) offsetFor(state State, date string, total int) int {
	if state.LastDate == date {
		return state.LastOffset % total
	}

	return (state.LastOffset + s.batchSize) % total
}

func (s *Scheduler) infoAt(offset, total int) Info {
	cycle := 0
	if s.batchSize > 0 {
		cycle = (total + s.batchSize - 1) / s.batchSize
	}

	return Info{
		Offset:      offset,
		BatchSize:   s.batchSize,
		DayInCycle:  offset/s.batchSize + 1,
		CycleLength: cycle,
		Total:       total,
	}
}

// loadState reads the persisted state; a missing or corrupt file resets the
// rotation to the start.
func (s *Scheduler) loadState() State {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return State{}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}
	}

	return state
}

func (s *Scheduler) saveState(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(s.statePath, data, 0o644)
}
