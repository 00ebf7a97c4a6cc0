// Package dqn implements the task recommendation policy: a Q-network
// over encoded learner states, trained by experience replay with reward
// shaping, behind a prerequisite-aware action filter.
package dqn

import (
	"github.com/skilltrace/backend/internal/models"
)

// Encoder layout constants. Each history entry is a fixed-width tuple so
// the network input size is static for a given catalog.
const (
	historyEntryWidth    = 7
	DefaultHistoryWindow = 20

	maxTimeSeconds = 300.0
	maxStreak      = 10.0
)

// HistoryEntry is one past attempt, already resolved against the task
// catalog and mastery state.
type HistoryEntry struct {
	TaskIndex    int
	Correct      bool
	Difficulty   models.Difficulty
	Type         models.TaskType
	SkillMastery float64
	TimeSpent    float64 // seconds
	Streak       int     // consecutive correct answers up to this attempt
}

// Encoder turns a learner's mastery vector, recent history, and the
// skill adjacency matrix into a flat feature vector.
type Encoder struct {
	skillCount    int
	historyWindow int
	adjacency     []float64 // flattened skillCount×skillCount, row-major
}

// NewEncoder builds an encoder for a fixed skill ordering. The adjacency
// matrix rows/columns must follow the same ordering as the mastery
// vector; it is flattened once up front.
func NewEncoder(skillCount, historyWindow int, adjacency [][]float64) *Encoder {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	flat := make([]float64, 0, skillCount*skillCount)
	for i := 0; i < skillCount; i++ {
		for j := 0; j < skillCount; j++ {
			v := 0.0
			if i < len(adjacency) && j < len(adjacency[i]) {
				v = adjacency[i][j]
			}
			flat = append(flat, v)
		}
	}
	return &Encoder{
		skillCount:    skillCount,
		historyWindow: historyWindow,
		adjacency:     flat,
	}
}

// StateSize is the length of every encoded vector.
func (e *Encoder) StateSize() int {
	return e.skillCount + e.historyWindow*historyEntryWidth + e.skillCount*e.skillCount
}

// HistoryWindow reports how many past attempts are encoded.
func (e *Encoder) HistoryWindow() int {
	return e.historyWindow
}

// Encode produces the feature vector: mastery values, then the most
// recent attempts oldest-first (zero-padded on the left when the history
// is short), then the flattened adjacency matrix.
func (e *Encoder) Encode(mastery []float64, history []HistoryEntry) []float64 {
	out := make([]float64, 0, e.StateSize())

	for i := 0; i < e.skillCount; i++ {
		v := 0.0
		if i < len(mastery) {
			v = clamp01(mastery[i])
		}
		out = append(out, v)
	}

	if len(history) > e.historyWindow {
		history = history[len(history)-e.historyWindow:]
	}
	pad := e.historyWindow - len(history)
	out = append(out, make([]float64, pad*historyEntryWidth)...)
	for _, h := range history {
		out = append(out, h.features()...)
	}

	out = append(out, e.adjacency...)
	return out
}

func (h HistoryEntry) features() []float64 {
	correct := 0.0
	if h.Correct {
		correct = 1.0
	}
	timeNorm := h.TimeSpent / maxTimeSeconds
	if timeNorm > 1.0 {
		timeNorm = 1.0
	}
	streak := float64(h.Streak) / maxStreak
	if streak > 1.0 {
		streak = 1.0
	}
	return []float64{
		float64(h.TaskIndex),
		correct,
		float64(h.Difficulty.Code()),
		float64(h.Type.Code()),
		clamp01(h.SkillMastery),
		timeNorm,
		streak,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
