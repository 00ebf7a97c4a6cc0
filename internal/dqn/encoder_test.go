package dqn

import (
	"testing"

	"github.com/skilltrace/backend/internal/models"
)

func TestEncoderStateSize(t *testing.T) {
	adj := [][]float64{{0, 1, 0}, {0, 0, 0}, {1, 0, 0}}
	e := NewEncoder(3, 4, adj)
	want := 3 + 4*historyEntryWidth + 9
	if got := e.StateSize(); got != want {
		t.Errorf("StateSize = %d, want %d", got, want)
	}
	if got := len(e.Encode([]float64{0.5, 0.2, 0.9}, nil)); got != want {
		t.Errorf("encoded length = %d, want %d", got, want)
	}
}

func TestEncodePadsShortHistory(t *testing.T) {
	e := NewEncoder(2, 3, [][]float64{{0, 0}, {1, 0}})
	entry := HistoryEntry{
		TaskIndex:    4,
		Correct:      true,
		Difficulty:   models.DifficultyAdvanced,
		Type:         models.TypeMultipleChoice,
		SkillMastery: 0.6,
		TimeSpent:    150,
		Streak:       5,
	}
	state := e.Encode([]float64{0.1, 0.2}, []HistoryEntry{entry})

	// Two zero-padded slots precede the single real entry.
	hist := state[2 : 2+3*historyEntryWidth]
	for i := 0; i < 2*historyEntryWidth; i++ {
		if hist[i] != 0 {
			t.Fatalf("padding slot %d = %v, want 0", i, hist[i])
		}
	}
	got := hist[2*historyEntryWidth:]
	want := []float64{4, 1, float64(models.DifficultyAdvanced.Code()), float64(models.TypeMultipleChoice.Code()), 0.6, 0.5, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry feature %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Adjacency tail.
	tail := state[len(state)-4:]
	for i, v := range []float64{0, 0, 1, 0} {
		if tail[i] != v {
			t.Errorf("adjacency[%d] = %v, want %v", i, tail[i], v)
		}
	}
}

func TestEncodeCapsTimeAndStreak(t *testing.T) {
	e := NewEncoder(1, 1, [][]float64{{0}})
	state := e.Encode([]float64{0}, []HistoryEntry{{TimeSpent: 900, Streak: 25}})
	timeFeature := state[1+5]
	streakFeature := state[1+6]
	if timeFeature != 1.0 {
		t.Errorf("time feature = %v, want capped at 1", timeFeature)
	}
	if streakFeature != 1.0 {
		t.Errorf("streak feature = %v, want capped at 1", streakFeature)
	}
}

func TestEncodeTruncatesLongHistory(t *testing.T) {
	e := NewEncoder(1, 2, [][]float64{{0}})
	history := []HistoryEntry{{TaskIndex: 1}, {TaskIndex: 2}, {TaskIndex: 3}}
	state := e.Encode([]float64{0}, history)
	// Only the two newest entries survive; first slot is task 2.
	if state[1] != 2 {
		t.Errorf("first kept entry task index = %v, want 2", state[1])
	}
	if state[1+historyEntryWidth] != 3 {
		t.Errorf("second kept entry task index = %v, want 3", state[1+historyEntryWidth])
	}
}
