package bkt

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/skillgraph"
)

func singleIntermediate(taskID int64, skills ...int64) models.TaskCharacteristics {
	return models.TaskCharacteristics{
		TaskID:     taskID,
		SkillIDs:   skills,
		Difficulty: models.DifficultyIntermediate,
		Type:       models.TypeSingleChoice,
	}
}

func TestUpdateCorrectSingleIntermediate(t *testing.T) {
	m := NewModel(nil)
	if err := m.SetSkillParameters(7, Parameters{PL0: 0.1, PT: 0.3, PG: 0.2, PS: 0.1}); err != nil {
		t.Fatalf("SetSkillParameters: %v", err)
	}

	// Adapted params for a single-choice intermediate task:
	// P_T'=0.3, P_G'=0.25, P_S'=0.1. Posterior after a correct answer is
	// 0.1*0.9/(0.1*0.9+0.9*0.25) ≈ 0.2857, then the learning step lands
	// mastery at 0.5.
	state := m.Update(42, 7, true, singleIntermediate(1, 7))

	if math.Abs(state.Mastery-0.5) > 1e-3 {
		t.Errorf("mastery = %.6f, want 0.5 (±1e-3)", state.Mastery)
	}
	if state.Attempts != 1 || state.Correct != 1 {
		t.Errorf("counters = %d/%d, want 1/1", state.Correct, state.Attempts)
	}
}

func TestUpdateAdaptsToTaskType(t *testing.T) {
	base := Parameters{PL0: 0.1, PT: 0.3, PG: 0.2, PS: 0.1}

	tests := []struct {
		name   string
		task   models.TaskCharacteristics
		wantPT float64
		wantPG float64
		wantPS float64
	}{
		{
			name:   "true_false beginner",
			task:   models.TaskCharacteristics{Difficulty: models.DifficultyBeginner, Type: models.TypeTrueFalse},
			wantPT: 0.36,
			wantPG: 0.5,
			wantPS: 0.08,
		},
		{
			name:   "multiple advanced",
			task:   models.TaskCharacteristics{Difficulty: models.DifficultyAdvanced, Type: models.TypeMultipleChoice},
			wantPT: 0.24,
			wantPG: 0.1,
			wantPS: 0.13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := base.Adapt(tt.task)
			if math.Abs(got.PT-tt.wantPT) > 1e-9 {
				t.Errorf("PT = %v, want %v", got.PT, tt.wantPT)
			}
			if math.Abs(got.PG-tt.wantPG) > 1e-9 {
				t.Errorf("PG = %v, want %v", got.PG, tt.wantPG)
			}
			if math.Abs(got.PS-tt.wantPS) > 1e-9 {
				t.Errorf("PS = %v, want %v", got.PS, tt.wantPS)
			}
			if got.PL0 != base.PL0 {
				t.Errorf("PL0 changed: %v", got.PL0)
			}
		})
	}
}

func TestMasteryStaysBounded(t *testing.T) {
	m := NewModel(nil)
	task := singleIntermediate(1, 3)

	for i := 0; i < 50; i++ {
		s := m.Update(1, 3, true, task)
		if s.Mastery < 0 || s.Mastery > 1 {
			t.Fatalf("mastery out of range after %d correct: %v", i+1, s.Mastery)
		}
	}
	for i := 0; i < 50; i++ {
		s := m.Update(2, 3, false, task)
		if s.Mastery < 0 || s.Mastery > 1 {
			t.Fatalf("mastery out of range after %d incorrect: %v", i+1, s.Mastery)
		}
	}
}

func TestCorrectStreakRaisesMastery(t *testing.T) {
	m := NewModel(nil)
	task := singleIntermediate(1, 5)

	prev := m.Update(9, 5, true, task).Mastery
	for i := 0; i < 10; i++ {
		cur := m.Update(9, 5, true, task).Mastery
		if cur < prev {
			t.Fatalf("mastery decreased on correct streak: %v -> %v", prev, cur)
		}
		prev = cur
	}
	if prev < 0.95 {
		t.Errorf("mastery after long correct streak = %v, want > 0.95", prev)
	}
}

func TestInitializeUsesPrerequisiteMastery(t *testing.T) {
	g := skillgraph.New()
	g.AddSkill(models.Skill{ID: 1})
	g.AddSkill(models.Skill{ID: 2})
	if err := g.AddPrerequisite(2, 1); err != nil {
		t.Fatalf("AddPrerequisite: %v", err)
	}

	m := NewModel(nil)
	m.SetGraph(g)

	// A strong prerequisite lifts the cold-start estimate above PL0.
	m.states.Put(models.SkillState{LearnerID: 1, SkillID: 1, Mastery: 0.9})
	boosted := m.Initialize(1, 2).Mastery
	want := DefaultParameters.PL0 + (0.9-0.5)*0.3
	if math.Abs(boosted-want) > 1e-9 {
		t.Errorf("boosted initial mastery = %v, want %v", boosted, want)
	}

	// No prerequisite data: plain PL0.
	plain := m.Initialize(2, 2).Mastery
	if plain != DefaultParameters.PL0 {
		t.Errorf("plain initial mastery = %v, want %v", plain, DefaultParameters.PL0)
	}
}

func TestMasteryDefaultsToZero(t *testing.T) {
	m := NewModel(nil)
	if got := m.Mastery(99, 99); got != 0.0 {
		t.Errorf("Mastery for unknown pair = %v, want 0", got)
	}
	vec := m.MasteryVector(99, []int64{1, 2, 3})
	for i, v := range vec {
		if v != 0.0 {
			t.Errorf("vec[%d] = %v, want 0", i, v)
		}
	}
}

func TestPredictDoesNotMutate(t *testing.T) {
	m := NewModel(nil)
	task := singleIntermediate(1, 4)

	p := m.Predict(5, 4, task)
	if p <= 0 || p >= 1 {
		t.Fatalf("Predict = %v, want in (0,1)", p)
	}
	if _, ok := m.states.Get(5, 4); ok {
		t.Error("Predict created a state")
	}
}

func TestCourseMastery(t *testing.T) {
	m := NewModel(nil)
	m.states.Put(models.SkillState{LearnerID: 1, SkillID: 1, Mastery: 0.8})
	m.states.Put(models.SkillState{LearnerID: 1, SkillID: 2, Mastery: 0.4})

	// Skill 3 is unseen and contributes the default prior.
	got := m.CourseMastery(1, []int64{1, 2, 3})
	want := (0.8 + 0.4 + DefaultParameters.PL0) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("CourseMastery = %v, want %v", got, want)
	}
	if m.CourseMastery(1, nil) != 0.0 {
		t.Error("empty course should report 0")
	}
}

func TestDifficultyRankingOrdersHardestFirst(t *testing.T) {
	m := NewModel(nil)
	// Easy: high prior, fast learning, rare slips.
	if err := m.SetSkillParameters(1, Parameters{PL0: 0.6, PT: 0.5, PG: 0.2, PS: 0.05}); err != nil {
		t.Fatal(err)
	}
	// Hard: low prior, slow learning, frequent slips.
	if err := m.SetSkillParameters(2, Parameters{PL0: 0.05, PT: 0.05, PG: 0.2, PS: 0.3}); err != nil {
		t.Fatal(err)
	}

	ranking := m.DifficultyRanking()
	if len(ranking) != 2 {
		t.Fatalf("len(ranking) = %d, want 2", len(ranking))
	}
	if ranking[0].SkillID != 2 {
		t.Errorf("hardest skill = %d, want 2", ranking[0].SkillID)
	}
}

func TestSetSkillParametersRejectsInvalid(t *testing.T) {
	m := NewModel(nil)
	err := m.SetSkillParameters(1, Parameters{PL0: 1.2, PT: 0.3, PG: 0.2, PS: 0.1})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewModel(nil)
	params := Parameters{PL0: 0.12, PT: 0.34, PG: 0.21, PS: 0.09}
	if err := m.SetSkillParameters(3, params); err != nil {
		t.Fatal(err)
	}
	m.Update(1, 3, true, singleIntermediate(1, 3))
	m.markTrained(250)

	path := filepath.Join(t.TempDir(), "model.json")
	prereqs := map[int64][]int64{3: {1, 2}}
	if err := m.Save(path, prereqs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewModel(nil)
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := restored.SkillParameters(3); got != params {
		t.Errorf("parameters = %+v, want %+v", got, params)
	}
	if got, want := restored.Mastery(1, 3), m.Mastery(1, 3); got != want {
		t.Errorf("mastery = %v, want %v", got, want)
	}
	if !restored.IsTrained() {
		t.Error("IsTrained lost in round trip")
	}
}

func TestRestoreRejectsBadSnapshot(t *testing.T) {
	tests := []struct {
		name string
		snap *Snapshot
	}{
		{"nil", nil},
		{
			"bad skill key",
			&Snapshot{SkillParameters: map[string]Parameters{"abc": DefaultParameters}},
		},
		{
			"invalid parameters",
			&Snapshot{SkillParameters: map[string]Parameters{"1": {PL0: -1, PT: 0.3, PG: 0.2, PS: 0.1}}},
		},
		{
			"mastery out of range",
			&Snapshot{StudentStates: []models.SkillState{{LearnerID: 1, SkillID: 1, Mastery: 1.5}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(nil)
			err := m.Restore(tt.snap)
			var serr *models.SnapshotError
			if !errors.As(err, &serr) {
				t.Fatalf("err = %v, want SnapshotError", err)
			}
		})
	}
}
