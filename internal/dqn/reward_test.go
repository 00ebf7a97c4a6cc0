package dqn

import (
	"math"
	"testing"

	"github.com/skilltrace/backend/internal/models"
)

func TestShapeBaseTerms(t *testing.T) {
	// No mastery change, far-off difficulty, familiar skills: only the
	// correctness term remains.
	base := RewardContext{SuccessProb: 0.2, TaskSkills: []int64{1}, RecentSkills: [][]int64{{1}}}

	correct := base
	correct.Correct = true
	if got := Shape(correct); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("correct reward = %v, want 1.0", got)
	}
	if got := Shape(base); math.Abs(got-(-0.5)) > 1e-9 {
		t.Errorf("incorrect reward = %v, want -0.5", got)
	}
}

func TestShapeMasteryGain(t *testing.T) {
	ctx := RewardContext{
		Correct:       true,
		MasteryBefore: 0.3,
		MasteryAfter:  0.5,
		SuccessProb:   0.2,
		TaskSkills:    []int64{1},
		RecentSkills:  [][]int64{{1}},
	}
	// 1.0 + 2.0×0.2
	if got := Shape(ctx); math.Abs(got-1.4) > 1e-9 {
		t.Errorf("reward = %v, want 1.4", got)
	}
}

func TestDifficultyMatch(t *testing.T) {
	tests := []struct {
		prob float64
		want float64
	}{
		{0.7, 1.0},
		{0.5, 0.6},
		{0.9, 0.6},
		{0.2, 0.0},
		{1.0, 0.4},
	}
	for _, tt := range tests {
		if got := DifficultyMatch(tt.prob); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("DifficultyMatch(%v) = %v, want %v", tt.prob, got, tt.want)
		}
	}
}

func TestShapeExplorationBonus(t *testing.T) {
	recent := [][]int64{{1}, {1}, {2}, {2}, {1}}

	novel := RewardContext{Correct: true, SuccessProb: 0.2, TaskSkills: []int64{3}, RecentSkills: recent}
	familiar := RewardContext{Correct: true, SuccessProb: 0.2, TaskSkills: []int64{2}, RecentSkills: recent}
	if got := Shape(novel) - Shape(familiar); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("exploration bonus = %v, want 0.5", got)
	}

	// A skill only seen outside the five-action window counts as novel
	// again.
	old := [][]int64{{3}, {1}, {1}, {2}, {2}, {1}}
	stale := RewardContext{Correct: true, SuccessProb: 0.2, TaskSkills: []int64{3}, RecentSkills: old}
	if got := Shape(stale) - Shape(familiar); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("stale-skill bonus = %v, want 0.5", got)
	}
}

func TestShapePenalties(t *testing.T) {
	base := RewardContext{SuccessProb: 0.2, TaskSkills: []int64{1}, RecentSkills: [][]int64{{1}}}

	frustrated := base
	frustrated.ConsecutiveFailures = 3
	if got := Shape(frustrated) - Shape(base); math.Abs(got-(-0.3)) > 1e-9 {
		t.Errorf("frustration penalty = %v, want -0.3", got)
	}

	twoFailures := base
	twoFailures.ConsecutiveFailures = 2
	if got := Shape(twoFailures); got != Shape(base) {
		t.Error("penalty applied below three consecutive failures")
	}

	violation := base
	violation.PrereqViolation = true
	if got := Shape(violation) - Shape(base); math.Abs(got-(-2.0)) > 1e-9 {
		t.Errorf("violation penalty = %v, want -2.0", got)
	}
}

func TestExpertReward(t *testing.T) {
	tests := []struct {
		ft   models.FeedbackType
		fs   models.FeedbackStrength
		want float64
	}{
		{models.FeedbackPositive, models.StrengthLow, 0.3},
		{models.FeedbackPositive, models.StrengthMedium, 0.6},
		{models.FeedbackPositive, models.StrengthStrong, 1.0},
		{models.FeedbackNegative, models.StrengthLow, -0.3},
		{models.FeedbackNegative, models.StrengthMedium, -0.6},
		{models.FeedbackNegative, models.StrengthStrong, -1.0},
	}
	for _, tt := range tests {
		got, ok := ExpertReward(tt.ft, tt.fs)
		if !ok || math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ExpertReward(%s, %s) = %v, want %v", tt.ft, tt.fs, got, tt.want)
		}
	}
	if _, ok := ExpertReward("bogus", models.StrengthLow); ok {
		t.Error("unknown feedback type must not map to a reward")
	}
}
