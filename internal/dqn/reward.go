package dqn

import (
	"math"

	"github.com/skilltrace/backend/internal/models"
)

// Reward shaping weights.
const (
	rewardCorrect      = 1.0
	rewardIncorrect    = -0.5
	masteryGainWeight  = 2.0
	difficultyWeight   = 0.5
	explorationBonus   = 0.5
	frustrationPenalty = -0.3
	violationPenalty   = -2.0

	targetSuccessProb   = 0.7
	explorationWindow   = 5
	frustrationFailures = 3
)

// RewardContext carries everything the shaping function looks at for one
// served task outcome.
type RewardContext struct {
	Correct       bool
	MasteryBefore float64
	MasteryAfter  float64

	// SuccessProb is the model's predicted success probability for the
	// task before the attempt.
	SuccessProb float64

	// TaskSkills are the skills the served task exercises;
	// RecentSkills the skills touched by the learner's last few served
	// tasks, newest last.
	TaskSkills   []int64
	RecentSkills [][]int64

	ConsecutiveFailures int
	PrereqViolation     bool
}

// Shape computes the shaped reward for one attempt. The base correctness
// term is adjusted by mastery gain, how close the task sat to the target
// difficulty, novelty of the exercised skills, and penalties for learner
// frustration and prerequisite violations.
func Shape(ctx RewardContext) float64 {
	reward := rewardIncorrect
	if ctx.Correct {
		reward = rewardCorrect
	}

	reward += masteryGainWeight * (ctx.MasteryAfter - ctx.MasteryBefore)
	reward += difficultyWeight * DifficultyMatch(ctx.SuccessProb)

	if isExploratory(ctx.TaskSkills, ctx.RecentSkills) {
		reward += explorationBonus
	}
	if ctx.ConsecutiveFailures >= frustrationFailures {
		reward += frustrationPenalty
	}
	if ctx.PrereqViolation {
		reward += violationPenalty
	}
	return reward
}

// DifficultyMatch scores how close a task's predicted success
// probability sits to the 0.7 sweet spot: 1 at the target, falling
// linearly to 0 at a distance of 0.5.
func DifficultyMatch(successProb float64) float64 {
	return math.Max(0, 1-math.Abs(successProb-targetSuccessProb)*2)
}

// isExploratory reports whether the task touches any skill absent from
// the learner's recent window.
func isExploratory(taskSkills []int64, recent [][]int64) bool {
	if len(recent) > explorationWindow {
		recent = recent[len(recent)-explorationWindow:]
	}
	seen := make(map[int64]bool)
	for _, skills := range recent {
		for _, s := range skills {
			seen[s] = true
		}
	}
	for _, s := range taskSkills {
		if !seen[s] {
			return true
		}
	}
	return false
}

// ExpertReward maps expert feedback directly to a reward, bypassing
// shaping entirely. ok is false for unknown type/strength combinations.
func ExpertReward(ft models.FeedbackType, fs models.FeedbackStrength) (float64, bool) {
	return models.RewardValue(ft, fs)
}
