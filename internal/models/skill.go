package models

import "time"

// Difficulty is the declared difficulty of a task.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

var ValidDifficulties = map[Difficulty]bool{
	DifficultyBeginner:     true,
	DifficultyIntermediate: true,
	DifficultyAdvanced:     true,
}

// TaskType is the answer format of a task.
type TaskType string

const (
	TypeTrueFalse      TaskType = "true_false"
	TypeSingleChoice   TaskType = "single_choice"
	TypeMultipleChoice TaskType = "multiple_choice"
)

var ValidTaskTypes = map[TaskType]bool{
	TypeTrueFalse:      true,
	TypeSingleChoice:   true,
	TypeMultipleChoice: true,
}

// Lookup tables for BKT parameter adaptation. The difficulty multiplier
// scales the learning probability, the slip multiplier scales the slip
// probability, and the base guess replaces the guess probability outright.
var (
	difficultyMultipliers = map[Difficulty]float64{
		DifficultyBeginner:     1.2,
		DifficultyIntermediate: 1.0,
		DifficultyAdvanced:     0.8,
	}

	baseGuessProbabilities = map[TaskType]float64{
		TypeTrueFalse:      0.5,
		TypeSingleChoice:   0.25,
		TypeMultipleChoice: 0.1,
	}

	slipMultipliers = map[TaskType]float64{
		TypeTrueFalse:      0.8,
		TypeSingleChoice:   1.0,
		TypeMultipleChoice: 1.3,
	}

	difficultyCodes = map[Difficulty]int{
		DifficultyBeginner:     0,
		DifficultyIntermediate: 1,
		DifficultyAdvanced:     2,
	}

	typeCodes = map[TaskType]int{
		TypeTrueFalse:      0,
		TypeSingleChoice:   1,
		TypeMultipleChoice: 2,
	}
)

// DifficultyMultiplier returns the learning-rate multiplier for d.
// Unknown difficulties fall back to the intermediate multiplier.
func (d Difficulty) DifficultyMultiplier() float64 {
	if m, ok := difficultyMultipliers[d]; ok {
		return m
	}
	return 1.0
}

// Code returns the integer encoding used in feature vectors.
func (d Difficulty) Code() int {
	if c, ok := difficultyCodes[d]; ok {
		return c
	}
	return 1
}

// BaseGuess returns the base guessing probability for the task type.
func (t TaskType) BaseGuess() float64 {
	if g, ok := baseGuessProbabilities[t]; ok {
		return g
	}
	return 0.25
}

// SlipMultiplier returns the slip-probability multiplier for the task type.
func (t TaskType) SlipMultiplier() float64 {
	if m, ok := slipMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// Code returns the integer encoding used in feature vectors.
func (t TaskType) Code() int {
	if c, ok := typeCodes[t]; ok {
		return c
	}
	return 1
}

// Skill is a curriculum skill node. Prerequisite ids point at skills that
// must be learned first (edges run prerequisite → skill).
type Skill struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	IsBase        bool    `json:"is_base"`
	Prerequisites []int64 `json:"prerequisites,omitempty"`
}

// TaskCharacteristics describes a task well enough to adapt BKT parameters
// and build action features: the skills it exercises, its declared
// difficulty and its answer format.
type TaskCharacteristics struct {
	TaskID     int64      `json:"task_id"`
	SkillIDs   []int64    `json:"skill_ids"`
	Difficulty Difficulty `json:"difficulty"`
	Type       TaskType   `json:"type"`
}

// AttemptRecord is one entry of a learner's attempt history, ordered
// chronologically by the store.
type AttemptRecord struct {
	TaskID      int64      `json:"task_id"`
	SkillIDs    []int64    `json:"skill_ids"`
	Correct     bool       `json:"correct"`
	Difficulty  Difficulty `json:"difficulty"`
	Type        TaskType   `json:"type"`
	TimeSpent   *float64   `json:"time_spent_seconds,omitempty"`
	AttemptedAt time.Time  `json:"attempted_at"`
}
