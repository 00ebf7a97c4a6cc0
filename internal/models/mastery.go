package models

import "time"

// SkillState is the tracked mastery estimate for one (learner, skill) pair.
// Mastery stays clamped to [0, 1]; Attempts >= Correct >= 0.
type SkillState struct {
	LearnerID int64     `json:"learner_id"`
	SkillID   int64     `json:"skill_id"`
	Mastery   float64   `json:"mastery"`
	Attempts  int       `json:"attempts"`
	Correct   int       `json:"correct"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accuracy returns the observed fraction of correct attempts.
func (s SkillState) Accuracy() float64 {
	if s.Attempts == 0 {
		return 0.0
	}
	return float64(s.Correct) / float64(s.Attempts)
}

// Observation is one training record: a learner's attempt outcome on a
// skill, timestamped so sequences can be ordered chronologically.
type Observation struct {
	LearnerID   int64     `json:"learner_id"`
	SkillID     int64     `json:"skill_id"`
	Correct     bool      `json:"correct"`
	TaskID      int64     `json:"task_id,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// SkillTrainingResult reports the fitted parameters and validation metrics
// for a single skill.
type SkillTrainingResult struct {
	SkillID             int64   `json:"skill_id"`
	PL0                 float64 `json:"p_l0"`
	PT                  float64 `json:"p_t"`
	PG                  float64 `json:"p_g"`
	PS                  float64 `json:"p_s"`
	Iterations          int     `json:"iterations"`
	Converged           bool    `json:"converged"`
	OptimizationSuccess bool    `json:"optimization_success"`
	Accuracy            float64 `json:"accuracy"`
	LogLikelihood       float64 `json:"log_likelihood"`
	DataPoints          int     `json:"data_points"`
}

// TrainingReport aggregates per-skill fit results and the per-record
// validation errors that were skipped rather than aborting the batch.
type TrainingReport struct {
	Skills       map[int64]SkillTrainingResult `json:"skills"`
	TotalRecords int                           `json:"total_records"`
	Skipped      int                           `json:"skipped"`
	Errors       []string                      `json:"errors,omitempty"`
}
