package models

import "time"

// Recommendation is a persisted task recommendation for a learner.
type Recommendation struct {
	ID         int64     `json:"id"`
	LearnerID  int64     `json:"learner_id"`
	TaskID     int64     `json:"task_id"`
	QValue     float64   `json:"q_value"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type FeedbackType string

const (
	FeedbackPositive FeedbackType = "positive"
	FeedbackNegative FeedbackType = "negative"
)

type FeedbackStrength string

const (
	StrengthLow    FeedbackStrength = "low"
	StrengthMedium FeedbackStrength = "medium"
	StrengthStrong FeedbackStrength = "strong"
)

var feedbackRewards = map[FeedbackStrength]float64{
	StrengthLow:    0.3,
	StrengthMedium: 0.6,
	StrengthStrong: 1.0,
}

// RewardValue maps (type, strength) onto the training reward in
// {±0.3, ±0.6, ±1.0}. The second return is false for unknown values.
func RewardValue(ft FeedbackType, fs FeedbackStrength) (float64, bool) {
	base, ok := feedbackRewards[fs]
	if !ok {
		return 0, false
	}
	switch ft {
	case FeedbackPositive:
		return base, true
	case FeedbackNegative:
		return -base, true
	default:
		return 0, false
	}
}

// ExpertFeedback is an expert's judgment of a recommendation. At most one
// row exists per (recommendation, expert); later submissions overwrite.
type ExpertFeedback struct {
	ID               int64            `json:"id"`
	RecommendationID int64            `json:"recommendation_id"`
	ExpertID         int64            `json:"expert_id"`
	Type             FeedbackType     `json:"type"`
	Strength         FeedbackStrength `json:"strength"`
	RewardValue      float64          `json:"reward_value"`
	Comment          string           `json:"comment,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ── API Request/Response Types ────────────────────────────

type SubmitAttemptRequest struct {
	LearnerID        int64    `json:"learner_id"`
	TaskID           int64    `json:"task_id"`
	Correct          bool     `json:"correct"`
	TimeSpentSeconds *float64 `json:"time_spent_seconds,omitempty"`
}

type SubmitAttemptResponse struct {
	Updated        []SkillState    `json:"updated_states"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Exhausted      bool            `json:"curriculum_exhausted,omitempty"`
}

type RecommendationResponse struct {
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Exhausted      bool            `json:"curriculum_exhausted,omitempty"`
}

type LearnerProfileResponse struct {
	LearnerID int64        `json:"learner_id"`
	Skills    []SkillState `json:"skills"`
}

type SubmitFeedbackRequest struct {
	RecommendationID int64            `json:"recommendation_id"`
	ExpertID         int64            `json:"expert_id"`
	Type             FeedbackType     `json:"type"`
	Strength         FeedbackStrength `json:"strength"`
	Comment          string           `json:"comment,omitempty"`
}

type FeedbackStatsResponse struct {
	Total      int                      `json:"total"`
	Positive   int                      `json:"positive"`
	Negative   int                      `json:"negative"`
	AvgReward  float64                  `json:"avg_reward"`
	ByStrength map[FeedbackStrength]int `json:"by_strength"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
