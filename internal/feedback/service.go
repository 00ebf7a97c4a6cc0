// Package feedback collects expert judgments of served recommendations
// and turns them into policy training signal.
package feedback

import (
	"context"
	"time"

	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/recommend"
)

// FeedbackWithTarget is a stored judgment joined with the learner and
// task it applies to.
type FeedbackWithTarget struct {
	ID               int64                   `json:"id"`
	RecommendationID int64                   `json:"recommendation_id"`
	ExpertID         int64                   `json:"expert_id"`
	Type             models.FeedbackType     `json:"type"`
	Strength         models.FeedbackStrength `json:"strength"`
	Comment          string                  `json:"comment,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	LearnerID        int64                   `json:"learner_id"`
	TaskID           int64                   `json:"task_id"`
}

// Storage is the persistence surface for feedback.
type Storage interface {
	Upsert(fb *models.ExpertFeedback) error
	ForRecommendation(recommendationID int64) ([]models.ExpertFeedback, error)
	All(limit int) ([]FeedbackWithTarget, error)
	Counts() (*models.FeedbackStatsResponse, error)
}

// RecommendationGetter resolves the recommendation a judgment refers to.
type RecommendationGetter interface {
	Recommendation(id int64) (*models.Recommendation, error)
}

type Service struct {
	store Storage
	recs  RecommendationGetter
}

func NewService(store Storage, recs RecommendationGetter) *Service {
	return &Service{store: store, recs: recs}
}

// Submit validates and stores an expert judgment. The (type, strength)
// pair must map onto a known reward, and the recommendation must exist.
func (s *Service) Submit(ctx context.Context, req models.SubmitFeedbackRequest) (*models.ExpertFeedback, error) {
	reward, ok := models.RewardValue(req.Type, req.Strength)
	if !ok {
		return nil, &models.ValidationError{Field: "type/strength", Reason: "unknown feedback type or strength"}
	}
	if req.ExpertID <= 0 {
		return nil, &models.ValidationError{Field: "expert_id", Reason: "must be positive"}
	}
	if _, err := s.recs.Recommendation(req.RecommendationID); err != nil {
		return nil, err
	}

	fb := &models.ExpertFeedback{
		RecommendationID: req.RecommendationID,
		ExpertID:         req.ExpertID,
		Type:             req.Type,
		Strength:         req.Strength,
		RewardValue:      reward,
		Comment:          req.Comment,
	}
	if err := s.store.Upsert(fb); err != nil {
		return nil, err
	}
	return fb, nil
}

// ForRecommendation lists judgments for one recommendation.
func (s *Service) ForRecommendation(ctx context.Context, recommendationID int64) ([]models.ExpertFeedback, error) {
	return s.store.ForRecommendation(recommendationID)
}

// Stats reports aggregate feedback volume.
func (s *Service) Stats(ctx context.Context) (*models.FeedbackStatsResponse, error) {
	return s.store.Counts()
}

// ExpertExamples converts stored judgments into training examples. It
// satisfies recommend.ExpertSource.
func (s *Service) ExpertExamples(limit int) ([]recommend.ExpertExample, error) {
	rows, err := s.store.All(limit)
	if err != nil {
		return nil, err
	}
	var out []recommend.ExpertExample
	for _, f := range rows {
		reward, ok := models.RewardValue(f.Type, f.Strength)
		if !ok {
			continue
		}
		out = append(out, recommend.ExpertExample{
			LearnerID: f.LearnerID,
			TaskID:    f.TaskID,
			Reward:    reward,
		})
	}
	return out, nil
}
