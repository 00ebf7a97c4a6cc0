package feedback

import (
	"database/sql"
	"fmt"

	"github.com/skilltrace/backend/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert stores an expert's judgment of a recommendation. A repeat
// submission by the same expert overwrites the earlier row.
func (s *Store) Upsert(fb *models.ExpertFeedback) error {
	err := s.db.QueryRow(
		`INSERT INTO expert_feedback (recommendation_id, expert_id, feedback_type, strength, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (recommendation_id, expert_id)
		 DO UPDATE SET feedback_type = $3, strength = $4, comment = $5, created_at = NOW()
		 RETURNING id, created_at`,
		fb.RecommendationID, fb.ExpertID, fb.Type, fb.Strength, fb.Comment,
	).Scan(&fb.ID, &fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

// ForRecommendation lists every expert's current judgment of one
// recommendation.
func (s *Store) ForRecommendation(recommendationID int64) ([]models.ExpertFeedback, error) {
	rows, err := s.db.Query(
		`SELECT id, recommendation_id, expert_id, feedback_type, strength, COALESCE(comment, ''), created_at
		 FROM expert_feedback
		 WHERE recommendation_id = $1
		 ORDER BY created_at`,
		recommendationID,
	)
	if err != nil {
		return nil, fmt.Errorf("feedback for recommendation: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// All returns the most recent feedback rows joined with the learner and
// task of the judged recommendation, newest first.
func (s *Store) All(limit int) ([]FeedbackWithTarget, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.recommendation_id, f.expert_id, f.feedback_type, f.strength, COALESCE(f.comment, ''), f.created_at,
		        r.learner_id, r.task_id
		 FROM expert_feedback f
		 JOIN recommendations r ON r.id = f.recommendation_id
		 ORDER BY f.created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackWithTarget
	for rows.Next() {
		var f FeedbackWithTarget
		if err := rows.Scan(&f.ID, &f.RecommendationID, &f.ExpertID, &f.Type, &f.Strength, &f.Comment, &f.CreatedAt,
			&f.LearnerID, &f.TaskID); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return out, nil
}

func scanFeedback(rows *sql.Rows) ([]models.ExpertFeedback, error) {
	var out []models.ExpertFeedback
	for rows.Next() {
		var f models.ExpertFeedback
		if err := rows.Scan(&f.ID, &f.RecommendationID, &f.ExpertID, &f.Type, &f.Strength, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if reward, ok := models.RewardValue(f.Type, f.Strength); ok {
			f.RewardValue = reward
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	return out, nil
}

// Counts aggregates feedback volume by type and strength.
func (s *Store) Counts() (*models.FeedbackStatsResponse, error) {
	rows, err := s.db.Query(
		`SELECT feedback_type, strength, COUNT(*) FROM expert_feedback GROUP BY feedback_type, strength`)
	if err != nil {
		return nil, fmt.Errorf("feedback counts: %w", err)
	}
	defer rows.Close()

	stats := &models.FeedbackStatsResponse{
		ByStrength: make(map[models.FeedbackStrength]int),
	}
	rewardSum := 0.0
	for rows.Next() {
		var (
			ft models.FeedbackType
			fs models.FeedbackStrength
			n  int
		)
		if err := rows.Scan(&ft, &fs, &n); err != nil {
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		stats.Total += n
		stats.ByStrength[fs] += n
		switch ft {
		case models.FeedbackPositive:
			stats.Positive += n
		case models.FeedbackNegative:
			stats.Negative += n
		}
		if reward, ok := models.RewardValue(ft, fs); ok {
			rewardSum += reward * float64(n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback counts: %w", err)
	}
	if stats.Total > 0 {
		stats.AvgReward = rewardSum / float64(stats.Total)
	}
	return stats, nil
}
