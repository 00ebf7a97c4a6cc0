package recommend

import (
	"database/sql"
	"fmt"

	"github.com/skilltrace/backend/internal/dqn"
	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/skillgraph"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Curriculum ──────────────────────────────────────────

func (s *Store) LoadSkillGraph() (*skillgraph.Graph, error) {
	rows, err := s.db.Query(`SELECT id, name, is_base FROM skills ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	defer rows.Close()

	var skills []models.Skill
	for rows.Next() {
		var sk models.Skill
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.IsBase); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}

	edgeRows, err := s.db.Query(`SELECT prerequisite_id, skill_id FROM skill_prerequisites`)
	if err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}
	defer edgeRows.Close()

	var edges [][2]int64
	for edgeRows.Next() {
		var e [2]int64
		if err := edgeRows.Scan(&e[0], &e[1]); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}

	return skillgraph.Build(skills, edges), nil
}

func (s *Store) LoadTaskCatalog() ([]models.TaskCharacteristics, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.difficulty, t.task_type, COALESCE(ts.skill_id, 0)
		 FROM tasks t
		 LEFT JOIN task_skills ts ON ts.task_id = t.id
		 ORDER BY t.id, ts.skill_id`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*models.TaskCharacteristics)
	var order []int64
	for rows.Next() {
		var (
			id         int64
			difficulty string
			taskType   string
			skillID    int64
		)
		if err := rows.Scan(&id, &difficulty, &taskType, &skillID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task, ok := byID[id]
		if !ok {
			task = &models.TaskCharacteristics{
				TaskID:     id,
				Difficulty: models.Difficulty(difficulty),
				Type:       models.TaskType(taskType),
			}
			byID[id] = task
			order = append(order, id)
		}
		if skillID != 0 {
			task.SkillIDs = append(task.SkillIDs, skillID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	out := make([]models.TaskCharacteristics, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// ── Attempts ────────────────────────────────────────────

func (s *Store) SaveAttempt(learnerID, taskID int64, correct bool, timeSpent *float64) error {
	_, err := s.db.Exec(
		`INSERT INTO task_attempts (learner_id, task_id, correct, time_spent_seconds)
		 VALUES ($1, $2, $3, $4)`,
		learnerID, taskID, correct, timeSpent,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

// AttemptHistory returns the learner's most recent attempts, oldest
// first, capped at limit.
func (s *Store) AttemptHistory(learnerID int64, limit int) ([]models.AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT a.task_id, a.correct, a.time_spent_seconds, a.attempted_at, t.difficulty, t.task_type
		 FROM task_attempts a
		 JOIN tasks t ON t.id = a.task_id
		 WHERE a.learner_id = $1
		 ORDER BY a.attempted_at DESC
		 LIMIT $2`,
		learnerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("attempt history: %w", err)
	}
	defer rows.Close()

	var history []models.AttemptRecord
	for rows.Next() {
		var (
			rec        models.AttemptRecord
			difficulty string
			taskType   string
		)
		if err := rows.Scan(&rec.TaskID, &rec.Correct, &rec.TimeSpent, &rec.AttemptedAt, &difficulty, &taskType); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		rec.Difficulty = models.Difficulty(difficulty)
		rec.Type = models.TaskType(taskType)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attempt history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// TaskStats aggregates the learner's per-task attempt counts. The
// consecutive-correct streak is computed from the recency-ordered rows.
func (s *Store) TaskStats(learnerID int64) (map[int64]dqn.TaskStats, error) {
	rows, err := s.db.Query(
		`SELECT task_id, correct
		 FROM task_attempts
		 WHERE learner_id = $1
		 ORDER BY task_id, attempted_at DESC`,
		learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int64]dqn.TaskStats)
	streakOpen := make(map[int64]bool)
	for rows.Next() {
		var (
			taskID  int64
			correct bool
		)
		if err := rows.Scan(&taskID, &correct); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st, seen := stats[taskID]
		if !seen {
			streakOpen[taskID] = true
		}
		st.Attempts++
		if correct {
			st.Correct++
			if streakOpen[taskID] {
				st.ConsecutiveCorrect++
			}
		} else {
			streakOpen[taskID] = false
		}
		stats[taskID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return stats, nil
}

// TrainingObservations expands every stored attempt into per-skill
// observations for mastery model training.
func (s *Store) TrainingObservations() ([]models.Observation, error) {
	rows, err := s.db.Query(
		`SELECT a.learner_id, ts.skill_id, a.correct, a.task_id, a.attempted_at
		 FROM task_attempts a
		 JOIN task_skills ts ON ts.task_id = a.task_id
		 ORDER BY a.attempted_at`)
	if err != nil {
		return nil, fmt.Errorf("training observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.LearnerID, &o.SkillID, &o.Correct, &o.TaskID, &o.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("training observations: %w", err)
	}
	return out, nil
}

// ── Mastery ─────────────────────────────────────────────

func (s *Store) UpsertMastery(state models.SkillState) error {
	_, err := s.db.Exec(
		`INSERT INTO skill_mastery (learner_id, skill_id, mastery, attempts_count, correct_attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (learner_id, skill_id)
		 DO UPDATE SET mastery = $3, attempts_count = $4, correct_attempts = $5, updated_at = $6`,
		state.LearnerID, state.SkillID, state.Mastery, state.Attempts, state.Correct, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert mastery: %w", err)
	}
	return nil
}

func (s *Store) MasteryStates(learnerID int64) ([]models.SkillState, error) {
	rows, err := s.db.Query(
		`SELECT learner_id, skill_id, mastery, attempts_count, correct_attempts, updated_at
		 FROM skill_mastery WHERE learner_id = $1 ORDER BY skill_id`,
		learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("mastery states: %w", err)
	}
	defer rows.Close()

	var out []models.SkillState
	for rows.Next() {
		var st models.SkillState
		if err := rows.Scan(&st.LearnerID, &st.SkillID, &st.Mastery, &st.Attempts, &st.Correct, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mastery: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mastery states: %w", err)
	}
	return out, nil
}

// ── Recommendations ─────────────────────────────────────

func (s *Store) SaveRecommendation(rec *models.Recommendation) error {
	err := s.db.QueryRow(
		`INSERT INTO recommendations (learner_id, task_id, q_value, confidence, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		rec.LearnerID, rec.TaskID, rec.QValue, rec.Confidence, rec.Reason,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

func (s *Store) Recommendation(id int64) (*models.Recommendation, error) {
	var rec models.Recommendation
	err := s.db.QueryRow(
		`SELECT id, learner_id, task_id, q_value, confidence, reason, created_at
		 FROM recommendations WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.LearnerID, &rec.TaskID, &rec.QValue, &rec.Confidence, &rec.Reason, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "recommendation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return &rec, nil
}

// RecentRecommendations returns the learner's latest recommendations,
// newest first.
func (s *Store) RecentRecommendations(learnerID int64, limit int) ([]models.Recommendation, error) {
	rows, err := s.db.Query(
		`SELECT id, learner_id, task_id, q_value, confidence, reason, created_at
		 FROM recommendations
		 WHERE learner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		learnerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var rec models.Recommendation
		if err := rows.Scan(&rec.ID, &rec.LearnerID, &rec.TaskID, &rec.QValue, &rec.Confidence, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent recommendations: %w", err)
	}
	return out, nil
}
