package dqn

import (
	"sort"

	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/skillgraph"
)

// Filter thresholds.
const (
	prereqMasteryThreshold = 0.85
	overMasteryCeiling     = 0.85
	overPracticeStreak     = 3
	overPracticeAttempts   = 5
	overPracticeAccuracy   = 0.90
)

// TaskStats is the per-(learner, task) attempt summary the filter needs
// to spot over-practiced tasks.
type TaskStats struct {
	Attempts           int
	Correct            int
	ConsecutiveCorrect int
}

// ActionSpace fixes the bijection between tasks and action indices. It
// is built once from the catalog; a changed catalog needs a new space
// (and a retrained network).
type ActionSpace struct {
	taskIDs    []int64
	taskIndex  map[int64]int
	taskSkills map[int64][]int64
	tasks      map[int64]models.TaskCharacteristics
	graph      *skillgraph.Graph
}

// NewActionSpace indexes the catalog. Tasks are ordered by id so the
// index assignment is stable across restarts.
func NewActionSpace(tasks []models.TaskCharacteristics, graph *skillgraph.Graph) *ActionSpace {
	s := &ActionSpace{
		taskIndex:  make(map[int64]int, len(tasks)),
		taskSkills: make(map[int64][]int64, len(tasks)),
		tasks:      make(map[int64]models.TaskCharacteristics, len(tasks)),
		graph:      graph,
	}
	for _, t := range tasks {
		s.tasks[t.TaskID] = t
		s.taskSkills[t.TaskID] = t.SkillIDs
		s.taskIDs = append(s.taskIDs, t.TaskID)
	}
	sort.Slice(s.taskIDs, func(i, j int) bool { return s.taskIDs[i] < s.taskIDs[j] })
	for i, id := range s.taskIDs {
		s.taskIndex[id] = i
	}
	return s
}

// Size is the number of actions, equal to the catalog size.
func (s *ActionSpace) Size() int { return len(s.taskIDs) }

// TaskID maps an action index back to its task. ok is false for indices
// outside the space.
func (s *ActionSpace) TaskID(index int) (int64, bool) {
	if index < 0 || index >= len(s.taskIDs) {
		return 0, false
	}
	return s.taskIDs[index], true
}

// Index maps a task id to its action index.
func (s *ActionSpace) Index(taskID int64) (int, bool) {
	i, ok := s.taskIndex[taskID]
	return i, ok
}

// Task returns the catalog entry for a task id.
func (s *ActionSpace) Task(taskID int64) (models.TaskCharacteristics, bool) {
	t, ok := s.tasks[taskID]
	return t, ok
}

// TaskIDs returns the stable task ordering.
func (s *ActionSpace) TaskIDs() []int64 {
	out := make([]int64, len(s.taskIDs))
	copy(out, s.taskIDs)
	return out
}

// Filter returns the action indices a learner may be given right now.
// A task survives when every skill it exercises is unlocked (all
// prerequisites, transitively, at or above the mastery threshold), at
// least one exercised skill sits below the over-mastery ceiling, and
// the learner has not over-practiced the task itself.
func (s *ActionSpace) Filter(mastery map[int64]float64, stats map[int64]TaskStats) []int {
	var legal []int
	for i, taskID := range s.taskIDs {
		if s.legal(taskID, mastery, stats) {
			legal = append(legal, i)
		}
	}
	return legal
}

func (s *ActionSpace) legal(taskID int64, mastery map[int64]float64, stats map[int64]TaskStats) bool {
	skills := s.taskSkills[taskID]
	if len(skills) == 0 {
		return false
	}
	if overPracticed(stats[taskID]) {
		return false
	}

	teaching := false
	for _, skillID := range skills {
		if !s.unlocked(skillID, mastery, make(map[int64]bool)) {
			return false
		}
		if mastery[skillID] < overMasteryCeiling {
			teaching = true
		}
	}
	return teaching
}

// unlocked checks the prerequisite chain recursively: every direct
// prerequisite must itself be mastered at the threshold. The visited set
// guards against stored cycles in the graph.
func (s *ActionSpace) unlocked(skillID int64, mastery map[int64]float64, visited map[int64]bool) bool {
	if visited[skillID] {
		return true
	}
	visited[skillID] = true

	if s.graph == nil {
		return true
	}
	for _, prereq := range s.graph.PrerequisitesOf(skillID) {
		if mastery[prereq] < prereqMasteryThreshold {
			return false
		}
		if !s.unlocked(prereq, mastery, visited) {
			return false
		}
	}
	return true
}

func overPracticed(st TaskStats) bool {
	if st.ConsecutiveCorrect >= overPracticeStreak {
		return true
	}
	if st.Attempts >= overPracticeAttempts {
		accuracy := float64(st.Correct) / float64(st.Attempts)
		if accuracy > overPracticeAccuracy {
			return true
		}
	}
	return false
}

// FallbackActions returns tasks that exercise only prerequisite-free
// skills and are not over-practiced, ignoring the mastery ceiling. Used
// when the regular filter comes back empty. An empty fallback means the
// curriculum is exhausted for this learner.
func (s *ActionSpace) FallbackActions(stats map[int64]TaskStats) []int {
	var out []int
	for i, taskID := range s.taskIDs {
		skills := s.taskSkills[taskID]
		if len(skills) == 0 || overPracticed(stats[taskID]) {
			continue
		}
		free := true
		for _, skillID := range skills {
			if s.graph != nil && len(s.graph.PrerequisitesOf(skillID)) > 0 {
				free = false
				break
			}
		}
		if free {
			out = append(out, i)
		}
	}
	return out
}

// ViolatesPrerequisites reports whether serving this task would skip an
// unmastered prerequisite. Used for the reward penalty on violations.
func (s *ActionSpace) ViolatesPrerequisites(taskID int64, mastery map[int64]float64) bool {
	for _, skillID := range s.taskSkills[taskID] {
		if !s.unlocked(skillID, mastery, make(map[int64]bool)) {
			return true
		}
	}
	return false
}
