package bkt

import (
	"sort"
	"sync"
	"time"

	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/skillgraph"
)

// StateStore is the persistence boundary for per-(learner, skill) mastery
// states. The in-process MemoryStore is the default; a database-backed
// store can be substituted without touching the update logic.
type StateStore interface {
	Get(learnerID, skillID int64) (models.SkillState, bool)
	Put(state models.SkillState)
	Learner(learnerID int64) []models.SkillState
	All() []models.SkillState
	Reset(learnerID, skillID int64)
}

// MemoryStore keeps mastery states in a mutex-guarded map.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]map[int64]models.SkillState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]map[int64]models.SkillState)}
}

func (m *MemoryStore) Get(learnerID, skillID int64) (models.SkillState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[learnerID][skillID]
	return s, ok
}

func (m *MemoryStore) Put(state models.SkillState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[state.LearnerID] == nil {
		m.states[state.LearnerID] = make(map[int64]models.SkillState)
	}
	m.states[state.LearnerID][state.SkillID] = state
}

func (m *MemoryStore) Learner(learnerID int64) []models.SkillState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SkillState, 0, len(m.states[learnerID]))
	for _, s := range m.states[learnerID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out
}

func (m *MemoryStore) All() []models.SkillState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SkillState
	for _, skills := range m.states {
		for _, s := range skills {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LearnerID != out[j].LearnerID {
			return out[i].LearnerID < out[j].LearnerID
		}
		return out[i].SkillID < out[j].SkillID
	})
	return out
}

func (m *MemoryStore) Reset(learnerID, skillID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states[learnerID], skillID)
}

// Model is the BKT engine: per-skill parameters plus per-(learner, skill)
// states. Updates for one learner must be serialized by the caller; the
// model itself only guards its own maps.
type Model struct {
	mu     sync.RWMutex
	params map[int64]Parameters
	states StateStore
	graph  *skillgraph.Graph // optional, improves cold-start initialization

	isTrained    bool
	trainingSize int
}

func NewModel(states StateStore) *Model {
	if states == nil {
		states = NewMemoryStore()
	}
	return &Model{
		params: make(map[int64]Parameters),
		states: states,
	}
}

// SetGraph attaches the prerequisite graph used to adjust initial mastery
// estimates from prerequisite mastery.
func (m *Model) SetGraph(g *skillgraph.Graph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph = g
}

// SetSkillParameters installs trained parameters for a skill. Invalid
// parameters are rejected with a ValidationError.
func (m *Model) SetSkillParameters(skillID int64, p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[skillID] = p
	return nil
}

// SkillParameters returns the parameters for a skill, falling back to
// DefaultParameters when the skill has none.
func (m *Model) SkillParameters(skillID int64) Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.params[skillID]; ok {
		return p
	}
	return DefaultParameters
}

// SkillIDs returns every skill with explicit parameters, sorted.
func (m *Model) SkillIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.params))
	for id := range m.params {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Initialize creates the state for a (learner, skill) pair. The starting
// mastery is PL0, shifted by (avgPrereqMastery − 0.5) × 0.3 when the
// learner already has mastery data for at least one prerequisite, then
// clamped to [0, 1].
func (m *Model) Initialize(learnerID, skillID int64) models.SkillState {
	if s, ok := m.states.Get(learnerID, skillID); ok {
		return s
	}

	mastery := m.SkillParameters(skillID).PL0

	m.mu.RLock()
	g := m.graph
	m.mu.RUnlock()

	if g != nil {
		if prereqs := g.PrerequisitesOf(skillID); len(prereqs) > 0 {
			sum, n := 0.0, 0
			for _, p := range prereqs {
				if ps, ok := m.states.Get(learnerID, p); ok {
					sum += ps.Mastery
					n++
				}
			}
			if n > 0 {
				avg := sum / float64(n)
				mastery = clamp01(mastery + (avg-0.5)*0.3)
			}
		}
	}

	state := models.SkillState{
		LearnerID: learnerID,
		SkillID:   skillID,
		Mastery:   mastery,
		UpdatedAt: time.Now().UTC(),
	}
	m.states.Put(state)
	return state
}

// Update applies one observed attempt: Bayesian posterior under the
// task-adapted parameters, then the learning step, clamped to [0, 1].
// Returns the new state.
func (m *Model) Update(learnerID, skillID int64, correct bool, task models.TaskCharacteristics) models.SkillState {
	state := m.Initialize(learnerID, skillID)
	params := m.SkillParameters(skillID).Adapt(task)

	state.Mastery = clamp01(reviseMastery(state.Mastery, correct, params))
	state.Attempts++
	if correct {
		state.Correct++
	}
	state.UpdatedAt = time.Now().UTC()

	m.states.Put(state)
	return state
}

// reviseMastery is the core BKT belief revision: posterior given the
// observation, then the transition P(L) = post + (1 − post)·P_T. A zero
// denominator leaves the posterior at the prior.
func reviseMastery(mastery float64, correct bool, p Parameters) float64 {
	var numerator, denominator float64
	if correct {
		numerator = mastery * (1 - p.PS)
		denominator = mastery*(1-p.PS) + (1-mastery)*p.PG
	} else {
		numerator = mastery * p.PS
		denominator = mastery*p.PS + (1-mastery)*(1-p.PG)
	}

	posterior := mastery
	if denominator > 0 {
		posterior = numerator / denominator
	}
	return posterior + (1-posterior)*p.PT
}

// Predict returns P(correct) for the learner's next attempt on the task,
// without mutating any state:
//
//	P(correct) = P_G'·(1 − m) + (1 − P_S')·m
func (m *Model) Predict(learnerID, skillID int64, task models.TaskCharacteristics) float64 {
	mastery := m.Mastery(learnerID, skillID)
	if _, ok := m.states.Get(learnerID, skillID); !ok {
		// Uninitialized pairs predict from the adjusted prior without
		// creating state.
		mastery = m.SkillParameters(skillID).PL0
	}
	p := m.SkillParameters(skillID).Adapt(task)
	return p.PG*(1-mastery) + (1-p.PS)*mastery
}

// Mastery returns the current mastery estimate, 0.0 for unknown pairs.
// Serving code relies on the neutral default instead of an error.
func (m *Model) Mastery(learnerID, skillID int64) float64 {
	if s, ok := m.states.Get(learnerID, skillID); ok {
		return s.Mastery
	}
	return 0.0
}

// MasteryVector renders a learner's mastery aligned to the supplied
// stable skill ordering. Unknown pairs contribute 0.0.
func (m *Model) MasteryVector(learnerID int64, skillOrder []int64) []float64 {
	out := make([]float64, len(skillOrder))
	for i, skillID := range skillOrder {
		out[i] = m.Mastery(learnerID, skillID)
	}
	return out
}

// MasteryMap returns {skill → mastery} for every state the learner has.
func (m *Model) MasteryMap(learnerID int64) map[int64]float64 {
	out := make(map[int64]float64)
	for _, s := range m.states.Learner(learnerID) {
		out[s.SkillID] = s.Mastery
	}
	return out
}

// State reports the stored state for a (learner, skill) pair and
// whether one exists.
func (m *Model) State(learnerID, skillID int64) (models.SkillState, bool) {
	return m.states.Get(learnerID, skillID)
}

// LearnerStates returns all states for a learner, sorted by skill id.
func (m *Model) LearnerStates(learnerID int64) []models.SkillState {
	return m.states.Learner(learnerID)
}

// PutState installs a state directly, used to hydrate the model from
// persisted estimates.
func (m *Model) PutState(s models.SkillState) {
	m.states.Put(s)
}

// ResetState removes a (learner, skill) state; the only sanctioned
// deletion path.
func (m *Model) ResetState(learnerID, skillID int64) {
	m.states.Reset(learnerID, skillID)
}

// CourseMastery averages the learner's mastery over a course's skills,
// counting unseen skills at their cold-start estimate.
func (m *Model) CourseMastery(learnerID int64, skillIDs []int64) float64 {
	if len(skillIDs) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, skillID := range skillIDs {
		if s, ok := m.states.Get(learnerID, skillID); ok {
			sum += s.Mastery
		} else {
			sum += m.SkillParameters(skillID).PL0
		}
	}
	return sum / float64(len(skillIDs))
}

// SkillDifficulty is one entry of the per-skill difficulty ranking.
type SkillDifficulty struct {
	SkillID int64   `json:"skill_id"`
	Score   float64 `json:"score"`
}

// DifficultyRanking orders skills hardest-first using a fixed blend of
// the trained parameters: low prior and low learning rate make a skill
// hard, a high slip rate adds a little more.
func (m *Model) DifficultyRanking() []SkillDifficulty {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SkillDifficulty, 0, len(m.params))
	for skillID, p := range m.params {
		score := (1-p.PL0)*0.4 + (1-p.PT)*0.4 + p.PS*0.2
		out = append(out, SkillDifficulty{SkillID: skillID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SkillID < out[j].SkillID
	})
	return out
}

// markTrained records training metadata for snapshots.
func (m *Model) markTrained(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isTrained = true
	m.trainingSize = size
}

// IsTrained reports whether any trainer has fitted this model.
func (m *Model) IsTrained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isTrained
}
