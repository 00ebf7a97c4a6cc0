package bkt

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/skilltrace/backend/internal/models"
)

// Snapshot is the on-disk JSON form of a trained model. Map keys are
// strings because JSON objects require it; ids round-trip through
// strconv.
type Snapshot struct {
	SkillParameters map[string]Parameters    `json:"skill_parameters"`
	StudentStates   []models.SkillState      `json:"student_states"`
	SkillsGraph     map[string][]int64       `json:"skills_graph"`
	Metadata        SnapshotMetadata         `json:"metadata"`
}

type SnapshotMetadata struct {
	IsTrained    bool `json:"is_trained"`
	TrainingSize int  `json:"training_size"`
}

// Export captures the model's parameters, every learner state, and an
// optional prerequisite map into a snapshot.
func (m *Model) Export(prereqs map[int64][]int64) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		SkillParameters: make(map[string]Parameters, len(m.params)),
		SkillsGraph:     make(map[string][]int64, len(prereqs)),
		Metadata: SnapshotMetadata{
			IsTrained:    m.isTrained,
			TrainingSize: m.trainingSize,
		},
	}
	for skillID, p := range m.params {
		snap.SkillParameters[strconv.FormatInt(skillID, 10)] = p
	}
	for skillID, pre := range prereqs {
		snap.SkillsGraph[strconv.FormatInt(skillID, 10)] = pre
	}
	snap.StudentStates = m.states.All()
	return snap
}

// Restore replaces the model's parameters and states with the snapshot
// contents. Structural problems abort with a SnapshotError and leave the
// model unchanged.
func (m *Model) Restore(snap *Snapshot) error {
	if snap == nil {
		return &models.SnapshotError{Reason: "nil snapshot"}
	}

	params := make(map[int64]Parameters, len(snap.SkillParameters))
	for key, p := range snap.SkillParameters {
		skillID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return &models.SnapshotError{Reason: fmt.Sprintf("bad skill id %q", key), Err: err}
		}
		if err := p.Validate(); err != nil {
			return &models.SnapshotError{Reason: fmt.Sprintf("invalid parameters for skill %d", skillID), Err: err}
		}
		params[skillID] = p
	}
	for _, s := range snap.StudentStates {
		if s.LearnerID <= 0 || s.SkillID <= 0 {
			return &models.SnapshotError{
				Reason: fmt.Sprintf("invalid state reference learner=%d skill=%d", s.LearnerID, s.SkillID),
			}
		}
		if s.Mastery < 0 || s.Mastery > 1 {
			return &models.SnapshotError{
				Reason: fmt.Sprintf("mastery out of range for learner=%d skill=%d", s.LearnerID, s.SkillID),
			}
		}
	}

	m.mu.Lock()
	m.params = params
	m.isTrained = snap.Metadata.IsTrained
	m.trainingSize = snap.Metadata.TrainingSize
	m.mu.Unlock()

	for _, s := range snap.StudentStates {
		m.states.Put(s)
	}
	return nil
}

// Save writes the snapshot to path as JSON.
func (m *Model) Save(path string, prereqs map[int64][]int64) error {
	data, err := json.MarshalIndent(m.Export(prereqs), "", "  ")
	if err != nil {
		return fmt.Errorf("bkt: encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("bkt: writing snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot file and restores the model from it.
func (m *Model) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bkt: reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return &models.SnapshotError{Reason: "malformed snapshot json", Err: err}
	}
	return m.Restore(&snap)
}
