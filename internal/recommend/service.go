package recommend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/skilltrace/backend/internal/bkt"
	"github.com/skilltrace/backend/internal/cache"
	"github.com/skilltrace/backend/internal/dqn"
	"github.com/skilltrace/backend/internal/models"
	"github.com/skilltrace/backend/internal/skillgraph"
)

// Storage is the persistence surface the service needs. *Store satisfies
// it; tests substitute an in-memory fake.
type Storage interface {
	LoadSkillGraph() (*skillgraph.Graph, error)
	LoadTaskCatalog() ([]models.TaskCharacteristics, error)
	SaveAttempt(learnerID, taskID int64, correct bool, timeSpent *float64) error
	AttemptHistory(learnerID int64, limit int) ([]models.AttemptRecord, error)
	TaskStats(learnerID int64) (map[int64]dqn.TaskStats, error)
	TrainingObservations() ([]models.Observation, error)
	UpsertMastery(state models.SkillState) error
	MasteryStates(learnerID int64) ([]models.SkillState, error)
	SaveRecommendation(rec *models.Recommendation) error
	Recommendation(id int64) (*models.Recommendation, error)
	RecentRecommendations(learnerID int64, limit int) ([]models.Recommendation, error)
}

// ExpertExample is a feedback-derived training example: the reward is
// the expert's judgment, used verbatim instead of the shaped reward.
type ExpertExample struct {
	LearnerID int64
	TaskID    int64
	Reward    float64
}

// ExpertSource supplies expert examples for training runs.
type ExpertSource interface {
	ExpertExamples(limit int) ([]ExpertExample, error)
}

const (
	recentWindow     = 5
	historyFetchSize = 50
)

// Service owns the mastery model, the policy agent, and the serving
// logic that ties them to storage. Per-learner updates are serialized by
// a lock per learner id.
type Service struct {
	store Storage
	cache *cache.Cache

	graph      *skillgraph.Graph
	skillOrder []int64
	encoder    *dqn.Encoder
	space      *dqn.ActionSpace
	model      *bkt.Model
	agent      *dqn.Agent

	expert ExpertSource

	mu          sync.Mutex
	learnerLock map[int64]*sync.Mutex
	transitions []dqn.Transition

	trainMethod bkt.TrainerMethod
}

func NewService(store Storage, c *cache.Cache) (*Service, error) {
	graph, err := store.LoadSkillGraph()
	if err != nil {
		return nil, fmt.Errorf("loading skill graph: %w", err)
	}
	if report := graph.Validate(); !report.Valid {
		log.Printf("WARN: [recommend] skill graph has %d stored cycle(s); ordering degrades but serving continues", len(report.Cycles))
	}

	catalog, err := store.LoadTaskCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading task catalog: %w", err)
	}

	skillOrder := graph.Skills()
	index := make(map[int64]int, len(skillOrder))
	for i, id := range skillOrder {
		index[id] = i
	}

	window := dqn.DefaultHistoryWindow
	if v := os.Getenv("HISTORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			window = n
		}
	}

	encoder := dqn.NewEncoder(len(skillOrder), window, graph.AdjacencyMatrix(index))
	space := dqn.NewActionSpace(catalog, graph)

	model := bkt.NewModel(nil)
	model.SetGraph(graph)

	agent := dqn.NewAgent(dqn.Config{}, encoder.StateSize(), space.Size(), time.Now().UnixNano())
	if path := os.Getenv("DQN_CHECKPOINT"); path != "" {
		if err := agent.Load(path); err != nil {
			log.Printf("WARN: [recommend] could not load checkpoint %s: %v", path, err)
		}
	}

	// A missing snapshot file is normal on first boot; anything else is
	// worth a warning.
	if path := os.Getenv("BKT_SNAPSHOT"); path != "" {
		if err := model.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARN: [recommend] could not load mastery snapshot %s: %v", path, err)
		}
	}

	trainMethod := bkt.MethodEM
	if os.Getenv("BKT_TRAINING_METHOD") == string(bkt.MethodOptimization) {
		trainMethod = bkt.MethodOptimization
	}

	return &Service{
		store:       store,
		cache:       c,
		graph:       graph,
		skillOrder:  skillOrder,
		encoder:     encoder,
		space:       space,
		model:       model,
		agent:       agent,
		learnerLock: make(map[int64]*sync.Mutex),
		trainMethod: trainMethod,
	}, nil
}

// SetExpertSource wires in the feedback service for training runs.
func (s *Service) SetExpertSource(src ExpertSource) {
	s.expert = src
}

// Model exposes the mastery model for snapshot endpoints.
func (s *Service) Model() *bkt.Model { return s.model }

// Graph exposes the loaded prerequisite graph.
func (s *Service) Graph() *skillgraph.Graph { return s.graph }

func (s *Service) lockLearner(learnerID int64) func() {
	s.mu.Lock()
	l, ok := s.learnerLock[learnerID]
	if !ok {
		l = &sync.Mutex{}
		s.learnerLock[learnerID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ── Recommendation ──────────────────────────────────────

// Recommend picks the next task for a learner. The regular filter runs
// first; if nothing is legal the prerequisite-free fallback runs; if
// that is empty too the curriculum is exhausted for this learner and no
// recommendation is produced.
func (s *Service) Recommend(ctx context.Context, learnerID int64) (*models.RecommendationResponse, error) {
	var cached models.RecommendationResponse
	if s.cache.Get(ctx, cache.RecommendationKey(learnerID), &cached) {
		return &cached, nil
	}

	mastery, err := s.masteryMap(learnerID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.TaskStats(learnerID)
	if err != nil {
		return nil, err
	}

	reason := "policy"
	legal := s.space.Filter(mastery, stats)
	if len(legal) == 0 {
		legal = s.space.FallbackActions(stats)
		reason = "fallback"
	}
	if len(legal) == 0 {
		return &models.RecommendationResponse{Exhausted: true}, nil
	}

	state, err := s.encodeState(learnerID, mastery)
	if err != nil {
		return nil, err
	}
	action, ok := s.agent.GreedyAction(state, legal)
	if !ok {
		return &models.RecommendationResponse{Exhausted: true}, nil
	}
	taskID, _ := s.space.TaskID(action)

	q := s.agent.QValues(state)
	rec := &models.Recommendation{
		LearnerID:  learnerID,
		TaskID:     taskID,
		QValue:     q[action],
		Confidence: confidence(q, legal, action),
		Reason:     reason,
	}
	if err := s.store.SaveRecommendation(rec); err != nil {
		return nil, err
	}

	resp := &models.RecommendationResponse{Recommendation: rec}
	s.cache.Set(ctx, cache.RecommendationKey(learnerID), resp)
	return resp, nil
}

// confidence is the softmax weight of the chosen action over the legal
// set: near 1 when it clearly dominates the alternatives.
func confidence(q []float64, legal []int, action int) float64 {
	maxQ := q[action]
	for _, i := range legal {
		if q[i] > maxQ {
			maxQ = q[i]
		}
	}
	sum := 0.0
	for _, i := range legal {
		sum += math.Exp(q[i] - maxQ)
	}
	if sum == 0 {
		return 0
	}
	return math.Exp(q[action]-maxQ) / sum
}

// ── Attempts ────────────────────────────────────────────

// SubmitAttempt records an attempt outcome, updates mastery for every
// skill the task exercises, stores the shaped-reward transition for
// training, and returns the refreshed recommendation.
func (s *Service) SubmitAttempt(ctx context.Context, req models.SubmitAttemptRequest) (*models.SubmitAttemptResponse, error) {
	task, ok := s.space.Task(req.TaskID)
	if !ok {
		return nil, &models.NotFoundError{Kind: "task", ID: req.TaskID}
	}

	unlock := s.lockLearner(req.LearnerID)
	defer unlock()

	masteryBefore, err := s.masteryMap(req.LearnerID)
	if err != nil {
		return nil, err
	}
	s.hydrate(req.LearnerID)

	stateBefore, err := s.encodeState(req.LearnerID, masteryBefore)
	if err != nil {
		return nil, err
	}
	successProb := s.predictSuccess(req.LearnerID, task)
	violation := s.space.ViolatesPrerequisites(req.TaskID, masteryBefore)

	if err := s.store.SaveAttempt(req.LearnerID, req.TaskID, req.Correct, req.TimeSpentSeconds); err != nil {
		return nil, err
	}

	var updated []models.SkillState
	beforeSum, afterSum := 0.0, 0.0
	for _, skillID := range task.SkillIDs {
		beforeSum += s.model.Mastery(req.LearnerID, skillID)
		state := s.model.Update(req.LearnerID, skillID, req.Correct, task)
		afterSum += state.Mastery
		if err := s.store.UpsertMastery(state); err != nil {
			return nil, err
		}
		updated = append(updated, state)
	}
	n := float64(len(task.SkillIDs))
	if n == 0 {
		n = 1
	}

	history, err := s.store.AttemptHistory(req.LearnerID, historyFetchSize)
	if err != nil {
		return nil, err
	}
	reward := dqn.Shape(dqn.RewardContext{
		Correct:             req.Correct,
		MasteryBefore:       beforeSum / n,
		MasteryAfter:        afterSum / n,
		SuccessProb:         successProb,
		TaskSkills:          task.SkillIDs,
		RecentSkills:        s.recentSkills(history, req.TaskID),
		ConsecutiveFailures: consecutiveFailures(history),
		PrereqViolation:     violation,
	})

	masteryAfter, err := s.masteryMap(req.LearnerID)
	if err != nil {
		return nil, err
	}
	stateAfter, err := s.encodeState(req.LearnerID, masteryAfter)
	if err != nil {
		return nil, err
	}
	if action, ok := s.space.Index(req.TaskID); ok {
		s.addTransition(dqn.Transition{
			State:     stateBefore,
			Action:    action,
			Reward:    reward,
			NextState: stateAfter,
		})
	}

	s.cache.Invalidate(ctx, cache.RecommendationKey(req.LearnerID))

	next, err := s.Recommend(ctx, req.LearnerID)
	if err != nil {
		return nil, err
	}
	return &models.SubmitAttemptResponse{
		Updated:        updated,
		Recommendation: next.Recommendation,
		Exhausted:      next.Exhausted,
	}, nil
}

// History returns the learner's latest persisted recommendations,
// newest first.
func (s *Service) History(ctx context.Context, learnerID int64, limit int) ([]models.Recommendation, error) {
	if limit <= 0 || limit > historyFetchSize {
		limit = historyFetchSize
	}
	return s.store.RecentRecommendations(learnerID, limit)
}

// Profile returns the learner's tracked skill states.
func (s *Service) Profile(ctx context.Context, learnerID int64) (*models.LearnerProfileResponse, error) {
	states, err := s.store.MasteryStates(learnerID)
	if err != nil {
		return nil, err
	}
	return &models.LearnerProfileResponse{LearnerID: learnerID, Skills: states}, nil
}

// ── Internals ───────────────────────────────────────────

func (s *Service) masteryMap(learnerID int64) (map[int64]float64, error) {
	states, err := s.store.MasteryStates(learnerID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(states))
	for _, st := range states {
		out[st.SkillID] = st.Mastery
	}
	return out, nil
}

// hydrate pushes persisted states into the in-memory model so updates
// continue from the stored estimates after a restart.
func (s *Service) hydrate(learnerID int64) {
	states, err := s.store.MasteryStates(learnerID)
	if err != nil {
		return
	}
	for _, st := range states {
		// Presence, not value: a stored state can legitimately share
		// the in-memory default mastery while carrying attempt counters.
		if _, ok := s.model.State(learnerID, st.SkillID); !ok {
			s.model.PutState(st)
		}
	}
}

func (s *Service) predictSuccess(learnerID int64, task models.TaskCharacteristics) float64 {
	if len(task.SkillIDs) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, skillID := range task.SkillIDs {
		sum += s.model.Predict(learnerID, skillID, task)
	}
	return sum / float64(len(task.SkillIDs))
}

func (s *Service) encodeState(learnerID int64, mastery map[int64]float64) ([]float64, error) {
	history, err := s.store.AttemptHistory(learnerID, s.encoder.HistoryWindow())
	if err != nil {
		return nil, err
	}

	vector := make([]float64, len(s.skillOrder))
	for i, skillID := range s.skillOrder {
		vector[i] = mastery[skillID]
	}

	entries := make([]dqn.HistoryEntry, 0, len(history))
	streak := 0
	for _, rec := range history {
		if rec.Correct {
			streak++
		} else {
			streak = 0
		}
		idx, _ := s.space.Index(rec.TaskID)
		timeSpent := 0.0
		if rec.TimeSpent != nil {
			timeSpent = *rec.TimeSpent
		}
		entries = append(entries, dqn.HistoryEntry{
			TaskIndex:    idx,
			Correct:      rec.Correct,
			Difficulty:   rec.Difficulty,
			Type:         rec.Type,
			SkillMastery: s.taskMastery(rec.TaskID, mastery),
			TimeSpent:    timeSpent,
			Streak:       streak,
		})
	}
	return s.encoder.Encode(vector, entries), nil
}

func (s *Service) taskMastery(taskID int64, mastery map[int64]float64) float64 {
	task, ok := s.space.Task(taskID)
	if !ok || len(task.SkillIDs) == 0 {
		return 0
	}
	sum := 0.0
	for _, skillID := range task.SkillIDs {
		sum += mastery[skillID]
	}
	return sum / float64(len(task.SkillIDs))
}

// recentSkills lists the skill sets of the last few attempts, excluding
// the attempt just submitted.
func (s *Service) recentSkills(history []models.AttemptRecord, currentTaskID int64) [][]int64 {
	if len(history) > 0 && history[len(history)-1].TaskID == currentTaskID {
		history = history[:len(history)-1]
	}
	if len(history) > recentWindow {
		history = history[len(history)-recentWindow:]
	}
	out := make([][]int64, 0, len(history))
	for _, rec := range history {
		if task, ok := s.space.Task(rec.TaskID); ok {
			out = append(out, task.SkillIDs)
		}
	}
	return out
}

// consecutiveFailures counts the trailing run of incorrect attempts,
// the just-submitted one included.
func consecutiveFailures(history []models.AttemptRecord) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Correct {
			break
		}
		count++
	}
	return count
}

func (s *Service) addTransition(t dqn.Transition) {
	s.agent.Store(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
	if len(s.transitions) > 10000 {
		s.transitions = s.transitions[len(s.transitions)-10000:]
	}
}

// ── Training ────────────────────────────────────────────

// StartTrainingWorker retrains both models on a fixed interval until the
// context is cancelled. Serving keeps using the previous parameters
// while a run is in flight; the policy swap happens only after a full
// run completes.
func (s *Service) StartTrainingWorker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.TrainOnce(ctx); err != nil {
					log.Printf("WARN: [recommend] training run failed: %v", err)
				}
			}
		}
	}()
}

// TrainOnce runs one full training pass: mastery parameters from the
// attempt log, then the policy from buffered and expert transitions.
func (s *Service) TrainOnce(ctx context.Context) error {
	observations, err := s.store.TrainingObservations()
	if err != nil {
		return err
	}
	if len(observations) > 0 {
		report, err := bkt.NewTrainer(s.trainMethod).Fit(ctx, s.model, observations)
		if err != nil {
			return err
		}
		log.Printf("[recommend] mastery training: %d skills, %d records, %d skipped",
			len(report.Skills), report.TotalRecords, report.Skipped)
		s.saveMasterySnapshot()
	}

	s.mu.Lock()
	transitions := append([]dqn.Transition(nil), s.transitions...)
	s.mu.Unlock()

	expert, err := s.expertTransitions()
	if err != nil {
		log.Printf("WARN: [recommend] loading expert examples: %v", err)
	}
	if len(transitions)+len(expert) == 0 {
		return nil
	}

	trained, report, err := dqn.NewTrainer().Train(ctx, s.agent, transitions, expert)
	if err != nil {
		return err
	}
	s.agent.AdoptFrom(trained)
	log.Printf("[recommend] policy training: %d epochs, %d transitions (%d expert)",
		report.Epochs, report.Transitions, report.ExpertCount)

	if path := os.Getenv("DQN_CHECKPOINT"); path != "" {
		if err := s.agent.Save(path); err != nil {
			log.Printf("WARN: [recommend] saving checkpoint: %v", err)
		}
	}
	return nil
}

// saveMasterySnapshot persists fitted parameters so they survive
// restarts without refitting from the attempt log.
func (s *Service) saveMasterySnapshot() {
	path := os.Getenv("BKT_SNAPSHOT")
	if path == "" {
		return
	}
	if err := s.model.Save(path, s.graph.PrerequisiteMap()); err != nil {
		log.Printf("WARN: [recommend] saving mastery snapshot: %v", err)
	}
}

// expertTransitions reconstructs training transitions from expert
// feedback: the expert's reward replaces the shaped one, terminal so no
// bootstrapping dilutes the judgment.
func (s *Service) expertTransitions() ([]dqn.Transition, error) {
	if s.expert == nil {
		return nil, nil
	}
	examples, err := s.expert.ExpertExamples(1000)
	if err != nil {
		return nil, err
	}
	var out []dqn.Transition
	for _, ex := range examples {
		action, ok := s.space.Index(ex.TaskID)
		if !ok {
			continue
		}
		mastery, err := s.masteryMap(ex.LearnerID)
		if err != nil {
			continue
		}
		state, err := s.encodeState(ex.LearnerID, mastery)
		if err != nil {
			continue
		}
		out = append(out, dqn.Transition{
			State:     state,
			Action:    action,
			Reward:    ex.Reward,
			NextState: state,
			Done:      true,
		})
	}
	return out, nil
}
