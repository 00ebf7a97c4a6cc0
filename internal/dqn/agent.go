package dqn

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
)

// Config collects the agent's hyperparameters. Zero values fall back to
// the defaults in ApplyDefaults.
type Config struct {
	Gamma           float64 `json:"gamma"`
	Epsilon         float64 `json:"epsilon"`
	EpsilonMin      float64 `json:"epsilon_min"`
	EpsilonDecay    float64 `json:"epsilon_decay"`
	LearningRate    float64 `json:"learning_rate"`
	BatchSize       int     `json:"batch_size"`
	MemorySize      int     `json:"memory_size"`
	TargetSyncEvery int     `json:"target_sync_every"`
	GradClipNorm    float64 `json:"grad_clip_norm"`
	HiddenSize      int     `json:"hidden_size"`
}

func (c *Config) ApplyDefaults() {
	if c.Gamma == 0 {
		c.Gamma = 0.99
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1.0
	}
	if c.EpsilonMin == 0 {
		c.EpsilonMin = 0.1
	}
	if c.EpsilonDecay == 0 {
		c.EpsilonDecay = 0.995
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.MemorySize == 0 {
		c.MemorySize = 10000
	}
	if c.TargetSyncEvery == 0 {
		c.TargetSyncEvery = 100
	}
	if c.GradClipNorm == 0 {
		c.GradClipNorm = 1.0
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = 128
	}
}

// Agent is a DQN with an online and a target network. All methods are
// safe for concurrent use; serving reads and training writes share the
// one mutex.
type Agent struct {
	mu      sync.Mutex
	cfg     Config
	online  *Network
	target  *Network
	memory  *ReplayBuffer
	adam    *netAdam
	rng     *rand.Rand
	steps   int
	epsilon float64
}

func NewAgent(cfg Config, stateSize, actionCount int, seed int64) *Agent {
	cfg.ApplyDefaults()
	rng := rand.New(rand.NewSource(seed))
	online := NewNetwork(rng, stateSize, cfg.HiddenSize, actionCount)
	return &Agent{
		cfg:     cfg,
		online:  online,
		target:  online.Clone(),
		memory:  NewReplayBuffer(cfg.MemorySize),
		adam:    newNetAdam(online),
		rng:     rng,
		epsilon: cfg.Epsilon,
	}
}

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epsilon
}

// SelectAction picks an action index from the legal set: with
// probability epsilon a uniform legal action, otherwise the legal action
// with the highest Q-value. Illegal actions are masked to -Inf and can
// never win. Returns false when the legal set is empty.
func (a *Agent) SelectAction(state []float64, legal []int) (int, bool) {
	if len(legal) == 0 {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rng.Float64() < a.epsilon {
		return legal[a.rng.Intn(len(legal))], true
	}
	return a.bestLegalLocked(state, legal), true
}

// GreedyAction picks the best legal action without exploration. Serving
// paths use this.
func (a *Agent) GreedyAction(state []float64, legal []int) (int, bool) {
	if len(legal) == 0 {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bestLegalLocked(state, legal), true
}

func (a *Agent) bestLegalLocked(state []float64, legal []int) int {
	q := a.online.Forward(state)
	best, bestQ := legal[0], math.Inf(-1)
	for _, idx := range legal {
		if idx >= 0 && idx < len(q) && q[idx] > bestQ {
			best, bestQ = idx, q[idx]
		}
	}
	return best
}

// QValues returns a copy of the online network's outputs for a state.
func (a *Agent) QValues(state []float64) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.online.Forward(state)
	return append([]float64(nil), out...)
}

// Store appends a transition to replay memory.
func (a *Agent) Store(t Transition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory.Add(t)
}

// MemoryLen reports how many transitions are buffered.
func (a *Agent) MemoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory.Len()
}

// Learn samples one minibatch and performs a gradient step. Targets come
// from the target network, which is synced from the online network every
// TargetSyncEvery steps. Returns the mean squared TD error and false
// when the buffer is still too small to sample.
func (a *Agent) Learn() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.memory.Sample(a.rng, a.cfg.BatchSize)
	if batch == nil {
		return 0, false
	}

	grads := a.online.zeroGradients()
	totalLoss := 0.0
	for _, tr := range batch {
		target := tr.Reward
		if !tr.Done {
			next := a.target.Forward(tr.NextState)
			target += a.cfg.Gamma * maxOf(next)
		}
		totalLoss += a.online.accumulate(grads, tr.State, tr.Action, target)
	}

	// Average over the batch before clipping so the clip threshold is
	// batch-size independent.
	scaleGradients(grads, 1.0/float64(len(batch)))
	grads.clipNorm(a.cfg.GradClipNorm)
	a.adam.step(a.online, grads, a.cfg.LearningRate)

	a.steps++
	if a.steps%a.cfg.TargetSyncEvery == 0 {
		if err := a.target.CopyFrom(a.online); err != nil {
			// Shapes are fixed at construction; a mismatch here is a bug.
			panic(err)
		}
	}
	if a.epsilon > a.cfg.EpsilonMin {
		a.epsilon *= a.cfg.EpsilonDecay
		if a.epsilon < a.cfg.EpsilonMin {
			a.epsilon = a.cfg.EpsilonMin
		}
	}
	return totalLoss / float64(len(batch)), true
}

func scaleGradients(g *Gradients, s float64) {
	for l := range g.Weights {
		for _, row := range g.Weights[l] {
			for i := range row {
				row[i] *= s
			}
		}
		for i := range g.Biases[l] {
			g.Biases[l][i] *= s
		}
	}
}

func maxOf(v []float64) float64 {
	best := math.Inf(-1)
	for _, x := range v {
		if x > best {
			best = x
		}
	}
	return best
}

// checkpoint is the agent's saved form: config, exploration state, and
// the online network's parameters. Replay memory is not persisted.
type checkpoint struct {
	Config  Config   `json:"config"`
	Epsilon float64  `json:"epsilon"`
	Steps   int      `json:"steps"`
	Network *Network `json:"network"`
}

// Save writes the agent checkpoint to path as JSON.
func (a *Agent) Save(path string) error {
	a.mu.Lock()
	cp := checkpoint{
		Config:  a.cfg,
		Epsilon: a.epsilon,
		Steps:   a.steps,
		Network: a.online.Clone(),
	}
	a.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("dqn: encoding checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("dqn: writing checkpoint: %w", err)
	}
	return nil
}

// Load restores a checkpoint. The saved network replaces both the online
// and the target network. A checkpoint written under a different skill or
// task catalog has the wrong input/output sizes and is rejected so the
// caller can keep serving with its fresh networks.
func (a *Agent) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dqn: reading checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("dqn: decoding checkpoint: %w", err)
	}
	if cp.Network == nil {
		return fmt.Errorf("dqn: checkpoint has no network")
	}
	if len(cp.Network.Sizes) < 2 {
		return fmt.Errorf("dqn: checkpoint network has no layers")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	wantIn := a.online.Sizes[0]
	wantOut := a.online.Sizes[len(a.online.Sizes)-1]
	gotIn := cp.Network.Sizes[0]
	gotOut := cp.Network.Sizes[len(cp.Network.Sizes)-1]
	if gotIn != wantIn || gotOut != wantOut {
		return fmt.Errorf("dqn: checkpoint shape %dx%d does not match agent %dx%d",
			gotIn, gotOut, wantIn, wantOut)
	}
	cp.Config.ApplyDefaults()
	a.cfg = cp.Config
	a.epsilon = cp.Epsilon
	a.steps = cp.Steps
	a.online = cp.Network
	a.target = cp.Network.Clone()
	a.adam = newNetAdam(a.online)
	a.memory = NewReplayBuffer(a.cfg.MemorySize)
	return nil
}
