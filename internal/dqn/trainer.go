package dqn

import (
	"context"
	"fmt"
	"log"
	"math/rand"
)

// TrainingReport summarizes one offline training run.
type TrainingReport struct {
	Epochs       int       `json:"epochs"`
	Steps        int       `json:"steps"`
	EpochLosses  []float64 `json:"epoch_losses"`
	FinalEpsilon float64   `json:"final_epsilon"`
	Transitions  int       `json:"transitions"`
	ExpertCount  int       `json:"expert_count"`
}

// Trainer drives offline training from historical transitions plus
// expert-labeled examples. It always trains a detached copy of the
// serving agent; Train returns the trained copy so the caller decides
// when to put it into service.
type Trainer struct {
	Epochs        int
	StepsPerEpoch int
}

func NewTrainer() *Trainer {
	return &Trainer{Epochs: 10, StepsPerEpoch: 100}
}

// Train loads the transitions and expert examples into the copy's
// replay memory and runs the configured number of epochs. The context is
// checked between learning steps; cancellation returns the error and no
// trained agent, so the serving agent is never replaced by a half-run.
func (t *Trainer) Train(ctx context.Context, serving *Agent, transitions, expert []Transition) (*Agent, *TrainingReport, error) {
	if len(transitions)+len(expert) == 0 {
		return nil, nil, fmt.Errorf("dqn: no transitions to train on")
	}

	agent := serving.detachedCopy()
	for _, tr := range transitions {
		agent.Store(tr)
	}
	for _, tr := range expert {
		agent.Store(tr)
	}

	report := &TrainingReport{
		Transitions: len(transitions),
		ExpertCount: len(expert),
	}
	for epoch := 0; epoch < t.Epochs; epoch++ {
		epochLoss, steps := 0.0, 0
		for s := 0; s < t.StepsPerEpoch; s++ {
			if err := ctx.Err(); err != nil {
				return nil, report, err
			}
			loss, ok := agent.Learn()
			if !ok {
				// Not enough buffered transitions for a batch.
				break
			}
			epochLoss += loss
			steps++
		}
		if steps == 0 {
			return nil, report, fmt.Errorf("dqn: replay memory too small for batch size %d", agent.cfg.BatchSize)
		}
		report.Epochs++
		report.Steps += steps
		report.EpochLosses = append(report.EpochLosses, epochLoss/float64(steps))
		log.Printf("[dqn] epoch %d/%d loss=%.4f epsilon=%.3f", epoch+1, t.Epochs, epochLoss/float64(steps), agent.Epsilon())
	}
	report.FinalEpsilon = agent.Epsilon()
	return agent, report, nil
}

// detachedCopy clones the agent with fresh replay memory and optimizer
// state but the same network parameters and exploration schedule.
func (a *Agent) detachedCopy() *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := &Agent{
		cfg:     a.cfg,
		online:  a.online.Clone(),
		target:  a.target.Clone(),
		memory:  NewReplayBuffer(a.cfg.MemorySize),
		rng:     rand.New(rand.NewSource(a.rng.Int63())),
		steps:   a.steps,
		epsilon: a.epsilon,
	}
	c.adam = newNetAdam(c.online)
	return c
}

// AdoptFrom swaps in a trained agent's network and exploration state.
// Replay memory and optimizer state stay local to the serving agent.
func (a *Agent) AdoptFrom(trained *Agent) {
	trained.mu.Lock()
	online := trained.online.Clone()
	epsilon := trained.epsilon
	steps := trained.steps
	trained.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = online
	a.target = online.Clone()
	a.adam = newNetAdam(a.online)
	a.epsilon = epsilon
	a.steps = steps
}
