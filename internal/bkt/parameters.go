// Package bkt implements Bayesian Knowledge Tracing: a per-skill
// four-parameter model of the probability that a learner knows a skill,
// revised after every attempt.
package bkt

import (
	"fmt"

	"github.com/skilltrace/backend/internal/models"
)

// Parameters holds the four BKT probabilities for one skill.
//
//	PL0 — prior probability the skill is already known
//	PT  — probability of learning the skill on one attempt
//	PG  — probability of guessing correctly while not knowing
//	PS  — probability of slipping while knowing
type Parameters struct {
	PL0 float64 `json:"p_l0"`
	PT  float64 `json:"p_t"`
	PG  float64 `json:"p_g"`
	PS  float64 `json:"p_s"`
}

// DefaultParameters is used when a skill has no trained parameters yet.
var DefaultParameters = Parameters{PL0: 0.1, PT: 0.3, PG: 0.2, PS: 0.1}

// NewParameters validates that every probability lies in [0, 1].
func NewParameters(pl0, pt, pg, ps float64) (Parameters, error) {
	p := Parameters{PL0: pl0, PT: pt, PG: pg, PS: ps}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

func (p Parameters) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"P_L0", p.PL0},
		{"P_T", p.PT},
		{"P_G", p.PG},
		{"P_S", p.PS},
	}
	for _, c := range checks {
		if c.value < 0 || c.value > 1 {
			return &models.ValidationError{
				Field:  c.name,
				Reason: fmt.Sprintf("must be in [0, 1], got %v", c.value),
			}
		}
	}
	return nil
}

// Adapt derives a temporary parameter set for a concrete task: the
// learning probability scales with declared difficulty, the guess
// probability is replaced by the answer format's base guess, and the slip
// probability scales with the format's slip multiplier. PL0 is unchanged
// and the base parameters are not mutated.
func (p Parameters) Adapt(task models.TaskCharacteristics) Parameters {
	return Parameters{
		PL0: p.PL0,
		PT:  min1(p.PT * task.Difficulty.DifficultyMultiplier()),
		PG:  task.Type.BaseGuess(),
		PS:  min1(p.PS * task.Type.SlipMultiplier()),
	}
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
