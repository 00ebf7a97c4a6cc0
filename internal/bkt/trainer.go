package bkt

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/skilltrace/backend/internal/models"
)

// Training defaults. Parameter bounds keep every probability strictly
// inside (0, 1) so the likelihood stays differentiable.
const (
	maxIterations   = 100
	convergenceTol  = 1e-6
	paramFloor      = 0.01
	paramCeil       = 0.99
	likelihoodFloor = 1e-10
)

// TrainerMethod selects the fitting strategy.
type TrainerMethod string

const (
	MethodEM           TrainerMethod = "em"
	MethodOptimization TrainerMethod = "optimization"
)

// Trainer fits per-skill parameters from historical attempt records and
// applies them to a model only after fitting completes.
type Trainer struct {
	Method        TrainerMethod
	MaxIterations int
	Tolerance     float64
}

func NewTrainer(method TrainerMethod) *Trainer {
	return &Trainer{
		Method:        method,
		MaxIterations: maxIterations,
		Tolerance:     convergenceTol,
	}
}

// ValidateObservations splits records into usable observations and the
// validation errors for those skipped. Validation never aborts the batch;
// bad records are skipped and reported.
func ValidateObservations(records []models.Observation) ([]models.Observation, []error) {
	var (
		valid []models.Observation
		errs  []error
	)
	for i, r := range records {
		switch {
		case r.LearnerID <= 0:
			errs = append(errs, &models.ValidationError{
				Field:  fmt.Sprintf("records[%d].learner_id", i),
				Reason: "must be positive",
			})
		case r.SkillID <= 0:
			errs = append(errs, &models.ValidationError{
				Field:  fmt.Sprintf("records[%d].skill_id", i),
				Reason: "must be positive",
			})
		case r.AttemptedAt.IsZero():
			errs = append(errs, &models.ValidationError{
				Field:  fmt.Sprintf("records[%d].attempted_at", i),
				Reason: "missing timestamp",
			})
		default:
			valid = append(valid, r)
		}
	}
	return valid, errs
}

// Fit trains parameters for every skill present in the records and
// installs the results on the model. The context is checked between
// skills and between iterations, so a cancelled training run leaves the
// model's previous parameters untouched for unfinished skills.
func (t *Trainer) Fit(ctx context.Context, m *Model, records []models.Observation) (*models.TrainingReport, error) {
	valid, verrs := ValidateObservations(records)
	report := &models.TrainingReport{
		Skills:       make(map[int64]models.SkillTrainingResult),
		TotalRecords: len(records),
		Skipped:      len(records) - len(valid),
	}
	for _, e := range verrs {
		report.Errors = append(report.Errors, e.Error())
	}
	if len(valid) == 0 {
		return report, fmt.Errorf("bkt: no usable training records (%d skipped)", report.Skipped)
	}

	bySkill := groupBySkill(valid)
	skillIDs := make([]int64, 0, len(bySkill))
	for id := range bySkill {
		skillIDs = append(skillIDs, id)
	}
	sort.Slice(skillIDs, func(i, j int) bool { return skillIDs[i] < skillIDs[j] })

	for _, skillID := range skillIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		sequences := buildSequences(bySkill[skillID])
		result, err := t.fitSkill(ctx, skillID, sequences)
		if err != nil {
			return report, err
		}
		if !result.Converged {
			log.Printf("WARN: [bkt] skill %d did not converge after %d iterations", skillID, result.Iterations)
			report.Errors = append(report.Errors,
				fmt.Sprintf("skill %d: convergence warning after %d iterations", skillID, result.Iterations))
		}

		params := Parameters{PL0: result.PL0, PT: result.PT, PG: result.PG, PS: result.PS}
		if err := m.SetSkillParameters(skillID, params); err != nil {
			return report, fmt.Errorf("bkt: applying parameters for skill %d: %w", skillID, err)
		}
		report.Skills[skillID] = result
	}

	m.markTrained(len(valid))
	return report, nil
}

func (t *Trainer) fitSkill(ctx context.Context, skillID int64, sequences [][]bool) (models.SkillTrainingResult, error) {
	var (
		params Parameters
		iters  int
		conv   bool
		optOK  = true
		err    error
	)
	switch t.Method {
	case MethodOptimization:
		params, iters, conv, err = t.fitOptimization(ctx, sequences)
		if err != nil {
			return models.SkillTrainingResult{}, err
		}
		optOK = conv
	default:
		params, iters, conv, err = t.fitEM(ctx, sequences)
		if err != nil {
			return models.SkillTrainingResult{}, err
		}
	}

	accuracy, avgLL, n := evaluate(params, sequences)
	return models.SkillTrainingResult{
		SkillID:             skillID,
		PL0:                 params.PL0,
		PT:                  params.PT,
		PG:                  params.PG,
		PS:                  params.PS,
		Iterations:          iters,
		Converged:           conv,
		OptimizationSuccess: optOK,
		Accuracy:            accuracy,
		LogLikelihood:       avgLL,
		DataPoints:          n,
	}, nil
}

// ── Expectation-maximization ─────────────────────────────────────────────

// seedParameters picks starting values from the data rather than the
// defaults. The first filtered state is the prior itself, so the M-step
// re-estimates PL0 as whatever it was seeded with; an accuracy-based
// seed is what makes the fitted prior reflect the cohort.
func seedParameters(sequences [][]bool) Parameters {
	attempts, correct := 0, 0
	for _, seq := range sequences {
		for _, obs := range seq {
			attempts++
			if obs {
				correct++
			}
		}
	}
	accuracy := 0.5
	if attempts > 0 {
		accuracy = float64(correct) / float64(attempts)
	}
	return clampParams(Parameters{
		PL0: accuracy * 0.3,
		PT:  0.2 + accuracy*0.3,
		PG:  0.1 + (1-accuracy)*0.2,
		PS:  0.05 + (1-accuracy)*0.15,
	})
}

// fitEM alternates a forward filter (E-step) with closed-form parameter
// re-estimation (M-step) until the parameter vector moves less than the
// tolerance. The M-step thresholds the filtered latent state at 0.5.
func (t *Trainer) fitEM(ctx context.Context, sequences [][]bool) (Parameters, int, bool, error) {
	params := seedParameters(sequences)

	for iter := 1; iter <= t.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return params, iter, false, err
		}

		var (
			firstLearned float64
			transitions  float64
			unlearned    float64
			guesses      float64
			notLearnedN  float64
			slips        float64
			learnedN     float64
		)

		for _, seq := range sequences {
			states := forwardFilter(params, seq)
			firstLearned += states[0]

			for i, correct := range seq {
				learned := states[i] >= 0.5
				if learned {
					learnedN++
					if !correct {
						slips++
					}
				} else {
					notLearnedN++
					if correct {
						guesses++
					}
				}
				if i+1 < len(states) {
					if !learned {
						unlearned++
						if states[i+1] >= 0.5 {
							transitions++
						}
					}
				}
			}
		}

		next := Parameters{
			PL0: params.PL0,
			PT:  params.PT,
			PG:  params.PG,
			PS:  params.PS,
		}
		if len(sequences) > 0 {
			next.PL0 = firstLearned / float64(len(sequences))
		}
		if unlearned > 0 {
			next.PT = transitions / unlearned
		}
		if notLearnedN > 0 {
			next.PG = guesses / notLearnedN
		}
		if learnedN > 0 {
			next.PS = slips / learnedN
		}
		next = clampParams(next)

		delta := math.Abs(next.PL0-params.PL0) +
			math.Abs(next.PT-params.PT) +
			math.Abs(next.PG-params.PG) +
			math.Abs(next.PS-params.PS)
		params = next
		if delta < t.Tolerance {
			return params, iter, true, nil
		}
	}
	return params, t.MaxIterations, false, nil
}

// forwardFilter returns the filtered P(learned) before each observation
// in the sequence, starting from the prior.
func forwardFilter(p Parameters, seq []bool) []float64 {
	states := make([]float64, len(seq))
	mastery := p.PL0
	for i, correct := range seq {
		states[i] = mastery
		mastery = reviseMastery(mastery, correct, p)
	}
	return states
}

// ── Direct likelihood optimization ───────────────────────────────────────

// fitOptimization maximizes the data log-likelihood with Adam on
// central-difference gradients. The learning rate follows a cosine
// schedule over the iteration budget.
func (t *Trainer) fitOptimization(ctx context.Context, sequences [][]bool) (Parameters, int, bool, error) {
	const (
		baseLR  = 0.05
		minLR   = 0.001
		epsilon = 1e-4
	)

	seed := seedParameters(sequences)
	theta := []float64{seed.PL0, seed.PT, seed.PG, seed.PS}
	opt := newAdam(len(theta))
	prevLL := totalLogLikelihood(vecToParams(theta), sequences)

	for iter := 1; iter <= t.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return vecToParams(theta), iter, false, err
		}

		grad := make([]float64, len(theta))
		for i := range theta {
			up := append([]float64(nil), theta...)
			down := append([]float64(nil), theta...)
			up[i] = math.Min(paramCeil, up[i]+epsilon)
			down[i] = math.Max(paramFloor, down[i]-epsilon)
			span := up[i] - down[i]
			if span == 0 {
				continue
			}
			grad[i] = (totalLogLikelihood(vecToParams(up), sequences) -
				totalLogLikelihood(vecToParams(down), sequences)) / span
		}

		progress := float64(iter) / float64(t.MaxIterations)
		lr := minLR + 0.5*(baseLR-minLR)*(1+math.Cos(math.Pi*progress))

		// Ascent on the log-likelihood.
		opt.step(theta, grad, lr)
		for i := range theta {
			theta[i] = math.Max(paramFloor, math.Min(paramCeil, theta[i]))
		}

		ll := totalLogLikelihood(vecToParams(theta), sequences)
		if math.Abs(ll-prevLL) < t.Tolerance {
			return vecToParams(theta), iter, true, nil
		}
		prevLL = ll
	}
	return vecToParams(theta), t.MaxIterations, false, nil
}

func vecToParams(v []float64) Parameters {
	return Parameters{PL0: v[0], PT: v[1], PG: v[2], PS: v[3]}
}

// totalLogLikelihood sums log P(observation) over every sequence under
// the given parameters.
func totalLogLikelihood(p Parameters, sequences [][]bool) float64 {
	total := 0.0
	for _, seq := range sequences {
		mastery := p.PL0
		for _, correct := range seq {
			prob := p.PG*(1-mastery) + (1-p.PS)*mastery
			if !correct {
				prob = 1 - prob
			}
			total += math.Log(math.Max(prob, likelihoodFloor))
			mastery = reviseMastery(mastery, correct, p)
		}
	}
	return total
}

// adam is a plain Adam optimizer over a flat parameter vector. step moves
// in the gradient direction, so callers maximizing pass the raw gradient.
type adam struct {
	m, v []float64
	t    int
}

func newAdam(n int) *adam {
	return &adam{m: make([]float64, n), v: make([]float64, n)}
}

func (a *adam) step(theta, grad []float64, lr float64) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	a.t++
	for i := range theta {
		a.m[i] = beta1*a.m[i] + (1-beta1)*grad[i]
		a.v[i] = beta2*a.v[i] + (1-beta2)*grad[i]*grad[i]
		mHat := a.m[i] / (1 - math.Pow(beta1, float64(a.t)))
		vHat := a.v[i] / (1 - math.Pow(beta2, float64(a.t)))
		theta[i] += lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

// ── Evaluation ───────────────────────────────────────────────────────────

// evaluate scores fitted parameters on the training sequences: fraction
// of observations predicted correctly at the 0.5 cut, plus the average
// per-observation log-likelihood.
func evaluate(p Parameters, sequences [][]bool) (accuracy, avgLL float64, n int) {
	correct := 0
	totalLL := 0.0
	for _, seq := range sequences {
		mastery := p.PL0
		for _, obs := range seq {
			prob := p.PG*(1-mastery) + (1-p.PS)*mastery
			if (prob >= 0.5) == obs {
				correct++
			}
			evProb := prob
			if !obs {
				evProb = 1 - prob
			}
			totalLL += math.Log(math.Max(evProb, likelihoodFloor))
			mastery = reviseMastery(mastery, obs, p)
			n++
		}
	}
	if n > 0 {
		accuracy = float64(correct) / float64(n)
		avgLL = totalLL / float64(n)
	}
	return accuracy, avgLL, n
}

// ── Helpers ──────────────────────────────────────────────────────────────

func groupBySkill(records []models.Observation) map[int64][]models.Observation {
	out := make(map[int64][]models.Observation)
	for _, r := range records {
		out[r.SkillID] = append(out[r.SkillID], r)
	}
	return out
}

// buildSequences orders one skill's records per learner by timestamp and
// reduces them to correctness sequences.
func buildSequences(records []models.Observation) [][]bool {
	byLearner := make(map[int64][]models.Observation)
	for _, r := range records {
		byLearner[r.LearnerID] = append(byLearner[r.LearnerID], r)
	}

	learnerIDs := make([]int64, 0, len(byLearner))
	for id := range byLearner {
		learnerIDs = append(learnerIDs, id)
	}
	sort.Slice(learnerIDs, func(i, j int) bool { return learnerIDs[i] < learnerIDs[j] })

	sequences := make([][]bool, 0, len(byLearner))
	for _, learnerID := range learnerIDs {
		recs := byLearner[learnerID]
		sort.Slice(recs, func(i, j int) bool { return recs[i].AttemptedAt.Before(recs[j].AttemptedAt) })
		seq := make([]bool, len(recs))
		for i, r := range recs {
			seq[i] = r.Correct
		}
		sequences = append(sequences, seq)
	}
	return sequences
}

func clampParams(p Parameters) Parameters {
	clamp := func(v float64) float64 {
		return math.Max(paramFloor, math.Min(paramCeil, v))
	}
	return Parameters{PL0: clamp(p.PL0), PT: clamp(p.PT), PG: clamp(p.PG), PS: clamp(p.PS)}
}
