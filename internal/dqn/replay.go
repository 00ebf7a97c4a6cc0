package dqn

import "math/rand"

// Transition is one stored experience step.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
}

// ReplayBuffer is a fixed-capacity ring: once full, new transitions
// overwrite the oldest.
type ReplayBuffer struct {
	buf  []Transition
	next int
	full bool
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayBuffer{buf: make([]Transition, capacity)}
}

func (r *ReplayBuffer) Add(t Transition) {
	r.buf[r.next] = t
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ReplayBuffer) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Sample draws n transitions uniformly with replacement. Returns nil
// when the buffer holds fewer than n.
func (r *ReplayBuffer) Sample(rng *rand.Rand, n int) []Transition {
	size := r.Len()
	if size < n {
		return nil
	}
	out := make([]Transition, n)
	for i := range out {
		out[i] = r.buf[rng.Intn(size)]
	}
	return out
}
