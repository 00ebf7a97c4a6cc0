package dqn

import (
	"fmt"
	"math"
	"math/rand"
)

// Network is a small fully connected net: two ReLU hidden layers and a
// linear output head, one output per action. It is deliberately plain —
// dense layers over float64 slices — so checkpoints are just JSON.
type Network struct {
	Sizes   []int         `json:"sizes"`
	Weights [][][]float64 `json:"weights"` // [layer][out][in]
	Biases  [][]float64   `json:"biases"`  // [layer][out]
}

// NewNetwork initializes weights with He-style scaling, which suits the
// ReLU hidden layers.
func NewNetwork(rng *rand.Rand, inputSize, hiddenSize, outputSize int) *Network {
	sizes := []int{inputSize, hiddenSize, hiddenSize, outputSize}
	n := &Network{Sizes: sizes}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		w := make([][]float64, out)
		for o := range w {
			w[o] = make([]float64, in)
			for i := range w[o] {
				w[o][i] = rng.NormFloat64() * scale
			}
		}
		n.Weights = append(n.Weights, w)
		n.Biases = append(n.Biases, make([]float64, out))
	}
	return n
}

// Forward returns the Q-values for a state.
func (n *Network) Forward(input []float64) []float64 {
	acts, _ := n.forwardAll(input)
	return acts[len(acts)-1]
}

// forwardAll runs the net keeping every layer's activations and
// pre-activations for backprop.
func (n *Network) forwardAll(input []float64) (activations [][]float64, preacts [][]float64) {
	activations = [][]float64{input}
	cur := input
	last := len(n.Weights) - 1
	for l, w := range n.Weights {
		z := make([]float64, len(w))
		for o := range w {
			sum := n.Biases[l][o]
			row := w[o]
			for i, v := range cur {
				sum += row[i] * v
			}
			z[o] = sum
		}
		preacts = append(preacts, z)

		a := z
		if l != last {
			a = make([]float64, len(z))
			for i, v := range z {
				if v > 0 {
					a[i] = v
				}
			}
		}
		activations = append(activations, a)
		cur = a
	}
	return activations, preacts
}

// Gradients holds per-layer weight and bias gradients, accumulated over
// a batch.
type Gradients struct {
	Weights [][][]float64
	Biases  [][]float64
}

func (n *Network) zeroGradients() *Gradients {
	g := &Gradients{}
	for l, w := range n.Weights {
		gw := make([][]float64, len(w))
		for o := range gw {
			gw[o] = make([]float64, len(w[o]))
		}
		g.Weights = append(g.Weights, gw)
		g.Biases = append(g.Biases, make([]float64, len(n.Biases[l])))
	}
	return g
}

// accumulate backpropagates the squared error on a single action's
// output (the other outputs receive no gradient) and adds the result
// into g.
func (n *Network) accumulate(g *Gradients, input []float64, action int, target float64) float64 {
	activations, preacts := n.forwardAll(input)
	out := activations[len(activations)-1]

	diff := out[action] - target
	loss := diff * diff

	// delta over the output layer: d(loss)/d(z) = 2*(q - target) on the
	// taken action only.
	last := len(n.Weights) - 1
	delta := make([]float64, len(out))
	delta[action] = 2 * diff

	for l := last; l >= 0; l-- {
		prev := activations[l]
		for o, d := range delta {
			if d == 0 {
				continue
			}
			g.Biases[l][o] += d
			row := g.Weights[l][o]
			for i, v := range prev {
				row[i] += d * v
			}
		}
		if l == 0 {
			break
		}
		next := make([]float64, len(prev))
		for o, d := range delta {
			if d == 0 {
				continue
			}
			row := n.Weights[l][o]
			for i := range next {
				next[i] += d * row[i]
			}
		}
		// ReLU derivative over the previous layer's pre-activations.
		for i := range next {
			if preacts[l-1][i] <= 0 {
				next[i] = 0
			}
		}
		delta = next
	}
	return loss
}

// clipNorm scales the whole gradient down when its global L2 norm
// exceeds maxNorm.
func (g *Gradients) clipNorm(maxNorm float64) {
	sum := 0.0
	for l := range g.Weights {
		for _, row := range g.Weights[l] {
			for _, v := range row {
				sum += v * v
			}
		}
		for _, v := range g.Biases[l] {
			sum += v * v
		}
	}
	norm := math.Sqrt(sum)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	for l := range g.Weights {
		for _, row := range g.Weights[l] {
			for i := range row {
				row[i] *= scale
			}
		}
		for i := range g.Biases[l] {
			g.Biases[l][i] *= scale
		}
	}
}

// Clone deep-copies the network.
func (n *Network) Clone() *Network {
	c := &Network{Sizes: append([]int(nil), n.Sizes...)}
	for l, w := range n.Weights {
		cw := make([][]float64, len(w))
		for o := range w {
			cw[o] = append([]float64(nil), w[o]...)
		}
		c.Weights = append(c.Weights, cw)
		c.Biases = append(c.Biases, append([]float64(nil), n.Biases[l]...))
	}
	return c
}

// CopyFrom overwrites this network's parameters with src's. Shapes must
// match.
func (n *Network) CopyFrom(src *Network) error {
	if len(n.Weights) != len(src.Weights) {
		return fmt.Errorf("dqn: layer count mismatch: %d vs %d", len(n.Weights), len(src.Weights))
	}
	for l := range n.Weights {
		if len(n.Weights[l]) != len(src.Weights[l]) {
			return fmt.Errorf("dqn: layer %d size mismatch", l)
		}
		for o := range n.Weights[l] {
			copy(n.Weights[l][o], src.Weights[l][o])
		}
		copy(n.Biases[l], src.Biases[l])
	}
	return nil
}

// netAdam is Adam over the network's full parameter set.
type netAdam struct {
	mW, vW [][][]float64
	mB, vB [][]float64
	t      int
}

func newNetAdam(n *Network) *netAdam {
	a := &netAdam{}
	for l, w := range n.Weights {
		mw := make([][]float64, len(w))
		vw := make([][]float64, len(w))
		for o := range w {
			mw[o] = make([]float64, len(w[o]))
			vw[o] = make([]float64, len(w[o]))
		}
		a.mW = append(a.mW, mw)
		a.vW = append(a.vW, vw)
		a.mB = append(a.mB, make([]float64, len(n.Biases[l])))
		a.vB = append(a.vB, make([]float64, len(n.Biases[l])))
	}
	return a
}

func (a *netAdam) step(n *Network, g *Gradients, lr float64) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	a.t++
	c1 := 1 - math.Pow(beta1, float64(a.t))
	c2 := 1 - math.Pow(beta2, float64(a.t))

	for l := range n.Weights {
		for o := range n.Weights[l] {
			for i := range n.Weights[l][o] {
				grad := g.Weights[l][o][i]
				a.mW[l][o][i] = beta1*a.mW[l][o][i] + (1-beta1)*grad
				a.vW[l][o][i] = beta2*a.vW[l][o][i] + (1-beta2)*grad*grad
				n.Weights[l][o][i] -= lr * (a.mW[l][o][i] / c1) / (math.Sqrt(a.vW[l][o][i]/c2) + eps)
			}
		}
		for o := range n.Biases[l] {
			grad := g.Biases[l][o]
			a.mB[l][o] = beta1*a.mB[l][o] + (1-beta1)*grad
			a.vB[l][o] = beta2*a.vB[l][o] + (1-beta2)*grad*grad
			n.Biases[l][o] -= lr * (a.mB[l][o] / c1) / (math.Sqrt(a.vB[l][o]/c2) + eps)
		}
	}
}
