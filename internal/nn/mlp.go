// Package nn implements the co-authorship classifier: a one-hidden-layer
// feed-forward network producing two logits per row, trained with softmax
// cross-entropy and Adam.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Classes is the number of output logits (not co-authored, co-authored).
const Classes = 2

// MLP is Linear(in, hidden) -> ReLU -> Linear(hidden, 2).
// Rows are scored independently; the network keeps no state between calls.
type MLP struct {
	In     int
	Hidden int

	W1 *mat.Dense // In x Hidden
	B1 *mat.Dense // 1 x Hidden
	W2 *mat.Dense // Hidden x Classes
	B2 *mat.Dense // 1 x Classes
}

// NewMLP creates a network with uniform(-1/sqrt(fan_in), 1/sqrt(fan_in))
// initialization drawn from a source seeded with seed.
func NewMLP(in, hidden int, seed uint64) (*MLP, error) {
	if in <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("invalid network shape: in=%d hidden=%d", in, hidden)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))

	uniform := func(rows, cols, fanIn int) *mat.Dense {
		bound := 1 / math.Sqrt(float64(fanIn))
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * bound
		}
		return mat.NewDense(rows, cols, data)
	}

	return &MLP{
		In:     in,
		Hidden: hidden,
		W1:     uniform(in, hidden, in),
		B1:     uniform(1, hidden, in),
		W2:     uniform(hidden, Classes, hidden),
		B2:     uniform(1, Classes, hidden),
	}, nil
}

// Params returns the trainable parameters in a fixed order.
func (m *MLP) Params() []*mat.Dense {
	return []*mat.Dense{m.W1, m.B1, m.W2, m.B2}
}

// activations keeps the intermediate values needed for backpropagation.
type activations struct {
	x  mat.Matrix
	z1 *mat.Dense // pre-activation hidden layer
	h  *mat.Dense // ReLU(z1)
}

// Forward returns the n x 2 logits for the n x In input batch.
func (m *MLP) Forward(x mat.Matrix) *mat.Dense {
	logits, _ := m.forward(x)
	return logits
}

func (m *MLP) forward(x mat.Matrix) (*mat.Dense, *activations) {
	n, cols := x.Dims()
	if cols != m.In {
		panic(fmt.Sprintf("nn: input has %d columns, network expects %d", cols, m.In))
	}

	z1 := mat.NewDense(n, m.Hidden, nil)
	z1.Mul(x, m.W1)
	addRowVector(z1, m.B1)

	h := mat.NewDense(n, m.Hidden, nil)
	h.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z1)

	logits := mat.NewDense(n, Classes, nil)
	logits.Mul(h, m.W2)
	addRowVector(logits, m.B2)

	return logits, &activations{x: x, z1: z1, h: h}
}

// backward returns parameter gradients, in Params order, given the
// gradient of the loss with respect to the logits.
func (m *MLP) backward(act *activations, dLogits *mat.Dense) []*mat.Dense {
	n, _ := dLogits.Dims()

	dW2 := mat.NewDense(m.Hidden, Classes, nil)
	dW2.Mul(act.h.T(), dLogits)
	dB2 := columnSums(dLogits)

	dH := mat.NewDense(n, m.Hidden, nil)
	dH.Mul(dLogits, m.W2.T())
	dH.Apply(func(i, j int, v float64) float64 {
		if act.z1.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dH)

	dW1 := mat.NewDense(m.In, m.Hidden, nil)
	dW1.Mul(act.x.T(), dH)
	dB1 := columnSums(dH)

	return []*mat.Dense{dW1, dB1, dW2, dB2}
}

// Predict returns the argmax class for each row (true = co-authored).
// Ties resolve to the first class.
func Predict(logits mat.Matrix) []bool {
	n, _ := logits.Dims()
	out := make([]bool, n)
	for i := range out {
		out[i] = logits.At(i, 1) > logits.At(i, 0)
	}
	return out
}

func addRowVector(dst, row *mat.Dense) {
	r, c := dst.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, dst.At(i, j)+row.At(0, j))
		}
	}
}

func columnSums(a *mat.Dense) *mat.Dense {
	_, c := a.Dims()
	out := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		out.Set(0, j, mat.Sum(a.ColView(j)))
	}
	return out
}
