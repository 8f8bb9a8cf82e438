package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the Adam optimizer with the usual defaults.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	step int
	m    []*mat.Dense
	v    []*mat.Dense
}

// NewAdam creates an optimizer with learning rate lr.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Step applies one update to params in place. grads must be in the same
// order and shapes as params on every call.
func (a *Adam) Step(params, grads []*mat.Dense) {
	if a.m == nil {
		a.m = make([]*mat.Dense, len(params))
		a.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			a.m[i] = mat.NewDense(r, c, nil)
			a.v[i] = mat.NewDense(r, c, nil)
		}
	}

	a.step++
	bias1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bias2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		g := grads[i].RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		w := p.RawMatrix().Data
		for k := range w {
			m[k] = a.Beta1*m[k] + (1-a.Beta1)*g[k]
			v[k] = a.Beta2*v[k] + (1-a.Beta2)*g[k]*g[k]
			mHat := m[k] / bias1
			vHat := v[k] / bias2
			w[k] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}

// TrainStep runs forward, loss, backward and one optimizer step on a batch,
// returning the batch loss and accuracy measured before the update.
func (m *MLP) TrainStep(opt *Adam, x mat.Matrix, labels []bool) (loss, acc float64) {
	logits, act := m.forward(x)
	loss, dLogits := SoftmaxCrossEntropy(logits, labels)
	acc = Accuracy(logits, labels)
	opt.Step(m.Params(), m.backward(act, dLogits))
	return loss, acc
}

// Evaluate returns loss and accuracy of a batch without updating parameters.
func (m *MLP) Evaluate(x mat.Matrix, labels []bool) (loss, acc float64) {
	logits := m.Forward(x)
	loss, _ = SoftmaxCrossEntropy(logits, labels)
	return loss, Accuracy(logits, labels)
}
