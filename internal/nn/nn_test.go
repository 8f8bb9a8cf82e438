package nn

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewMLP(t *testing.T) {
	m, err := NewMLP(4, 8, 1)
	require.NoError(t, err)

	r, c := m.W1.Dims()
	assert.Equal(t, [2]int{4, 8}, [2]int{r, c})
	r, c = m.W2.Dims()
	assert.Equal(t, [2]int{8, 2}, [2]int{r, c})

	bound := 1 / math.Sqrt(4)
	for _, v := range m.W1.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}

	same, _ := NewMLP(4, 8, 1)
	assert.True(t, mat.Equal(m.W1, same.W1), "same seed gives same weights")

	_, err = NewMLP(0, 8, 1)
	assert.Error(t, err)
}

func TestForward_RowsIndependent(t *testing.T) {
	m, _ := NewMLP(3, 5, 2)
	x := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0.5, -1, 2,
	})
	all := m.Forward(x)

	for i := 0; i < 3; i++ {
		single := m.Forward(mat.NewDense(1, 3, mat.Row(nil, i, x)))
		assert.InDeltaSlice(t, mat.Row(nil, i, all), mat.Row(nil, 0, single), 1e-12)
	}

	// repeated calls do not change results
	assert.True(t, mat.Equal(all, m.Forward(x)))
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	logits := mat.NewDense(2, 2, []float64{0, 0, 2, -1})
	loss, grad := SoftmaxCrossEntropy(logits, []bool{true, false})

	want := (math.Log(2) + math.Log(1+math.Exp(-3))) / 2
	assert.InDelta(t, want, loss, 1e-12)

	// gradient rows sum to zero
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 0, grad.At(i, 0)+grad.At(i, 1), 1e-12)
	}
	assert.InDelta(t, (0.5-1)/2, grad.At(0, 1), 1e-12)
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	m, _ := NewMLP(3, 4, 11)
	x := mat.NewDense(4, 3, []float64{
		0.3, -1.2, 0.8,
		1.5, 0.2, -0.4,
		-0.7, 0.9, 1.1,
		0.05, 0.6, -1.3,
	})
	labels := []bool{true, false, true, false}

	logits, act := m.forward(x)
	_, dLogits := SoftmaxCrossEntropy(logits, labels)
	grads := m.backward(act, dLogits)

	const eps = 1e-6
	for pi, p := range m.Params() {
		data := p.RawMatrix().Data
		for k := range data {
			orig := data[k]
			data[k] = orig + eps
			lossPlus, _ := SoftmaxCrossEntropy(m.Forward(x), labels)
			data[k] = orig - eps
			lossMinus, _ := SoftmaxCrossEntropy(m.Forward(x), labels)
			data[k] = orig

			numeric := (lossPlus - lossMinus) / (2 * eps)
			assert.InDelta(t, numeric, grads[pi].RawMatrix().Data[k], 1e-5, "param %d index %d", pi, k)
		}
	}
}

func TestTrainStep_ReducesLoss(t *testing.T) {
	m, _ := NewMLP(2, 8, 3)
	opt := NewAdam(0.05)
	x := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 0, 0, 1})
	labels := []bool{true, false, true, false}

	first, _ := m.Evaluate(x, labels)
	for i := 0; i < 50; i++ {
		m.TrainStep(opt, x, labels)
	}
	last, acc := m.Evaluate(x, labels)

	assert.Less(t, last, first)
	assert.Equal(t, 1.0, acc)
	assert.Equal(t, 50, opt.Steps())
}

func TestAccuracyAndPredict(t *testing.T) {
	logits := mat.NewDense(3, 2, []float64{0, 1, 1, 0, 0.5, 0.5})
	assert.Equal(t, []bool{true, false, false}, Predict(logits))
	assert.InDelta(t, 2.0/3, Accuracy(logits, []bool{true, true, false}), 1e-12)
	assert.Equal(t, 0.0, Accuracy(logits, nil))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, _ := NewMLP(3, 6, 5)
	// move away from the initialization
	opt := NewAdam(0.01)
	x := mat.NewDense(2, 3, []float64{1, 2, 3, -1, 0, 1})
	m.TrainStep(opt, x, []bool{true, false})

	path := filepath.Join(t.TempDir(), "models", "setting.model")
	require.NoError(t, m.Save(path))
	assert.True(t, Exists(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.In, loaded.In)
	assert.Equal(t, m.Hidden, loaded.Hidden)
	assert.True(t, mat.Equal(m.Forward(x), loaded.Forward(x)), "logits must be bit-identical")

	// no temp file left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.model"))
	assert.True(t, errors.Is(err, ErrModelNotFound), "error = %v", err)

	garbage := filepath.Join(dir, "garbage.model")
	require.NoError(t, os.WriteFile(garbage, []byte("not a model"), 0644))
	_, err = Load(garbage)
	assert.Error(t, err)
}
