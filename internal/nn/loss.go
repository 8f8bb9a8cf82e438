package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SoftmaxCrossEntropy returns the mean cross-entropy of logits against
// labels and its gradient with respect to the logits.
func SoftmaxCrossEntropy(logits *mat.Dense, labels []bool) (float64, *mat.Dense) {
	n, c := logits.Dims()
	if n != len(labels) {
		panic(fmt.Sprintf("nn: %d logit rows for %d labels", n, len(labels)))
	}

	grad := mat.NewDense(n, c, nil)
	var loss float64
	for i := 0; i < n; i++ {
		row := logits.RawRowView(i)

		// Shift by the row max for numerical stability.
		maxLogit := row[0]
		for _, v := range row[1:] {
			maxLogit = math.Max(maxLogit, v)
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - maxLogit)
		}
		logSum := maxLogit + math.Log(sum)

		target := classIndex(labels[i])
		loss += logSum - row[target]

		for j, v := range row {
			p := math.Exp(v - logSum)
			if j == target {
				p--
			}
			grad.Set(i, j, p/float64(n))
		}
	}
	return loss / float64(n), grad
}

// Accuracy returns the fraction of rows whose argmax logit matches the label.
func Accuracy(logits mat.Matrix, labels []bool) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, p := range Predict(logits) {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

func classIndex(label bool) int {
	if label {
		return 1
	}
	return 0
}
