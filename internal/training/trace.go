package training

// EpochMetrics holds the four scalars recorded for one epoch.
type EpochMetrics struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	TrainAcc  float64 `json:"train_accuracy"`
	ValLoss   float64 `json:"val_loss"`
	ValAcc    float64 `json:"val_accuracy"`
}

// Trace is the append-only per-epoch metrics history of a run.
type Trace struct {
	Epochs []EpochMetrics `json:"epochs"`
}

// Append records one epoch.
func (t *Trace) Append(m EpochMetrics) {
	t.Epochs = append(t.Epochs, m)
}

// Len returns the number of recorded epochs.
func (t *Trace) Len() int {
	return len(t.Epochs)
}

// Last returns the most recent epoch, or false if none was recorded.
func (t *Trace) Last() (EpochMetrics, bool) {
	if len(t.Epochs) == 0 {
		return EpochMetrics{}, false
	}
	return t.Epochs[len(t.Epochs)-1], true
}

// Series returns the four metric series in epoch order, for plotting.
func (t *Trace) Series() (trainLoss, valLoss, trainAcc, valAcc []float64) {
	for _, e := range t.Epochs {
		trainLoss = append(trainLoss, e.TrainLoss)
		valLoss = append(valLoss, e.ValLoss)
		trainAcc = append(trainAcc, e.TrainAcc)
		valAcc = append(valAcc, e.ValAcc)
	}
	return trainLoss, valLoss, trainAcc, valAcc
}
