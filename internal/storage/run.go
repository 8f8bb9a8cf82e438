package storage

import (
	"time"

	"github.com/google/uuid"
)

// Run modes.
const (
	ModeTrained = "trained"
	ModeLoaded  = "loaded"
)

// Run is one per-setting experiment run.
type Run struct {
	ID         string    `json:"id"`
	Setting    string    `json:"setting"`
	Mode       string    `json:"mode"` // trained or loaded
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Records  int `json:"records"`
	Degraded int `json:"degraded"`

	FinalTrainLoss float64 `json:"final_train_loss"`
	FinalTrainAcc  float64 `json:"final_train_accuracy"`
	FinalValLoss   float64 `json:"final_val_loss"`
	FinalValAcc    float64 `json:"final_val_accuracy"`

	Epochs []Epoch `json:"epochs,omitempty"`
}

// Epoch holds the metrics of one training epoch of a run.
type Epoch struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	TrainAcc  float64 `json:"train_accuracy"`
	ValLoss   float64 `json:"val_loss"`
	ValAcc    float64 `json:"val_accuracy"`
}

// ThresholdResult is one recorded threshold search.
type ThresholdResult struct {
	Setting   string    `json:"setting"`
	Mode      string    `json:"mode"`
	Threshold float64   `json:"threshold"`
	Accuracy  float64   `json:"accuracy"`
	Queries   int       `json:"queries"`
	Diluted   int       `json:"diluted"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRun returns a run with a fresh ID started now.
func NewRun(setting, mode string) Run {
	return Run{
		ID:        uuid.NewString(),
		Setting:   setting,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
}

// Finished reports whether the run completed.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}
