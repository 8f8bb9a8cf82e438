package experiment

import (
	"github.com/matsen/coauthor/internal/nn"
	"github.com/matsen/coauthor/internal/storage"
)

// Lifecycle is the state of a setting's classifier at run start.
type Lifecycle int

const (
	// Uninitialized means no model is persisted: initialize, train, save.
	Uninitialized Lifecycle = iota
	// Persisted means a saved model exists: load it and skip training.
	Persisted
)

// DecideLifecycle inspects the model path once, at run start.
func DecideLifecycle(modelPath string) Lifecycle {
	if nn.Exists(modelPath) {
		return Persisted
	}
	return Uninitialized
}

func (l Lifecycle) String() string {
	if l == Persisted {
		return "persisted"
	}
	return "uninitialized"
}

// Mode returns the run mode recorded in the run history.
func (l Lifecycle) Mode() string {
	if l == Persisted {
		return storage.ModeLoaded
	}
	return storage.ModeTrained
}
