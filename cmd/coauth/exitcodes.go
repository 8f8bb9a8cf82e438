package main

import (
	"context"
	"errors"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/dataset"
	"github.com/matsen/coauthor/internal/embedding"
	"github.com/matsen/coauthor/internal/experiment"
	"github.com/matsen/coauthor/internal/nn"
	"github.com/matsen/coauthor/internal/storage"
)

// Exit codes
const (
	ExitSuccess     = 0   // Success
	ExitError       = 1   // General error (invalid arguments, runtime failure)
	ExitConfigError = 2   // Invalid configuration or hyperparameters
	ExitDataError   = 3   // Malformed query, label, embedding or model file
	ExitNotFound    = 4   // Required file or record missing
	ExitUnknownNode = 5   // Author absent from the embeddings under the fail policy
	ExitInterrupted = 130 // Cancelled by SIGINT/SIGTERM
)

// exitCodeFor maps an error to the exit code of its category.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	case errors.Is(err, embedding.ErrUnknownNode):
		return ExitUnknownNode
	case errors.Is(err, dataset.ErrFormat),
		errors.Is(err, embedding.ErrCorrupt),
		errors.Is(err, nn.ErrUnsupportedVersion),
		errors.Is(err, experiment.ErrModelMismatch):
		return ExitDataError
	case errors.Is(err, embedding.ErrNotFound),
		errors.Is(err, dataset.ErrNotFound),
		errors.Is(err, nn.ErrModelNotFound),
		errors.Is(err, storage.ErrRunNotFound),
		errors.Is(err, config.ErrNotFound):
		return ExitNotFound
	default:
		return ExitError
	}
}
