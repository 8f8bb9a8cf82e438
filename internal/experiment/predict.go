package experiment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/dataset"
	"github.com/matsen/coauthor/internal/features"
	"github.com/matsen/coauthor/internal/training"
)

// PredictOptions selects the input and output of Predict.
type PredictOptions struct {
	QueryFile  string
	OutFile    string
	AnswerFile string // optional ground truth for scoring the predictions
}

// PredictResult summarizes a prediction run.
type PredictResult struct {
	Setting  string   `json:"setting"`
	Queries  int      `json:"queries"`
	Positive int      `json:"positive"`
	Degraded int      `json:"degraded"`
	OutFile  string   `json:"out_file"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Predict classifies every query of opts.QueryFile with the persisted model
// of setting s and writes the labels file to opts.OutFile. It never trains:
// a missing model fails with nn.ErrModelNotFound.
func (r *Runner) Predict(ctx context.Context, s config.Setting, opts PredictOptions) (*PredictResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := s.Name()
	logger := r.logger.With(zap.String("setting", name))

	queries, err := dataset.ReadQueries(opts.QueryFile)
	if err != nil {
		return nil, err
	}
	var truth []bool
	if opts.AnswerFile != "" {
		truth, err = dataset.ReadLabels(opts.AnswerFile)
		if err != nil {
			return nil, err
		}
		if len(truth) != len(queries) {
			return nil, fmt.Errorf("%w: %s has %d labels for %d queries",
				dataset.ErrFormat, opts.AnswerFile, len(truth), len(queries))
		}
	}

	store, err := r.openStore(s, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	model, err := r.loadModel(r.cfg.ModelPath(s), features.Dim(store.Dim()))
	if err != nil {
		return nil, err
	}

	enc, err := r.encoder()
	if err != nil {
		return nil, err
	}
	records, stats, err := dataset.EncodeAll(queries, nil, store, enc, logger)
	if err != nil {
		return nil, err
	}

	preds := training.Predict(model, records)
	if err := dataset.WriteLabels(opts.OutFile, preds); err != nil {
		return nil, err
	}

	res := &PredictResult{
		Setting:  name,
		Queries:  len(preds),
		Degraded: stats.Degraded,
		OutFile:  opts.OutFile,
	}
	for _, p := range preds {
		if p {
			res.Positive++
		}
	}
	if truth != nil {
		correct := 0
		for i, p := range preds {
			if p == truth[i] {
				correct++
			}
		}
		acc := 0.0
		if len(preds) > 0 {
			acc = float64(correct) / float64(len(preds))
		}
		res.Accuracy = &acc
	}

	logger.Info("predictions written",
		zap.String("path", opts.OutFile),
		zap.Int("queries", res.Queries),
		zap.Int("positive", res.Positive))
	return res, nil
}
