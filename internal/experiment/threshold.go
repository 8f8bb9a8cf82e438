package experiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/dataset"
	"github.com/matsen/coauthor/internal/embedding"
	"github.com/matsen/coauthor/internal/storage"
	"github.com/matsen/coauthor/internal/threshold"
)

// ThresholdResult is the outcome of the similarity threshold path for one
// setting.
type ThresholdResult struct {
	Setting string `json:"setting"`
	threshold.Result
}

// Threshold scores the labelled queries of a setting by mean pairwise
// similarity and searches the best decision threshold.
func (r *Runner) Threshold(ctx context.Context, s config.Setting) (*ThresholdResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := s.Name()
	logger := r.logger.With(zap.String("setting", name))

	mode, err := threshold.ParseMode(r.cfg.Threshold.Mode)
	if err != nil {
		return nil, err
	}

	queries, labels, err := dataset.ReadLabeled(r.cfg.Data.Queries, r.cfg.Data.Answers)
	if err != nil {
		return nil, err
	}

	store, err := r.openStore(s, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	res, err := threshold.Evaluate(queries, labels, store, threshold.Options{
		Grid:   threshold.GridFromConfig(r.cfg.Threshold),
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := store.(*embedding.SimilarityCache); ok {
		logger.Debug("similarity cache", zap.Int("cached_pairs", c.CachedPairs()))
	}

	recorded := storage.ThresholdResult{
		Setting:   name,
		Mode:      res.Mode,
		Threshold: res.Threshold,
		Accuracy:  res.Accuracy,
		Queries:   res.Queries,
		Diluted:   res.Diluted,
		CreatedAt: time.Now().UTC(),
	}
	if r.db != nil {
		if err := r.db.RecordThreshold(recorded); err != nil {
			return nil, err
		}
	}
	if err := storage.AppendThreshold(r.cfg.ThresholdsLogPath(), recorded); err != nil {
		return nil, err
	}

	r.metrics.ObserveThreshold(name, res.Mode, res.Threshold, res.Accuracy)
	if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
		return nil, err
	}
	return &ThresholdResult{Setting: name, Result: res}, nil
}

// ThresholdSweep runs Threshold for every setting of the grid.
func (r *Runner) ThresholdSweep(ctx context.Context) ([]*ThresholdResult, error) {
	var results []*ThresholdResult
	for _, s := range r.cfg.Settings() {
		res, err := r.Threshold(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
