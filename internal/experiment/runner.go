// Package experiment runs the per-setting experiment: load embeddings, build
// the dataset, train or load the classifier, and record the outcome.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/dataset"
	"github.com/matsen/coauthor/internal/embedding"
	"github.com/matsen/coauthor/internal/features"
	"github.com/matsen/coauthor/internal/logging"
	"github.com/matsen/coauthor/internal/nn"
	"github.com/matsen/coauthor/internal/storage"
	"github.com/matsen/coauthor/internal/telemetry"
	"github.com/matsen/coauthor/internal/training"
	"github.com/matsen/coauthor/internal/viz"
)

// ErrModelMismatch is returned when a persisted model does not fit the
// feature dimension of the current embeddings.
var ErrModelMismatch = errors.New("persisted model does not match embedding dimension")

// Runner executes experiment runs for one configuration.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *storage.DB
	metrics *telemetry.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithDB records runs in db.
func WithDB(db *storage.DB) Option {
	return func(r *Runner) { r.db = db }
}

// NewRunner creates a runner. cfg must already be validated.
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: logging.OrNop(logger), metrics: telemetry.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes one setting's run.
type Result struct {
	Setting      string                  `json:"setting"`
	RunID        string                  `json:"run_id"`
	Mode         string                  `json:"mode"`
	Stats        *dataset.BuildStats     `json:"stats"`
	Final        training.EpochMetrics   `json:"final"`
	Epochs       []training.EpochMetrics `json:"epochs,omitempty"`
	ModelPath    string                  `json:"model_path"`
	LossPlot     string                  `json:"loss_plot,omitempty"`
	AccuracyPlot string                  `json:"accuracy_plot,omitempty"`
}

// Sweep runs every setting of the configured grid in order. The first
// error aborts the sweep; results of completed settings are returned.
func (r *Runner) Sweep(ctx context.Context) ([]*Result, error) {
	settings := r.cfg.Settings()
	r.logger.Info("starting sweep", zap.Int("settings", len(settings)))

	var results []*Result
	for _, s := range settings {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.Run(ctx, s)
		if err != nil {
			return results, fmt.Errorf("setting %s: %w", s.Name(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Run executes one setting. The model lifecycle is decided once from the
// presence of the persisted model: a persisted model is loaded and
// evaluated, otherwise a new model is trained, saved and plotted.
func (r *Runner) Run(ctx context.Context, s config.Setting) (*Result, error) {
	name := s.Name()
	logger := r.logger.With(zap.String("setting", name))

	store, err := r.openStore(s, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	enc, err := r.encoder()
	if err != nil {
		return nil, err
	}

	split, stats, err := dataset.Build(r.cfg.Data.Queries, r.cfg.Data.Answers, store, dataset.Options{
		ValRatio: r.cfg.Training.ValRatio,
		Seed:     r.cfg.Training.Seed,
		Encoder:  enc,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("dataset built",
		zap.Int("records", stats.Records),
		zap.Int("positive", stats.Positive),
		zap.Int("train", stats.Train),
		zap.Int("val", stats.Val),
		zap.Int("feature_dim", stats.FeatureDim))

	modelPath := r.cfg.ModelPath(s)
	lifecycle := DecideLifecycle(modelPath)
	run := storage.NewRun(name, lifecycle.Mode())
	run.Records = stats.Records
	run.Degraded = stats.Degraded
	logger = logger.With(zap.String("run_id", run.ID))
	logger.Info("model lifecycle decided",
		zap.String("lifecycle", lifecycle.String()),
		zap.String("model", modelPath))

	if r.db != nil {
		if err := r.db.BeginRun(run); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Setting:   name,
		RunID:     run.ID,
		Mode:      run.Mode,
		Stats:     stats,
		ModelPath: modelPath,
	}

	switch lifecycle {
	case Persisted:
		err = r.evaluatePersisted(modelPath, stats.FeatureDim, split, res, logger)
	default:
		err = r.trainNew(ctx, s, stats.FeatureDim, split, res, &run, logger)
	}
	if err != nil {
		return nil, err
	}

	if err := r.finish(&run, res); err != nil {
		return nil, err
	}

	logger.Info("final metrics",
		zap.String("mode", res.Mode),
		zap.Float64("train_loss", res.Final.TrainLoss),
		zap.Float64("train_accuracy", res.Final.TrainAcc),
		zap.Float64("val_loss", res.Final.ValLoss),
		zap.Float64("val_accuracy", res.Final.ValAcc))
	return res, nil
}

func (r *Runner) evaluatePersisted(modelPath string, featureDim int, split *dataset.Split, res *Result, logger *zap.Logger) error {
	model, err := r.loadModel(modelPath, featureDim)
	if err != nil {
		return err
	}
	logger.Info("loaded persisted model, skipping training")

	batch := r.cfg.Training.BatchSize
	trainLoss, trainAcc := training.Evaluate(model, split.Train, batch)
	valLoss, valAcc := training.Evaluate(model, split.Val, batch)
	res.Final = training.EpochMetrics{
		TrainLoss: trainLoss,
		TrainAcc:  trainAcc,
		ValLoss:   valLoss,
		ValAcc:    valAcc,
	}
	return nil
}

func (r *Runner) trainNew(ctx context.Context, s config.Setting, featureDim int, split *dataset.Split, res *Result, run *storage.Run, logger *zap.Logger) error {
	model, err := nn.NewMLP(featureDim, r.cfg.Training.Hidden, r.cfg.Training.Seed)
	if err != nil {
		return err
	}

	tcfg := training.FromConfig(r.cfg.Training)
	tcfg.OnEpoch = func(m training.EpochMetrics) error {
		r.metrics.EpochsTotal.WithLabelValues(res.Setting).Inc()
		if r.db == nil {
			return nil
		}
		return r.db.RecordEpoch(run.ID, storage.Epoch(m))
	}

	started := time.Now()
	trace, err := training.Train(ctx, model, split.Train, split.Val, tcfg, logger)
	if err != nil {
		return err
	}
	logger.Info("training finished",
		zap.Int("epochs", trace.Len()),
		zap.Duration("elapsed", time.Since(started)))

	if err := model.Save(res.ModelPath); err != nil {
		return err
	}
	logger.Info("model saved", zap.String("path", res.ModelPath))

	res.Epochs = trace.Epochs
	if last, ok := trace.Last(); ok {
		res.Final = last
	}
	for _, e := range trace.Epochs {
		run.Epochs = append(run.Epochs, storage.Epoch(e))
	}

	trainLoss, valLoss, trainAcc, valAcc := trace.Series()
	res.LossPlot = r.cfg.LossPlotPath(s)
	if err := viz.PlotSeries(trainLoss, valLoss, "Losses", res.LossPlot); err != nil {
		return err
	}
	res.AccuracyPlot = r.cfg.AccuracyPlotPath(s)
	if err := viz.PlotSeries(trainAcc, valAcc, "Accuracies", res.AccuracyPlot); err != nil {
		return err
	}
	return nil
}

// finish records the completed run in the history and telemetry.
func (r *Runner) finish(run *storage.Run, res *Result) error {
	run.FinishedAt = time.Now().UTC()
	run.FinalTrainLoss = res.Final.TrainLoss
	run.FinalTrainAcc = res.Final.TrainAcc
	run.FinalValLoss = res.Final.ValLoss
	run.FinalValAcc = res.Final.ValAcc

	if r.db != nil {
		if err := r.db.FinishRun(*run); err != nil {
			return err
		}
	}
	if err := storage.AppendRun(r.cfg.RunsLogPath(), *run); err != nil {
		return err
	}

	r.metrics.ObserveFinal(res.Setting, res.Final.TrainLoss, res.Final.TrainAcc, res.Final.ValLoss, res.Final.ValAcc)
	r.metrics.AbsentNodes.WithLabelValues(res.Setting).Set(float64(res.Stats.AbsentNodes))
	r.metrics.RunsTotal.WithLabelValues(res.Setting, res.Mode).Inc()
	return r.metrics.WriteTextfile(r.cfg.MetricsFile)
}

func (r *Runner) openStore(s config.Setting, logger *zap.Logger) (embedding.Store, error) {
	path := r.cfg.KeyedVectorsPath(s)
	store, err := embedding.Load(path, embedding.Options{
		Format: r.cfg.Embedding.Format,
		Mmap:   r.cfg.Embedding.Mmap,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("embeddings loaded",
		zap.String("path", path),
		zap.Int("nodes", store.Len()),
		zap.Int("dim", store.Dim()))

	cached, err := embedding.WithCache(store, r.cfg.Embedding.CacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cached, nil
}

func (r *Runner) encoder() (features.Encoder, error) {
	policy, err := features.ParsePolicy(r.cfg.Features.AbsentPolicy)
	if err != nil {
		return features.Encoder{}, err
	}
	return features.Encoder{Policy: policy}, nil
}

func (r *Runner) loadModel(path string, featureDim int) (*nn.MLP, error) {
	model, err := nn.Load(path)
	if err != nil {
		return nil, err
	}
	if model.In != featureDim {
		return nil, fmt.Errorf("%w: model %s expects %d features, embeddings give %d",
			ErrModelMismatch, path, model.In, featureDim)
	}
	return model, nil
}
