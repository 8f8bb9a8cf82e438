// Package training runs the mini-batch training loop for the classifier.
package training

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/dataset"
	"github.com/matsen/coauthor/internal/logging"
	"github.com/matsen/coauthor/internal/nn"
)

// Config controls a training run.
type Config struct {
	BatchSize    int
	LearningRate float64
	MaxEpochs    int
	Device       string
	Workers      int
	Seed         uint64
	Shuffle      bool

	// OnEpoch, if set, is called after each epoch is appended to the trace.
	// A non-nil error aborts training.
	OnEpoch func(EpochMetrics) error
}

// FromConfig builds a training Config from experiment settings.
func FromConfig(c config.TrainingConfig) Config {
	return Config{
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		MaxEpochs:    c.Epochs,
		Device:       c.Device,
		Workers:      c.Workers,
		Seed:         c.Seed,
		Shuffle:      c.Shuffle,
	}
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", config.ErrInvalid, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", config.ErrInvalid, c.LearningRate)
	}
	if c.MaxEpochs < 0 {
		return fmt.Errorf("%w: epochs must not be negative, got %d", config.ErrInvalid, c.MaxEpochs)
	}
	return config.ValidateDevice(c.Device)
}

// Train runs exactly cfg.MaxEpochs epochs over train, updating model in
// place, and returns the per-epoch metrics. Validation metrics are zero
// when val is empty. Cancelling ctx stops training between batches.
func Train(ctx context.Context, model *nn.MLP, train, val []dataset.Record, cfg Config, logger *zap.Logger) (*Trace, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(train) == 0 {
		return nil, fmt.Errorf("%w: training set is empty", config.ErrInvalid)
	}
	logger = logging.OrNop(logger)

	opt := nn.NewAdam(cfg.LearningRate)
	trace := &Trace{}

	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		trainLoss, trainAcc, err := runEpoch(ctx, model, opt, train, cfg, epoch)
		if err != nil {
			return trace, err
		}
		valLoss, valAcc := Evaluate(model, val, cfg.BatchSize)

		m := EpochMetrics{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			TrainAcc:  trainAcc,
			ValLoss:   valLoss,
			ValAcc:    valAcc,
		}
		trace.Append(m)
		logger.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Int("epochs", cfg.MaxEpochs),
			zap.Float64("train_loss", trainLoss),
			zap.Float64("train_accuracy", trainAcc),
			zap.Float64("val_loss", valLoss),
			zap.Float64("val_accuracy", valAcc),
			zap.Int("steps", opt.Steps()))

		if cfg.OnEpoch != nil {
			if err := cfg.OnEpoch(m); err != nil {
				return trace, fmt.Errorf("epoch %d callback: %w", epoch, err)
			}
		}
	}
	return trace, nil
}

func runEpoch(ctx context.Context, model *nn.MLP, opt *nn.Adam, records []dataset.Record, cfg Config, epoch int) (loss, acc float64, err error) {
	order := permutation(len(records), cfg.Shuffle, cfg.Seed, epoch)
	l := newLoader(ctx, records, order, cfg.BatchSize, cfg.Workers)

	var sumLoss, sumAcc float64
	batches := 0
	for {
		if ctx.Err() != nil {
			break
		}
		b, ok := l.Next()
		if !ok {
			break
		}
		bl, ba := model.TrainStep(opt, b.X, b.Labels)
		sumLoss += bl
		sumAcc += ba
		batches++
	}

	if err := l.Wait(); err != nil {
		return 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return sumLoss / float64(batches), sumAcc / float64(batches), nil
}

// Evaluate returns the mean batch loss and accuracy of model over records
// without updating it. Empty record sets yield zeros.
func Evaluate(model *nn.MLP, records []dataset.Record, batchSize int) (loss, acc float64) {
	if len(records) == 0 {
		return 0, 0
	}
	if batchSize <= 0 {
		batchSize = len(records)
	}
	order := permutation(len(records), false, 0, 0)
	bounds := batchBounds(len(records), batchSize)
	for _, bb := range bounds {
		b := assemble(records, order[bb[0]:bb[1]])
		bl, ba := model.Evaluate(b.X, b.Labels)
		loss += bl
		acc += ba
	}
	n := float64(len(bounds))
	return loss / n, acc / n
}

// Predict returns the predicted label for each record, in order.
func Predict(model *nn.MLP, records []dataset.Record) []bool {
	if len(records) == 0 {
		return nil
	}
	order := permutation(len(records), false, 0, 0)
	return nn.Predict(model.Forward(assemble(records, order).X))
}
