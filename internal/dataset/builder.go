package dataset

import (
	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/embedding"
	"github.com/matsen/coauthor/internal/features"
	"github.com/matsen/coauthor/internal/logging"
)

// Options configures Build.
type Options struct {
	ValRatio float64
	Seed     uint64
	Encoder  features.Encoder
	Logger   *zap.Logger
}

// BuildStats summarizes a build.
type BuildStats struct {
	Records     int `json:"records"`
	Positive    int `json:"positive"`
	Train       int `json:"train"`
	Val         int `json:"val"`
	Degraded    int `json:"degraded"`     // records with at least one skipped author
	AbsentNodes int `json:"absent_nodes"` // total skipped author occurrences
	FeatureDim  int `json:"feature_dim"`
}

// Build reads parallel query and label files, encodes every query against
// store and splits the records into train and validation partitions.
func Build(queryFile, labelFile string, store embedding.Store, opts Options) (*Split, *BuildStats, error) {
	queries, labels, err := ReadLabeled(queryFile, labelFile)
	if err != nil {
		return nil, nil, err
	}

	records, stats, err := EncodeAll(queries, labels, store, opts.Encoder, opts.Logger)
	if err != nil {
		return nil, nil, err
	}

	split, err := StratifiedSplit(records, opts.ValRatio, opts.Seed)
	if err != nil {
		return nil, nil, err
	}
	stats.Train = len(split.Train)
	stats.Val = len(split.Val)

	return split, stats, nil
}

// ReadLabeled reads parallel query and label files whose counts must match.
func ReadLabeled(queryFile, labelFile string) ([][]string, []bool, error) {
	queries, err := ReadQueries(queryFile)
	if err != nil {
		return nil, nil, err
	}
	labels, err := ReadLabels(labelFile)
	if err != nil {
		return nil, nil, err
	}
	if len(queries) != len(labels) {
		return nil, nil, formatErr(labelFile, 0, "label count %d does not match query count %d in %s",
			len(labels), len(queries), queryFile)
	}
	return queries, labels, nil
}

// EncodeAll encodes queries in file order. labels may be nil for unlabeled
// queries. Skipped authors are logged per record at debug level and in
// aggregate at warn level.
func EncodeAll(queries [][]string, labels []bool, store embedding.Store, enc features.Encoder, logger *zap.Logger) ([]Record, *BuildStats, error) {
	logger = logging.OrNop(logger)

	stats := &BuildStats{
		Records:    len(queries),
		FeatureDim: features.Dim(store.Dim()),
	}
	records := make([]Record, len(queries))

	for i, q := range queries {
		vec, report, err := enc.Encode(q, store)
		if err != nil {
			return nil, nil, err
		}
		if report.Degraded() {
			stats.Degraded++
			stats.AbsentNodes += len(report.Absent)
			logger.Debug("skipped authors absent from embeddings",
				zap.Int("record", i),
				zap.Strings("absent", report.Absent),
				zap.Int("present", len(report.Present)))
		}

		records[i] = Record{Index: i, Query: q, Features: vec}
		if labels != nil {
			records[i].Label = labels[i]
			if labels[i] {
				stats.Positive++
			}
		}
	}

	if stats.Degraded > 0 {
		logger.Warn("queries encoded with absent authors skipped",
			zap.Int("records", stats.Degraded),
			zap.Int("absent_nodes", stats.AbsentNodes),
			zap.String("policy", enc.Policy.String()))
	}

	return records, stats, nil
}
