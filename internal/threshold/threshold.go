// Package threshold scores queries by mean pairwise cosine similarity and
// searches the decision threshold that best separates the labels.
package threshold

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/embedding"
	"github.com/matsen/coauthor/internal/logging"
)

// Mode selects the denominator of the mean pairwise similarity.
type Mode int

const (
	// Diluted divides by all n(n-1)/2 pairs, so pairs with an absent
	// author count as zero similarity. This is the reference behaviour.
	Diluted Mode = iota
	// Corrected divides by the number of pairs with both authors present.
	Corrected
)

// ParseMode converts a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "diluted":
		return Diluted, nil
	case "corrected":
		return Corrected, nil
	}
	return 0, fmt.Errorf("%w: threshold mode must be diluted or corrected, got %q", config.ErrInvalid, s)
}

func (m Mode) String() string {
	if m == Corrected {
		return "corrected"
	}
	return "diluted"
}

// Stats describes the pairs behind one similarity score.
type Stats struct {
	Pairs int // n(n-1)/2 unordered pairs
	Valid int // pairs with both authors in the store
}

// Diluted reports whether absent authors lowered the score.
func (s Stats) Diluted() bool {
	return s.Valid < s.Pairs
}

// MeanPairwiseSimilarity returns the mean cosine similarity over unordered
// pairs of query members. A query with no valid pairs scores 0.
func MeanPairwiseSimilarity(query []string, store embedding.Store, mode Mode) (float64, Stats) {
	var sum float64
	var st Stats
	for i := 0; i < len(query); i++ {
		for j := i + 1; j < len(query); j++ {
			st.Pairs++
			sim, err := store.Similarity(query[i], query[j])
			if err != nil {
				continue
			}
			sum += sim
			st.Valid++
		}
	}

	denom := st.Pairs
	if mode == Corrected {
		denom = st.Valid
	}
	if denom == 0 {
		return 0, st
	}
	return sum / float64(denom), st
}

// Grid is the half-open threshold range [Start, End) scanned at Step.
type Grid struct {
	Start float64
	End   float64
	Step  float64
}

// DefaultGrid is [0, 1) at 0.005.
var DefaultGrid = Grid{Start: 0, End: 1, Step: 0.005}

// GridFromConfig converts configured threshold settings.
func GridFromConfig(c config.ThresholdConfig) Grid {
	return Grid{Start: c.Start, End: c.End, Step: c.Step}
}

func (g Grid) validate() error {
	if g.Step <= 0 || math.IsNaN(g.Step) {
		return fmt.Errorf("%w: threshold step must be positive, got %g", config.ErrInvalid, g.Step)
	}
	if !(g.End > g.Start) {
		return fmt.Errorf("%w: threshold end %g must exceed start %g", config.ErrInvalid, g.End, g.Start)
	}
	return nil
}

// Values returns the thresholds start + i*step that are below end.
func (g Grid) Values() []float64 {
	var out []float64
	for i := 0; ; i++ {
		v := g.Start + float64(i)*g.Step
		if v >= g.End {
			return out
		}
		out = append(out, v)
	}
}

// Result is the best threshold found by a search.
type Result struct {
	Threshold float64 `json:"threshold"`
	Accuracy  float64 `json:"accuracy"`
	Scanned   int     `json:"scanned"`

	// Filled in by Evaluate.
	Mode    string `json:"mode,omitempty"`
	Queries int    `json:"queries,omitempty"`
	Diluted int    `json:"diluted,omitempty"` // queries with at least one absent-author pair
}

// Search scans the grid in ascending order and returns the threshold with
// the highest accuracy; the first maximum wins. A score is classified
// positive iff it is strictly greater than the threshold.
func Search(scores []float64, labels []bool, g Grid) (Result, error) {
	if len(scores) != len(labels) {
		return Result{}, fmt.Errorf("%d scores for %d labels", len(scores), len(labels))
	}
	if err := g.validate(); err != nil {
		return Result{}, err
	}

	best := Result{Accuracy: -1}
	values := g.Values()
	for _, th := range values {
		acc := accuracy(scores, labels, th)
		if acc > best.Accuracy {
			best.Threshold = th
			best.Accuracy = acc
		}
	}
	best.Scanned = len(values)
	return best, nil
}

func accuracy(scores []float64, labels []bool, th float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	correct := 0
	for i, s := range scores {
		if (s > th) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(scores))
}

// Options configures Evaluate.
type Options struct {
	Grid   Grid
	Mode   Mode
	Logger *zap.Logger
}

// Scores returns the similarity score of every query and the number of
// queries whose score was diluted by absent authors.
func Scores(queries [][]string, store embedding.Store, mode Mode) ([]float64, int) {
	scores := make([]float64, len(queries))
	diluted := 0
	for i, q := range queries {
		var st Stats
		scores[i], st = MeanPairwiseSimilarity(q, store, mode)
		if st.Diluted() {
			diluted++
		}
	}
	return scores, diluted
}

// Evaluate scores every query and searches the best threshold.
func Evaluate(queries [][]string, labels []bool, store embedding.Store, opts Options) (Result, error) {
	logger := logging.OrNop(opts.Logger)

	scores, diluted := Scores(queries, store, opts.Mode)
	if diluted > 0 {
		msg := "absent-author pairs counted as zero similarity"
		if opts.Mode == Corrected {
			msg = "absent-author pairs excluded from similarity mean"
		}
		logger.Warn(msg,
			zap.Int("queries", diluted),
			zap.Int("total", len(queries)),
			zap.String("mode", opts.Mode.String()))
	}

	res, err := Search(scores, labels, opts.Grid)
	if err != nil {
		return Result{}, err
	}
	res.Mode = opts.Mode.String()
	res.Queries = len(queries)
	res.Diluted = diluted

	logger.Info("threshold search finished",
		zap.Float64("threshold", res.Threshold),
		zap.Float64("accuracy", res.Accuracy),
		zap.Int("scanned", res.Scanned))
	return res, nil
}
