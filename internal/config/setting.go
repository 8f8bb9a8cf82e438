package config

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Setting identifies one embedding configuration of the sweep.
// P1 and Q1 are the hyperedge-level walk biases and are unused by node2vec.
type Setting struct {
	Method string
	P      float64
	Q      float64
	P1     float64
	Q1     float64
}

// Name returns the artifact stem shared by the keyed vectors, model and plots,
// e.g. "hypernode2vec_p(1)q(0.5)_p1(1)p2(2)".
func (s Setting) Name() string {
	if s.Method == "node2vec" {
		return fmt.Sprintf("node2vec_p(%s)q(%s)", num(s.P), num(s.Q))
	}
	// "p2" is the historical label for q1 in existing artifact names.
	return fmt.Sprintf("%s_p(%s)q(%s)_p1(%s)p2(%s)", s.Method, num(s.P), num(s.Q), num(s.P1), num(s.Q1))
}

func (s Setting) String() string {
	return s.Name()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Settings expands the embedding grid, in q-major order, leaving out the skip list.
func (c *Config) Settings() []Setting {
	e := c.Embedding
	if e.Method == "node2vec" {
		out := make([]Setting, 0, len(e.Q))
		for _, q := range e.Q {
			out = append(out, Setting{Method: e.Method, P: e.P, Q: q})
		}
		return out
	}

	out := make([]Setting, 0, len(e.Q)*len(e.Q1))
	for _, q := range e.Q {
		for _, q1 := range e.Q1 {
			if c.skipped(q, q1) {
				continue
			}
			out = append(out, Setting{Method: e.Method, P: e.P, Q: q, P1: e.P1, Q1: q1})
		}
	}
	return out
}

func (c *Config) skipped(q, q1 float64) bool {
	for _, s := range c.Embedding.Skip {
		if s[0] == q && s[1] == q1 {
			return true
		}
	}
	return false
}

// FindSetting returns the grid setting with the given name.
func (c *Config) FindSetting(name string) (Setting, error) {
	for _, s := range c.Settings() {
		if s.Name() == name {
			return s, nil
		}
	}
	return Setting{}, fmt.Errorf("%w: setting %q is not part of the sweep", ErrInvalid, name)
}

// KeyedVectorsPath returns the embedding file for a setting.
func (c *Config) KeyedVectorsPath(s Setting) string {
	return filepath.Join(c.Paths.KeyedVectors, s.Name()+c.Embedding.Extension)
}

// ModelPath returns the persisted classifier for a setting.
func (c *Config) ModelPath(s Setting) string {
	return filepath.Join(c.Paths.Models, s.Name()+".model")
}

// LossPlotPath returns the loss plot for a setting.
func (c *Config) LossPlotPath(s Setting) string {
	return filepath.Join(c.Paths.Losses, s.Name()+"_loss.png")
}

// AccuracyPlotPath returns the accuracy plot for a setting.
func (c *Config) AccuracyPlotPath(s Setting) string {
	return filepath.Join(c.Paths.Accuracies, s.Name()+"_acc.png")
}

// RunsDBPath returns the run history database path.
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.Paths.Output, "runs.db")
}

// RunsLogPath returns the append-only JSONL run log.
func (c *Config) RunsLogPath() string {
	return filepath.Join(c.Paths.Output, "runs.jsonl")
}

// ThresholdsLogPath returns the append-only JSONL threshold result log.
func (c *Config) ThresholdsLogPath() string {
	return filepath.Join(c.Paths.Output, "thresholds.jsonl")
}
