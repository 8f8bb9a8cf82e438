package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAndWrite(t *testing.T) {
	m := New()
	m.ObserveFinal("s1", 0.3, 0.9, 0.4, 0.85)
	m.ObserveThreshold("s1", "diluted", 0.42, 0.75)
	m.EpochsTotal.WithLabelValues("s1").Add(3)
	m.RunsTotal.WithLabelValues("s1", "trained").Inc()

	assert.Equal(t, 0.85, testutil.ToFloat64(m.FinalValAcc.WithLabelValues("s1")))
	assert.Equal(t, 0.42, testutil.ToFloat64(m.ThresholdValue.WithLabelValues("s1", "diluted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EpochsTotal.WithLabelValues("s1")))

	path := filepath.Join(t.TempDir(), "metrics", "coauth.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `coauth_final_val_accuracy{setting="s1"} 0.85`)
	assert.Contains(t, text, `coauth_threshold_accuracy{mode="diluted",setting="s1"} 0.75`)
	assert.Contains(t, text, `coauth_runs_total{mode="trained",setting="s1"} 1`)
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RunsTotal.WithLabelValues("s", "loaded").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RunsTotal.WithLabelValues("s", "loaded")))
}
