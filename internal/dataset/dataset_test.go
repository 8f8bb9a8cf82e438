package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/embedding"
)

func writeLines(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0644))
	return path
}

func abcStore(t *testing.T) *embedding.KeyedVectors {
	t.Helper()
	kv := embedding.NewKeyedVectors(2)
	require.NoError(t, kv.Add("a", []float32{1, 0}))
	require.NoError(t, kv.Add("b", []float32{0, 1}))
	require.NoError(t, kv.Add("c", []float32{1, 1}))
	return kv
}

func TestReadQueries(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := writeLines(t, dir, "q.txt", "2\n", "a b\n", "c  d e\n", "\n")
		got, err := ReadQueries(path)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b"}, {"c", "d", "e"}}, got)
	})

	tests := []struct {
		name  string
		lines []string
	}{
		{"empty file", nil},
		{"bad count", []string{"two\n", "a b\n"}},
		{"negative count", []string{"-1\n"}},
		{"too few records", []string{"3\n", "a b\n", "c d\n"}},
		{"too many records", []string{"1\n", "a b\n", "c d\n"}},
		{"blank query", []string{"2\n", "a b\n", "\n"}},
		{"huge count", []string{"4611686018427387904\n", "a b\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeLines(t, dir, "bad.txt", tt.lines...)
			_, err := ReadQueries(path)
			assert.True(t, errors.Is(err, ErrFormat), "error = %v", err)
			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := ReadQueries(filepath.Join(dir, "missing.txt"))
		assert.True(t, errors.Is(err, ErrNotFound), "error = %v", err)
	})
}

func TestReadLabels(t *testing.T) {
	dir := t.TempDir()

	path := writeLines(t, dir, "l.txt", "6\n", "True\n", "False\n", "true\n", "0\n", "YES\n", "n\n")
	got, err := ReadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false, true, false}, got)

	bad := writeLines(t, dir, "bad.txt", "2\n", "True\n", "maybe\n")
	_, err = ReadLabels(bad)
	var fe *FormatError
	require.True(t, errors.As(err, &fe), "error = %v", err)
	assert.Equal(t, 3, fe.Line)
}

func TestWriteLabelsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.txt")
	want := []bool{true, false, false}
	require.NoError(t, WriteLabels(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3\nTrue\nFalse\nFalse\n", string(data))

	got, err := ReadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuild_EndToEndAbsentNode(t *testing.T) {
	dir := t.TempDir()
	qf := writeLines(t, dir, "q.txt", "2\n", "a b\n", "c d\n")
	lf := writeLines(t, dir, "l.txt", "2\n", "True\n", "False\n")

	core, logs := observer.New(zapcore.DebugLevel)
	split, stats, err := Build(qf, lf, abcStore(t), Options{
		ValRatio: 0.2,
		Seed:     7,
		Logger:   zap.New(core),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, split.Len())
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 1, stats.Degraded)
	assert.Equal(t, 1, stats.AbsentNodes)
	assert.Equal(t, 4, stats.FeatureDim)

	all := append(append([]Record{}, split.Train...), split.Val...)
	var second *Record
	for i := range all {
		if all[i].Index == 1 {
			second = &all[i]
		}
	}
	require.NotNil(t, second)
	assert.False(t, second.Label)
	// only c is present: mean is c, no pairs remain
	assert.Equal(t, []float64{1, 1, 0, 0}, second.Features)

	assert.Equal(t, 1, logs.FilterMessage("queries encoded with absent authors skipped").Len())
	assert.Equal(t, 1, logs.FilterMessage("skipped authors absent from embeddings").Len())
}

func TestBuild_CountMismatch(t *testing.T) {
	dir := t.TempDir()
	qf := writeLines(t, dir, "q.txt", "2\n", "a b\n", "c d\n")
	lf := writeLines(t, dir, "l.txt", "3\n", "True\n", "False\n", "True\n")

	_, _, err := Build(qf, lf, abcStore(t), Options{ValRatio: 0.2})
	assert.True(t, errors.Is(err, ErrFormat), "error = %v", err)
}

func TestBuild_InvalidRatio(t *testing.T) {
	dir := t.TempDir()
	qf := writeLines(t, dir, "q.txt", "2\n", "a b\n", "a c\n")
	lf := writeLines(t, dir, "l.txt", "2\n", "True\n", "False\n")

	_, _, err := Build(qf, lf, abcStore(t), Options{ValRatio: 1.5})
	assert.True(t, errors.Is(err, config.ErrInvalid), "error = %v", err)
}

func syntheticRecords(n int, positiveEvery int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Index:    i,
			Query:    []string{fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i)},
			Features: []float64{float64(i)},
			Label:    i%positiveEvery == 0,
		}
	}
	return records
}

func TestStratifiedSplit(t *testing.T) {
	records := syntheticRecords(100, 4) // 25 positive

	split, err := StratifiedSplit(records, 0.2, 42)
	require.NoError(t, err)

	t.Run("sizes", func(t *testing.T) {
		assert.Equal(t, 100, split.Len())
		assert.Len(t, split.Val, 20)
		assert.Len(t, split.Train, 80)
	})

	t.Run("disjoint and complete", func(t *testing.T) {
		assert.True(t, split.Disjoint())
		assert.Equal(t, uint64(100), split.TrainIdx.GetCardinality()+split.ValIdx.GetCardinality())
		for _, r := range split.Val {
			assert.False(t, split.TrainIdx.Contains(uint32(r.Index)))
		}
	})

	t.Run("stratified", func(t *testing.T) {
		pos := 0
		for _, r := range split.Val {
			if r.Label {
				pos++
			}
		}
		assert.Equal(t, 5, pos)
	})

	t.Run("reproducible", func(t *testing.T) {
		again, err := StratifiedSplit(records, 0.2, 42)
		require.NoError(t, err)
		assert.Equal(t, split.Train, again.Train)
		assert.Equal(t, split.Val, again.Val)

		other, err := StratifiedSplit(records, 0.2, 43)
		require.NoError(t, err)
		assert.NotEqual(t, split.Val, other.Val)
	})
}

func TestStratifiedSplit_Small(t *testing.T) {
	for n := 0; n <= 5; n++ {
		split, err := StratifiedSplit(syntheticRecords(n, 2), 0.2, 1)
		require.NoError(t, err)
		assert.Equal(t, n, split.Len())
		if n >= 2 {
			assert.NotEmpty(t, split.Train, "n=%d", n)
			assert.NotEmpty(t, split.Val, "n=%d", n)
		}
	}
}

func TestParseLabel(t *testing.T) {
	for _, tok := range []string{"True", " true ", "1", "Yes"} {
		v, err := ParseLabel(tok)
		require.NoError(t, err, tok)
		assert.True(t, v, tok)
	}
	for _, tok := range []string{"False", "0", "no"} {
		v, err := ParseLabel(tok)
		require.NoError(t, err, tok)
		assert.False(t, v, tok)
	}
	_, err := ParseLabel("")
	assert.Error(t, err)
}
