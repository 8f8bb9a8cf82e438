package viz

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPlotSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "losses", "setting_loss.png")

	err := PlotSeries([]float64{0.7, 0.5, 0.4}, []float64{0.72, 0.6, 0.55}, "Losses", path)
	if err != nil {
		t.Fatalf("PlotSeries() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading plot: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG file")
	}
}

func TestPlotSeries_SingleSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.png")
	if err := PlotSeries([]float64{0.5}, nil, "Accuracies", path); err != nil {
		t.Fatalf("PlotSeries() error = %v", err)
	}
}

func TestPlotSeries_Empty(t *testing.T) {
	err := PlotSeries(nil, nil, "Losses", filepath.Join(t.TempDir(), "x.png"))
	if !errors.Is(err, ErrEmptySeries) {
		t.Errorf("PlotSeries() error = %v, want ErrEmptySeries", err)
	}
}

func TestPoints(t *testing.T) {
	pts := points([]float64{3, 4})
	if pts[0].X != 1 || pts[1].X != 2 || pts[1].Y != 4 {
		t.Errorf("points() = %v", pts)
	}
}
