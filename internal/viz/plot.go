// Package viz renders per-epoch training curves as PNG images.
package viz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrEmptySeries is returned when there is nothing to plot.
var ErrEmptySeries = errors.New("no values to plot")

// Image size of written plots.
const (
	Width  = 6 * vg.Inch
	Height = 4 * vg.Inch
)

// PlotSeries draws the training and validation series against epoch number
// and writes the figure to path. The output format follows the extension.
func PlotSeries(train, val []float64, title, path string) error {
	if len(train) == 0 && len(val) == 0 {
		return ErrEmptySeries
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = title
	p.Legend.Top = true

	for i, s := range []struct {
		name   string
		values []float64
	}{
		{"Train", train},
		{"Validation", val},
	} {
		if len(s.values) == 0 {
			continue
		}
		line, err := plotter.NewLine(points(s.values))
		if err != nil {
			return fmt.Errorf("plotting %s series: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating plot directory: %w", err)
	}
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("saving plot %s: %w", path, err)
	}
	return nil
}

// points maps values to (epoch, value) with epochs numbered from 1.
func points(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}
