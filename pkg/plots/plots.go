// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots draws a mixture.Dataset and the decision boundary of a logistic regression
// into an image file, using gonum's plot package.
package plots

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"github.com/gomlx/logreg/pkg/mixture"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Size of the saved plots.
var (
	Width  = 8 * vg.Inch
	Height = 6 * vg.Inch
)

// LabelColors used for the samples of each label.
var LabelColors = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
}

var supportedFormats = []string{".png", ".svg", ".pdf", ".jpg", ".jpeg"}

// Scatter saves to path a scatter plot of the samples of ds, colored by label, and, if weights is
// not nil, the decision boundary w·x = 0 of the logistic regression.
//
// It plots the first two feature coordinates. If the features have only one coordinate, it plots
// the coordinate against the label. The format is chosen by the file extension: .png, .svg,
// .pdf or .jpg.
func Scatter(ds *mixture.Dataset, weights []float64, path string) error {
	if ds == nil {
		return errors.New("plots.Scatter: nil dataset")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !isSupported(ext) {
		return errors.Errorf("plots.Scatter(%q): unsupported format %q, use one of %v", path, ext, supportedFormats)
	}
	if weights != nil && len(weights) != ds.FeatureDim() {
		return errors.Errorf("plots.Scatter: got %d weights for %d features", len(weights), ds.FeatureDim())
	}
	p, err := newScatterPlot(ds, weights)
	if err != nil {
		return err
	}
	if err = p.Save(Width, Height, path); err != nil {
		return errors.Wrapf(err, "plots.Scatter: failed to save plot to %q", path)
	}
	return nil
}

func isSupported(ext string) bool {
	for _, format := range supportedFormats {
		if format == ext {
			return true
		}
	}
	return false
}

func newScatterPlot(ds *mixture.Dataset, weights []float64) (*plot.Plot, error) {
	names := ds.FeatureNames()
	oneDim := ds.FeatureDim() == 1
	p := plot.New()
	p.Title.Text = "Gaussian mixture samples"
	p.X.Label.Text = names[0]
	if oneDim {
		p.Y.Label.Text = mixture.LabelColumn
	} else {
		p.Y.Label.Text = names[1]
	}
	p.Add(plotter.NewGrid())

	points := make([]plotter.XYs, ds.NumClusters())
	for b := range ds.NumBatches() {
		batch := ds.Batch(b)
		for col, label := range batch.Labels {
			xy := plotter.XY{X: batch.Features.At(0, col)}
			if oneDim {
				xy.Y = float64(label)
			} else {
				xy.Y = batch.Features.At(1, col)
			}
			points[label] = append(points[label], xy)
		}
	}
	for label, xys := range points {
		if len(xys) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create scatter for label %d", label)
		}
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(2)
		scatter.GlyphStyle.Color = LabelColors[label%len(LabelColors)]
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("label %d", label), scatter)
	}

	if weights != nil && ds.NumSamples() > 0 {
		boundary, err := decisionBoundary(p, weights, oneDim)
		if err != nil {
			return nil, err
		}
		if boundary != nil {
			p.Add(boundary)
			p.Legend.Add("w·x = 0", boundary)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// decisionBoundary returns the line w0*x + w1*y = 0 within the current range of the plot, or nil
// if the weights are all zero.
func decisionBoundary(p *plot.Plot, weights []float64, oneDim bool) (*plotter.Line, error) {
	w0 := weights[0]
	var w1 float64
	if !oneDim {
		w1 = weights[1]
	}
	if w0 == 0 && w1 == 0 {
		return nil, nil
	}
	var xys plotter.XYs
	switch {
	case oneDim:
		xys = plotter.XYs{{X: 0, Y: p.Y.Min}, {X: 0, Y: p.Y.Max}}
	case math.Abs(w1) >= math.Abs(w0):
		for _, x := range []float64{p.X.Min, p.X.Max} {
			xys = append(xys, plotter.XY{X: x, Y: -w0 * x / w1})
		}
	default:
		// Steep line: parametrized by y so it stays within the plotted range.
		for _, y := range []float64{p.Y.Min, p.Y.Max} {
			xys = append(xys, plotter.XY{X: -w1 * y / w0, Y: y})
		}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decision boundary line")
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
	return line, nil
}
