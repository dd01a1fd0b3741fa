// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveCurve plots a faithfulness curve -- the probability of the explained
// class as a function of the fraction of pixels inserted or deleted -- and
// saves it as a PNG. The area under the curve is printed in the title.
func SaveCurve(title string, fractions, probabilities []float64, auc float64, path string) error {
	if len(fractions) != len(probabilities) {
		return errors.Errorf("curve has %d fractions but %d probabilities", len(fractions), len(probabilities))
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (AUC=%.3f)", title, auc)
	p.X.Label.Text = "fraction of pixels"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Label.Text = "probability of explained class"
	p.Y.Min = 0

	points := make(plotter.XYs, len(fractions))
	for ii := range fractions {
		points[ii].X = fractions[ii]
		points[ii].Y = probabilities[ii]
	}
	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return errors.Wrap(err, "building faithfulness curve plot")
	}
	p.Add(line, scatter)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving faithfulness curve to %q", path)
	}
	return nil
}
