// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package faithfulness measures how faithful an attribution map is to the
// model it explains, with the insertion and deletion metrics
// (https://arxiv.org/abs/1806.07421):
//
//   - deletion: remove pixels from the image, most attributed first, and
//     watch the probability of the explained class drop. The faster it
//     drops (lower area under the curve), the more faithful the
//     attribution.
//   - insertion: start from a blank image and reveal pixels, most
//     attributed first. A faithful attribution recovers the probability
//     quickly (higher area under the curve).
//
// Pixel ordering happens on the host; the perturbed images for all steps
// are evaluated by the model in a single batched forward pass.
package faithfulness

import (
	"math"
	"sort"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/goxai/explainers"
)

// Mode selects the direction of the perturbation.
type Mode int

const (
	// Deletion removes the most attributed pixels first.
	Deletion Mode = iota

	// Insertion reveals the most attributed pixels first, starting from the
	// baseline image.
	Insertion
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == Insertion {
		return "insertion"
	}
	return "deletion"
}

// Metric evaluates insertion or deletion curves for a batch of attributions.
type Metric struct {
	mode     Mode
	steps    int
	baseline float64
}

// NewDeletion returns a deletion metric with 10 steps and a black (zeros)
// replacement baseline.
func NewDeletion() *Metric { return &Metric{mode: Deletion, steps: 10} }

// NewInsertion returns an insertion metric with 10 steps and a black (zeros)
// starting baseline.
func NewInsertion() *Metric { return &Metric{mode: Insertion, steps: 10} }

// WithSteps sets the number of perturbation steps. The curve has steps+1
// points, from fraction 0 to 1. It returns the metric, so calls can be
// chained.
func (m *Metric) WithSteps(steps int) *Metric {
	m.steps = steps
	return m
}

// WithBaseline sets the constant pixel value that replaces removed (or not
// yet inserted) pixels. It returns the metric, so calls can be chained.
func (m *Metric) WithBaseline(value float64) *Metric {
	m.baseline = value
	return m
}

// Curve is the result for one sample: the probability of the explained
// class at each perturbation fraction, and its area under the curve
// (trapezoidal rule).
type Curve struct {
	Mode          Mode
	Fractions     []float64
	Probabilities []float64
	AUC           float64
}

// Evaluate computes one curve per sample.
//
//   - model and ctx are the classifier and its variables, as given by the
//     zoo; ctx must allow variable reuse (Checked(false)).
//   - images is the preprocessed input batch `[batch, height, width,
//     channels]`, attr the attribution for it (same leading dimensions,
//     channels may differ, e.g. GradCAM's single channel).
//   - targets is the explained class per sample.
func (m *Metric) Evaluate(backend backends.Backend, ctx *context.Context, model explainers.Model,
	images, attr *tensors.Tensor, targets []int32) ([]Curve, error) {
	if m.steps <= 0 {
		return nil, errors.Errorf("%s metric configured with %d steps, it must be at least 1", m.mode, m.steps)
	}
	dims := images.Shape().Dimensions
	if len(dims) != 4 {
		return nil, errors.Errorf("images must be shaped [batch, height, width, channels], got %s", images.Shape())
	}
	batchSize, height, width := dims[0], dims[1], dims[2]
	if len(targets) != batchSize {
		return nil, errors.Errorf("got %d targets for a batch of %d images", len(targets), batchSize)
	}

	masks, err := m.buildMasks(attr, batchSize, height, width)
	if err != nil {
		return nil, err
	}
	targetsT := tensors.FromValue(targets)

	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, images, masks, targets *Node) *Node {
		return m.curveGraph(ctx, model, images, masks, targets)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling the %s metric", m.mode)
	}
	var probsT *tensors.Tensor
	probsT, err = exec.Exec1(images, masks, targetsT)
	if err != nil {
		return nil, errors.WithMessagef(err, "evaluating the %s metric", m.mode)
	}

	probs := tensors.MustCopyFlatData[float32](probsT) // [batch * (steps+1)]
	numPoints := m.steps + 1
	curves := make([]Curve, batchSize)
	for sampleIdx := range curves {
		curve := Curve{Mode: m.mode}
		curve.Fractions = make([]float64, numPoints)
		curve.Probabilities = make([]float64, numPoints)
		for step := 0; step < numPoints; step++ {
			curve.Fractions[step] = float64(step) / float64(m.steps)
			curve.Probabilities[step] = float64(probs[sampleIdx*numPoints+step])
		}
		curve.AUC = trapezoidAUC(curve.Fractions, curve.Probabilities)
		curves[sampleIdx] = curve
	}
	return curves, nil
}

// buildMasks orders the pixels of each sample by attributed importance and
// builds the per-step keep-masks, shaped
// `[batch, steps+1, height, width, 1]`: 1 keeps the original pixel, 0
// replaces it with the baseline.
func (m *Metric) buildMasks(attr *tensors.Tensor, batchSize, height, width int) (*tensors.Tensor, error) {
	attrDims := attr.Shape().Dimensions
	if len(attrDims) != 4 || attrDims[0] != batchSize || attrDims[1] != height || attrDims[2] != width {
		return nil, errors.Errorf("attribution shaped %s does not match images batch [%d, %d, %d, ...]",
			attr.Shape(), batchSize, height, width)
	}
	channels := attrDims[3]
	flat := tensors.MustCopyFlatData[float32](attr)

	numPixels := height * width
	numPoints := m.steps + 1
	masks := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, numPoints, height, width, 1))
	maskData := tensors.MustMutableFlatData[float32](masks)

	for sampleIdx := 0; sampleIdx < batchSize; sampleIdx++ {
		// Pixel importance: sum of |attr| over channels, ordered descending.
		importance := make([]float64, numPixels)
		base := sampleIdx * numPixels * channels
		for pixel := 0; pixel < numPixels; pixel++ {
			for c := 0; c < channels; c++ {
				importance[pixel] += math.Abs(float64(flat[base+pixel*channels+c]))
			}
		}
		order := make([]int, numPixels)
		for ii := range order {
			order[ii] = ii
		}
		sort.Slice(order, func(ii, jj int) bool {
			return importance[order[ii]] > importance[order[jj]]
		})

		// rank[pixel] is the position of the pixel in the importance order.
		rank := make([]int, numPixels)
		for pos, pixel := range order {
			rank[pixel] = pos
		}

		sampleBase := sampleIdx * numPoints * numPixels
		for step := 0; step < numPoints; step++ {
			// The first `perturbed` pixels in importance order are affected.
			perturbed := step * numPixels / m.steps
			stepBase := sampleBase + step*numPixels
			for pixel := 0; pixel < numPixels; pixel++ {
				affected := rank[pixel] < perturbed
				keep := affected == (m.mode == Insertion)
				if keep {
					maskData[stepBase+pixel] = 1
				}
			}
		}
	}
	return masks, nil
}

// curveGraph perturbs the images for every step, runs the model once on the
// folded batch and returns the probability of the target class, shaped
// `[batch * (steps+1)]`.
func (m *Metric) curveGraph(ctx *context.Context, model explainers.Model, images, masks, targets *Node) *Node {
	dims := images.Shape().Dimensions
	batchSize := dims[0]
	numPoints := m.steps + 1

	stackedDims := []int{batchSize, numPoints, dims[1], dims[2], dims[3]}
	imagesB := BroadcastToDims(InsertAxes(images, 1), stackedDims...)
	masksB := BroadcastToDims(masks, stackedDims...)

	perturbed := Add(Mul(imagesB, masksB), MulScalar(OneMinus(masksB), m.baseline))
	perturbed = Reshape(perturbed, batchSize*numPoints, dims[1], dims[2], dims[3])

	logits := model.Logits(ctx, perturbed)
	probs := Softmax(logits) // [batch*(steps+1), numClasses]

	targetsB := InsertAxes(targets, -1)                        // [batch, 1]
	targetsB = BroadcastToDims(targetsB, batchSize, numPoints) // [batch, steps+1]
	targetsB = Reshape(targetsB, batchSize*numPoints)          // aligned with the folded batch
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]
	oneHot := OneHot(targetsB, numClasses, probs.DType())
	return ReduceSum(Mul(probs, oneHot), -1)
}

// trapezoidAUC integrates the curve over the fractions with the trapezoidal
// rule.
func trapezoidAUC(fractions, values []float64) float64 {
	auc := 0.0
	for ii := 1; ii < len(fractions); ii++ {
		auc += (fractions[ii] - fractions[ii-1]) * (values[ii] + values[ii-1]) / 2
	}
	return auc
}
