// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// GradientSHAP approximates SHAP values as the expectation, over randomly
// interpolated points between a baseline and Gaussian-noised copies of the
// input, of `gradient * (input - baseline)`
// (https://arxiv.org/abs/1705.07874).
//
// Like IntegratedGradients, the samples are folded into the batch axis and
// the attribution runs as a single forward+backward pass.
type GradientSHAP struct {
	samples  int
	stdDev   float64
	baseline float64
}

// NewGradientSHAP returns a GradientSHAP explainer with 16 samples, input
// noise with standard deviation 0.1 and an all-zeros baseline.
func NewGradientSHAP() *GradientSHAP {
	return &GradientSHAP{samples: 16, stdDev: 0.1}
}

// WithSamples sets the number of randomly interpolated samples per example.
// It returns the explainer, so calls can be chained.
func (e *GradientSHAP) WithSamples(n int) *GradientSHAP {
	e.samples = n
	return e
}

// WithStdDev sets the standard deviation of the Gaussian noise added to the
// input before interpolating. It returns the explainer, so calls can be
// chained.
func (e *GradientSHAP) WithStdDev(stdDev float64) *GradientSHAP {
	e.stdDev = stdDev
	return e
}

// WithBaseline sets the constant value of the baseline image.
// It returns the explainer, so calls can be chained.
func (e *GradientSHAP) WithBaseline(value float64) *GradientSHAP {
	e.baseline = value
	return e
}

// Name implements Explainer.
func (*GradientSHAP) Name() string { return "gradient_shap" }

// Attribute implements Explainer.
func (e *GradientSHAP) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	if e.samples <= 0 {
		Panicf("GradientSHAP configured with %d samples, it must be at least 1", e.samples)
	}
	g := images.Graph()
	dims := images.Shape().Dimensions
	batchSize := dims[0]
	stackedDims := append([]int{e.samples}, dims...)

	baseline := fillLike(images, e.baseline)
	baselineB := BroadcastToDims(InsertAxes(baseline, 0), stackedDims...)
	imagesB := BroadcastToDims(InsertAxes(images, 0), stackedDims...)

	// Gaussian-noised copies of the input.
	noise := MulScalar(ctx.RandomNormal(g, shapes.Make(images.DType(), stackedDims...)), e.stdDev)
	noisy := Add(imagesB, noise)

	// Random interpolation coefficient, one per sample and example.
	alphaDims := make([]int, len(stackedDims))
	alphaDims[0], alphaDims[1] = e.samples, batchSize
	for ii := 2; ii < len(alphaDims); ii++ {
		alphaDims[ii] = 1
	}
	alphas := ctx.RandomUniform(g, shapes.Make(images.DType(), alphaDims...))
	alphas = BroadcastToDims(alphas, stackedDims...)

	interpolated := Add(baselineB, Mul(alphas, Sub(noisy, baselineB)))
	flatDims := append([]int{e.samples * batchSize}, dims[1:]...)
	interpolated = Reshape(interpolated, flatDims...)

	logits := model.Logits(ctx, interpolated)
	score := ReduceAllSum(targetScores(logits, repeatBatch(target, e.samples)))
	grad := Gradient(score, interpolated)[0]

	grad = ReduceMean(splitBatch(grad, e.samples), 0)
	return Mul(Sub(images, baseline), grad)
}
