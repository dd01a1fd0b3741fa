// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// IntegratedGradients approximates the path integral of the gradients of the
// target logit along the straight line from a baseline image to the input
// image (https://arxiv.org/abs/1703.01365).
//
// The integral is approximated by a Riemann sum with midpoint rule: the
// interpolation steps are folded into the batch axis, so the whole
// attribution is one forward and one backward pass of a `steps*batch_size`
// batch.
type IntegratedGradients struct {
	steps    int
	baseline float64
}

// NewIntegratedGradients returns an IntegratedGradients explainer with 32
// steps and an all-zeros (black image) baseline.
func NewIntegratedGradients() *IntegratedGradients {
	return &IntegratedGradients{steps: 32}
}

// WithSteps sets the number of interpolation steps. More steps improve the
// approximation at a linear cost in computation and memory.
// It returns the explainer, so calls can be chained.
func (e *IntegratedGradients) WithSteps(steps int) *IntegratedGradients {
	e.steps = steps
	return e
}

// WithBaseline sets the constant value of the baseline image. The default 0
// is a black image (inputs are assumed scaled to [0, 1]).
// It returns the explainer, so calls can be chained.
func (e *IntegratedGradients) WithBaseline(value float64) *IntegratedGradients {
	e.baseline = value
	return e
}

// Name implements Explainer.
func (*IntegratedGradients) Name() string { return "integrated_gradients" }

// Attribute implements Explainer.
func (e *IntegratedGradients) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	if e.steps <= 0 {
		Panicf("IntegratedGradients configured with %d steps, it must be at least 1", e.steps)
	}
	g := images.Graph()
	dims := images.Shape().Dimensions
	batchSize := dims[0]

	baseline := fillLike(images, e.baseline)
	diff := Sub(images, baseline)

	// alphas: midpoints (i+0.5)/steps, shaped [steps, 1, 1, ..., 1] so they
	// broadcast over [steps, batch, ...].
	alphaDims := make([]int, images.Rank()+1)
	alphaDims[0] = e.steps
	for ii := 1; ii < len(alphaDims); ii++ {
		alphaDims[ii] = 1
	}
	alphas := Iota(g, shapes.Make(images.DType(), alphaDims...), 0)
	alphas = DivScalar(AddScalar(alphas, 0.5), float64(e.steps))

	stackedDims := append([]int{e.steps}, dims...)
	baselineB := BroadcastToDims(InsertAxes(baseline, 0), stackedDims...)
	diffB := BroadcastToDims(InsertAxes(diff, 0), stackedDims...)
	alphasB := BroadcastToDims(alphas, stackedDims...)

	// Interpolated images, folded into the batch axis.
	interpolated := Add(baselineB, Mul(alphasB, diffB))
	flatDims := append([]int{e.steps * batchSize}, dims[1:]...)
	interpolated = Reshape(interpolated, flatDims...)

	logits := model.Logits(ctx, interpolated)
	score := ReduceAllSum(targetScores(logits, repeatBatch(target, e.steps)))
	grad := Gradient(score, interpolated)[0]

	// Average the gradients over the steps and scale by (input - baseline).
	grad = ReduceMean(splitBatch(grad, e.steps), 0)
	return Mul(diff, grad)
}
