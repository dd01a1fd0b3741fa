// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Occlusion is a perturbation-based (gradient-free) explainer: it slides a
// window over the image, replaces the covered patch by a constant baseline,
// and measures how much the target logit drops. Pixels whose occlusion hurts
// the score the most get the highest attribution.
//
// All perturbed copies are folded into the batch axis, so the whole
// attribution is a single forward pass of a `patches*batch_size` batch. No
// gradients are involved, which makes Occlusion usable on models whose
// internals are opaque.
//
// Memory grows with the number of patches: with the default window (a quarter
// of each spatial dimension) and stride (half the window) that is 7x7=49
// copies of the batch. Use WithWindow/WithStride to trade resolution for
// memory.
type Occlusion struct {
	window   int
	stride   int
	baseline float64
}

// NewOcclusion returns an Occlusion explainer with default window and stride:
// the window is a quarter of the smaller spatial dimension and the stride is
// half the window.
func NewOcclusion() *Occlusion { return &Occlusion{} }

// WithWindow sets the side of the square occlusion window, in pixels.
// It returns the explainer, so calls can be chained.
func (e *Occlusion) WithWindow(window int) *Occlusion {
	e.window = window
	return e
}

// WithStride sets the stride of the sliding window, in pixels.
// It returns the explainer, so calls can be chained.
func (e *Occlusion) WithStride(stride int) *Occlusion {
	e.stride = stride
	return e
}

// WithBaseline sets the constant value that replaces the occluded patch.
// It returns the explainer, so calls can be chained.
func (e *Occlusion) WithBaseline(value float64) *Occlusion {
	e.baseline = value
	return e
}

// Name implements Explainer.
func (*Occlusion) Name() string { return "occlusion" }

// Attribute implements Explainer.
func (e *Occlusion) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	g := images.Graph()
	dims := images.Shape().Dimensions
	if len(dims) != 4 {
		Panicf("Occlusion requires images shaped [batch, height, width, channels], got %s", images.Shape())
	}
	batchSize, height, width := dims[0], dims[1], dims[2]

	window := e.window
	if window <= 0 {
		window = min(height, width) / 4
		if window < 1 {
			window = 1
		}
	}
	stride := e.stride
	if stride <= 0 {
		stride = window / 2
		if stride < 1 {
			stride = 1
		}
	}
	if window > height || window > width {
		Panicf("Occlusion window %d is larger than the %dx%d image", window, height, width)
	}
	rows := (height-window)/stride + 1
	cols := (width-window)/stride + 1
	patches := rows * cols

	// masks: [patches, height, width], 1 inside the patch, 0 outside. Built
	// in-graph from Iota comparisons, so the whole explainer is one graph.
	dtype := images.DType()
	maskShape := shapes.Make(dtype, patches, height, width)
	patchIdx := Iota(g, maskShape, 0)
	rowStart := MulScalar(Floor(DivScalar(patchIdx, float64(cols))), float64(stride))
	colStart := MulScalar(Mod(patchIdx, Scalar(g, dtype, float64(cols))), float64(stride))
	ii := Iota(g, maskShape, 1)
	jj := Iota(g, maskShape, 2)
	inRows := And(GreaterOrEqual(ii, rowStart), LessThan(ii, AddScalar(rowStart, float64(window))))
	inCols := And(GreaterOrEqual(jj, colStart), LessThan(jj, AddScalar(colStart, float64(window))))
	masks := ConvertDType(And(inRows, inCols), dtype) // [patches, height, width]

	// Occluded copies: [patches, batch, height, width, channels] folded into
	// the batch axis.
	masksB := BroadcastToDims(InsertAxes(masks, 1, -1), patches, batchSize, height, width, dims[3])
	stackedDims := append([]int{patches}, dims...)
	imagesB := BroadcastToDims(InsertAxes(images, 0), stackedDims...)
	occluded := Add(Mul(imagesB, OneMinus(masksB)), MulScalar(masksB, e.baseline))
	flatDims := append([]int{patches * batchSize}, dims[1:]...)
	occluded = Reshape(occluded, flatDims...)

	origScores := targetScores(model.Logits(ctx, images), target) // [batch]
	occludedScores := targetScores(model.Logits(ctx, occluded), repeatBatch(target, patches))
	occludedScores = Reshape(occludedScores, patches, batchSize)

	// Score drop per patch, spread uniformly over the occluded pixels.
	drop := Sub(InsertAxes(origScores, 0), occludedScores) // [patches, batch]
	dropB := BroadcastToDims(InsertAxes(drop, -1, -1), patches, batchSize, height, width)
	masksPB := BroadcastToDims(InsertAxes(masks, 1), patches, batchSize, height, width)
	summed := ReduceSum(Mul(dropB, masksPB), 0) // [batch, height, width]

	// Each pixel is covered by up to (window/stride)^2 patches; normalize by
	// the actual coverage (border pixels are covered less).
	coverage := ReduceSum(masks, 0) // [height, width]
	coverage = Max(coverage, OnesLike(coverage))
	attribution := Div(summed, InsertAxes(coverage, 0))

	// Same shape as the input, replicated over channels.
	return BroadcastToDims(InsertAxes(attribution, -1), dims...)
}
