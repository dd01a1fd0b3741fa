// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package explainers provides attribution algorithms ("explainers") for image
// classifiers built with GoMLX.
//
// An Explainer builds a computation graph that, given a batch of preprocessed
// images and a target class per example, returns an attribution map: a
// per-pixel (and per-channel) importance score aligned to the input. All the
// heavy lifting -- the forward pass and the backpropagation through the model
// -- is done by GoMLX (graph.Gradient and the XLA backends); the explainers
// are thin compositions on top of it.
//
// Explainers are usually not executed directly: the goxai package compiles
// them alongside the model inference. Example:
//
//	sess := must.M1(goxai.New(backend, model,
//		goxai.WithExplainers(explainers.NewIntegratedGradients().WithSteps(32))))
//	result := must.M1(sess.Explain(images))
package explainers

import (
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Model is the slice of a classifier that explainers need: a graph-building
// function from a batch of preprocessed images, shaped
// `[batch_size, height, width, channels]`, to logits, shaped
// `[batch_size, num_classes]`.
//
// The zoo package classifiers implement it.
type Model interface {
	// Logits builds the forward graph for one batch of preprocessed images.
	Logits(ctx *context.Context, images *Node) *Node
}

// SpatialFeatures is implemented by models that can also expose the
// activations of their last convolutional block, shaped
// `[batch_size, feat_height, feat_width, feat_channels]`. Layer explainers
// (GradCAM) require it.
type SpatialFeatures interface {
	Model

	// LogitsAndFeatures is like Logits, but also returns the last spatial
	// feature map of the model.
	LogitsAndFeatures(ctx *context.Context, images *Node) (logits, features *Node)
}

// Explainer builds the attribution graph for a model's prediction.
//
// Attribute returns a tensor of importance scores with the same leading
// (batch) and spatial dimensions as images -- most explainers return the
// exact input shape, GradCAM returns a single-channel map.
//
// target must be an Int32 node shaped `[batch_size]` with the class to
// explain for each example.
//
// Implementations may call model.Logits more than once (or on a reshaped
// batch), so the ctx given should be set `ctx.Checked(false)` to allow the
// model variables to be reused across calls.
type Explainer interface {
	// Name identifies the explainer. It keys the attributions map returned
	// by a goxai session.
	Name() string

	// Attribute builds the attribution computation.
	Attribute(ctx *context.Context, model Model, images, target *Node) *Node
}

// KnownExplainers lists the names accepted by FromName.
var KnownExplainers = []string{
	"saliency", "integrated_gradients", "gradient_shap", "noise_tunnel",
	"gradcam", "occlusion",
}

// FromName returns an explainer with default settings for the given name.
// Names are case-insensitive and whitespace is trimmed. "noise_tunnel"
// defaults to SmoothGrad over integrated gradients.
func FromName(name string) (Explainer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "saliency":
		return NewSaliency(), nil
	case "integrated_gradients":
		return NewIntegratedGradients(), nil
	case "gradient_shap":
		return NewGradientSHAP(), nil
	case "noise_tunnel":
		return NewNoiseTunnel(NewIntegratedGradients()), nil
	case "gradcam":
		return NewGradCAM(), nil
	case "occlusion":
		return NewOcclusion(), nil
	}
	return nil, errors.Errorf("unknown explainer %q: valid values are %v", name, KnownExplainers)
}

// targetScores selects the logit of the target class for each example.
// logits is `[batch_size, num_classes]`, target is `[batch_size]` (Int32),
// and the result is `[batch_size]`.
func targetScores(logits, target *Node) *Node {
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]
	oneHot := OneHot(target, numClasses, logits.DType())
	return ReduceSum(Mul(logits, oneHot), -1)
}

// repeatBatch stacks n copies of x along a new leading axis and folds it
// into the batch axis: `[batch, ...]` becomes `[n*batch, ...]`.
func repeatBatch(x *Node, n int) *Node {
	dims := x.Shape().Dimensions
	stacked := InsertAxes(x, 0)
	stacked = BroadcastToDims(stacked, append([]int{n}, dims...)...)
	flatDims := append([]int{n * dims[0]}, dims[1:]...)
	return Reshape(stacked, flatDims...)
}

// splitBatch undoes repeatBatch: `[n*batch, ...]` becomes `[n, batch, ...]`.
func splitBatch(x *Node, n int) *Node {
	dims := x.Shape().Dimensions
	return Reshape(x, append([]int{n, dims[0] / n}, dims[1:]...)...)
}

// fillLike returns a node shaped like x, filled with the given value.
func fillLike(x *Node, value float64) *Node {
	if value == 0 {
		return ZerosLike(x)
	}
	return AddScalar(ZerosLike(x), value)
}
