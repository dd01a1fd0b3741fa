// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// GradCAM computes a class activation map from the last convolutional block
// of the model (https://arxiv.org/abs/1610.02391): each feature channel is
// weighted by the spatial mean of the gradient of the target logit with
// respect to that channel, the weighted channels are summed, rectified and
// upsampled to the input size.
//
// It requires a model that implements SpatialFeatures; for models that
// don't (e.g. ONNX imports, whose intermediate nodes are not exposed), use
// an input-gradient explainer instead.
//
// The returned attribution is single-channel: `[batch, height, width, 1]`.
type GradCAM struct{}

// NewGradCAM returns a GradCAM explainer. It has no parameters: the layer is
// always the model's last convolutional block.
func NewGradCAM() *GradCAM { return &GradCAM{} }

// Name implements Explainer.
func (*GradCAM) Name() string { return "gradcam" }

// Attribute implements Explainer.
func (*GradCAM) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	sf, ok := model.(SpatialFeatures)
	if !ok {
		Panicf("GradCAM requires a model exposing its last convolutional block "+
			"(explainers.SpatialFeatures), but %T does not", model)
	}
	logits, features := sf.LogitsAndFeatures(ctx, images)
	score := ReduceAllSum(targetScores(logits, target))
	grad := Gradient(score, features)[0] // [batch, featH, featW, featChannels]

	// Per-channel weight: spatial mean of the gradients.
	weights := ReduceMean(grad, 1, 2)   // [batch, featChannels]
	weights = ExpandAxes(weights, 1, 2) // [batch, 1, 1, featChannels]
	weights = BroadcastToDims(weights, features.Shape().Dimensions...)

	cam := ReduceSum(Mul(features, weights), -1) // [batch, featH, featW]
	cam = activations.Relu(cam)

	// Upsample to the input's spatial size.
	imgDims := images.Shape().Dimensions
	cam = ExpandAxes(cam, -1) // [batch, featH, featW, 1]
	cam = Interpolate(cam, imgDims[0], imgDims[1], imgDims[2], 1).Done()
	return cam
}
