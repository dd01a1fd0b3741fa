// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Saliency is the simplest gradient explainer: the absolute value of the
// gradient of the target logit with respect to each input pixel.
type Saliency struct{}

// NewSaliency returns a Saliency explainer. It has no parameters.
func NewSaliency() *Saliency { return &Saliency{} }

// Name implements Explainer.
func (*Saliency) Name() string { return "saliency" }

// Attribute implements Explainer.
//
// The gradient is taken of the sum over the batch of the target logits:
// since each example's logit only depends on its own input, the per-example
// gradients are unaffected by the sum.
func (*Saliency) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	logits := model.Logits(ctx, images)
	score := ReduceAllSum(targetScores(logits, target))
	grad := Gradient(score, images)[0]
	return Abs(grad)
}
