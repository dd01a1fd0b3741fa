// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// NoiseTunnelMode selects how the attributions of the noised copies are
// aggregated.
type NoiseTunnelMode int

const (
	// SmoothGrad averages the attributions (https://arxiv.org/abs/1706.03825).
	SmoothGrad NoiseTunnelMode = iota

	// SmoothGradSq averages the squared attributions.
	SmoothGradSq

	// VarGrad takes the variance of the attributions.
	VarGrad
)

// String implements fmt.Stringer.
func (m NoiseTunnelMode) String() string {
	switch m {
	case SmoothGrad:
		return "smoothgrad"
	case SmoothGradSq:
		return "smoothgrad_sq"
	case VarGrad:
		return "vargrad"
	}
	return "unknown"
}

// NoiseTunnel smooths any other explainer by averaging its attributions over
// several Gaussian-noised copies of the input.
type NoiseTunnel struct {
	base    Explainer
	samples int
	stdDev  float64
	mode    NoiseTunnelMode
}

// NewNoiseTunnel returns a NoiseTunnel wrapping the given base explainer,
// with 8 samples, noise standard deviation 1.0 and SmoothGrad aggregation.
func NewNoiseTunnel(base Explainer) *NoiseTunnel {
	return &NoiseTunnel{base: base, samples: 8, stdDev: 1.0}
}

// WithSamples sets the number of noised copies per example.
// It returns the explainer, so calls can be chained.
func (e *NoiseTunnel) WithSamples(n int) *NoiseTunnel {
	e.samples = n
	return e
}

// WithStdDev sets the standard deviation of the Gaussian noise.
// It returns the explainer, so calls can be chained.
func (e *NoiseTunnel) WithStdDev(stdDev float64) *NoiseTunnel {
	e.stdDev = stdDev
	return e
}

// WithMode sets the aggregation mode.
// It returns the explainer, so calls can be chained.
func (e *NoiseTunnel) WithMode(mode NoiseTunnelMode) *NoiseTunnel {
	e.mode = mode
	return e
}

// Name implements Explainer. It includes the base explainer's name, e.g.
// "noise_tunnel(integrated_gradients)".
func (e *NoiseTunnel) Name() string {
	return fmt.Sprintf("noise_tunnel(%s)", e.base.Name())
}

// Attribute implements Explainer.
func (e *NoiseTunnel) Attribute(ctx *context.Context, model Model, images, target *Node) *Node {
	if e.base == nil {
		Panicf("NoiseTunnel requires a base explainer, got nil")
	}
	if e.samples <= 0 {
		Panicf("NoiseTunnel configured with %d samples, it must be at least 1", e.samples)
	}
	g := images.Graph()
	dims := images.Shape().Dimensions
	stackedDims := append([]int{e.samples}, dims...)

	noise := MulScalar(ctx.RandomNormal(g, shapes.Make(images.DType(), stackedDims...)), e.stdDev)
	noisy := Add(BroadcastToDims(InsertAxes(images, 0), stackedDims...), noise)
	flatDims := append([]int{e.samples * dims[0]}, dims[1:]...)
	noisy = Reshape(noisy, flatDims...)

	attributions := e.base.Attribute(ctx, model, noisy, repeatBatch(target, e.samples))
	attributions = splitBatch(attributions, e.samples)

	switch e.mode {
	case SmoothGrad:
		return ReduceMean(attributions, 0)
	case SmoothGradSq:
		return ReduceMean(Square(attributions), 0)
	case VarGrad:
		mean := ReduceMean(attributions, 0)
		meanB := BroadcastToDims(InsertAxes(mean, 0), attributions.Shape().Dimensions...)
		return ReduceMean(Square(Sub(attributions, meanB)), 0)
	}
	Panicf("invalid NoiseTunnel mode %d", e.mode)
	return nil // Never reached.
}
