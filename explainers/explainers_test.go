// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package explainers

import (
	"fmt"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// sumModel is a linear two-class model: class 0 scores the sum of all pixels,
// class 1 is constant zero. Linear models make gradient explainers exact, so
// the tests below have closed-form expected values even for the sampled
// explainers (GradientSHAP, NoiseTunnel).
type sumModel struct{}

func (sumModel) Logits(_ *context.Context, images *Node) *Node {
	flat := Reshape(images, images.Shape().Dimensions[0], -1)
	sum := ReduceSum(flat, -1)
	return Stack([]*Node{sum, ZerosLike(sum)}, -1)
}

func (sumModel) LogitsAndFeatures(ctx *context.Context, images *Node) (logits, features *Node) {
	return sumModel{}.Logits(ctx, images), images
}

// testImages is a 2-example batch of 4x4 single-channel images: the first all
// ones, the second an increasing ramp.
func testImages() *tensors.Tensor {
	data := make([]float32, 2*4*4*1)
	for ii := 0; ii < 16; ii++ {
		data[ii] = 1
		data[16+ii] = float32(ii)
	}
	t := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 4, 4, 1))
	copy(tensors.MustMutableFlatData[float32](t), data)
	return t
}

func runExplainer(t *testing.T, e Explainer, model Model) *tensors.Tensor {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images, target *Node) *Node {
		return e.Attribute(ctx, model, images, target)
	})
	var outputs []*tensors.Tensor
	require.NotPanicsf(t, func() {
		outputs = exec.MustExec(testImages(), []int32{0, 0})
	}, "%s: failed to exec attribution graph", e.Name())
	fmt.Printf("\t%s = %s\n", e.Name(), outputs[0].Shape())
	return outputs[0]
}

func TestSaliency(t *testing.T) {
	attr := runExplainer(t, NewSaliency(), sumModel{})
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// d(sum)/d(pixel) is 1 everywhere.
	for _, v := range tensors.MustCopyFlatData[float32](attr) {
		assert.InDelta(t, 1.0, v, 1e-4)
	}
}

func TestIntegratedGradients(t *testing.T) {
	attr := runExplainer(t, NewIntegratedGradients().WithSteps(8), sumModel{})
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// For a linear model with zero baseline the path integral is exact:
	// attribution == input.
	want := tensors.MustCopyFlatData[float32](testImages())
	got := tensors.MustCopyFlatData[float32](attr)
	for ii, v := range got {
		assert.InDeltaf(t, want[ii], v, 1e-3, "pixel #%d", ii)
	}
}

func TestGradientSHAP(t *testing.T) {
	attr := runExplainer(t, NewGradientSHAP().WithSamples(4).WithStdDev(0.5), sumModel{})
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// The gradient of a linear model is constant, so the noise and the random
	// interpolation points don't matter: attribution == input - baseline.
	want := tensors.MustCopyFlatData[float32](testImages())
	got := tensors.MustCopyFlatData[float32](attr)
	for ii, v := range got {
		assert.InDeltaf(t, want[ii], v, 1e-3, "pixel #%d", ii)
	}
}

func TestNoiseTunnel(t *testing.T) {
	nt := NewNoiseTunnel(NewSaliency()).WithSamples(4).WithStdDev(0.5)
	assert.Equal(t, "noise_tunnel(saliency)", nt.Name())
	attr := runExplainer(t, nt, sumModel{})
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// Saliency of the linear model is 1 regardless of the noise.
	for _, v := range tensors.MustCopyFlatData[float32](attr) {
		assert.InDelta(t, 1.0, v, 1e-4)
	}
}

func TestNoiseTunnelVarGrad(t *testing.T) {
	nt := NewNoiseTunnel(NewSaliency()).WithSamples(4).WithMode(VarGrad)
	attr := runExplainer(t, nt, sumModel{})
	// Constant gradients have zero variance.
	for _, v := range tensors.MustCopyFlatData[float32](attr) {
		assert.InDelta(t, 0.0, v, 1e-4)
	}
}

func TestGradCAM(t *testing.T) {
	attr := runExplainer(t, NewGradCAM(), sumModel{})
	// Single channel map, upsampled (here 1:1) to the input size.
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// With identity features and unit gradients the CAM is relu(input).
	want := tensors.MustCopyFlatData[float32](testImages())
	got := tensors.MustCopyFlatData[float32](attr)
	for ii, v := range got {
		assert.InDeltaf(t, max(want[ii], 0), v, 1e-3, "pixel #%d", ii)
	}
}

func TestGradCAMRequiresSpatialFeatures(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	// Hide LogitsAndFeatures behind a Model-only wrapper.
	var model Model = struct{ Model }{Model: sumModel{}}
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images, target *Node) *Node {
		return NewGradCAM().Attribute(ctx, model, images, target)
	})
	require.Panics(t, func() { exec.MustExec(testImages(), []int32{0, 0}) })
}

func TestOcclusion(t *testing.T) {
	e := NewOcclusion().WithWindow(2).WithStride(2)
	attr := runExplainer(t, e, sumModel{})
	require.Equal(t, []int{2, 4, 4, 1}, attr.Shape().Dimensions)
	// Non-overlapping 2x2 patches: each pixel's attribution is the score drop
	// of its own patch, i.e. the sum of the patch's pixels. For the all-ones
	// image that is 4 everywhere.
	got := tensors.MustCopyFlatData[float32](attr)
	for ii := 0; ii < 16; ii++ {
		assert.InDeltaf(t, 4.0, got[ii], 1e-3, "pixel #%d of the all-ones image", ii)
	}
	// Ramp image, top-left patch covers pixels {0, 1, 4, 5}.
	assert.InDelta(t, 10.0, got[16], 1e-3)
}

func TestFromName(t *testing.T) {
	for _, name := range KnownExplainers {
		e, err := FromName(name)
		require.NoErrorf(t, err, "explainer %q", name)
		require.NotNil(t, e)
	}
	e, err := FromName("  Integrated_Gradients \n")
	require.NoError(t, err)
	assert.Equal(t, "integrated_gradients", e.Name())

	_, err = FromName("lime")
	require.ErrorContains(t, err, `unknown explainer "lime"`)
	assert.Contains(t, err.Error(), "saliency")
}
