// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package faithfulness

import (
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

// sumModel scores class 0 with the sum of all pixels and class 1 with zero:
// deleting positive pixels can only lower the class-0 probability.
type sumModel struct{}

func (sumModel) Logits(_ *context.Context, images *Node) *Node {
	flat := Reshape(images, images.Shape().Dimensions[0], -1)
	sum := ReduceSum(flat, -1)
	return Stack([]*Node{sum, ZerosLike(sum)}, -1)
}

// testBatch returns a [1, 4, 4, 1] all-ones image and a matching attribution
// ramp (pixel ii has importance ii).
func testBatch() (images, attr *tensors.Tensor) {
	images = tensors.FromShape(shapes.Make(dtypes.Float32, 1, 4, 4, 1))
	attr = tensors.FromShape(shapes.Make(dtypes.Float32, 1, 4, 4, 1))
	imgData := tensors.MustMutableFlatData[float32](images)
	attrData := tensors.MustMutableFlatData[float32](attr)
	for ii := range imgData {
		imgData[ii] = 1
		attrData[ii] = float32(ii)
	}
	return
}

func TestDeletionCurve(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	images, attr := testBatch()
	curves, err := NewDeletion().WithSteps(4).Evaluate(
		backend, context.New().Checked(false), sumModel{}, images, attr, []int32{0})
	require.NoError(t, err)
	require.Len(t, curves, 1)
	curve := curves[0]
	require.Len(t, curve.Probabilities, 5)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, curve.Fractions)

	// Fraction 0 is the unperturbed image: sum=16, prob of class 0 is
	// sigmoid-like and close to 1.
	assert.Greater(t, curve.Probabilities[0], 0.99)
	// Deleting positive pixels monotonically lowers the class-0 probability,
	// down to 0.5 (logits 0 vs 0) when everything is gone.
	for ii := 1; ii < len(curve.Probabilities); ii++ {
		assert.LessOrEqual(t, curve.Probabilities[ii], curve.Probabilities[ii-1]+1e-6)
	}
	assert.InDelta(t, 0.5, curve.Probabilities[4], 1e-3)
	assert.Greater(t, curve.AUC, 0.0)
	assert.Less(t, curve.AUC, 1.0)
}

func TestInsertionCurve(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	images, attr := testBatch()
	curves, err := NewInsertion().WithSteps(4).Evaluate(
		backend, context.New().Checked(false), sumModel{}, images, attr, []int32{0})
	require.NoError(t, err)
	curve := curves[0]

	// Fraction 0 is the all-baseline image: logits 0 vs 0, prob 0.5.
	assert.InDelta(t, 0.5, curve.Probabilities[0], 1e-3)
	// Revealing positive pixels monotonically raises the probability.
	for ii := 1; ii < len(curve.Probabilities); ii++ {
		assert.GreaterOrEqual(t, curve.Probabilities[ii], curve.Probabilities[ii-1]-1e-6)
	}
	assert.Greater(t, curve.Probabilities[4], 0.99)
}

func TestEvaluateErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	images, attr := testBatch()
	ctx := context.New().Checked(false)

	_, err := NewDeletion().WithSteps(0).Evaluate(backend, ctx, sumModel{}, images, attr, []int32{0})
	require.ErrorContains(t, err, "at least 1")

	_, err = NewDeletion().Evaluate(backend, ctx, sumModel{}, images, attr, []int32{0, 1})
	require.ErrorContains(t, err, "targets")

	badAttr := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 2, 2, 1))
	_, err = NewDeletion().Evaluate(backend, ctx, sumModel{}, images, badAttr, []int32{0})
	require.ErrorContains(t, err, "does not match")
}

func TestTrapezoidAUC(t *testing.T) {
	assert.InDelta(t, 0.5, trapezoidAUC([]float64{0, 1}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 1.0, trapezoidAUC([]float64{0, 0.5, 1}, []float64{1, 1, 1}), 1e-9)
}
