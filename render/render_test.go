// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package render

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rampAttribution builds a [1, 4, 4, channels] attribution growing from 0 to
// 1 along the flat pixel order.
func rampAttribution(channels int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 4, 4, channels))
	flat := tensors.MustMutableFlatData[float32](t)
	for ii := range flat {
		flat[ii] = float32(ii) / float32(len(flat)-1)
	}
	return t
}

func TestHeatmap(t *testing.T) {
	attr := rampAttribution(3)
	img, err := New().Heatmap(attr, 0)
	require.NoError(t, err)
	size := img.Bounds().Size()
	assert.Equal(t, image.Pt(4, 4), image.Pt(size.X, size.Y))

	// The most attributed pixel must be brighter than the least attributed.
	lowR, lowG, lowB, _ := img.At(0, 0).RGBA()
	highR, highG, highB, _ := img.At(3, 3).RGBA()
	assert.Greater(t, highR+highG+highB, lowR+lowG+lowB)
}

func TestHeatmapErrors(t *testing.T) {
	attr := rampAttribution(1)
	_, err := New().Heatmap(attr, 1)
	require.ErrorContains(t, err, "out of range")

	bad := tensors.FromShape(shapes.Make(dtypes.Float32, 4, 4))
	_, err = New().Heatmap(bad, 0)
	require.ErrorContains(t, err, "must be shaped")
}

func TestOverlayKeepsInputSize(t *testing.T) {
	attr := rampAttribution(1) // 4x4 map over a larger input, like GradCAM.
	input := image.NewRGBA(image.Rect(0, 0, 32, 32))
	img, err := New().WithAlpha(0.5).Overlay(input, attr, 0)
	require.NoError(t, err)
	size := img.Bounds().Size()
	assert.Equal(t, image.Pt(32, 32), image.Pt(size.X, size.Y))
}

func TestSavePNG(t *testing.T) {
	attr := rampAttribution(3)
	img, err := New().Heatmap(attr, 0)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "heat.png")
	require.NoError(t, SavePNG(img, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSampleFileName(t *testing.T) {
	assert.Equal(t, "sample_0007_tiger_cat_gradcam.png",
		SampleFileName(7, "tiger cat", "gradcam"))
	assert.Equal(t, "sample_0000_great_white_shark_noise_tunnel_saliency.png",
		SampleFileName(0, "great white shark", "noise_tunnel(saliency)"))
}

func TestSaveCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.png")
	fractions := []float64{0, 0.25, 0.5, 0.75, 1}
	probabilities := []float64{0.9, 0.7, 0.4, 0.2, 0.1}
	require.NoError(t, SaveCurve("deletion", fractions, probabilities, 0.45, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	require.Error(t, SaveCurve("bad", fractions, probabilities[:2], 0, path))
}
