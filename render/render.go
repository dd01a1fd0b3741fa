// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package render turns attribution tensors into images: per-sample heatmaps,
// heatmap-over-input overlays and faithfulness curve plots. Rendered files
// are plain PNGs, named after the sample index, the predicted class and the
// explainer, so a directory listing reads as a summary of the run.
package render

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/plot/palette/moreland"
)

// Renderer converts attribution maps into heatmap images. The zero value is
// not usable, call New.
type Renderer struct {
	alpha      float64
	percentile float64
}

// New returns a renderer with 50% overlay opacity and outlier clipping at
// the 99th percentile of the absolute attribution values.
func New() *Renderer {
	return &Renderer{alpha: 0.5, percentile: 0.99}
}

// WithAlpha sets the opacity of the heatmap when overlaid on the input
// image, in [0, 1]. It returns the renderer, so calls can be chained.
func (r *Renderer) WithAlpha(alpha float64) *Renderer {
	r.alpha = alpha
	return r
}

// WithPercentile sets the percentile of the absolute attribution values used
// as the color scale maximum. Values above it saturate; 1.0 disables the
// clipping. It returns the renderer, so calls can be chained.
func (r *Renderer) WithPercentile(p float64) *Renderer {
	r.percentile = p
	return r
}

// sampleAttribution extracts sample sampleIdx from an attribution tensor
// shaped `[batch, height, width, channels]` and collapses the channels into
// one float64 magnitude per pixel.
func sampleAttribution(attr *tensors.Tensor, sampleIdx int) (values []float64, height, width int, err error) {
	dims := attr.Shape().Dimensions
	if len(dims) != 4 {
		return nil, 0, 0, errors.Errorf("attribution must be shaped [batch, height, width, channels], got %s", attr.Shape())
	}
	if sampleIdx < 0 || sampleIdx >= dims[0] {
		return nil, 0, 0, errors.Errorf("sample #%d out of range, attribution batch has %d examples", sampleIdx, dims[0])
	}
	height, width = dims[1], dims[2]
	channels := dims[3]
	flat := tensors.MustCopyFlatData[float32](attr)
	perSample := height * width * channels
	sample := flat[sampleIdx*perSample : (sampleIdx+1)*perSample]

	values = make([]float64, height*width)
	for pixel := range values {
		total := 0.0
		for c := 0; c < channels; c++ {
			total += math.Abs(float64(sample[pixel*channels+c]))
		}
		values[pixel] = total
	}
	return
}

// scaleMax returns the value mapped to the top of the color scale.
func (r *Renderer) scaleMax(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	// Partial selection would do, but the maps are small.
	sortFloat64s(sorted)
	idx := int(r.percentile * float64(len(sorted)-1))
	maxValue := sorted[idx]
	if maxValue <= 0 {
		maxValue = 1
	}
	return maxValue
}

// Heatmap renders the attribution of one sample as a height x width image,
// using a perceptually uniform black-body colormap: dark for irrelevant
// pixels, bright for the most attributed ones.
func (r *Renderer) Heatmap(attr *tensors.Tensor, sampleIdx int) (image.Image, error) {
	values, height, width, err := sampleAttribution(attr, sampleIdx)
	if err != nil {
		return nil, err
	}
	maxValue := r.scaleMax(values)
	colorMap := moreland.BlackBody()
	colorMap.SetMin(0)
	colorMap.SetMax(maxValue)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Min(values[y*width+x], maxValue)
			c, err := colorMap.At(v)
			if err != nil {
				return nil, errors.Wrapf(err, "mapping attribution value %g to a color", v)
			}
			img.Set(x, y, c)
		}
	}
	return img, nil
}

// Overlay renders the attribution heatmap of one sample blended over the
// input image. The heatmap is resized to the input's size first, so lower
// resolution maps (GradCAM) spread smoothly over the image.
func (r *Renderer) Overlay(input image.Image, attr *tensors.Tensor, sampleIdx int) (image.Image, error) {
	heat, err := r.Heatmap(attr, sampleIdx)
	if err != nil {
		return nil, err
	}
	bounds := input.Bounds().Size()
	heat = imaging.Resize(heat, bounds.X, bounds.Y, imaging.Linear)
	return imaging.Overlay(input, heat, image.Pt(0, 0), r.alpha), nil
}

// SavePNG writes the image as a PNG file.
func SavePNG(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "saving image to %q", path)
	}
	return nil
}

// SampleFileName names the rendered file of one sample: the sample index,
// the predicted class name and the explainer, e.g.
// "sample_0007_tiger_cat_gradcam.png".
func SampleFileName(sampleIdx int, className, explainerName string) string {
	return fmt.Sprintf("sample_%04d_%s_%s.png",
		sampleIdx, sanitizeName(className), sanitizeName(explainerName))
}

// sanitizeName makes a class or explainer name safe for file names.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)
	for strings.Contains(mapped, "__") {
		mapped = strings.ReplaceAll(mapped, "__", "_")
	}
	return strings.Trim(mapped, "_")
}

func sortFloat64s(values []float64) {
	// sort.Float64s does not handle NaNs deterministically; attribution maps
	// can contain them when the model diverges.
	for ii := range values {
		if math.IsNaN(values[ii]) {
			values[ii] = 0
		}
	}
	sort.Float64s(values)
}
