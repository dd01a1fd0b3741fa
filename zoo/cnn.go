// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// CNNImageSize is the spatial size the local CNN trains and predicts on.
	CNNImageSize = 64

	// CNNLabelsFileName is the file with one class name per line that the
	// trainer writes next to its checkpoints.
	CNNLabelsFileName = "labels.txt"
)

// CNN is a plain convolutional classifier trained locally (see the trainer
// package) and restored from a checkpoint directory: dataDir must contain
// the checkpoint files and a labels.txt.
type CNN struct {
	ctx    *context.Context
	labels []string
}

// NewCNN loads the latest checkpoint and the class names from dataDir.
func NewCNN(dataDir string) (*CNN, error) {
	labels, err := readLabelsFile(filepath.Join(dataDir, CNNLabelsFileName))
	if err != nil {
		return nil, err
	}
	ctx := context.New().Checked(false)
	if _, err := checkpoints.Load(ctx).Dir(dataDir).Done(); err != nil {
		return nil, errors.WithMessagef(err, "loading CNN checkpoint from %q", dataDir)
	}
	return &CNN{ctx: ctx, labels: labels}, nil
}

// Name implements Classifier.
func (*CNN) Name() string { return "cnn" }

// Labels implements Classifier.
func (m *CNN) Labels() []string { return m.labels }

// InputSize implements Classifier.
func (*CNN) InputSize() (height, width int) { return CNNImageSize, CNNImageSize }

// Context implements Classifier.
func (m *CNN) Context() *context.Context { return m.ctx }

// Preprocess implements Classifier: images are fit into 64x64 preserving the
// aspect ratio, padded with black, values scaled to [0, 1].
func (m *CNN) Preprocess(srcImages []image.Image) (*tensors.Tensor, error) {
	if len(srcImages) == 0 {
		return nil, errors.New("Preprocess requires at least one image")
	}
	resized := make([]image.Image, len(srcImages))
	for ii, img := range srcImages {
		resized[ii] = FitImage(img, CNNImageSize, CNNImageSize)
	}
	return timage.ToTensor(dtypes.Float32).Batch(resized), nil
}

// FitImage resizes img to fit width x height preserving the aspect ratio,
// pasted centered on a black canvas. Preprocessing and the training dataset
// share it, so the model always sees the same geometry.
func FitImage(img image.Image, width, height int) image.Image {
	fitted := imaging.Fit(img, width, height, imaging.Linear)
	bounds := fitted.Bounds().Size()
	if bounds.X == width && bounds.Y == height {
		return fitted
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	return imaging.PasteCenter(canvas, fitted)
}

// Logits implements Classifier. Variables live under the "model" scope,
// matching where the trainer creates them, so checkpoints restore in place.
func (m *CNN) Logits(ctx *context.Context, images *Node) *Node {
	logits, _ := CNNModelGraph(ctx.In("model"), images, len(m.labels))
	return logits
}

// LogitsAndFeatures implements explainers.SpatialFeatures, returning the
// activations of the last convolutional block.
func (m *CNN) LogitsAndFeatures(ctx *context.Context, images *Node) (logits, features *Node) {
	return CNNModelGraph(ctx.In("model"), images, len(m.labels))
}

// CNNModelGraph builds the CNN: three strided convolutional blocks followed
// by a two-layer classification head. It returns both the logits and the
// last convolutional feature map (the GradCAM layer). The trainer package
// uses the same function, so checkpoints restore cleanly here.
//
// images must be `[batch_size, height, width, channels]` with values in
// [0, 1]; dropout is only active when ctx is marked as training.
func CNNModelGraph(ctx *context.Context, images *Node, numClasses int) (logits, features *Node) {
	g := images.Graph()
	dtype := images.DType()
	batchSize := images.Shape().Dimensions[0]

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	x := images
	for _, channels := range []int{32, 64, 128} {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		x = MaxPool(x).Window(2).Done()
		x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, 0.3), true)
	}
	features = x // [batch, 8, 8, 128] for 64x64 inputs.

	x = Reshape(x, batchSize, -1)
	x = layers.Dense(nextCtx("dense"), x, true, 128)
	x = activations.Relu(x)
	x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, 0.5), true)
	logits = layers.Dense(nextCtx("dense"), x, true, numClasses)
	return
}
