// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/examples/inceptionv3"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	. "github.com/gomlx/exceptions"
)

// lastConvAlias is the node alias of the deepest convolution of InceptionV3,
// used as the GradCAM layer.
const lastConvAlias = "/inceptionV3/conv_093/output"

// InceptionV3 is the Keras InceptionV3 classifier pre-trained on ImageNet
// (1000 classes, 299x299 inputs). Weights are downloaded and unpacked under
// the model's data directory on first load.
type InceptionV3 struct {
	ctx     *context.Context
	dataDir string
	labels  []string
}

// NewInceptionV3 downloads (if missing) the pre-trained weights and the
// ImageNet class names into dataDir and returns the classifier.
func NewInceptionV3(dataDir string) (*InceptionV3, error) {
	if err := inceptionv3.DownloadAndUnpackWeights(dataDir); err != nil {
		return nil, errors.WithMessagef(err, "downloading InceptionV3 weights to %q", dataDir)
	}
	labels, err := imageNetLabels(dataDir)
	if err != nil {
		return nil, err
	}
	return &InceptionV3{
		ctx:     context.New().Checked(false),
		dataDir: dataDir,
		labels:  labels,
	}, nil
}

// Name implements Classifier.
func (*InceptionV3) Name() string { return "inceptionv3" }

// Labels implements Classifier: the 1000 ImageNet class names.
func (m *InceptionV3) Labels() []string { return m.labels }

// InputSize implements Classifier.
func (*InceptionV3) InputSize() (height, width int) {
	return inceptionv3.ClassificationImageSize, inceptionv3.ClassificationImageSize
}

// Context implements Classifier.
func (m *InceptionV3) Context() *context.Context { return m.ctx }

// Preprocess implements Classifier: images are center-cropped and resized to
// 299x299; pixel values are kept in [0, 255], the in-graph preprocessing
// rescales them to the [-1, 1] the model expects.
func (m *InceptionV3) Preprocess(srcImages []image.Image) (*tensors.Tensor, error) {
	if len(srcImages) == 0 {
		return nil, errors.New("Preprocess requires at least one image")
	}
	size := inceptionv3.ClassificationImageSize
	resized := make([]image.Image, len(srcImages))
	for ii, img := range srcImages {
		resized[ii] = imaging.Fill(img, size, size, imaging.Center, imaging.Linear)
	}
	return timage.ToTensor(dtypes.Float32).MaxValue(255.0).Batch(resized), nil
}

// Logits implements Classifier.
func (m *InceptionV3) Logits(ctx *context.Context, images *Node) *Node {
	x := inceptionv3.PreprocessImage(images, 255.0, timage.ChannelsLast)
	return inceptionv3.BuildGraph(ctx, x).
		PreTrained(m.dataDir).
		ClassificationTop(true).
		ChannelsAxis(timage.ChannelsLast).
		Trainable(false).
		Done()
}

// LogitsAndFeatures implements explainers.SpatialFeatures: the features are
// the output of the model's deepest convolution (8x8x192 for 299x299
// inputs), recovered through its node alias.
func (m *InceptionV3) LogitsAndFeatures(ctx *context.Context, images *Node) (logits, features *Node) {
	x := inceptionv3.PreprocessImage(images, 255.0, timage.ChannelsLast)
	logits = inceptionv3.BuildGraph(ctx, x).
		PreTrained(m.dataDir).
		ClassificationTop(true).
		ChannelsAxis(timage.ChannelsLast).
		Trainable(false).
		WithAliases(true).
		Done()
	features = logits.Graph().GetNodeByAlias(lastConvAlias)
	if features == nil {
		Panicf("InceptionV3 graph has no node aliased %q, cannot extract GradCAM features", lastConvAlias)
	}
	return
}
