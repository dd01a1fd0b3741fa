// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"encoding/json"
	"image"
	"os"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gomlx/go-huggingface/hub"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// onnxImageSize is used when the model's config doesn't declare one: most
// HuggingFace image classifiers take 224x224.
const onnxImageSize = 224

// ImageNet normalization constants used by most HuggingFace image
// classifiers (torchvision defaults).
var (
	onnxImageMean = [3]float64{0.485, 0.456, 0.406}
	onnxImageStd  = [3]float64{0.229, 0.224, 0.225}
)

// ONNX wraps a HuggingFace image classification model exported to ONNX. The
// model file and its config.json are downloaded through the hub on first
// load; inference converts the ONNX graph to GoMLX, so the gradient-based
// explainers work on it too (GradCAM does not: the ONNX graph does not
// expose its intermediate feature maps).
type ONNX struct {
	hubID     string
	ctx       *context.Context
	model     *onnx.Model
	labels    []string
	inputName string
	imageSize int
}

// onnxConfig is the slice of a HuggingFace config.json that the zoo needs.
type onnxConfig struct {
	ID2Label  map[string]string `json:"id2label"`
	ImageSize int               `json:"image_size"`
}

// NewONNX downloads (if missing) and loads the HuggingFace model with the
// given hub id, e.g. "microsoft/resnet-50". Downloads go to the hub's own
// cache (~/.cache/huggingface), not dataDir; the HF_TOKEN environment
// variable, when set, authenticates them.
func NewONNX(hubID, _ string) (*ONNX, error) {
	repo := hub.New(hubID).WithAuth(os.Getenv("HF_TOKEN")).WithProgressBar(true)

	onnxPath, err := repo.DownloadFile("onnx/model.onnx")
	if err != nil {
		onnxPath, err = repo.DownloadFile("model.onnx")
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "downloading ONNX model %q", hubID)
	}
	model, err := onnx.ReadFile(onnxPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing ONNX model %q", hubID)
	}

	configPath, err := repo.DownloadFile("config.json")
	if err != nil {
		return nil, errors.WithMessagef(err, "downloading config.json of %q", hubID)
	}
	config, err := readONNXConfig(configPath)
	if err != nil {
		return nil, err
	}
	labels, err := labelsFromConfig(config, hubID)
	if err != nil {
		return nil, err
	}
	imageSize := config.ImageSize
	if imageSize <= 0 {
		imageSize = onnxImageSize
	}

	inputNames, _ := model.Inputs()
	if len(inputNames) != 1 {
		return nil, errors.Errorf("ONNX model %q has %d inputs %v, image classifiers must have exactly one",
			hubID, len(inputNames), inputNames)
	}
	klog.V(1).Infof("Loaded ONNX model %q: input %q, %d classes, %dx%d images",
		hubID, inputNames[0], len(labels), imageSize, imageSize)

	ctx := context.New().Checked(false)
	if err := model.VariablesToContext(ctx); err != nil {
		return nil, errors.WithMessagef(err, "uploading ONNX weights of %q to the context", hubID)
	}
	return &ONNX{
		hubID:     hubID,
		ctx:       ctx,
		model:     model,
		labels:    labels,
		inputName: inputNames[0],
		imageSize: imageSize,
	}, nil
}

func readONNXConfig(path string) (*onnxConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading model config from %q", path)
	}
	config := &onnxConfig{}
	if err := json.Unmarshal(contents, config); err != nil {
		return nil, errors.Wrapf(err, "parsing model config from %q", path)
	}
	return config, nil
}

// labelsFromConfig converts the id2label map (string keys) to a dense slice
// indexed by class id.
func labelsFromConfig(config *onnxConfig, hubID string) ([]string, error) {
	if len(config.ID2Label) == 0 {
		return nil, errors.Errorf("config.json of %q has no id2label map", hubID)
	}
	ids := make([]int, 0, len(config.ID2Label))
	for key := range config.ID2Label {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Errorf("invalid class id %q in the id2label map of %q", key, hubID)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	labels := make([]string, ids[len(ids)-1]+1)
	for _, id := range ids {
		labels[id] = config.ID2Label[strconv.Itoa(id)]
	}
	return labels, nil
}

// Name implements Classifier.
func (m *ONNX) Name() string { return "onnx:" + m.hubID }

// Labels implements Classifier.
func (m *ONNX) Labels() []string { return m.labels }

// InputSize implements Classifier.
func (m *ONNX) InputSize() (height, width int) { return m.imageSize, m.imageSize }

// Context implements Classifier.
func (m *ONNX) Context() *context.Context { return m.ctx }

// Preprocess implements Classifier: center-crop to the model's input size,
// values in [0, 1]. Normalization and the NHWC to NCHW transposition happen
// in-graph.
func (m *ONNX) Preprocess(srcImages []image.Image) (*tensors.Tensor, error) {
	if len(srcImages) == 0 {
		return nil, errors.New("Preprocess requires at least one image")
	}
	resized := make([]image.Image, len(srcImages))
	for ii, img := range srcImages {
		resized[ii] = imaging.Fill(img, m.imageSize, m.imageSize, imaging.Center, imaging.Linear)
	}
	return timage.ToTensor(dtypes.Float32).Batch(resized), nil
}

// Logits implements Classifier: normalizes with the ImageNet statistics,
// transposes to the NCHW layout ONNX models use and calls the converted
// graph.
func (m *ONNX) Logits(ctx *context.Context, images *Node) *Node {
	g := images.Graph()
	dtype := images.DType()
	mean := Const(g, [1][1][1][3]float32{{{{
		float32(onnxImageMean[0]), float32(onnxImageMean[1]), float32(onnxImageMean[2])}}}})
	std := Const(g, [1][1][1][3]float32{{{{
		float32(onnxImageStd[0]), float32(onnxImageStd[1]), float32(onnxImageStd[2])}}}})
	x := Div(Sub(images, ConvertDType(mean, dtype)), ConvertDType(std, dtype))
	x = TransposeAllDims(x, 0, 3, 1, 2) // NHWC -> NCHW
	outputs := m.model.CallGraph(ctx, g, map[string]*Node{m.inputName: x}, "logits")
	return outputs[0]
}
