// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package zoo loads the image classifiers that goxai can explain.
//
// Three families of models are supported out of the box:
//
//   - "inceptionv3": the Keras InceptionV3 pre-trained on ImageNet, with
//     weights downloaded and unpacked on first use.
//   - "cnn": a plain convolutional network trained locally with the trainer
//     package, restored from a checkpoint directory.
//   - "onnx:<hub-id>": any image classification model exported to ONNX and
//     published on HuggingFace, e.g. "onnx:microsoft/resnet-50".
//
// Extra models can be plugged in with Register.
package zoo

import (
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Classifier is a loaded image classification model ready to be explained.
//
// The graph-building methods (Logits) are meant to be compiled by a goxai
// session; the host-side methods (Preprocess, Labels) bridge between Go
// images and the model's input tensor.
type Classifier interface {
	// Name identifies the model, e.g. "inceptionv3".
	Name() string

	// Labels returns the human-readable class names, indexed by class id.
	Labels() []string

	// InputSize returns the spatial size the model expects.
	InputSize() (height, width int)

	// Preprocess converts decoded images to one input tensor shaped
	// `[batch_size, height, width, channels]`. Resizing and padding happen
	// here; value normalization happens in-graph, inside Logits.
	Preprocess(images []image.Image) (*tensors.Tensor, error)

	// Logits builds the forward graph from a preprocessed batch to logits
	// shaped `[batch_size, num_classes]`. The model's variables live in (or
	// are created into) ctx.
	Logits(ctx *context.Context, images *graph.Node) *graph.Node

	// Context returns the context holding the model's variables. Sessions
	// compile their executors against it.
	Context() *context.Context
}

// Builder creates a Classifier. dataDir is where weights and other downloads
// are cached.
type Builder func(dataDir string) (Classifier, error)

var (
	muRegistry sync.Mutex
	registry   = map[string]Builder{
		"inceptionv3": func(dataDir string) (Classifier, error) { return NewInceptionV3(dataDir) },
		"cnn":         func(dataDir string) (Classifier, error) { return NewCNN(dataDir) },
	}
)

// Register makes a model available to Load under the given name. The name is
// lowercased. Registering an existing name replaces the previous builder.
func Register(name string, builder Builder) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registry[strings.ToLower(name)] = builder
}

// Names returns the registered model names, sorted. The "onnx:<hub-id>"
// family is not enumerable and is reported as "onnx:<hub-id>".
func Names() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registry)+1)
	for name := range registry {
		names = append(names, name)
	}
	names = append(names, "onnx:<hub-id>")
	sort.Strings(names)
	return names
}

// Load returns the model registered under name. Matching is case-insensitive
// and surrounding whitespace is ignored, so " InceptionV3 " loads the same
// model as "inceptionv3". Names starting with "onnx:" load the HuggingFace
// model identified by the rest of the name.
//
// Unknown names return an error listing the valid ones.
func Load(name, dataDir string) (Classifier, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) > len("onnx:") && strings.EqualFold(trimmed[:len("onnx:")], "onnx:") {
		// The hub id keeps its case: HuggingFace ids are case-sensitive.
		return NewONNX(strings.TrimSpace(trimmed[len("onnx:"):]), dataDir)
	}
	key := strings.ToLower(trimmed)
	muRegistry.Lock()
	builder, ok := registry[key]
	muRegistry.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown model %q: valid values are %v", name, Names())
	}
	model, err := builder(dataDir)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading model %q", name)
	}
	return model, nil
}
