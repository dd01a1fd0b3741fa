// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package zoo

import (
	"flag"
	"image"
	"os"
	"path/filepath"
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

type fakeClassifier struct{ name string }

func (f *fakeClassifier) Name() string              { return f.name }
func (f *fakeClassifier) Labels() []string          { return []string{"a", "b"} }
func (f *fakeClassifier) InputSize() (int, int)     { return 8, 8 }
func (f *fakeClassifier) Context() *context.Context { return context.New() }
func (f *fakeClassifier) Logits(ctx *context.Context, images *Node) *Node {
	return ReduceSum(Reshape(images, images.Shape().Dimensions[0], -1), -1)
}
func (f *fakeClassifier) Preprocess(images []image.Image) (*tensors.Tensor, error) {
	return nil, nil
}

func TestLoadUnknownModel(t *testing.T) {
	_, err := Load("alexnet", t.TempDir())
	require.ErrorContains(t, err, `unknown model "alexnet"`)
	assert.Contains(t, err.Error(), "inceptionv3")
	assert.Contains(t, err.Error(), "cnn")
	assert.Contains(t, err.Error(), "onnx:<hub-id>")
}

func TestLoadNameNormalization(t *testing.T) {
	Register("testmodel", func(dataDir string) (Classifier, error) {
		return &fakeClassifier{name: "testmodel"}, nil
	})
	for _, name := range []string{"testmodel", "TestModel", "  TESTMODEL\t"} {
		model, err := Load(name, t.TempDir())
		require.NoErrorf(t, err, "Load(%q)", name)
		assert.Equal(t, "testmodel", model.Name())
	}
}

func TestReadLabelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), CNNLabelsFileName)
	require.NoError(t, os.WriteFile(path, []byte("cat\ndog\n\nhorse\n"), 0644))
	labels, err := readLabelsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "horse"}, labels)

	_, err = readLabelsFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestLabelsFromConfig(t *testing.T) {
	config := &onnxConfig{ID2Label: map[string]string{"0": "cat", "2": "horse", "1": "dog"}}
	labels, err := labelsFromConfig(config, "test/model")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "horse"}, labels)

	_, err = labelsFromConfig(&onnxConfig{}, "test/model")
	require.ErrorContains(t, err, "no id2label")
}

func TestFitImage(t *testing.T) {
	// A wide image is fit preserving the aspect ratio and padded vertically.
	src := image.NewRGBA(image.Rect(0, 0, 128, 32))
	fitted := FitImage(src, 64, 64)
	size := fitted.Bounds().Size()
	assert.Equal(t, 64, size.X)
	assert.Equal(t, 64, size.Y)
}

func TestCNNModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const numClasses = 5
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images *Node) []*Node {
		logits, features := CNNModelGraph(ctx, images, numClasses)
		return []*Node{logits, features}
	})
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, CNNImageSize, CNNImageSize, 3))
	outputs := exec.MustExec(images)
	assert.Equal(t, []int{2, numClasses}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 8, 8, 128}, outputs[1].Shape().Dimensions)
}

var flagDataDir = flag.String("data", "/tmp/goxai_zoo_test", "Directory where to download model weights for tests.")

func TestInceptionV3(t *testing.T) {
	if testing.Short() {
		t.Skip("TestInceptionV3 downloads the InceptionV3 weights, skipped with -short")
	}
	backend := graphtest.BuildTestBackend()
	model, err := Load("InceptionV3", *flagDataDir)
	require.NoError(t, err)
	require.Len(t, model.Labels(), 1000)

	h, w := model.InputSize()
	batch, err := model.Preprocess([]image.Image{image.NewRGBA(image.Rect(0, 0, 640, 480))})
	require.NoError(t, err)
	require.Equal(t, []int{1, h, w, 3}, batch.Shape().Dimensions)

	exec := context.MustNewExec(backend, model.Context(), model.Logits)
	logits := exec.MustExec(batch)[0]
	assert.Equal(t, []int{1, 1000}, logits.Shape().Dimensions)
}

func TestCNNPreprocess(t *testing.T) {
	m := &CNN{labels: []string{"cat", "dog"}}
	imgs := []image.Image{
		image.NewRGBA(image.Rect(0, 0, 100, 80)),
		image.NewRGBA(image.Rect(0, 0, 30, 200)),
	}
	batch, err := m.Preprocess(imgs)
	require.NoError(t, err)
	assert.Equal(t, []int{2, CNNImageSize, CNNImageSize, 3}, batch.Shape().Dimensions)
	assert.Equal(t, dtypes.Float32, batch.DType())

	_, err = m.Preprocess(nil)
	require.Error(t, err)
}
