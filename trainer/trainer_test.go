// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"

	"github.com/gomlx/goxai/zoo"
)

// writeTestDataset creates root/{cat,dog}/ with two small PNGs each.
func writeTestDataset(t *testing.T) string {
	root := t.TempDir()
	for _, className := range []string{"dog", "cat"} { // Out of order on purpose.
		dir := filepath.Join(root, className)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for ii := 0; ii < 2; ii++ {
			img := imaging.New(8, 8, color.NRGBA{R: uint8(100 + ii*50), A: 255})
			require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("%d.png", ii))))
		}
	}
	return root
}

// testContext returns a default context tuned down to a couple of tiny steps.
func testContext(trainSteps int) *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParam("train_steps", trainSteps)
	ctx.SetParam("batch_size", 2)
	ctx.SetParam("eval_batch_size", 2)
	ctx.SetParam("num_checkpoints", 1)
	return ctx
}

func TestTrain(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	datasetDir := writeTestDataset(t)
	checkpointDir := filepath.Join(t.TempDir(), "cnn")

	require.NoError(t, Train(backend, testContext(2), datasetDir, checkpointDir, -1, nil))

	// labels.txt next to the checkpoints, class names sorted.
	contents, err := os.ReadFile(filepath.Join(checkpointDir, zoo.CNNLabelsFileName))
	require.NoError(t, err)
	assert.Equal(t, "cat\ndog\n", string(contents))

	// The checkpoint restores into the zoo and serves predictions.
	model, err := zoo.NewCNN(checkpointDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, model.Labels())
	numLoaded := model.Context().NumVariables()
	require.Greater(t, numLoaded, 0)

	exec := context.MustNewExec(backend, model.Context(), model.Logits)
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, zoo.CNNImageSize, zoo.CNNImageSize, 3))
	logits := exec.MustExec(images)[0]
	assert.Equal(t, []int{2, 2}, logits.Shape().Dimensions)

	// Inference reuses the checkpointed variables: building the graph must
	// not create a parallel set under a different scope.
	assert.Equal(t, numLoaded, model.Context().NumVariables())
}

func TestTrainResume(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	datasetDir := writeTestDataset(t)
	checkpointDir := filepath.Join(t.TempDir(), "cnn")

	require.NoError(t, Train(backend, testContext(1), datasetDir, checkpointDir, -1, nil))

	// A second call with a higher target resumes from the checkpointed global
	// step instead of starting over.
	require.NoError(t, Train(backend, testContext(2), datasetDir, checkpointDir, -1, nil))
	assert.EqualValues(t, 2, checkpointedGlobalStep(t, checkpointDir))

	// A target already reached trains no further steps.
	require.NoError(t, Train(backend, testContext(2), datasetDir, checkpointDir, -1, nil))
	assert.EqualValues(t, 2, checkpointedGlobalStep(t, checkpointDir))
}

// checkpointedGlobalStep loads the checkpoint into a fresh context and reads
// the global step, under the "model" scope the trainer uses.
func checkpointedGlobalStep(t *testing.T, checkpointDir string) int64 {
	ctx := context.New().Checked(false)
	_, err := checkpoints.Load(ctx).Dir(checkpointDir).Done()
	require.NoError(t, err)
	return optimizers.GetGlobalStep(ctx.In("model"))
}
