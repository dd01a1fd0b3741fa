// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer trains the local CNN classifier (zoo.CNNModelGraph) on a
// folder-per-class image directory. Checkpoints and the labels file land in
// a checkpoint directory that zoo.NewCNN can load straight away, typically
// the training/ sub-directory of an artifacts run.
package trainer

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/goxai/imagefolder"
	"github.com/gomlx/goxai/zoo"
)

// ParamsExcludedFromSaving are hyperparameters that shouldn't be stored in
// checkpoints, so later sessions can override them.
var ParamsExcludedFromSaving = []string{"train_steps", "num_checkpoints"}

// CreateDefaultContext returns a context with the default training
// hyperparameters. Override them with commandline.ParseContextSettings or
// ctx.SetParam before calling Train.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"train_steps":     2000,
		"num_checkpoints": 3,
		"batch_size":      32,
		"eval_batch_size": 64,

		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 1e-3,
	})
	return ctx
}

// Train trains the CNN on the folder-per-class dataset under datasetDir and
// checkpoints into checkpointDir, creating it if needed. A labels.txt with
// the class names (sorted, matching the class ids) is written next to the
// checkpoints.
//
// Training resumes from an existing checkpoint in checkpointDir, if any;
// paramsSet names the hyperparameters set on the command line, which then
// take precedence over checkpointed values.
func Train(backend backends.Backend, ctx *context.Context, datasetDir, checkpointDir string,
	verbosity int, paramsSet []string) error {
	index, err := imagefolder.Scan(datasetDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory %q", checkpointDir)
	}
	labelsPath := filepath.Join(checkpointDir, zoo.CNNLabelsFileName)
	if err := os.WriteFile(labelsPath, []byte(strings.Join(index.Classes, "\n")+"\n"), 0644); err != nil {
		return errors.Wrapf(err, "writing class names to %q", labelsPath)
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 32)
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", batchSize)
	if batchSize <= 0 {
		return errors.Errorf("batch_size must be > 0, got %d", batchSize)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	trainDS := imagefolder.NewDataset("train", index, batchSize, zoo.CNNImageSize).
		Infinite(true).Shuffled(rng)
	evalDS := imagefolder.NewDataset("train-eval", index, evalBatchSize, zoo.CNNImageSize)

	numCheckpointsToKeep := context.GetParamOr(ctx, "num_checkpoints", 3)
	checkpoint, err := checkpoints.Build(ctx).
		Dir(checkpointDir).
		Keep(numCheckpointsToKeep).
		ExcludeParams(append(paramsSet, ParamsExcludedFromSaving...)...).
		Done()
	if err != nil {
		return errors.WithMessagef(err, "setting up checkpoints in %q", checkpointDir)
	}
	if verbosity >= 1 {
		fmt.Printf("Training on %q: %d classes, %d examples, checkpoints in %q\n",
			datasetDir, len(index.Classes), index.NumExamples(), checkpoint.Dir())
	}

	numClasses := len(index.Classes)
	modelFn := func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
		logits, _ := zoo.CNNModelGraph(ctx, inputs[0], numClasses)
		return []*graph.Node{logits}
	}

	meanAccuracyMetric := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	ctx = ctx.In("model")
	gomlxTrainer := train.NewTrainer(backend, ctx, modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric},
		[]metrics.Interface{meanAccuracyMetric})

	loop := train.NewLoop(gomlxTrainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return checkpoint.Save()
		})

	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		klog.Infof("Resuming training from global step %d", globalStep)
		gomlxTrainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		if _, err := loop.RunSteps(trainDS, numTrainSteps-globalStep); err != nil {
			return errors.WithMessage(err, "training loop")
		}
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}
	if err := checkpoint.Save(); err != nil {
		return errors.WithMessage(err, "saving final checkpoint")
	}

	if verbosity >= 1 {
		if err := commandline.ReportEval(gomlxTrainer, evalDS); err != nil {
			return errors.WithMessage(err, "evaluating trained model")
		}
	}
	return nil
}
