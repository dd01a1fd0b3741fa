// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// goxai explains image classifier predictions from the command line.
//
// Explain a couple of images with the pre-trained InceptionV3:
//
//	goxai -mode=explain -model=inceptionv3 -images='photos/*.jpg' \
//	    -explainers=integrated_gradients,gradcam
//
// Train the local CNN on a folder-per-class dataset, then explain with it:
//
//	goxai -mode=train -dataset=~/flowers
//	goxai -mode=explain -model=cnn -images='photos/*.jpg'
//
// List previous runs, re-render one with a different overlay opacity:
//
//	goxai -mode=list
//	goxai -mode=render -run=2026-08-23/0b0e... -alpha=0.8
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/goxai"
	"github.com/gomlx/goxai/artifacts"
	"github.com/gomlx/goxai/explainers"
	"github.com/gomlx/goxai/faithfulness"
	"github.com/gomlx/goxai/render"
	"github.com/gomlx/goxai/trainer"
	"github.com/gomlx/goxai/zoo"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagMode    = flag.String("mode", "explain", "One of: explain, train, list, render.")
	flagDataDir = flag.String("data", "~/.cache/goxai", "Directory to cache downloaded models and weights.")
	flagCache   = flag.String("cache", "~/.cache/goxai/runs", "Directory holding explanation runs.")

	// Explain mode.
	flagModel      = flag.String("model", "inceptionv3", "Model to explain: inceptionv3, cnn or onnx:<hub-id>.")
	flagImages     = flag.String("images", "", "Glob of images to explain, e.g. 'photos/*.jpg'.")
	flagExplainers = flag.String("explainers", "integrated_gradients",
		fmt.Sprintf("Comma-separated explainers to run, from %v.", explainers.KnownExplainers))
	flagTarget  = flag.Int("target", -1, "Class to explain. -1 explains each sample's predicted class.")
	flagMetrics = flag.Bool("metrics", false, "Also compute insertion/deletion faithfulness curves per sample.")
	flagAlpha   = flag.Float64("alpha", 0.5, "Opacity of the heatmap overlaid on the input image.")

	// Render mode.
	flagRun = flag.String("run", "", "Run to re-render for -mode=render, as <day>/<uuid> from -mode=list.")

	// Train mode.
	flagDataset    = flag.String("dataset", "", "Folder-per-class image directory to train the CNN on.")
	flagCheckpoint = flag.String("checkpoint", "", "Checkpoint directory for -mode=train. "+
		"Defaults to <data>/cnn, where -model=cnn looks for it.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := trainer.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	*flagDataDir = fsutil.MustReplaceTildeInDir(*flagDataDir)
	*flagCache = fsutil.MustReplaceTildeInDir(*flagCache)
	must.M(os.MkdirAll(*flagDataDir, 0755))
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	switch *flagMode {
	case "explain":
		explainMode()
	case "train":
		trainMode(ctx, paramsSet)
	case "list":
		listMode()
	case "render":
		renderMode()
	default:
		klog.Exitf("Unknown -mode=%q, must be one of: explain, train, list, render.", *flagMode)
	}
}

func explainMode() {
	srcImages, names := loadImages()
	if len(srcImages) == 0 {
		klog.Exitf("No images matched -images=%q.", *flagImages)
	}

	var explainerList []explainers.Explainer
	for _, name := range strings.Split(*flagExplainers, ",") {
		explainerList = append(explainerList, must.M1(explainers.FromName(name)))
	}

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	model := must.M1(zoo.Load(*flagModel, modelDataDir(*flagModel)))
	sess := must.M1(goxai.New(backend, model,
		goxai.WithExplainers(explainerList...),
		goxai.WithTarget(*flagTarget)))

	result := must.M1(sess.ExplainImages(srcImages))

	cache := must.M1(artifacts.New(*flagCache))
	run := must.M1(cache.NewRun())
	renderer := render.New().WithAlpha(*flagAlpha)
	must.M(goxai.SaveRun(run, renderer, srcImages, result, model.Name()))

	for ii, name := range names {
		fmt.Printf("%s: %s (p=%.1f%%)\n", name, result.ClassNames[ii], 100*result.Probabilities[ii])
	}
	if *flagMetrics {
		saveFaithfulnessCurves(backend, model, srcImages, result, run)
	}
	fmt.Printf("Run saved to %s\n", run.Dir())
}

// loadImages decodes the files matching the -images glob, in sorted order.
func loadImages() (srcImages []image.Image, names []string) {
	if *flagImages == "" {
		return nil, nil
	}
	paths := must.M1(filepath.Glob(fsutil.MustReplaceTildeInDir(*flagImages)))
	for _, path := range paths {
		f := must.M1(os.Open(path))
		img, _, err := image.Decode(f)
		must.M(f.Close())
		if err != nil {
			klog.Warningf("Skipping %q: %v", path, err)
			continue
		}
		srcImages = append(srcImages, img)
		names = append(names, filepath.Base(path))
	}
	return
}

func saveFaithfulnessCurves(backend backends.Backend, model zoo.Classifier,
	srcImages []image.Image, result *goxai.Result, run *artifacts.Run) {
	batch := must.M1(model.Preprocess(srcImages))
	for name, attr := range result.Attributions {
		for _, metric := range []*faithfulness.Metric{faithfulness.NewInsertion(), faithfulness.NewDeletion()} {
			curves := must.M1(metric.Evaluate(backend, model.Context(), model, batch, attr, result.Classes))
			for sampleIdx, curve := range curves {
				fileName := fmt.Sprintf("curve_%s_%04d_%s.png", curve.Mode, sampleIdx,
					strings.ReplaceAll(name, "(", "_"))
				fileName = strings.ReplaceAll(fileName, ")", "")
				title := fmt.Sprintf("%s, %s, sample #%d", curve.Mode, name, sampleIdx)
				must.M(render.SaveCurve(title, curve.Fractions, curve.Probabilities, curve.AUC,
					run.DataPath(fileName)))
			}
		}
	}
}

// renderMode re-renders the overlays of a saved run with the current -alpha,
// using only the attribution tensors and input copies on disk.
func renderMode() {
	day, id, ok := strings.Cut(*flagRun, "/")
	if !ok {
		klog.Exit("-mode=render requires -run=<day>/<uuid>, see -mode=list for the values.")
	}
	cache := must.M1(artifacts.New(*flagCache))
	run := must.M1(cache.OpenRun(day, id))
	must.M(goxai.RenderRun(run, render.New().WithAlpha(*flagAlpha)))
	fmt.Printf("Re-rendered run %s\n", run.Dir())
}

func trainMode(ctx *context.Context, paramsSet []string) {
	if *flagDataset == "" {
		klog.Exit("-mode=train requires -dataset pointing at a folder-per-class image directory.")
	}
	datasetDir := fsutil.MustReplaceTildeInDir(*flagDataset)
	checkpointDir := *flagCheckpoint
	if checkpointDir == "" {
		checkpointDir = filepath.Join(*flagDataDir, "cnn")
	} else {
		checkpointDir = fsutil.MustReplaceTildeInDir(checkpointDir)
	}
	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	must.M(trainer.Train(backend, ctx, datasetDir, checkpointDir, *flagVerbosity, paramsSet))
	fmt.Printf("Model checkpointed to %s -- explain with it using -model=cnn.\n", checkpointDir)
}

func listMode() {
	cache := must.M1(artifacts.New(*flagCache))
	runs := must.M1(cache.Runs())
	if len(runs) == 0 {
		fmt.Printf("No runs under %s.\n", cache.Root())
		return
	}
	for _, run := range runs {
		size, err := run.Size()
		if err != nil {
			klog.Warningf("Skipping run %s/%s: %v", run.Day, run.ID, err)
			continue
		}
		line := fmt.Sprintf("%s  %s  %8s", run.Day, run.ID, humanize.Bytes(uint64(size)))
		if manifest, err := run.Manifest(); err == nil {
			line += fmt.Sprintf("  model=%s explainers=%v samples=%d",
				manifest.Model, manifest.Explainers, len(manifest.Samples))
		}
		fmt.Println(line)
	}
}

// modelDataDir gives each model family its own cache sub-directory, so the
// cnn checkpoint never collides with the inceptionv3 weights.
func modelDataDir(modelName string) string {
	family := strings.ToLower(strings.TrimSpace(modelName))
	if idx := strings.Index(family, ":"); idx >= 0 {
		family = family[:idx]
	}
	return filepath.Join(*flagDataDir, family)
}
