// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goxai

import (
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/goxai/artifacts"
	"github.com/gomlx/goxai/render"
)

// SaveRun persists an explained batch into a run directory:
//
//   - data/attributions_<explainer>.tensor: the raw attribution batch, one
//     file per explainer, reloadable with tensors.Load.
//   - data/input_NNNN.png: a copy of each input image, so the run can be
//     re-rendered offline (see RenderRun).
//   - data/sample_NNNN_<class>_<explainer>.png: the heatmap of each sample
//     overlaid on its input image.
//   - labels/manifest.json: the predictions and run metadata.
//
// srcImages must be the images the batch was preprocessed from, aligned
// with the result's samples. Rendering the PNGs is parallelized across
// samples.
func SaveRun(run *artifacts.Run, renderer *render.Renderer, srcImages []image.Image, result *Result, modelName string) error {
	if len(srcImages) != len(result.Classes) {
		return errors.Errorf("got %d source images for a result with %d samples", len(srcImages), len(result.Classes))
	}

	manifest := &artifacts.Manifest{
		Model:     modelName,
		CreatedAt: time.Now().UTC(),
	}
	for name := range result.Attributions {
		manifest.Explainers = append(manifest.Explainers, name)
	}
	for sampleIdx, class := range result.Classes {
		manifest.Samples = append(manifest.Samples, artifacts.Sample{
			Index:       sampleIdx,
			Class:       class,
			ClassName:   result.ClassNames[sampleIdx],
			Probability: result.Probabilities[sampleIdx],
		})
	}
	if err := run.SaveManifest(manifest); err != nil {
		return err
	}

	for name, attr := range result.Attributions {
		path := run.DataPath(fmt.Sprintf("attributions_%s.tensor", sanitizeExplainer(name)))
		if err := attr.Save(path); err != nil {
			return errors.Wrapf(err, "saving attributions of %q to %q", name, path)
		}
	}

	var group errgroup.Group
	for sampleIdx := range result.Classes {
		sampleIdx := sampleIdx
		group.Go(func() error {
			return render.SavePNG(srcImages[sampleIdx], run.DataPath(inputFileName(sampleIdx)))
		})
	}
	for name, attr := range result.Attributions {
		name, attr := name, attr
		for sampleIdx := range result.Classes {
			sampleIdx := sampleIdx
			group.Go(func() error {
				overlay, err := renderer.Overlay(srcImages[sampleIdx], attr, sampleIdx)
				if err != nil {
					return errors.WithMessagef(err, "rendering sample #%d of %q", sampleIdx, name)
				}
				fileName := render.SampleFileName(sampleIdx, result.ClassNames[sampleIdx], name)
				return render.SavePNG(overlay, run.DataPath(fileName))
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if size, err := run.Size(); err == nil {
		klog.V(1).Infof("Saved run %s: %d samples, %d explainers, %s",
			run.ID, len(result.Classes), len(result.Attributions), humanize.Bytes(uint64(size)))
	}
	return nil
}

// RenderRun re-renders the overlay PNGs of a saved run from its attribution
// tensors and input copies, without a backend or the model. Useful to try
// different renderer settings (opacity, clipping) on past results.
func RenderRun(run *artifacts.Run, renderer *render.Renderer) error {
	manifest, err := run.Manifest()
	if err != nil {
		return err
	}
	var group errgroup.Group
	for _, name := range manifest.Explainers {
		name := name
		path := run.DataPath(fmt.Sprintf("attributions_%s.tensor", sanitizeExplainer(name)))
		attr, err := tensors.Load(path)
		if err != nil {
			return errors.WithMessagef(err, "loading attributions of %q from %q", name, path)
		}
		for _, s := range manifest.Samples {
			s := s
			group.Go(func() error {
				input, err := imaging.Open(run.DataPath(inputFileName(s.Index)))
				if err != nil {
					return errors.Wrapf(err, "loading input copy of sample #%d", s.Index)
				}
				overlay, err := renderer.Overlay(input, attr, s.Index)
				if err != nil {
					return errors.WithMessagef(err, "rendering sample #%d of %q", s.Index, name)
				}
				fileName := render.SampleFileName(s.Index, s.ClassName, name)
				return render.SavePNG(overlay, run.DataPath(fileName))
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}
	klog.V(1).Infof("Re-rendered run %s: %d samples, %d explainers",
		run.ID, len(manifest.Samples), len(manifest.Explainers))
	return nil
}

// inputFileName names the saved copy of one input image.
func inputFileName(sampleIdx int) string {
	return fmt.Sprintf("input_%04d.png", sampleIdx)
}

// sanitizeExplainer strips the characters of composite explainer names
// ("noise_tunnel(saliency)") that are awkward in file names.
func sanitizeExplainer(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r == '(':
			out = append(out, '_')
		}
	}
	return string(out)
}
