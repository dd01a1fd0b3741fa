// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package goxai explains the predictions of GoMLX image classifiers.
//
// A Session ties together a model from the zoo and a set of attribution
// explainers, compiles them once, and turns batches of images into
// predictions plus one attribution map per explainer:
//
//	backend := backends.MustNew()
//	model := must.M1(zoo.Load("inceptionv3", *flagDataDir))
//	sess := must.M1(goxai.New(backend, model,
//		goxai.WithExplainers(
//			explainers.NewIntegratedGradients(),
//			explainers.NewGradCAM())))
//	result := must.M1(sess.ExplainImages(images))
//
// Results can be persisted to an artifacts.Run (attribution tensors, heatmap
// overlays and a manifest) with SaveRun.
package goxai

import (
	"image"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/goxai/explainers"
	"github.com/gomlx/goxai/zoo"
)

// Session is a compiled model + explainers pipeline. Create it with New;
// it is safe for concurrent Explain calls.
type Session struct {
	backend    backends.Backend
	model      zoo.Classifier
	explainers []explainers.Explainer
	target     int

	predictExec *context.Exec
	attrExecs   map[string]*context.Exec
}

type options struct {
	explainers []explainers.Explainer
	target     int
}

// Option configures a Session.
type Option func(*options)

// WithExplainers sets the explainers the session runs. At least one is
// required.
func WithExplainers(list ...explainers.Explainer) Option {
	return func(o *options) { o.explainers = append(o.explainers, list...) }
}

// WithTarget fixes the class to explain for every sample. The default (-1)
// explains each sample's predicted class.
func WithTarget(class int) Option {
	return func(o *options) { o.target = class }
}

// New compiles a session for the model with the given explainers.
//
// Attribution graphs are built in inference mode: dropout and other
// training-only behavior is disabled even if the model was restored from a
// training checkpoint.
func New(backend backends.Backend, model zoo.Classifier, opts ...Option) (*Session, error) {
	o := &options{target: -1}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.explainers) == 0 {
		return nil, errors.New("at least one explainer must be configured, see WithExplainers")
	}
	if o.target >= len(model.Labels()) {
		return nil, errors.Errorf("target class %d out of range, model %q has %d classes",
			o.target, model.Name(), len(model.Labels()))
	}
	seen := make(map[string]bool, len(o.explainers))
	for _, e := range o.explainers {
		if seen[e.Name()] {
			return nil, errors.Errorf("explainer %q configured twice", e.Name())
		}
		seen[e.Name()] = true
	}

	s := &Session{
		backend:    backend,
		model:      model,
		explainers: o.explainers,
		target:     o.target,
		attrExecs:  make(map[string]*context.Exec, len(o.explainers)),
	}
	ctx := model.Context().Checked(false)
	if looksUntrained(ctx) {
		klog.Warningf("Model %q has no variables loaded: unless it loads weights during graph "+
			"building, attributions will reflect a randomly initialized network", model.Name())
	}

	var err error
	s.predictExec, err = context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) []*Node {
		g := images.Graph()
		ctx.SetTraining(g, false)
		logits := s.model.Logits(ctx, images)
		probs := Softmax(logits)
		classes := ArgMax(logits, -1, dtypes.Int32)
		return []*Node{logits, classes, ReduceMax(probs, -1)}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling prediction for model %q", model.Name())
	}

	for _, e := range s.explainers {
		e := e
		s.attrExecs[e.Name()], err = context.NewExec(backend, ctx,
			func(ctx *context.Context, images, target *Node) *Node {
				g := images.Graph()
				ctx.SetTraining(g, false)
				return e.Attribute(ctx, s.model, images, target)
			})
		if err != nil {
			return nil, errors.WithMessagef(err, "compiling explainer %q for model %q", e.Name(), model.Name())
		}
	}
	klog.V(1).Infof("Session ready: model %q, %d explainers", model.Name(), len(s.explainers))
	return s, nil
}

// looksUntrained reports whether the model context carries no variables yet.
// Models restored from checkpoints (cnn) or converted weights (onnx) have
// them at load time; a context without any usually means an untrained model.
func looksUntrained(ctx *context.Context) bool {
	return ctx.NumVariables() == 0
}

// Result is one explained batch.
type Result struct {
	// Logits of the whole batch, shaped `[batch_size, num_classes]`.
	Logits *tensors.Tensor

	// Classes explained per sample: the predicted class, or the fixed
	// target when the session was created with WithTarget.
	Classes []int32

	// ClassNames are the human-readable names of Classes.
	ClassNames []string

	// Probabilities of the predicted class per sample.
	Probabilities []float32

	// Attributions per explainer name. Shaped like the input batch, except
	// GradCAM which is single-channel.
	Attributions map[string]*tensors.Tensor
}

// Explain runs prediction and every explainer on a preprocessed batch (see
// zoo.Classifier.Preprocess).
func (s *Session) Explain(images *tensors.Tensor) (*Result, error) {
	logits, classesT, probsT, err := s.predict(images)
	if err != nil {
		return nil, err
	}
	classes := tensors.MustCopyFlatData[int32](classesT)

	explained := classes
	if s.target >= 0 {
		explained = make([]int32, len(classes))
		for ii := range explained {
			explained[ii] = int32(s.target)
		}
	}
	targetT := tensors.FromValue(explained)

	result := &Result{
		Logits:        logits,
		Classes:       explained,
		ClassNames:    make([]string, len(explained)),
		Probabilities: tensors.MustCopyFlatData[float32](probsT),
		Attributions:  make(map[string]*tensors.Tensor, len(s.explainers)),
	}
	labels := s.model.Labels()
	for ii, class := range explained {
		if int(class) < len(labels) {
			result.ClassNames[ii] = labels[class]
		}
	}

	for name, exec := range s.attrExecs {
		attr, err := exec.Exec1(images, targetT)
		if err != nil {
			return nil, errors.WithMessagef(err, "running explainer %q", name)
		}
		result.Attributions[name] = attr
	}
	return result, nil
}

// ExplainImages preprocesses the images with the model and explains them.
func (s *Session) ExplainImages(srcImages []image.Image) (*Result, error) {
	batch, err := s.model.Preprocess(srcImages)
	if err != nil {
		return nil, errors.WithMessagef(err, "preprocessing %d images for model %q", len(srcImages), s.model.Name())
	}
	return s.Explain(batch)
}

func (s *Session) predict(images *tensors.Tensor) (logits, classes, probs *tensors.Tensor, err error) {
	logits, classes, probs, err = s.predictExec.Exec3(images)
	if err != nil {
		err = errors.WithMessagef(err, "predicting with model %q", s.model.Name())
	}
	return
}

// Model returns the classifier the session explains.
func (s *Session) Model() zoo.Classifier { return s.model }

// ExplainerNames returns the names of the configured explainers, in the
// order they were given.
func (s *Session) ExplainerNames() []string {
	names := make([]string, len(s.explainers))
	for ii, e := range s.explainers {
		names[ii] = e.Name()
	}
	return names
}
