// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models holds what is common to the classifier wrappers in the sub-packages dnn (feed-forward) and
// lstmrnn (LSTM over sequences of token ids): each validates its options, assembles a model.Sequential
// with them and compiles it, and then forwards training, evaluation, predictions and saving/loading of the
// weights to it.
//
// Activations are resolved by name in a Registry owned by each wrapper instance, where "swish" is registered
// in addition to the built-in activations.
package models

import (
	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/dlwrap/dlwrap/pkg/ml/model"
	"github.com/dlwrap/dlwrap/pkg/ml/train/crossval"
	"github.com/dlwrap/dlwrap/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AccuracyMetric tracked by the compiled models.
const AccuracyMetric = "accuracy"

// Wrapper holds a compiled model, and the activations registry used to build it.
// It is meant to be embedded by the classifier wrappers.
type Wrapper struct {
	model       *model.Sequential
	activations *activations.Registry
}

// NewActivations returns a new registry with the built-in activations and swish.
func NewActivations() (*activations.Registry, error) {
	registry := activations.NewRegistry()
	if err := registry.Register(activations.Swish); err != nil {
		return nil, err
	}
	return registry, nil
}

// NewContext returns a context for a new model: its random number generator is seeded with seed, and the
// learning rate is set if learningRate > 0 (otherwise each optimizer uses its own default).
func NewContext(seed int, learningRate float64) *context.Context {
	ctx := context.New()
	ctx.SetRNGSeed(uint64(seed))
	if learningRate > 0 {
		ctx.SetParam(optimizers.ParamLearningRate, learningRate)
	}
	return ctx
}

// Assemble adds the stages to m, compiles it with loss, optimizer and the accuracy metric, and returns the
// Wrapper for it.
func Assemble(m *model.Sequential, registry *activations.Registry, stages func(m *model.Sequential) error,
	loss, optimizer string) (*Wrapper, error) {
	klog.V(1).Info("Building graph...")
	if err := stages(m); err != nil {
		return nil, errors.WithMessage(err, "assembling model")
	}
	if err := m.Compile(loss, optimizer, AccuracyMetric); err != nil {
		return nil, errors.WithMessage(err, "compiling model")
	}
	if klog.V(2).Enabled() {
		klog.Infof("\n%s", m.Summary())
	}
	return &Wrapper{model: m, activations: registry}, nil
}

// Model returns the compiled model.
func (w *Wrapper) Model() *model.Sequential {
	return w.model
}

// Activations returns the registry used to resolve the activation names of this wrapper.
func (w *Wrapper) Activations() *activations.Registry {
	return w.activations
}

// Summary returns a table with the stages of the model, see model.Sequential.Summary.
func (w *Wrapper) Summary() string {
	return w.model.Summary()
}

// Train the model with stratified k-fold cross-validation, see crossval.CrossValidate.
// The model keeps training across folds and across calls.
func (w *Wrapper) Train(features, labels *tensors.Tensor, cfg config.TrainConfig) (*crossval.Result, error) {
	return crossval.CrossValidate(w.model, features, labels, cfg)
}

// TrainFromOptions is like Train, but takes the training options as a map, validated with config.DecodeTrain.
func (w *Wrapper) TrainFromOptions(features, labels *tensors.Tensor, options map[string]any) (*crossval.Result, error) {
	cfg, err := config.DecodeTrain(options)
	if err != nil {
		return nil, err
	}
	return w.Train(features, labels, cfg)
}

// Evaluate the model on a test set, see crossval.Evaluate.
func (w *Wrapper) Evaluate(features, labels *tensors.Tensor, cfg config.EvalConfig) (*crossval.Evaluation, error) {
	return crossval.Evaluate(w.model, features, labels, cfg.ClassNames, cfg.BatchSize)
}

// Predict returns the output of the model for features: one row of class scores per example.
func (w *Wrapper) Predict(features *tensors.Tensor, batchSize int) (*tensors.Tensor, error) {
	return w.model.Predict(features, batchSize)
}

// Save the weights of the model to path.
func (w *Wrapper) Save(path string) error {
	return w.model.Save(path)
}

// Load the weights of the model from path. The file must have been saved by a model with the same stages.
func (w *Wrapper) Load(path string) error {
	return w.model.Load(path)
}
