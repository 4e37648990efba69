// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dnn builds a feed-forward classifier from validated options.
//
// The model is a stack of dense stages, one per entry of num_neurons, each followed by a dropout stage, and
// a final dense stage with one unit per class:
//
//	Dense(num_neurons[0], activation) -> Dropout(dropout_rate) -> ... -> Dense(num_classes, output_activation)
//
// Example:
//
//	classifier := must.M1(dnn.NewFromOptions(map[string]any{
//		"activation": "swish", "dropout_rate": 0.2, "loss": "categorical_crossentropy", "optimizer": "adam",
//		"num_classes": 3, "num_features": 4, "num_neurons": []int{64, 32},
//	}))
//	result := must.M1(classifier.Train(features, labels, trainConfig))
//	fmt.Println(result)
package dnn

import (
	"github.com/dlwrap/dlwrap/models"
	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/model"
	"github.com/pkg/errors"
)

// DNN is a compiled feed-forward classifier.
type DNN struct {
	*models.Wrapper
	cfg config.DNNConfig
}

// NewFromOptions validates the options (see config.DNNSchema) and builds the classifier.
func NewFromOptions(options map[string]any) (*DNN, error) {
	cfg, err := config.DecodeDNN(options)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New validates cfg and builds the classifier.
func New(cfg config.DNNConfig) (*DNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputActivation == "" {
		cfg.OutputActivation = config.DefaultOutputActivation
	}
	registry, err := models.NewActivations()
	if err != nil {
		return nil, err
	}
	hidden, err := registry.Get(cfg.Activation)
	if err != nil {
		return nil, errors.WithMessage(err, "dnn")
	}
	output, err := registry.Get(cfg.OutputActivation)
	if err != nil {
		return nil, errors.WithMessage(err, "dnn output")
	}

	ctx := models.NewContext(cfg.Seed, cfg.LearningRate)
	seq := model.NewSequential(ctx, cfg.NumFeatures)
	w, err := models.Assemble(seq, registry, func(m *model.Sequential) error {
		for _, width := range cfg.NumNeurons {
			if err := m.Add(layers.NewDense(width, hidden)); err != nil {
				return err
			}
			if err := m.Add(layers.NewDropout(cfg.DropoutRate)); err != nil {
				return err
			}
		}
		return m.Add(layers.NewDense(cfg.NumClasses, output))
	}, cfg.Loss, cfg.Optimizer)
	if err != nil {
		return nil, errors.WithMessage(err, "dnn")
	}
	return &DNN{Wrapper: w, cfg: cfg}, nil
}

// Config returns the configuration used to build the classifier.
func (d *DNN) Config() config.DNNConfig {
	return d.cfg
}
