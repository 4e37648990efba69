// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model provides a sequential model: an ordered stack of layers that can be compiled with a loss, an
// optimizer and metrics, and then trained, evaluated, used for predictions, and saved/loaded.
//
// Example:
//
//	ctx := context.New()
//	m := model.NewSequential(ctx, numFeatures)
//	must.M(m.Add(layers.NewDense(64, activations.Relu)))
//	must.M(m.Add(layers.NewDropout(0.2)))
//	must.M(m.Add(layers.NewDense(numClasses, activations.Softmax)))
//	must.M(m.Compile("categorical_crossentropy", "adam", "accuracy"))
//	history := must.M1(m.Fit(x, y, model.FitOptions{Epochs: 10, BatchSize: 32, ValidationSplit: 0.1}))
//
// The layers variables are stored in the context, one scope per layer: the layer name, suffixed with a counter
// for repeated layer types (e.g.: "dense", "dense_1", "dropout", "dropout_1").
package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dlwrap/dlwrap/pkg/ml/train/losses"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/dlwrap/dlwrap/pkg/ml/train/optimizers"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Sequential is a stack of layers, each feeding the next one.
type Sequential struct {
	ctx        *context.Context
	inputDims  []int
	outputDims []int

	layers      []layers.Layer
	scopes      []string
	outputs     [][]int
	layerCounts map[string]int

	// Set by Compile.
	lossName, optimizerName string
	metricNames             []string
	trainer                 *train.Trainer
}

// Assert Sequential implements train.Model.
var _ train.Model = (*Sequential)(nil)

// NewSequential creates an empty model for inputs with the given dimensions, excluding the batch axis.
// The layers variables are created in ctx.
func NewSequential(ctx *context.Context, inputDims ...int) *Sequential {
	return &Sequential{
		ctx:         ctx,
		inputDims:   slices.Clone(inputDims),
		outputDims:  slices.Clone(inputDims),
		layerCounts: make(map[string]int),
	}
}

// Context used by the model.
func (s *Sequential) Context() *context.Context {
	return s.ctx
}

// InputDims returns the dimensions of the model input, excluding the batch axis.
func (s *Sequential) InputDims() []int {
	return slices.Clone(s.inputDims)
}

// OutputDims returns the dimensions of the model output (of the last layer added), excluding the batch axis.
func (s *Sequential) OutputDims() []int {
	return slices.Clone(s.outputDims)
}

// Add builds the layer for the current output of the model, and appends it to the stack.
//
// It fails if the model is already compiled, or if the layer cannot be built for the current output dimensions.
func (s *Sequential) Add(layer layers.Layer) error {
	if s.trainer != nil {
		return errors.New("Sequential.Add: cannot add layers to a compiled model")
	}
	name := layer.Name()
	scope := name
	if count := s.layerCounts[name]; count > 0 {
		scope = fmt.Sprintf("%s_%d", name, count)
	}
	outputDims, err := layer.Build(s.ctx.In(scope), s.outputDims)
	if err != nil {
		return errors.WithMessagef(err, "Sequential.Add: failed building layer #%d (%q) for input [batch]+%v",
			len(s.layers), scope, s.outputDims)
	}
	s.layerCounts[name]++
	s.layers = append(s.layers, layer)
	s.scopes = append(s.scopes, scope)
	s.outputs = append(s.outputs, slices.Clone(outputDims))
	s.outputDims = outputDims
	return nil
}

// Layers returns the layers of the model, in order.
func (s *Sequential) Layers() []layers.Layer {
	return slices.Clone(s.layers)
}

// LayerScopes returns the scope names of the layers, in order. E.g.: "dense", "dropout", "dense_1".
func (s *Sequential) LayerScopes() []string {
	return slices.Clone(s.scopes)
}

// Variables implements train.Model. It returns the variables of all layers, in order.
func (s *Sequential) Variables() []*context.Variable {
	var vars []*context.Variable
	for _, layer := range s.layers {
		vars = append(vars, layer.Variables()...)
	}
	return vars
}

// Forward implements train.Model.
func (s *Sequential) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if len(s.layers) == 0 {
		return nil, errors.New("Sequential model has no layers")
	}
	wantDims := append([]int{-1}, s.inputDims...)
	if x.Rank() != len(wantDims) || !slices.Equal(x.Dims()[1:], s.inputDims) {
		return nil, errors.Errorf("Sequential model expects inputs shaped [batch]+%v, got %v", s.inputDims, x.Dims())
	}
	var err error
	for ii, layer := range s.layers {
		x, err = layer.Forward(x, training)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer #%d (%q)", ii, s.scopes[ii])
		}
	}
	return x, nil
}

// Backward implements train.Model.
func (s *Sequential) Backward(grad *tensors.Tensor) error {
	var err error
	for ii := len(s.layers) - 1; ii >= 0; ii-- {
		grad, err = s.layers[ii].Backward(grad)
		if err != nil {
			return errors.WithMessagef(err, "backward of layer #%d (%q)", ii, s.scopes[ii])
		}
	}
	return nil
}

// Compile configures the model for training with the given loss, optimizer and metrics names.
//
// Unknown names return an error. The optimizer reads its hyperparameters (e.g.: optimizers.ParamLearningRate)
// from the model context.
func (s *Sequential) Compile(loss, optimizer string, metricNames ...string) error {
	if len(s.layers) == 0 {
		return errors.New("Sequential.Compile: model has no layers")
	}
	lossFn, err := losses.ByName(loss)
	if err != nil {
		return errors.WithMessage(err, "Sequential.Compile")
	}
	opt, err := optimizers.ByName(s.ctx, optimizer)
	if err != nil {
		return errors.WithMessage(err, "Sequential.Compile")
	}
	outputDim := 1
	if len(s.outputDims) > 0 {
		outputDim = s.outputDims[len(s.outputDims)-1]
	}
	var trainMetrics, evalMetrics []metrics.Interface
	for _, name := range metricNames {
		for _, list := range []*[]metrics.Interface{&trainMetrics, &evalMetrics} {
			m, err := metrics.ByName(name, outputDim)
			if err != nil {
				return errors.WithMessage(err, "Sequential.Compile")
			}
			*list = append(*list, m)
		}
	}
	s.lossName, s.optimizerName = loss, optimizer
	s.metricNames = slices.Clone(metricNames)
	s.trainer = train.NewTrainer(s.ctx, s, lossFn, opt, trainMetrics, evalMetrics)
	return nil
}

// IsCompiled returns whether Compile was successfully called.
func (s *Sequential) IsCompiled() bool {
	return s.trainer != nil
}

// Trainer returns the trainer created by Compile, or nil if the model is not compiled.
func (s *Sequential) Trainer() *train.Trainer {
	return s.trainer
}

// MetricsNames returns the names of the values returned by Evaluate: "loss" followed by the compiled metrics.
func (s *Sequential) MetricsNames() []string {
	return append([]string{train.LossMetricName}, s.metricNames...)
}

// Summary returns a table with the layers, their output dimensions and number of parameters.
func (s *Sequential) Summary() string {
	const (
		nameWidth   = 30
		outputWidth = 24
	)
	var sb strings.Builder
	rule := strings.Repeat("_", nameWidth+outputWidth+12)
	_, _ = fmt.Fprintf(&sb, "Model: \"sequential\"\n%s\n", rule)
	_, _ = fmt.Fprintf(&sb, "%-*s %-*s %s\n", nameWidth, "Layer (type)", outputWidth, "Output Shape", "Param #")
	sb.WriteString(strings.Repeat("=", len(rule)) + "\n")
	var total, trainable int
	for ii, layer := range s.layers {
		params := 0
		for _, v := range layer.Variables() {
			params += v.Value.Size()
			if v.Trainable {
				trainable += v.Value.Size()
			}
		}
		total += params
		name := fmt.Sprintf("%s (%s)", s.scopes[ii], layerTypeName(layer))
		_, _ = fmt.Fprintf(&sb, "%-*s %-*s %s\n", nameWidth, name, outputWidth, formatOutputDims(s.outputs[ii]),
			humanize.Comma(int64(params)))
	}
	sb.WriteString(strings.Repeat("=", len(rule)) + "\n")
	_, _ = fmt.Fprintf(&sb, "Total params: %s\n", humanize.Comma(int64(total)))
	_, _ = fmt.Fprintf(&sb, "Trainable params: %s\n", humanize.Comma(int64(trainable)))
	_, _ = fmt.Fprintf(&sb, "Non-trainable params: %s\n", humanize.Comma(int64(total-trainable)))
	sb.WriteString(rule + "\n")
	return sb.String()
}

// layerTypeName returns the Go type name of the layer, e.g.: "Dense" or "LSTM".
func layerTypeName(layer layers.Layer) string {
	name := fmt.Sprintf("%T", layer)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func formatOutputDims(dims []int) string {
	parts := make([]string, 0, len(dims)+1)
	parts = append(parts, "None")
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%d", d))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
