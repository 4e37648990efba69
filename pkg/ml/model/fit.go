// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/datasets"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FitOptions configures Sequential.Fit.
type FitOptions struct {
	// Epochs to train for. Required.
	Epochs int

	// BatchSize used for training and validation. Defaults to 32.
	BatchSize int

	// ValidationSplit is the fraction of the training data, taken from the end and before any shuffling, that
	// is held out and evaluated at the end of each epoch. 0 disables validation.
	ValidationSplit float64

	// Verbose level: 2 logs one line per epoch with klog. Other values are silent here, progress display is
	// attached with Hooks.
	Verbose int

	// Shuffle the training examples at every epoch.
	Shuffle bool

	// Hooks are called with the training loop before it runs, e.g. to attach a progress bar or a logger.
	Hooks []func(loop *train.Loop)
}

// DefaultBatchSize used if FitOptions.BatchSize is not set.
const DefaultBatchSize = 32

// History holds the metrics at the end of each epoch of a Sequential.Fit call.
type History struct {
	// Names of the metrics, in order: the train metrics (e.g.: "loss", "accuracy") followed by the validation
	// ones ("val_loss", "val_accuracy"), if validation was enabled.
	Names []string

	// Values holds the values of each metric, indexed by epoch.
	Values map[string][]float64
}

func newHistory(names []string, withValidation bool) *History {
	h := &History{Values: make(map[string][]float64)}
	h.Names = append(h.Names, names...)
	if withValidation {
		for _, name := range names {
			h.Names = append(h.Names, train.ValidationPrefix+name)
		}
	}
	return h
}

// NumEpochs recorded.
func (h *History) NumEpochs() int {
	if len(h.Names) == 0 {
		return 0
	}
	return len(h.Values[h.Names[0]])
}

// Last returns the value of the metric at the last epoch, and whether it was found.
func (h *History) Last(name string) (float64, bool) {
	values := h.Values[name]
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// record appends the values of one epoch, in the order of Names.
func (h *History) record(values []float64) {
	for ii, name := range h.Names {
		h.Values[name] = append(h.Values[name], values[ii])
	}
}

// String formats the last epoch as "loss: 0.123 - accuracy: 0.95 - ...".
func (h *History) String() string {
	parts := make([]string, 0, len(h.Names))
	for _, name := range h.Names {
		if v, found := h.Last(name); found {
			parts = append(parts, fmt.Sprintf("%s: %.4f", name, v))
		}
	}
	return strings.Join(parts, " - ")
}

func checkData(x, y *tensors.Tensor) error {
	if x == nil || y == nil {
		return errors.New("inputs and labels must be given")
	}
	if x.Rank() == 0 || y.Rank() == 0 || x.Dim(0) != y.Dim(0) {
		return errors.Errorf("inputs %v and labels %v must have the same number of examples", x.Dims(), y.Dims())
	}
	return nil
}

func sequence(from, to int) []int {
	indices := make([]int, 0, to-from)
	for ii := from; ii < to; ii++ {
		indices = append(indices, ii)
	}
	return indices
}

// Fit trains the model for opts.Epochs on inputs x and labels y, and returns the metrics of each epoch.
// The model must be compiled.
//
// It can be called multiple times, and training resumes from the current values of the variables and of the
// optimizer state.
func (s *Sequential) Fit(x, y *tensors.Tensor, opts FitOptions) (*History, error) {
	if s.trainer == nil {
		return nil, errors.New("Sequential.Fit: model must be compiled first")
	}
	if err := checkData(x, y); err != nil {
		return nil, errors.WithMessage(err, "Sequential.Fit")
	}
	if opts.Epochs <= 0 {
		return nil, errors.Errorf("Sequential.Fit: Epochs must be > 0, got %d", opts.Epochs)
	}
	if opts.ValidationSplit < 0 || opts.ValidationSplit >= 1 {
		return nil, errors.Errorf("Sequential.Fit: ValidationSplit must be in [0, 1), got %g", opts.ValidationSplit)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	all, err := datasets.InMemoryFromData("train", x, y)
	if err != nil {
		return nil, err
	}
	numExamples := all.NumExamples()
	numTrain := int(float64(numExamples) * (1 - opts.ValidationSplit))
	var trainDS, validDS *datasets.InMemoryDataset
	if numTrain < numExamples {
		if numTrain == 0 {
			return nil, errors.Errorf("Sequential.Fit: ValidationSplit=%g leaves no training examples out of %d",
				opts.ValidationSplit, numExamples)
		}
		trainDS, err = all.Subset("train", sequence(0, numTrain))
		if err != nil {
			return nil, err
		}
		validDS, err = all.Subset("validation", sequence(numTrain, numExamples))
		if err != nil {
			return nil, err
		}
		validDS.BatchSize(batchSize, false)
	} else {
		if opts.ValidationSplit > 0 {
			klog.Warningf("Sequential.Fit: ValidationSplit=%g of %d examples is empty, validation disabled",
				opts.ValidationSplit, numExamples)
		}
		trainDS = all
	}
	trainDS.BatchSize(batchSize, false)
	if opts.Shuffle {
		rng := s.ctx.RNG()
		trainDS.WithRand(rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))).Shuffle()
	}

	history := newHistory(s.MetricsNames(), validDS != nil)
	loop := train.NewLoop(s.trainer)
	if validDS != nil {
		loop.OnEpoch("validation", -100, func(loop *train.Loop, _ int, _ []float64) error {
			values, err := loop.Trainer.Eval(validDS)
			if err != nil {
				return errors.WithMessage(err, "validation")
			}
			loop.SharedData[train.ValidationMetricsKey] = values
			return nil
		})
	}
	loop.OnEpoch("history", -50, func(loop *train.Loop, epoch int, trainValues []float64) error {
		values := append([]float64(nil), trainValues...)
		if validDS != nil {
			values = append(values, loop.SharedData[train.ValidationMetricsKey].([]float64)...)
		}
		history.record(values)
		if opts.Verbose >= 2 {
			klog.Infof("Epoch %d/%d - %s", epoch+1, opts.Epochs, history)
		}
		return nil
	})
	for _, hook := range opts.Hooks {
		hook(loop)
	}
	if _, err = loop.RunEpochs(trainDS, opts.Epochs); err != nil {
		return nil, errors.WithMessage(err, "Sequential.Fit")
	}
	return history, nil
}

// Evaluate returns the loss and the compiled metrics (see MetricsNames) over inputs x and labels y.
// The model must be compiled.
func (s *Sequential) Evaluate(x, y *tensors.Tensor, batchSize int) ([]float64, error) {
	if s.trainer == nil {
		return nil, errors.New("Sequential.Evaluate: model must be compiled first")
	}
	if err := checkData(x, y); err != nil {
		return nil, errors.WithMessage(err, "Sequential.Evaluate")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ds, err := datasets.InMemoryFromData("eval", x, y)
	if err != nil {
		return nil, err
	}
	return s.trainer.Eval(ds.BatchSize(batchSize, false))
}

// Predict returns the output of the model for the inputs x, computed in batches of batchSize.
func (s *Sequential) Predict(x *tensors.Tensor, batchSize int) (*tensors.Tensor, error) {
	if x == nil || x.Rank() == 0 {
		return nil, errors.New("Sequential.Predict: inputs must have a leading examples axis")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	numExamples := x.Dim(0)
	ds, err := datasets.InMemoryFromData("predict", x, tensors.Zeros(numExamples, 1))
	if err != nil {
		return nil, err
	}
	ds.BatchSize(batchSize, false)
	output := tensors.Zeros(append([]int{numExamples}, s.outputDims...)...)
	outputData := output.Data()
	pos := 0
	for {
		inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		predictions, err := s.Forward(inputs, false)
		if err != nil {
			return nil, errors.WithMessage(err, "Sequential.Predict")
		}
		pos += copy(outputData[pos:], predictions.Data())
	}
	return output, nil
}
