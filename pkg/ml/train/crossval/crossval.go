// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package crossval trains a model with stratified k-fold cross-validation, and evaluates it on a held-out
// test set with a classification report and a confusion matrix.
//
// The same model is trained on all folds, one after the other: its variables are never re-initialized
// between folds.
package crossval

import (
	"fmt"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/datasets"
	"github.com/dlwrap/dlwrap/pkg/ml/model"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dlwrap/dlwrap/pkg/ml/train/logdir"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/dlwrap/dlwrap/ui/commandline"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Trainable is a compiled model that can be trained and evaluated, e.g.: model.Sequential.
type Trainable interface {
	Fit(x, y *tensors.Tensor, opts model.FitOptions) (*model.History, error)
	Evaluate(x, y *tensors.Tensor, batchSize int) ([]float64, error)

	// MetricsNames returns the names of the values returned by Evaluate, starting with "loss".
	MetricsNames() []string
}

// Predictor is a compiled model that can be evaluated and used for predictions, e.g.: model.Sequential.
type Predictor interface {
	Evaluate(x, y *tensors.Tensor, batchSize int) ([]float64, error)
	Predict(x *tensors.Tensor, batchSize int) (*tensors.Tensor, error)
	MetricsNames() []string
}

var (
	_ Trainable = (*model.Sequential)(nil)
	_ Predictor = (*model.Sequential)(nil)
)

// FoldResult holds the evaluation of the model on the held-out part of one fold, after training on the rest.
type FoldResult struct {
	Loss, Accuracy float64

	// History of the training on the fold.
	History *model.History
}

// Result of a cross-validation.
type Result struct {
	Folds []FoldResult

	// Mean and StdDev of the accuracies of the folds. StdDev is the population standard deviation.
	Mean, StdDev float64

	// LogDir where the metrics were logged, if logging was enabled.
	LogDir string
}

// Accuracies returns the accuracy of each fold.
func (r *Result) Accuracies() []float64 {
	accuracies := make([]float64, len(r.Folds))
	for ii, fold := range r.Folds {
		accuracies[ii] = fold.Accuracy
	}
	return accuracies
}

// String returns the summary of the cross-validation, e.g.: "CV acc : 0.9133, CV stddev : +/- 0.0231".
func (r *Result) String() string {
	return fmt.Sprintf("CV acc : %.4f, CV stddev : +/- %.4f", r.Mean, r.StdDev)
}

// accuracyIndex returns the position of the accuracy among the values returned by Evaluate.
func accuracyIndex(names []string) (int, error) {
	idx := slices.IndexFunc(names, func(name string) bool {
		return name == metrics.AccuracyMetricType || name == "acc" ||
			name == "categorical_accuracy" || name == "binary_accuracy"
	})
	if idx < 0 {
		return 0, errors.Errorf("model must be compiled with an accuracy metric, got metrics %q", names)
	}
	return idx, nil
}

// CrossValidate trains m on the stratified folds of features and labels, and evaluates it on the held-out
// part of each fold.
//
// The folds are stratified by the class of each example, the argmax of its labels row (or the thresholded
// value for a single column), and shuffled with cfg.ShuffleSeed. In each fold m is trained for cfg.Epochs,
// with cfg.ValidationSplit of the training part used to validate at the end of each epoch.
//
// If cfg.LogPath is set, the metrics of each epoch are logged there (see package logdir).
func CrossValidate(m Trainable, features, labels *tensors.Tensor, cfg config.TrainConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if features == nil || labels == nil || features.Rank() == 0 || labels.Rank() == 0 || features.Dim(0) != labels.Dim(0) {
		return nil, errors.New("CrossValidate: features and labels must have the same number of examples")
	}
	names := m.MetricsNames()
	accIdx, err := accuracyIndex(names)
	if err != nil {
		return nil, errors.WithMessage(err, "CrossValidate")
	}
	classes, err := datasets.ClassesFromLabels(labels)
	if err != nil {
		return nil, errors.WithMessage(err, "CrossValidate")
	}
	kfold := datasets.StratifiedKFold{NumSplits: cfg.NSplits, Shuffle: true, Seed: uint64(cfg.ShuffleSeed)}
	folds, err := kfold.Split(classes)
	if err != nil {
		return nil, errors.WithMessage(err, "CrossValidate")
	}

	var logger *logdir.Logger
	if cfg.LogPath != "" {
		logger, err = logdir.New(cfg.LogPath)
		if err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := logger.Close(); closeErr != nil {
				klog.Errorf("closing training log: %+v", closeErr)
			}
		}()
	}

	result := &Result{}
	if logger != nil {
		result.LogDir = logger.Dir()
	}
	for foldIdx, fold := range folds {
		klog.V(1).Infof("fold %d/%d: %d training examples, %d test examples",
			foldIdx+1, len(folds), len(fold.Train), len(fold.Test))
		trainX, trainY := features.Gather(fold.Train), labels.Gather(fold.Train)
		testX, testY := features.Gather(fold.Test), labels.Gather(fold.Test)

		opts := model.FitOptions{
			Epochs:          cfg.Epochs,
			BatchSize:       cfg.BatchSize,
			ValidationSplit: cfg.ValidationSplit,
			Verbose:         cfg.Verbose,
			Shuffle:         true,
		}
		if cfg.Verbose == config.VerboseProgress {
			opts.Hooks = append(opts.Hooks, func(loop *train.Loop) { commandline.AttachProgressBar(loop) })
		}
		if logger != nil {
			opts.Hooks = append(opts.Hooks, func(loop *train.Loop) { logger.Attach(loop, foldIdx) })
		}
		history, err := m.Fit(trainX, trainY, opts)
		if err != nil {
			return nil, errors.WithMessagef(err, "CrossValidate: training fold %d", foldIdx)
		}
		values, err := m.Evaluate(testX, testY, cfg.BatchSize)
		if err != nil {
			return nil, errors.WithMessagef(err, "CrossValidate: evaluating fold %d", foldIdx)
		}
		for ii, name := range names {
			klog.Infof("%s : %g", name, values[ii])
		}
		result.Folds = append(result.Folds, FoldResult{Loss: values[0], Accuracy: values[accIdx], History: history})
	}

	accuracies := result.Accuracies()
	if result.Mean, err = stats.Mean(accuracies); err != nil {
		return nil, errors.Wrap(err, "CrossValidate: mean of accuracies")
	}
	if result.StdDev, err = stats.StandardDeviationPopulation(accuracies); err != nil {
		return nil, errors.Wrap(err, "CrossValidate: standard deviation of accuracies")
	}
	klog.Info(result.String())
	return result, nil
}

// Evaluation of a model on a test set.
type Evaluation struct {
	Loss, Accuracy float64

	// Predicted class of each example, the argmax of the model output.
	Predicted []int

	// Expected class of each example, the argmax of the labels.
	Expected []int

	Report    *metrics.ClassificationReport
	Confusion *metrics.ConfusionMatrix
}

// Evaluate m on features and labels: loss, accuracy, a classification report with one row per class name and
// a confusion matrix.
//
// The number of classes is the number of label columns, or 2 for a single column of binary labels.
// There must be one class name per class.
func Evaluate(m Predictor, features, labels *tensors.Tensor, classNames []string, batchSize int) (*Evaluation, error) {
	if err := (config.EvalConfig{BatchSize: batchSize, ClassNames: classNames}).Validate(); err != nil {
		return nil, err
	}
	accIdx, err := accuracyIndex(m.MetricsNames())
	if err != nil {
		return nil, errors.WithMessage(err, "Evaluate")
	}
	if labels == nil || labels.Rank() != 2 {
		return nil, errors.New("Evaluate: labels must be shaped [numExamples, numClasses]")
	}
	numClasses := max(labels.Dim(1), 2)
	if len(classNames) != numClasses {
		return nil, errors.Errorf("Evaluate: got %d class names for %d classes", len(classNames), numClasses)
	}

	values, err := m.Evaluate(features, labels, batchSize)
	if err != nil {
		return nil, errors.WithMessage(err, "Evaluate")
	}
	predictions, err := m.Predict(features, batchSize)
	if err != nil {
		return nil, errors.WithMessage(err, "Evaluate")
	}
	eval := &Evaluation{Loss: values[0], Accuracy: values[accIdx]}
	if eval.Predicted, err = datasets.ClassesFromLabels(predictions); err != nil {
		return nil, errors.WithMessage(err, "Evaluate: predictions")
	}
	if eval.Expected, err = datasets.ClassesFromLabels(labels); err != nil {
		return nil, errors.WithMessage(err, "Evaluate: labels")
	}
	if eval.Confusion, err = metrics.NewConfusionMatrix(eval.Expected, eval.Predicted, numClasses); err != nil {
		return nil, errors.WithMessage(err, "Evaluate")
	}
	if eval.Report, err = metrics.NewClassificationReport(eval.Confusion, classNames); err != nil {
		return nil, errors.WithMessage(err, "Evaluate")
	}
	klog.V(1).Infof("evaluation on %d examples: loss=%g accuracy=%g", len(eval.Expected), eval.Loss, eval.Accuracy)
	return eval, nil
}
