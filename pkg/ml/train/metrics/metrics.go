// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of metrics and defines the metrics.Interface used by the training loop
// and by model evaluation.
package metrics

import (
	"fmt"
	"strings"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/train/losses"
	"github.com/pkg/errors"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Mean-Accuracy" and "Batch-Accuracy" would both have the same "accuracy" metric type, and for instance,
	// can be displayed on the same plot, sharing the Y-axis.
	MetricType() string

	// Update takes the labels and predictions of one batch and returns the current value of the metric,
	// aggregated since the last Reset.
	Update(labels, predictions *tensors.Tensor) (float64, error)

	// Value returns the current value of the metric, aggregated since the last Reset.
	Value() float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters when starting a new evaluation.
	Reset()
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	AccuracyMetricType = "accuracy"
)

// BaseMetricFn is a function that calculates a metric statelessly. It should return the mean for the given batch.
type BaseMetricFn func(labels, predictions *tensors.Tensor) (float64, error)

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements a stateless metric.Interface: it holds the value of the last batch.
type baseMetric struct {
	name, shortName, metricType string
	metricFn                    BaseMetricFn
	pPrintFn                    PrettyPrintFn // if nil will display default.
	last                        float64
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

func (m *baseMetric) batchValue(labels, predictions *tensors.Tensor) (float64, error) {
	if labels == nil || predictions == nil {
		return 0, errors.Errorf("metric %q requires both labels and predictions", m.name)
	}
	if labels.Rank() == 0 || predictions.Rank() == 0 || labels.Dim(0) != predictions.Dim(0) {
		return 0, errors.Errorf("metric %q: labels %v and predictions %v have different batch sizes",
			m.name, labels.Dims(), predictions.Dims())
	}
	value, err := m.metricFn(labels, predictions)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed calculating metric %q", m.name)
	}
	return value, nil
}

func (m *baseMetric) Update(labels, predictions *tensors.Tensor) (float64, error) {
	value, err := m.batchValue(labels, predictions)
	if err != nil {
		return 0, err
	}
	m.last = value
	return value, nil
}

func (m *baseMetric) Value() float64 {
	return m.last
}

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", value)
	}
	return m.pPrintFn(value)
}

func (m *baseMetric) Reset() {
	m.last = 0
}

// NewBaseMetric creates a stateless metric from any BaseMetricFn function, it will return the metric
// calculated solely on the last batch.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, metricFn BaseMetricFn, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}
}

// MeanMetric implements a metric that keeps the mean of a metric.
type MeanMetric struct {
	baseMetric
	dynamicBatch  bool
	total, weight float64
}

// NewMeanMetric creates a metric from any BaseMetricFn function.
//
// It assumes the batch size (to weight the mean with each new result) is given by the first dimension of the
// labels. If you want all batches to count the same, set WithDynamicBatch(false).
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMeanMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *MeanMetric {
	return &MeanMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		dynamicBatch: true,
	}
}

// WithDynamicBatch sets whether the mean should weight each batch by its size, defined as the dimension
// of the first axis. Default is true.
//
// If set to false, each batch counts as 1, independent of its shape.
func (m *MeanMetric) WithDynamicBatch(dynamicBatch bool) *MeanMetric {
	m.dynamicBatch = dynamicBatch
	return m
}

// Update implements Interface.
func (m *MeanMetric) Update(labels, predictions *tensors.Tensor) (float64, error) {
	value, err := m.batchValue(labels, predictions)
	if err != nil {
		return 0, err
	}
	weight := 1.0
	if m.dynamicBatch {
		weight = float64(predictions.Dim(0))
	}
	m.total += value * weight
	m.weight += weight
	return m.Value(), nil
}

// Value implements Interface. It returns 0 if nothing has been seen since the last Reset.
func (m *MeanMetric) Value() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.total / m.weight
}

// Reset implements Interface.
func (m *MeanMetric) Reset() {
	m.total, m.weight = 0, 0
}

// LossFnAsMetric converts a losses.LossFn to a BaseMetricFn, dropping the gradient.
func LossFnAsMetric(lossFn losses.LossFn) BaseMetricFn {
	return func(labels, predictions *tensors.Tensor) (float64, error) {
		loss, _, err := lossFn(labels, predictions)
		return loss, err
	}
}

// NewMeanLoss returns a mean metric of the given loss function, weighted by the batch size.
func NewMeanLoss(name, shortName string, lossFn losses.LossFn) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, LossFnAsMetric(lossFn), nil)
}

// BinaryAccuracy can be used in combination with New*Metric functions to build metrics for binary accuracy.
// It assumes predictions are probabilities, that labels are `{0, 1}`, and those predictions and labels have
// the same shape.
//
// A prediction is correct if it's within 0.5 of the label. Notice this will take predictions of 0.5 to be false
// independent of label.
func BinaryAccuracy(labels, predictions *tensors.Tensor) (float64, error) {
	if labels.Size() != predictions.Size() {
		return 0, errors.Errorf("prediction %v and label %v have different shapes, can't calculate binary accuracy",
			predictions.Dims(), labels.Dims())
	}
	if predictions.Size() == 0 {
		return 0, nil
	}
	var correct int
	labelsData := labels.Data()
	for ii, p := range predictions.Data() {
		diff := labelsData[ii] - p
		if diff < 0.5 && diff > -0.5 {
			correct++
		}
	}
	return float64(correct) / float64(predictions.Size()), nil
}

// CategoricalAccuracy can be used in combination with New*Metric functions to build metrics for categorical
// accuracy. Both labels and predictions are shaped `[batch_size, num_classes]`, and an example is correct if the
// argmax of the prediction matches the argmax of the one-hot label.
func CategoricalAccuracy(labels, predictions *tensors.Tensor) (float64, error) {
	if labels.Dim(-1) != predictions.Dim(-1) {
		return 0, errors.Errorf("prediction %v and label %v have different number of classes, "+
			"can't calculate categorical accuracy", predictions.Dims(), labels.Dims())
	}
	wantClasses, gotClasses := labels.Argmax(), predictions.Argmax()
	if len(wantClasses) == 0 {
		return 0, nil
	}
	var correct int
	for ii, c := range wantClasses {
		if gotClasses[ii] == c {
			correct++
		}
	}
	return float64(correct) / float64(len(wantClasses)), nil
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100.0)
}

// NewMeanBinaryAccuracy returns a new binary accuracy metric with the given names.
func NewMeanBinaryAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, BinaryAccuracy, accuracyPPrint)
}

// NewMeanCategoricalAccuracy returns a new categorical accuracy metric with the given names.
func NewMeanCategoricalAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, CategoricalAccuracy, accuracyPPrint)
}

// ByName returns a new mean metric for the given name, for a model with outputDim outputs per example.
//
// "accuracy" (or "acc") picks binary accuracy for a single output and categorical accuracy otherwise.
// The returned metric is named after the requested name.
func ByName(name string, outputDim int) (Interface, error) {
	switch strings.ToLower(name) {
	case "accuracy", "acc":
		if outputDim == 1 {
			return NewMeanBinaryAccuracy(name, "acc"), nil
		}
		return NewMeanCategoricalAccuracy(name, "acc"), nil
	case "categorical_accuracy":
		return NewMeanCategoricalAccuracy(name, "acc"), nil
	case "binary_accuracy":
		return NewMeanBinaryAccuracy(name, "acc"), nil
	}
	if lossFn, err := losses.ByName(name); err == nil {
		return NewMeanLoss(name, name, lossFn), nil
	}
	return nil, errors.Errorf("unknown metric %q", name)
}
