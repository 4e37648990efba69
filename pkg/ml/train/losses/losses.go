// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard losses that implement the LossFn interface, and the KnownLosses
// registry to find them by name (using the usual Keras names).
//
// All losses take labels and predictions shaped [batchSize, ...], return the loss averaged over the batch
// and the gradient of that average with respect to the predictions.
package losses

import (
	"maps"
	"math"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/pkg/errors"
)

// LossFn computes the loss of predictions against labels, averaged over the batch, and its gradient with respect
// to predictions.
type LossFn func(labels, predictions *tensors.Tensor) (loss float64, grad *tensors.Tensor, err error)

// Epsilon used to clip probabilities away from 0 and 1.
const Epsilon = 1e-7

var (
	// KnownLosses is a map of known losses by name.
	KnownLosses = map[string]LossFn{
		"categorical_crossentropy":    CategoricalCrossEntropy,
		"binary_crossentropy":         BinaryCrossentropy,
		"mean_squared_error":          MeanSquaredError,
		"mse":                         MeanSquaredError,
		"mean_absolute_error":         MeanAbsoluteError,
		"mae":                         MeanAbsoluteError,
		"hinge":                       Hinge,
		"squared_hinge":               SquaredHinge,
		"categorical_hinge":           CategoricalHinge,
		"kullback_leibler_divergence": KLDivergence,
		"kld":                         KLDivergence,
		"poisson":                     Poisson,
	}

	// ParamLoss is the context parameter with the name of the loss.
	ParamLoss = "loss"
)

// ByName returns a loss given its name, or an error listing the valid names.
func ByName(name string) (LossFn, error) {
	fn, found := KnownLosses[name]
	if !found {
		return nil, errors.Errorf("unknown loss %q, valid values are %q", name, slices.Sorted(maps.Keys(KnownLosses)))
	}
	return fn, nil
}

func checkShapes(labels, predictions *tensors.Tensor) error {
	if !slices.Equal(labels.Dims(), predictions.Dims()) {
		return errors.Errorf("labels (%v) and predictions (%v) must have same shape", labels.Dims(), predictions.Dims())
	}
	if predictions.Rank() == 0 || predictions.Size() == 0 {
		return errors.Errorf("loss requires non-empty predictions shaped [batchSize, ...], got %v", predictions.Dims())
	}
	return nil
}

// elementwise implements losses that are the mean over all elements of fn(label, prediction).
// fn returns the value and its derivative with respect to the prediction.
func elementwise(labels, predictions *tensors.Tensor, fn func(y, p float64) (float64, float64)) (float64, *tensors.Tensor, error) {
	if err := checkShapes(labels, predictions); err != nil {
		return 0, nil, err
	}
	grad := tensors.Zeros(predictions.Dims()...)
	gradData, labelsData := grad.Data(), labels.Data()
	count := float64(predictions.Size())
	var loss float64
	for ii, p := range predictions.Data() {
		value, derivative := fn(labelsData[ii], p)
		loss += value
		gradData[ii] = derivative / count
	}
	return loss / count, grad, nil
}

// MeanSquaredError returns the mean squared error between labels and predictions.
func MeanSquaredError(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		diff := p - y
		return diff * diff, 2 * diff
	})
}

// MeanAbsoluteError returns the mean absolute error between labels and predictions.
func MeanAbsoluteError(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		diff := p - y
		switch {
		case diff > 0:
			return diff, 1
		case diff < 0:
			return -diff, -1
		}
		return 0, 0
	})
}

// BinaryCrossentropy returns the cross-entropy loss between labels and predictions, for binary classification tasks.
//
// Predictions are probabilities, clipped to [Epsilon, 1-Epsilon].
func BinaryCrossentropy(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		q := min(max(p, Epsilon), 1-Epsilon)
		loss := -(y*math.Log(q) + (1-y)*math.Log(1-q))
		if q != p {
			return loss, 0
		}
		return loss, -y/q + (1-y)/(1-q)
	})
}

// signedLabel converts {0, 1} labels to {-1, 1}, as expected by the hinge losses.
func signedLabel(y float64) float64 {
	if y == 0 || y == 1 {
		return 2*y - 1
	}
	return y
}

// Hinge returns mean(max(1 - y*p, 0)), with labels in {-1, 1} (labels in {0, 1} are converted).
func Hinge(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		y = signedLabel(y)
		margin := 1 - y*p
		if margin <= 0 {
			return 0, 0
		}
		return margin, -y
	})
}

// SquaredHinge returns mean(max(1 - y*p, 0)^2), with labels in {-1, 1} (labels in {0, 1} are converted).
func SquaredHinge(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		y = signedLabel(y)
		margin := 1 - y*p
		if margin <= 0 {
			return 0, 0
		}
		return margin * margin, -2 * margin * y
	})
}

// Poisson returns mean(p - y*log(p + Epsilon)).
func Poisson(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return elementwise(labels, predictions, func(y, p float64) (float64, float64) {
		return p - y*math.Log(p+Epsilon), 1 - y/(p+Epsilon)
	})
}

// rowwise implements losses that are computed per example (row of the last axis), and averaged over the examples.
// fn returns the loss of the row, and writes its gradient into gradRow.
func rowwise(labels, predictions *tensors.Tensor, fn func(y, p, gradRow []float64) float64) (float64, *tensors.Tensor, error) {
	if err := checkShapes(labels, predictions); err != nil {
		return 0, nil, err
	}
	grad := tensors.Zeros(predictions.Dims()...)
	lm, pm, gm := labels.Matrix(), predictions.Matrix(), grad.Matrix()
	rows, _ := pm.Dims()
	var loss float64
	for r := range rows {
		gRow := gm.RawRowView(r)
		loss += fn(lm.RawRowView(r), pm.RawRowView(r), gRow)
		for ii := range gRow {
			gRow[ii] /= float64(rows)
		}
	}
	return loss / float64(rows), grad, nil
}

// CategoricalCrossEntropy returns the cross-entropy loss of the predictions, given the labels.
//
// The predictions are probabilities (e.g.: the output of a softmax). As in Keras, each row of predictions is
// first normalized to sum to 1, and then clipped to [Epsilon, 1-Epsilon]. A row summing to 0 (e.g.: all relu
// outputs are 0) is treated as all probabilities being Epsilon.
//
// The labels are usually one-hot encoded, but any distribution works.
func CategoricalCrossEntropy(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return rowwise(labels, predictions, func(y, p, gradRow []float64) float64 {
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		if sum <= 0 {
			loss := 0.0
			for _, yj := range y {
				loss -= yj * math.Log(Epsilon)
			}
			return loss
		}
		// g_j = dLoss/dNormalized_j, then back through the normalization:
		// dLoss/dp_k = (g_k - Σ_j g_j*normalized_j) / sum.
		var loss, dot float64
		for j, v := range p {
			normalized := v / sum
			q := min(max(normalized, Epsilon), 1-Epsilon)
			loss -= y[j] * math.Log(q)
			if q == normalized {
				gradRow[j] = -y[j] / q
			}
			dot += gradRow[j] * normalized
		}
		for k := range gradRow {
			gradRow[k] = (gradRow[k] - dot) / sum
		}
		return loss
	})
}

// CategoricalHinge returns mean(max(neg - pos + 1, 0)), where pos = Σ y*p and neg = max((1-y)*p) for each example.
func CategoricalHinge(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return rowwise(labels, predictions, func(y, p, gradRow []float64) float64 {
		pos, neg, negIdx := 0.0, math.Inf(-1), 0
		for j, v := range p {
			pos += y[j] * v
			if candidate := (1 - y[j]) * v; candidate > neg {
				neg, negIdx = candidate, j
			}
		}
		margin := neg - pos + 1
		if margin <= 0 {
			return 0
		}
		for j := range gradRow {
			gradRow[j] = -y[j]
		}
		gradRow[negIdx] += 1 - y[negIdx]
		return margin
	})
}

// KLDivergence returns the Kullback-Leibler divergence Σ y*log(y/p), with both clipped to [Epsilon, 1].
func KLDivergence(labels, predictions *tensors.Tensor) (float64, *tensors.Tensor, error) {
	return rowwise(labels, predictions, func(y, p, gradRow []float64) float64 {
		var loss float64
		for j, v := range p {
			yc := min(max(y[j], Epsilon), 1)
			pc := min(max(v, Epsilon), 1)
			loss += yc * math.Log(yc/pc)
			if pc == v {
				gradRow[j] = -yc / pc
			}
		}
		return loss
	})
}
