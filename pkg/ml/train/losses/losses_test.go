// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"math"
	"slices"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestMeanSquaredError(t *testing.T) {
	labels := tensors.FromFlatData([]float64{1, 0, 0, 1}, 2, 2)
	predictions := tensors.FromFlatData([]float64{0.5, 0.5, 0, 2}, 2, 2)
	loss, grad, err := MeanSquaredError(labels, predictions)
	require.NoError(t, err)
	assert.InDelta(t, (0.25+0.25+0+1)/4, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.25, 0.25, 0, 0.5}, grad.Data(), 1e-12)

	_, _, err = MeanSquaredError(labels, tensors.Zeros(2, 3))
	require.Error(t, err)
}

func TestCategoricalCrossEntropy(t *testing.T) {
	labels := tensors.FromFlatData([]float64{0, 1, 0, 1, 0, 0}, 2, 3)
	predictions := tensors.FromFlatData([]float64{0.2, 0.7, 0.1, 0.5, 0.25, 0.25}, 2, 3)
	loss, _, err := CategoricalCrossEntropy(labels, predictions)
	require.NoError(t, err)
	assert.InDelta(t, -(math.Log(0.7)+math.Log(0.5))/2, loss, 1e-9)

	// Predictions not summing to one are normalized first.
	scaled := tensors.FromFlatData([]float64{0.4, 1.4, 0.2, 1, 0.5, 0.5}, 2, 3)
	scaledLoss, _, err := CategoricalCrossEntropy(labels, scaled)
	require.NoError(t, err)
	assert.InDelta(t, loss, scaledLoss, 1e-9)

	// All zeros: finite loss.
	zeroLoss, grad, err := CategoricalCrossEntropy(labels, tensors.Zeros(2, 3))
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(Epsilon), zeroLoss, 1e-9)
	assert.False(t, slices.ContainsFunc(grad.Data(), math.IsNaN))
}

func TestByName(t *testing.T) {
	fn, err := ByName("mse")
	require.NoError(t, err)
	require.NotNil(t, fn)
	_, err = ByName("not_a_loss")
	require.ErrorContains(t, err, "categorical_crossentropy")
}

// TestGradients compares all known losses gradients with finite differences.
func TestGradients(t *testing.T) {
	labels := tensors.FromFlatData([]float64{0, 1, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0}, 3, 4)
	predictions := []float64{0.1, 0.6, 0.2, 0.1, 0.3, 0.15, 0.35, 0.2, 0.55, 0.05, 0.3, 0.1}
	for name, fn := range KnownLosses {
		_, grad, err := fn(labels, tensors.FromFlatData(slices.Clone(predictions), 3, 4))
		require.NoError(t, err)
		want := fd.Gradient(nil, func(p []float64) float64 {
			loss, _, err := fn(labels, tensors.FromFlatData(slices.Clone(p), 3, 4))
			require.NoError(t, err)
			return loss
		}, predictions, &fd.Settings{Formula: fd.Central, Step: 1e-7})
		assert.InDeltaSlicef(t, want, grad.Data(), 1e-5, "loss %q", name)
	}
}
