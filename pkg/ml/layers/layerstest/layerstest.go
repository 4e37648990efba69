// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layerstest holds test helpers for layers.
package layerstest

import (
	"math"
	"slices"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

// upstreamGradient returns a fixed, non-symmetric gradient with the given dimensions.
func upstreamGradient(dims []int) *tensors.Tensor {
	g := tensors.Zeros(dims...)
	data := g.Data()
	for ii := range data {
		data[ii] = math.Sin(float64(ii)*0.7 + 0.3)
	}
	return g
}

// CheckGradients compares the gradients accumulated by layer.Backward with a central finite difference
// approximation of loss = Σ upstream ⊙ layer.Forward(x), for every trainable variable of the layer and,
// if checkInput is set, for the input x.
//
// The layer must be already built and deterministic.
func CheckGradients(t *testing.T, layer layers.Layer, x *tensors.Tensor, checkInput bool, tolerance float64) {
	t.Helper()
	y, err := layer.Forward(x, true)
	require.NoError(t, err)
	upstream := upstreamGradient(y.Dims())
	for _, v := range layer.Variables() {
		v.ZeroGrad()
	}
	dx, err := layer.Backward(upstream)
	require.NoError(t, err)

	loss := func() float64 {
		out, err := layer.Forward(x, false)
		require.NoError(t, err)
		return floats.Dot(out.Data(), upstream.Data())
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}

	for _, v := range layer.Variables() {
		if !v.Trainable {
			continue
		}
		original := slices.Clone(v.Value.Data())
		want := fd.Gradient(nil, func(values []float64) float64 {
			copy(v.Value.Data(), values)
			return loss()
		}, original, settings)
		copy(v.Value.Data(), original)
		assert.InDeltaSlicef(t, want, v.Grad.Data(), tolerance, "gradient of variable %s", v.ScopeAndName())
	}

	if checkInput {
		original := slices.Clone(x.Data())
		want := fd.Gradient(nil, func(values []float64) float64 {
			copy(x.Data(), values)
			return loss()
		}, original, settings)
		copy(x.Data(), original)
		require.Equal(t, x.Dims(), dx.Dims())
		assert.InDeltaSlicef(t, want, dx.Data(), tolerance, "gradient of the input of layer %s", layer.Name())
	}
}

// RandomInput returns a tensor with the given dimensions filled with a deterministic sequence in [-1, 1].
func RandomInput(dims ...int) *tensors.Tensor {
	x := tensors.Zeros(dims...)
	data := x.Data()
	for ii := range data {
		data[ii] = math.Cos(float64(ii)*1.3 + 0.1)
	}
	return x
}
