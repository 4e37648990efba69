// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/layerstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDense(t *testing.T) {
	ctx := context.New()
	dense := NewDense(2, nil)
	outDims, err := dense.Build(ctx.In("dense"), []int{3})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, outDims)
	require.Len(t, dense.Variables(), 2)

	// weights = [[1, 2], [3, 4], [5, 6]], biases = [0.5, -0.5]
	require.NoError(t, dense.Variables()[0].SetValue(tensors.FromFlatData([]float64{1, 2, 3, 4, 5, 6}, 3, 2)))
	require.NoError(t, dense.Variables()[1].SetValue(tensors.FromFlatData([]float64{0.5, -0.5}, 2)))
	x := tensors.FromFlatData([]float64{1, 0, 0, 1, 1, 1}, 2, 3)
	y, err := dense.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1.5, 8.5, 9.5}, y.Data())

	_, err = dense.Forward(tensors.Zeros(2, 4), false)
	require.Error(t, err)
	_, err = NewDense(2, nil).Forward(x, false)
	require.Error(t, err, "Forward before Build")
}

func TestDenseGradients(t *testing.T) {
	for _, name := range []string{"linear", "relu", "tanh", "sigmoid", "softmax", "selu"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.New()
			dense := NewDense(4, activations.MustFromName(name))
			_, err := dense.Build(ctx.In("dense"), []int{5})
			require.NoError(t, err)
			layerstest.CheckGradients(t, dense, layerstest.RandomInput(3, 5), true, 1e-5)
		})
	}
}

func TestDenseRank3Gradients(t *testing.T) {
	ctx := context.New()
	dense := NewDense(3, activations.Tanh)
	outDims, err := dense.Build(ctx.In("dense"), []int{4, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, outDims)
	layerstest.CheckGradients(t, dense, layerstest.RandomInput(2, 4, 2), true, 1e-5)
}

func TestDropout(t *testing.T) {
	ctx := context.New()
	dropout := NewDropout(0.5)
	_, err := dropout.Build(ctx, []int{1000})
	require.NoError(t, err)
	x := tensors.Zeros(1, 1000)
	x.Fill(1)

	// Not training: no-op.
	y, err := dropout.Forward(x, false)
	require.NoError(t, err)
	assert.Same(t, x, y)

	y, err = dropout.Forward(x, true)
	require.NoError(t, err)
	zeros, sum := 0, 0.0
	for _, v := range y.Data() {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
		sum += v
	}
	assert.InDelta(t, 500, zeros, 80)
	assert.InDelta(t, 1000, sum, 160)

	grad := tensors.Zeros(1, 1000)
	grad.Fill(1)
	dx, err := dropout.Backward(grad)
	require.NoError(t, err)
	assert.Equal(t, y.Data(), dx.Data(), "gradient must follow the same mask")

	_, err = NewDropout(1.5).Build(ctx, []int{3})
	require.Error(t, err)

	all := NewDropout(1)
	_, err = all.Build(ctx, []int{3})
	require.NoError(t, err)
	y, err = all.Forward(tensors.FromFlatData([]float64{1, 2, 3}, 1, 3), true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, y.Data())
}

func TestDropoutFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamDropoutRate, 0.25)
	assert.Equal(t, 0.25, DropoutFromContext(ctx.In("model")).Rate())
}

func TestEmbedding(t *testing.T) {
	ctx := context.New()
	weights := tensors.FromFlatData([]float64{0, 0, 1, 1, 2, 2, 3, 3}, 4, 2)
	emb := NewEmbedding(4, 2).WithWeights(weights).Trainable(false)
	outDims, err := emb.Build(ctx.In("embedding"), []int{3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, outDims)
	assert.False(t, emb.Variables()[0].Trainable)

	x := tensors.FromInts([]int{3, 0, 2, 1, 1, 1}, 2, 3)
	y, err := emb.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, y.Dims())
	assert.Equal(t, []float64{3, 3, 0, 0, 2, 2, 1, 1, 1, 1, 1, 1}, y.Data())

	// Not trainable: no gradient accumulated.
	_, err = emb.Backward(layerstest.RandomInput(2, 3, 2))
	require.NoError(t, err)
	for _, v := range emb.Variables()[0].Grad.Data() {
		assert.Zero(t, v)
	}

	_, err = emb.Forward(tensors.FromInts([]int{4, 0, 0}, 1, 3), false)
	require.Error(t, err, "token id out of range")
	_, err = emb.Forward(tensors.FromFlatData([]float64{0.5, 0, 0}, 1, 3), false)
	require.Error(t, err, "non-integral token id")

	_, err = NewEmbedding(4, 3).WithWeights(weights).Build(ctx.In("embedding_1"), []int{3})
	require.Error(t, err, "weights with the wrong shape")
}

func TestEmbeddingGradients(t *testing.T) {
	ctx := context.New()
	emb := NewEmbedding(5, 3)
	_, err := emb.Build(ctx.In("embedding"), []int{4})
	require.NoError(t, err)
	layerstest.CheckGradients(t, emb, tensors.FromInts([]int{0, 4, 4, 2, 1, 3, 0, 0}, 2, 4), false, 1e-6)
}
