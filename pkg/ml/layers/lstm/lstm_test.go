// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lstm

import (
	"math"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/layerstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	ctx := context.New()
	l := New(3)
	outDims, err := l.Build(ctx.In("lstm"), []int{5, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, outDims)
	vars := l.Variables()
	require.Len(t, vars, 3)
	assert.Equal(t, []int{2, 12}, vars[0].Value.Dims())
	assert.Equal(t, []int{3, 12}, vars[1].Value.Dims())
	assert.Equal(t, []float64{0, 0, 0, 1, 1, 1, 0, 0, 0, 0, 0, 0}, vars[2].Value.Data())

	seq := New(4).ReturnSequences(true)
	outDims, err = seq.Build(ctx.In("lstm_1"), []int{5, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, outDims)

	_, err = New(3).Build(ctx.In("lstm_2"), []int{5})
	require.Error(t, err)
}

// TestSingleStep compares one step with a direct evaluation of the LSTM equations.
func TestSingleStep(t *testing.T) {
	ctx := context.New()
	l := New(1)
	_, err := l.Build(ctx.In("lstm"), []int{1, 1})
	require.NoError(t, err)
	vars := l.Variables()
	require.NoError(t, vars[0].SetValue(tensors.FromFlatData([]float64{0.5, -0.5, 1.0, 2.0}, 1, 4)))
	require.NoError(t, vars[2].SetValue(tensors.FromFlatData([]float64{0, 1, 0, 0}, 4)))
	x := 0.8
	y, err := l.Forward(tensors.FromFlatData([]float64{x}, 1, 1, 1), false)
	require.NoError(t, err)

	sigmoid := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
	i, g, o := sigmoid(0.5*x), math.Tanh(1.0*x), sigmoid(2.0*x)
	c := i * g // Previous cell state is 0.
	assert.InDelta(t, o*math.Tanh(c), y.Data()[0], 1e-12)
}

func TestGradients(t *testing.T) {
	for _, returnSequences := range []bool{false, true} {
		ctx := context.New()
		l := New(3).ReturnSequences(returnSequences)
		_, err := l.Build(ctx.In("lstm"), []int{4, 2})
		require.NoError(t, err)
		layerstest.CheckGradients(t, l, layerstest.RandomInput(2, 4, 2), true, 1e-5)
	}
}

func TestShapeErrors(t *testing.T) {
	ctx := context.New()
	l := New(2)
	_, err := l.Build(ctx.In("lstm"), []int{3, 2})
	require.NoError(t, err)
	_, err = l.Forward(tensors.Zeros(1, 3, 5), true)
	require.Error(t, err)
	_, err = New(2).Backward(tensors.Zeros(1, 2))
	require.Error(t, err)
	_, err = l.Forward(tensors.Zeros(1, 3, 2), true)
	require.NoError(t, err)
	_, err = l.Backward(tensors.Zeros(1, 3))
	require.Error(t, err)
}
