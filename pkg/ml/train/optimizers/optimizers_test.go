// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// distance of the variable values to the target 3.
func distance(v *context.Variable) float64 {
	total := 0.0
	for _, x := range v.Value.Data() {
		total += (x - 3) * (x - 3)
	}
	return math.Sqrt(total)
}

// TestKnownOptimizers minimizes Σ(x-3)² with every known optimizer.
func TestKnownOptimizers(t *testing.T) {
	for name := range KnownOptimizers {
		t.Run(name, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(ParamLearningRate, 0.05)
			opt, err := ByName(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, name, opt.Name())

			x, err := ctx.In("model").VariableWithValue("x", tensors.FromFlatData([]float64{-1, 0, 5}, 3))
			require.NoError(t, err)
			frozen, err := ctx.In("model").VariableWithValue("frozen", tensors.FromFlatData([]float64{1}, 1))
			require.NoError(t, err)
			frozen.Trainable = false
			frozen.Grad.Fill(1)

			start := distance(x)
			for range 200 {
				for ii, value := range x.Value.Data() {
					x.Grad.Data()[ii] = 2 * (value - 3)
				}
				require.NoError(t, opt.UpdateVariables(ctx, []*context.Variable{x, frozen}))
			}
			if name == "adadelta" {
				// Adadelta takes tiny steps at the start.
				assert.Less(t, distance(x), start)
			} else {
				assert.Less(t, distance(x), start/2)
			}
			assert.Equal(t, []float64{1}, frozen.Value.Data(), "non-trainable variables must not change")
			assert.Equal(t, int64(200), GetGlobalStep(ctx))
		})
	}
}

func TestSGD(t *testing.T) {
	ctx := context.New()
	x, err := ctx.VariableWithValue("x", tensors.FromFlatData([]float64{1, 2}, 2))
	require.NoError(t, err)
	copy(x.Grad.Data(), []float64{10, -20})
	require.NoError(t, StochasticGradientDescent().LearningRate(0.1).UpdateVariables(ctx, []*context.Variable{x}))
	assert.InDeltaSlice(t, []float64{0, 4}, x.Value.Data(), 1e-12)

	// Clipping of the step.
	ctx.SetParam(ParamClipStepByValue, 0.5)
	require.NoError(t, StochasticGradientDescent().LearningRate(0.1).UpdateVariables(ctx, []*context.Variable{x}))
	assert.InDeltaSlice(t, []float64{-0.5, 4.5}, x.Value.Data(), 1e-12)

	x.Grad.Data()[0] = math.NaN()
	require.Error(t, StochasticGradientDescent().UpdateVariables(ctx, []*context.Variable{x}))
}

func TestAdamFirstStep(t *testing.T) {
	// The first Adam step moves each value by ~learning rate in the opposite direction of the gradient.
	ctx := context.New()
	x, err := ctx.VariableWithValue("x", tensors.FromFlatData([]float64{1, 1}, 2))
	require.NoError(t, err)
	copy(x.Grad.Data(), []float64{0.3, -7})
	require.NoError(t, Adam().LearningRate(0.01).Done().UpdateVariables(ctx, []*context.Variable{x}))
	assert.InDeltaSlice(t, []float64{0.99, 1.01}, x.Value.Data(), 1e-6)
}

func TestByName(t *testing.T) {
	_, err := ByName(context.New(), "not_an_optimizer")
	require.ErrorContains(t, err, "adam")
	ctx := context.New()
	ctx.SetParam(ParamOptimizer, "rmsprop")
	opt, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rmsprop", opt.Name())
}
