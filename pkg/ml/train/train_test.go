// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/train/losses"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/dlwrap/dlwrap/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearModel is a single dense layer, y = x*W + b.
type linearModel struct {
	dense *layers.Dense
}

func newLinearModel(t *testing.T, ctx *context.Context, inputDim, outputDim int) *linearModel {
	m := &linearModel{dense: layers.NewDense(outputDim, nil)}
	_, err := m.dense.Build(ctx.In("dense"), []int{inputDim})
	require.NoError(t, err)
	return m
}

func (m *linearModel) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	return m.dense.Forward(x, training)
}

func (m *linearModel) Backward(grad *tensors.Tensor) error {
	_, err := m.dense.Backward(grad)
	return err
}

func (m *linearModel) Variables() []*context.Variable {
	return m.dense.Variables()
}

// sliceDataset yields the examples of a regression y = 2*x0 - x1 + 1 in batches, and io.EOF at the end.
type sliceDataset struct {
	batches [][2]*tensors.Tensor
	next    int
	loop    bool
}

func newSliceDataset(numBatches, batchSize int) *sliceDataset {
	ds := &sliceDataset{}
	for b := range numBatches {
		x := tensors.Zeros(batchSize, 2)
		y := tensors.Zeros(batchSize, 1)
		for ii := range batchSize {
			x0 := math.Sin(float64(b*batchSize + ii))
			x1 := math.Cos(float64(3 * (b*batchSize + ii)))
			x.Data()[2*ii], x.Data()[2*ii+1] = x0, x1
			y.Data()[ii] = 2*x0 - x1 + 1
		}
		ds.batches = append(ds.batches, [2]*tensors.Tensor{x, y})
	}
	return ds
}

func (ds *sliceDataset) Name() string { return "regression" }
func (ds *sliceDataset) Reset()       { ds.next = 0 }
func (ds *sliceDataset) Yield() (inputs, labels *tensors.Tensor, err error) {
	if ds.next >= len(ds.batches) {
		if !ds.loop {
			return nil, nil, io.EOF
		}
		ds.next = 0
	}
	b := ds.batches[ds.next]
	ds.next++
	return b[0], b[1], nil
}

func newTestTrainer(t *testing.T) *Trainer {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	m := newLinearModel(t, ctx, 2, 1)
	opt, err := optimizers.ByName(ctx, "sgd")
	require.NoError(t, err)
	return NewTrainer(ctx, m, losses.MeanSquaredError, opt,
		[]metrics.Interface{metrics.NewMeanLoss("mae", "mae", losses.MeanAbsoluteError)},
		[]metrics.Interface{metrics.NewMeanLoss("mae", "mae", losses.MeanAbsoluteError)})
}

func TestTrainer(t *testing.T) {
	trainer := newTestTrainer(t)
	require.Len(t, trainer.TrainMetrics(), 2)
	assert.Equal(t, LossMetricName, trainer.TrainMetrics()[0].Name())
	assert.Equal(t, LossMetricName, trainer.EvalMetrics()[0].Name())

	ds := newSliceDataset(4, 8)
	before, err := trainer.Eval(ds)
	require.NoError(t, err)
	require.Len(t, before, 2)

	for range 50 {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			ds.Reset()
			continue
		}
		_, err = trainer.TrainStep(inputs, labels)
		require.NoError(t, err)
	}
	assert.Greater(t, trainer.GlobalStep(), int64(30))
	after, err := trainer.Eval(ds)
	require.NoError(t, err)
	assert.Less(t, after[0], before[0]/10)

	_, err = trainer.TrainStep(tensors.Zeros(3, 2), tensors.Zeros(2, 1))
	require.Error(t, err)
	_, err = trainer.Eval(newSliceDataset(0, 1))
	require.Error(t, err)
}

func TestLoopRunEpochs(t *testing.T) {
	trainer := newTestTrainer(t)
	loop := NewLoop(trainer)
	assert.Equal(t, 0, loop.LoopStep)

	var calls []string
	var epochLosses []float64
	loop.OnStart("start", 0, func(loop *Loop, ds Dataset) error {
		calls = append(calls, "start:"+ds.Name())
		assert.Equal(t, -1, loop.EndStep)
		return nil
	})
	loop.OnEpoch("second", 1, func(_ *Loop, epoch int, _ []float64) error {
		calls = append(calls, "second")
		return nil
	})
	loop.OnEpoch("first", -1, func(_ *Loop, epoch int, metrics []float64) error {
		calls = append(calls, "first")
		epochLosses = append(epochLosses, metrics[0])
		return nil
	})
	var steps int
	loop.OnStep("count", 0, func(_ *Loop, metrics []float64) error {
		steps++
		require.Len(t, metrics, 2)
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop, _ []float64) error {
		calls = append(calls, "end")
		assert.Equal(t, 12, loop.EndStep)
		return nil
	})

	metrics, err := loop.RunEpochs(newSliceDataset(4, 8), 3)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, 12, steps)
	assert.Equal(t, 12, loop.LoopStep)
	assert.Equal(t, []string{"start:regression", "first", "second", "first", "second", "first", "second", "end"}, calls)
	require.Len(t, epochLosses, 3)
	assert.Less(t, epochLosses[2], epochLosses[0])
	assert.Greater(t, loop.MedianTrainStepDuration(), time.Duration(0))

	// A second loop picks up the global step.
	assert.Equal(t, 12, NewLoop(trainer).LoopStep)
}

func TestLoopRunSteps(t *testing.T) {
	trainer := newTestTrainer(t)
	loop := NewLoop(trainer)
	ds := newSliceDataset(2, 4)
	ds.loop = true

	var everyTwo, nTimes int
	EveryNSteps(loop, 2, "every", 0, func(_ *Loop, _ []float64) error {
		everyTwo++
		return nil
	})
	NTimesDuringLoop(loop, 3, "ntimes", 0, func(_ *Loop, _ []float64) error {
		nTimes++
		return nil
	})
	var periodic int
	PeriodicCallback(loop, time.Hour, true, "periodic", 0, func(_ *Loop, _ []float64) error {
		periodic++
		return nil
	})

	_, err := loop.RunSteps(ds, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, loop.LoopStep)
	assert.Equal(t, 5, everyTwo)
	// Period is 10/3=3: steps 3, 6, 9 and the last one.
	assert.Equal(t, 4, nTimes)
	// First step and the end.
	assert.Equal(t, 2, periodic)

	// Finite dataset ending early.
	_, err = NewLoop(trainer).RunSteps(newSliceDataset(1, 4), 5)
	require.ErrorContains(t, err, "reached Dataset end")
}

// nanModel always predicts NaN.
type nanModel struct {
	*linearModel
}

func (m nanModel) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	out := tensors.Zeros(x.Dim(0), 1)
	out.Fill(math.NaN())
	return out, nil
}

func TestLoopNaN(t *testing.T) {
	ctx := context.New()
	m := nanModel{newLinearModel(t, ctx, 2, 1)}
	trainer := NewTrainer(ctx, m, losses.MeanSquaredError, optimizers.StochasticGradientDescent(), nil, nil)
	_, err := NewLoop(trainer).RunEpochs(newSliceDataset(2, 4), 1)
	require.Error(t, err)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "reg", ShortName(newSliceDataset(1, 1)))
}
