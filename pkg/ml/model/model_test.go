// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/lstm"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dlwrap/dlwrap/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns n examples of 3 well separated 2D gaussian blobs, with one-hot labels.
func blobs(n int, seed uint64) (x, y *tensors.Tensor) {
	rng := rand.New(rand.NewPCG(seed, seed))
	centers := [][2]float64{{0, 0}, {4, 0}, {0, 4}}
	x = tensors.Zeros(n, 2)
	classes := make([]int, n)
	for ii := range n {
		c := ii % 3
		classes[ii] = c
		x.Data()[2*ii] = centers[c][0] + 0.3*rng.NormFloat64()
		x.Data()[2*ii+1] = centers[c][1] + 0.3*rng.NormFloat64()
	}
	y = must.M1(tensors.OneHot(classes, 3))
	return
}

func newClassifier(t *testing.T, ctx *context.Context) *Sequential {
	m := NewSequential(ctx, 2)
	require.NoError(t, m.Add(layers.NewDense(16, activations.Relu)))
	require.NoError(t, m.Add(layers.NewDropout(0.1)))
	require.NoError(t, m.Add(layers.NewDense(3, activations.Softmax)))
	return m
}

func TestSequentialAssembly(t *testing.T) {
	ctx := context.New()
	m := newClassifier(t, ctx)
	assert.Equal(t, []string{"dense", "dropout", "dense_1"}, m.LayerScopes())
	assert.Len(t, m.Layers(), 3)
	assert.Equal(t, []int{3}, m.OutputDims())
	assert.Len(t, m.Variables(), 4)
	assert.Equal(t, 2*16+16+16*3+3, ctx.NumParameters())

	summary := m.Summary()
	assert.Contains(t, summary, "dense (Dense)")
	assert.Contains(t, summary, "dropout (Dropout)")
	assert.Contains(t, summary, "dense_1 (Dense)")
	assert.Contains(t, summary, "(None, 16)")
	assert.Contains(t, summary, "Total params: 99")

	// Incompatible layer: an LSTM needs a sequence.
	err := m.Add(lstm.New(4))
	require.Error(t, err)
	assert.Len(t, m.Layers(), 3)

	// Unknown names.
	require.Error(t, m.Compile("no_such_loss", "adam", "accuracy"))
	require.Error(t, m.Compile("categorical_crossentropy", "no_such_optimizer", "accuracy"))
	require.Error(t, m.Compile("categorical_crossentropy", "adam", "no_such_metric"))
	assert.False(t, m.IsCompiled())

	require.NoError(t, m.Compile("categorical_crossentropy", "adam", "accuracy"))
	assert.True(t, m.IsCompiled())
	assert.Equal(t, []string{"loss", "accuracy"}, m.MetricsNames())
	require.Error(t, m.Add(layers.NewDense(2, nil)), "adding layers after compile should fail")

	_, err = NewSequential(ctx, 2).Fit(tensors.Zeros(1, 2), tensors.Zeros(1, 3), FitOptions{Epochs: 1})
	require.Error(t, err, "fit on a model not compiled")
}

func TestSequentialFit(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.05)
	m := newClassifier(t, ctx)
	require.NoError(t, m.Compile("categorical_crossentropy", "adam", "accuracy"))

	x, y := blobs(90, 1)
	var epochsSeen int
	history, err := m.Fit(x, y, FitOptions{
		Epochs:          20,
		BatchSize:       8,
		ValidationSplit: 0.2,
		Shuffle:         true,
		Hooks: []func(loop *train.Loop){func(loop *train.Loop) {
			loop.OnEpoch("count", 0, func(loop *train.Loop, epoch int, _ []float64) error {
				assert.Equal(t, epochsSeen, epoch)
				_, found := loop.SharedData[train.ValidationMetricsKey]
				assert.True(t, found)
				epochsSeen++
				return nil
			})
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 20, epochsSeen)
	assert.Equal(t, []string{"loss", "accuracy", "val_loss", "val_accuracy"}, history.Names)
	assert.Equal(t, 20, history.NumEpochs())
	losses := history.Values["loss"]
	assert.Less(t, losses[len(losses)-1], losses[0])
	valAcc, found := history.Last("val_accuracy")
	require.True(t, found)
	assert.GreaterOrEqual(t, valAcc, 0.9)
	assert.Contains(t, history.String(), "val_loss: ")
	// 72 training examples in batches of 8.
	assert.Equal(t, int64(20*9), m.Trainer().GlobalStep())

	testX, testY := blobs(30, 2)
	results, err := m.Evaluate(testX, testY, 7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[1], 0.9)

	predictions, err := m.Predict(testX, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 3}, predictions.Dims())
	for ii := range 30 {
		assert.InDelta(t, 1.0, predictions.Row(ii)[0]+predictions.Row(ii)[1]+predictions.Row(ii)[2], 1e-6)
	}

	// Errors.
	_, err = m.Fit(x, y, FitOptions{Epochs: 0})
	require.Error(t, err)
	_, err = m.Fit(x, y, FitOptions{Epochs: 1, ValidationSplit: 1})
	require.Error(t, err)
	_, err = m.Evaluate(testX, y, 7)
	require.Error(t, err)
}

func TestSequentialVerbose(t *testing.T) {
	ctx := context.New()
	m := newClassifier(t, ctx)
	require.NoError(t, m.Compile("mse", "sgd"))
	x, y := blobs(6, 3)
	history, err := m.Fit(x, y, FitOptions{Epochs: 2, Verbose: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"loss"}, history.Names)
	assert.Equal(t, 2, history.NumEpochs())
}

func TestSequentialSaveLoad(t *testing.T) {
	ctx := context.New()
	m := newClassifier(t, ctx)
	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, m.Save(path))

	x, _ := blobs(5, 4)
	want := must.M1(m.Predict(x, 2))

	// A new model with a different seed has different weights until loaded.
	ctx2 := context.New()
	ctx2.SetRNGSeed(99)
	m2 := newClassifier(t, ctx2)
	before := must.M1(m2.Predict(x, 2))
	assert.False(t, before.InDelta(want, 1e-6))
	require.NoError(t, m2.Load(path))
	got := must.M1(m2.Predict(x, 2))
	assert.True(t, got.InDelta(want, 1e-12), "got %s, want %s", got, want)

	// Model with a different architecture.
	m3 := NewSequential(context.New(), 2)
	require.NoError(t, m3.Add(layers.NewDense(3, activations.Softmax)))
	err := m3.Load(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "variables"), err.Error())

	require.Error(t, m.Load(filepath.Join(t.TempDir(), "missing.bin")))
}
