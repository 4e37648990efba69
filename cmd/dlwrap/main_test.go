// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/support/fsutil"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBlobsCSV writes n examples of 3 gaussian blobs in 2D, with the label in the middle column.
func writeBlobsCSV(t *testing.T, dir, name string, n int, seed uint64) string {
	rng := rand.New(rand.NewPCG(seed, seed))
	centers := [][2]float64{{0, 0}, {40, 0}, {0, 40}}
	var sb strings.Builder
	sb.WriteString("x,species,y\n")
	for ii := range n {
		c := ii % 3
		_, _ = fmt.Fprintf(&sb, "%.3f,%d,%.3f\n", centers[c][0]+3*rng.NormFloat64(), c, centers[c][1]+3*rng.NormFloat64())
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeBlobsCSV(t, dir, "train.csv", 12, 1)
	d, err := LoadCSV(path, "species")
	require.NoError(t, err)
	assert.Equal(t, []int{12, 2}, d.Features.Dims())
	assert.Equal(t, 2, d.NumFeatures())
	assert.Equal(t, 3, d.NumClasses())
	assert.Equal(t, []int{0, 1, 2}, d.Labels[:3])

	_, err = LoadCSV(path, "no_such_column")
	require.ErrorContains(t, err, "no_such_column")

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,label\nfoo,1\nbar,0\n"), 0o644))
	_, err = LoadCSV(bad, "label")
	require.ErrorContains(t, err, "numeric")

	_, err = LoadCSV(filepath.Join(dir, "missing.csv"), "label")
	require.Error(t, err)
}

func TestSequences(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seq.csv")
	require.NoError(t, os.WriteFile(path, []byte("t0,t1,t2,label\n3,4,0,1\n1,2,2,0\n"), 0o644))
	d := must.M1(LoadCSV(path, "label"))
	assert.Equal(t, 4, d.MaxToken())
	padded, err := d.Sequences(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 3, 4, 0, 1, 2, 2}, padded.Data())
	truncated := must.M1(d.Sequences(2))
	assert.Equal(t, []float64{3, 4, 1, 2}, truncated.Data())
}

func TestApplyConfigFile(t *testing.T) {
	ctx := createDefaultContext()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[model]
num_neurons = [8, 4]
activation = "swish"

[train]
epochs = 3
n_splits = 2

[eval]
class_names = ["a", "b", "c"]
`), 0o644))
	require.NoError(t, applyConfigFile(ctx, path))
	assert.Equal(t, []int{8, 4}, context.GetParamOr(ctx, config.OptionNumNeurons, []int{}))
	assert.Equal(t, "swish", context.GetParamOr(ctx, config.OptionActivation, ""))
	assert.Equal(t, 3, context.GetParamOr(ctx, config.OptionEpochs, 0))

	trainCfg := must.M1(config.DecodeTrain(optionsFor(ctx, config.TrainSchema)))
	assert.Equal(t, 2, trainCfg.NSplits)
	assert.Equal(t, 32, trainCfg.BatchSize)

	evalCfg := must.M1(config.DecodeEval(evalOptions(ctx, 3)))
	assert.Equal(t, []string{"a", "b", "c"}, evalCfg.ClassNames)

	evalCfg = must.M1(config.DecodeEval(evalOptions(createDefaultContext(), 3)))
	assert.Equal(t, []string{"0", "1", "2"}, evalCfg.ClassNames)
}

func TestBuildClassifier(t *testing.T) {
	dir := t.TempDir()
	train := must.M1(LoadCSV(writeBlobsCSV(t, dir, "train.csv", 30, 1), "species"))
	test := must.M1(LoadCSV(writeBlobsCSV(t, dir, "test.csv", 9, 2), "species"))
	ctx := createDefaultContext()

	c, p, err := buildClassifier(ctx, ModelDNN, train, test)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, c.Model().OutputDims())
	assert.Equal(t, []int{30, 3}, p.trainY.Dims())
	assert.Equal(t, []int{9, 3}, p.testY.Dims())
	// Standardized features.
	var sum float64
	for ii := range 30 {
		sum += p.trainX.Data()[2*ii]
	}
	assert.InDelta(t, 0, sum/30, 1e-9)

	_, _, err = buildClassifier(ctx, "cnn", train, test)
	require.ErrorContains(t, err, "cnn")

	// Blob coordinates are not token ids.
	_, _, err = buildClassifier(ctx, ModelLSTM, train, nil)
	require.ErrorContains(t, err, "token id")

	path := filepath.Join(dir, "seq.csv")
	require.NoError(t, os.WriteFile(path, []byte("t0,t1,t2,label\n3,4,0,1\n1,2,2,0\n4,4,3,1\n"), 0o644))
	sequences := must.M1(LoadCSV(path, "label"))
	c, p, err = buildClassifier(ctx, ModelLSTM, sequences, nil)
	require.NoError(t, err)
	assert.Nil(t, p.testX)
	assert.Equal(t, []int{3, 3}, p.trainX.Dims(), "max_length defaults to the number of feature columns")
	assert.Equal(t, []int{2}, c.Model().OutputDims())
	embeddings := c.Model().Layers()[0].Variables()[0]
	assert.Equal(t, []int{5, 3}, embeddings.Value.Dims(), "vocabulary_size defaults to the largest token id + 1")
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end training in short mode.")
	}
	dir := t.TempDir()
	*flagTrain = writeBlobsCSV(t, dir, "train.csv", 60, 1)
	*flagTest = writeBlobsCSV(t, dir, "test.csv", 15, 2)
	*flagLabel = "species"
	*flagSave = filepath.Join(dir, "weights.bin")
	*flagClassNames = []string{"a", "b", "c"}
	defer func() {
		*flagTrain, *flagTest, *flagSave, *flagLabel = "", "", "", "label"
		*flagClassNames = nil
	}()

	ctx := createDefaultContext()
	err := exceptions.TryCatch[error](func() {
		run(ctx, "num_neurons=16;epochs=5;n_splits=3;verbose=0;batch_size=8")
	})
	require.NoError(t, err)
	exists := must.M1(fsutil.FileExists(*flagSave))
	assert.True(t, exists)

	err = exceptions.TryCatch[error](func() { run(createDefaultContext(), "no_such_option=1") })
	require.Error(t, err)
}
