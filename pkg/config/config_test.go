// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func dnnOptions() map[string]any {
	return map[string]any{
		"activation":   "swish",
		"dropout_rate": 0.2,
		"loss":         "categorical_crossentropy",
		"optimizer":    "adam",
		"num_classes":  3,
		"num_features": 4,
		"num_neurons":  []int{16, 8},
	}
}

func lstmOptions() map[string]any {
	return map[string]any{
		"dropout_rate":    0.1,
		"max_length":      5,
		"num_classes":     2,
		"num_neurons":     []int{8},
		"trainable":       true,
		"vocabulary_size": 20,
		"loss":            "binary_crossentropy",
		"optimizer":       "rmsprop",
	}
}

func trainOptions() map[string]any {
	return map[string]any{
		"batch_size":       16,
		"n_splits":         3,
		"validation_split": 0.1,
		"verbose":          0,
		"log_path":         "",
		"epochs":           2,
	}
}

func TestDecodeDNN(t *testing.T) {
	cfg, err := DecodeDNN(dnnOptions())
	require.NoError(t, err)
	assert.Equal(t, DNNConfig{
		Activation:       "swish",
		DropoutRate:      0.2,
		Loss:             "categorical_crossentropy",
		Optimizer:        "adam",
		NumClasses:       3,
		NumFeatures:      4,
		NumNeurons:       []int{16, 8},
		OutputActivation: "softmax",
		Seed:             DefaultSeed,
	}, cfg)
	require.NoError(t, cfg.Validate())

	// Options given as []any, as decoded from generic sources.
	options := dnnOptions()
	options["num_neurons"] = []any{16, int64(8)}
	options["output_activation"] = "relu"
	options["learning_rate"] = 0.01
	options["seed"] = int64(3)
	cfg, err = DecodeDNN(options)
	require.NoError(t, err)
	assert.Equal(t, []int{16, 8}, cfg.NumNeurons)
	assert.Equal(t, "relu", cfg.OutputActivation)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 3, cfg.Seed)

	cfg.DropoutRate = 2
	var rangeErr *RangeError
	require.ErrorAs(t, cfg.Validate(), &rangeErr)
	assert.Equal(t, "dropout_rate", rangeErr.Option)
}

func TestMissingOption(t *testing.T) {
	for name := range DNNSchema {
		if !DNNSchema[name].Required {
			continue
		}
		t.Run(name, func(t *testing.T) {
			options := dnnOptions()
			delete(options, name)
			_, err := DecodeDNN(options)
			var missing *MissingOptionError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, name, missing.Option)
			assert.Contains(t, err.Error(), name)
		})
	}

	// nil counts as missing.
	options := lstmOptions()
	options["loss"] = nil
	_, err := DecodeLSTM(options)
	var missing *MissingOptionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "loss", missing.Option)
}

func TestTypeMismatch(t *testing.T) {
	testCases := []struct {
		option   string
		value    any
		expected Kind
		got      string
	}{
		{"activation", 1, KindString, "int"},
		{"dropout_rate", 1, KindFloat, "int"},
		{"num_classes", 3.0, KindInt, "float64"},
		{"num_features", "4", KindInt, "string"},
		{"num_neurons", []float64{1, 2}, KindIntList, "[]float64"},
		{"num_neurons", []any{1, "2"}, KindIntList, "[]interface {}"},
		{"loss", true, KindString, "bool"},
	}
	for _, tc := range testCases {
		t.Run(tc.option, func(t *testing.T) {
			options := dnnOptions()
			options[tc.option] = tc.value
			_, err := DecodeDNN(options)
			var mismatch *TypeMismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tc.option, mismatch.Option)
			assert.Equal(t, tc.expected, mismatch.Expected)
			assert.Equal(t, tc.got, mismatch.Got)
			assert.Contains(t, err.Error(), tc.expected.String())
			assert.Contains(t, err.Error(), tc.got)
		})
	}
}

func TestValidationIsExhaustive(t *testing.T) {
	options := trainOptions()
	delete(options, "epochs")
	options["verbose"] = 3
	options["validation_split"] = 1.0
	options["n_splits"] = "5"
	err := Validate(TrainSchema, options)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Errors, 4)
	// Sorted by option name.
	var missing *MissingOptionError
	require.True(t, errors.As(validationErr.Errors[0], &missing))
	assert.Equal(t, "epochs", missing.Option)
	var mismatch *TypeMismatchError
	require.True(t, errors.As(validationErr.Errors[1], &mismatch))
	assert.Equal(t, "n_splits", mismatch.Option)
	var rangeErr *RangeError
	require.True(t, errors.As(validationErr.Errors[2], &rangeErr))
	assert.Equal(t, "validation_split", rangeErr.Option)
	require.True(t, errors.As(validationErr.Errors[3], &rangeErr))
	assert.Equal(t, "verbose", rangeErr.Option)
	assert.Contains(t, rangeErr.Error(), "must be one of [0 1 2]")
}

func TestRanges(t *testing.T) {
	testCases := []struct {
		schema Schema
		base   func() map[string]any
		option string
		value  any
	}{
		{DNNSchema, dnnOptions, "dropout_rate", -0.1},
		{DNNSchema, dnnOptions, "num_classes", 0},
		{DNNSchema, dnnOptions, "num_neurons", []int{}},
		{DNNSchema, dnnOptions, "num_neurons", []int{4, 0}},
		{DNNSchema, dnnOptions, "learning_rate", 0.0},
		{LSTMSchema, lstmOptions, "vocabulary_size", -1},
		{LSTMSchema, lstmOptions, "embedding_dim", 0},
		{TrainSchema, trainOptions, "n_splits", 1},
		{TrainSchema, trainOptions, "batch_size", 0},
		{TrainSchema, trainOptions, "validation_split", -0.5},
		{EvalSchema, func() map[string]any { return map[string]any{"batch_size": 1} }, "class_names", []string{}},
	}
	for _, tc := range testCases {
		options := tc.base()
		options[tc.option] = tc.value
		err := Validate(tc.schema, options)
		var rangeErr *RangeError
		require.ErrorAsf(t, err, &rangeErr, "option %q=%v", tc.option, tc.value)
		assert.Equal(t, tc.option, rangeErr.Option)
	}
}

func TestDecodeLSTM(t *testing.T) {
	cfg, err := DecodeLSTM(lstmOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.EmbeddingDim, "embedding_dim defaults to max_length")
	assert.Nil(t, cfg.EmbeddingMatrix)
	assert.True(t, cfg.Trainable)
	require.NoError(t, cfg.Validate())

	options := lstmOptions()
	options["embedding_dim"] = 3
	embeddings := make([][]float64, 20)
	for ii := range embeddings {
		embeddings[ii] = []float64{float64(ii), 0, 1}
	}
	options["embedding_matrix"] = embeddings
	cfg, err = DecodeLSTM(options)
	require.NoError(t, err)
	require.NotNil(t, cfg.EmbeddingMatrix)
	assert.Equal(t, 19.0, cfg.EmbeddingMatrix.At(19, 0))

	// Typed nil means random initialization.
	options["embedding_matrix"] = (*mat.Dense)(nil)
	cfg, err = DecodeLSTM(options)
	require.NoError(t, err)
	assert.Nil(t, cfg.EmbeddingMatrix)

	// Wrong shape.
	options["embedding_matrix"] = mat.NewDense(20, 4, nil)
	_, err = DecodeLSTM(options)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "embedding_matrix", rangeErr.Option)
	assert.Contains(t, err.Error(), "20x3")

	// Ragged matrix.
	options["embedding_matrix"] = [][]float64{{1, 2}, {3}}
	_, err = DecodeLSTM(options)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, KindMatrix, mismatch.Expected)
}

func TestDecodeTrainAndEval(t *testing.T) {
	cfg, err := DecodeTrain(trainOptions())
	require.NoError(t, err)
	assert.Equal(t, TrainConfig{BatchSize: 16, NSplits: 3, ValidationSplit: 0.1, Epochs: 2, ShuffleSeed: DefaultSeed}, cfg)
	require.NoError(t, cfg.Validate())

	evalCfg, err := DecodeEval(map[string]any{"batch_size": 8, "class_names": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, EvalConfig{BatchSize: 8, ClassNames: []string{"a", "b"}}, evalCfg)
	require.NoError(t, evalCfg.Validate())
}

const tomlConfig = `
[model]
activation = "swish"
dropout_rate = 0.2
loss = "categorical_crossentropy"
optimizer = "adam"
num_classes = 3
num_features = 4
num_neurons = [16, 8]

[train]
batch_size = 16
n_splits = 3
validation_split = 0.1
verbose = 0
log_path = ""
epochs = 2

[eval]
batch_size = 8
class_names = ["a", "b", "c"]

[lstm]
dropout_rate = 0.1
max_length = 2
num_classes = 2
num_neurons = [8]
trainable = false
vocabulary_size = 3
loss = "binary_crossentropy"
optimizer = "rmsprop"
embedding_matrix = [[0, 0.5], [1, 1.5], [2, 2.5]]
`

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlConfig), 0o644))
	options, err := LoadTOML(path)
	require.NoError(t, err)

	modelOptions, err := Section(options, SectionModel)
	require.NoError(t, err)
	fromTOML, err := DecodeDNN(modelOptions)
	require.NoError(t, err)
	fromMap, err := DecodeDNN(dnnOptions())
	require.NoError(t, err)
	assert.Equal(t, fromMap, fromTOML)

	trainSection, err := Section(options, SectionTrain)
	require.NoError(t, err)
	trainCfg, err := DecodeTrain(trainSection)
	require.NoError(t, err)
	assert.Equal(t, 3, trainCfg.NSplits)

	evalSection, err := Section(options, SectionEval)
	require.NoError(t, err)
	evalCfg, err := DecodeEval(evalSection)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, evalCfg.ClassNames)

	lstmSection, err := Section(options, "lstm")
	require.NoError(t, err)
	lstmCfg, err := DecodeLSTM(lstmSection)
	require.NoError(t, err)
	assert.False(t, lstmCfg.Trainable)
	assert.Equal(t, 2.5, lstmCfg.EmbeddingMatrix.At(2, 1))

	missing, err := Section(options, "missing")
	require.NoError(t, err)
	assert.Empty(t, missing)
	_, err = Section(modelOptions, "loss")
	require.Error(t, err)

	_, err = ParseTOML("num_classes = ")
	require.Error(t, err)
	_, err = LoadTOML(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
