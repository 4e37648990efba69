// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lstmrnn

import (
	"math/rand/v2"
	"testing"

	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/lstm"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func options() map[string]any {
	return map[string]any{
		"dropout_rate":    0.1,
		"max_length":      4,
		"num_classes":     2,
		"num_neurons":     []int{6, 5},
		"trainable":       true,
		"vocabulary_size": 5,
		"loss":            "categorical_crossentropy",
		"optimizer":       "adam",
		"learning_rate":   0.05,
	}
}

func TestAssembly(t *testing.T) {
	classifier, err := NewFromOptions(options())
	require.NoError(t, err)
	stages := classifier.Model().Layers()
	// Embedding, 2 x (LSTM, Dropout) and the output.
	require.Len(t, stages, 1+2*2+1)
	_, ok := stages[0].(*layers.Embedding)
	require.True(t, ok, "first stage should be Embedding, got %T", stages[0])
	for ii, units := range []int{6, 5} {
		recurrent, ok := stages[1+2*ii].(*lstm.LSTM)
		require.Truef(t, ok, "stage %d should be LSTM, got %T", 1+2*ii, stages[1+2*ii])
		assert.Equal(t, units, recurrent.Units())
		assert.Equal(t, ii == 0, recurrent.IsReturnSequences())
		_, ok = stages[2+2*ii].(*layers.Dropout)
		require.True(t, ok)
	}
	output, ok := stages[len(stages)-1].(*layers.Dense)
	require.True(t, ok)
	assert.Equal(t, 2, output.Units())
	assert.Equal(t, []int{2}, classifier.Model().OutputDims())
	assert.Equal(t, 4, classifier.Config().EmbeddingDim, "embedding_dim defaults to max_length")
	assert.Contains(t, classifier.Summary(), "lstm_1 (LSTM)")
}

func TestPretrainedEmbedding(t *testing.T) {
	opts := options()
	opts["trainable"] = false
	opts["embedding_dim"] = 3
	embeddings := mat.NewDense(5, 3, nil)
	for ii := range 5 {
		embeddings.SetRow(ii, []float64{float64(ii), 1, -1})
	}
	opts["embedding_matrix"] = embeddings
	classifier, err := NewFromOptions(opts)
	require.NoError(t, err)

	table := classifier.Model().Layers()[0].Variables()[0]
	assert.False(t, table.Trainable)
	assert.Equal(t, []int{5, 3}, table.Value.Dims())
	assert.Equal(t, 4.0, table.Value.Matrix().At(4, 0))

	opts["embedding_matrix"] = mat.NewDense(4, 3, nil)
	_, err = NewFromOptions(opts)
	var rangeErr *config.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "embedding_matrix", rangeErr.Option)
}

func TestConfigErrors(t *testing.T) {
	opts := options()
	delete(opts, "vocabulary_size")
	_, err := NewFromOptions(opts)
	var missing *config.MissingOptionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "vocabulary_size", missing.Option)

	opts = options()
	opts["trainable"] = "yes"
	_, err = NewFromOptions(opts)
	var mismatch *config.TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, config.KindBool, mismatch.Expected)

	opts = options()
	opts["output_activation"] = "no_such_activation"
	_, err = NewFromOptions(opts)
	require.ErrorContains(t, err, "no_such_activation")
}

// sequences returns n sequences of token ids where class 0 only uses the tokens 1 and 2 and class 1 only
// uses the tokens 3 and 4.
func sequences(n, length int, seed uint64) (x, y *tensors.Tensor) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x = tensors.Zeros(n, length)
	classes := make([]int, n)
	for ii := range n {
		classes[ii] = ii % 2
		for jj := range length {
			x.Data()[ii*length+jj] = float64(1 + 2*classes[ii] + rng.IntN(2))
		}
	}
	y = must.M1(tensors.OneHot(classes, 2))
	return
}

func TestTrainEvaluate(t *testing.T) {
	opts := options()
	opts["num_neurons"] = []int{6}
	classifier := must.M1(NewFromOptions(opts))
	x, y := sequences(40, 4, 1)
	result, err := classifier.Train(x, y, config.TrainConfig{
		BatchSize:       8,
		NSplits:         2,
		ValidationSplit: 0.1,
		Epochs:          10,
		ShuffleSeed:     7,
	})
	require.NoError(t, err)
	require.Len(t, result.Folds, 2)
	assert.GreaterOrEqual(t, result.Mean, 0.8)

	testX, testY := sequences(10, 4, 2)
	eval, err := classifier.Evaluate(testX, testY, config.EvalConfig{BatchSize: 4, ClassNames: []string{"low", "high"}})
	require.NoError(t, err)
	assert.Equal(t, 10, eval.Confusion.Total())
	assert.Equal(t, 2, eval.Confusion.NumClasses())
	assert.Contains(t, eval.Report.String(), "high")
}
