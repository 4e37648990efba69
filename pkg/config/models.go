// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Names of the model options.
const (
	OptionActivation       = "activation"
	OptionDropoutRate      = "dropout_rate"
	OptionLoss             = "loss"
	OptionOptimizer        = "optimizer"
	OptionNumClasses       = "num_classes"
	OptionNumFeatures      = "num_features"
	OptionNumNeurons       = "num_neurons"
	OptionOutputActivation = "output_activation"
	OptionLearningRate     = "learning_rate"
	OptionSeed             = "seed"

	OptionMaxLength       = "max_length"
	OptionTrainable       = "trainable"
	OptionVocabularySize  = "vocabulary_size"
	OptionEmbeddingMatrix = "embedding_matrix"
	OptionEmbeddingDim    = "embedding_dim"
)

const (
	// DefaultOutputActivation of the final stage of the models.
	DefaultOutputActivation = "softmax"

	// DefaultSeed used to initialize the model variables, if none is given.
	DefaultSeed = 7
)

// DNNSchema is the schema of the feed-forward model options.
var DNNSchema = Schema{
	OptionActivation:       {Kind: KindString, Required: true},
	OptionDropoutRate:      {Kind: KindFloat, Required: true, Check: InClosedRange(0, 1)},
	OptionLoss:             {Kind: KindString, Required: true},
	OptionOptimizer:        {Kind: KindString, Required: true},
	OptionNumClasses:       {Kind: KindInt, Required: true, Check: Positive},
	OptionNumFeatures:      {Kind: KindInt, Required: true, Check: Positive},
	OptionNumNeurons:       {Kind: KindIntList, Required: true, Check: PositiveList},
	OptionOutputActivation: {Kind: KindString},
	OptionLearningRate:     {Kind: KindFloat, Check: Positive},
	OptionSeed:             {Kind: KindInt},
}

// DNNConfig configures a feed-forward classifier: a stack of dense stages, each followed by dropout, and a
// final dense output stage with one unit per class.
type DNNConfig struct {
	// Activation of the hidden stages: a built-in activation name or "swish".
	Activation  string
	DropoutRate float64
	Loss        string
	Optimizer   string
	NumClasses  int
	NumFeatures int

	// NumNeurons holds the width of each hidden stage.
	NumNeurons []int

	// OutputActivation of the final stage. Defaults to DefaultOutputActivation.
	OutputActivation string

	// LearningRate of the optimizer. If 0, the optimizer default is used.
	LearningRate float64

	// Seed of the random initialization of the variables and of dropout.
	Seed int
}

// DecodeDNN validates options against DNNSchema and returns the corresponding DNNConfig, with defaults filled in.
func DecodeDNN(options map[string]any) (DNNConfig, error) {
	values, err := validate(DNNSchema, options)
	if err != nil {
		return DNNConfig{}, err
	}
	return DNNConfig{
		Activation:       values[OptionActivation].(string),
		DropoutRate:      values[OptionDropoutRate].(float64),
		Loss:             values[OptionLoss].(string),
		Optimizer:        values[OptionOptimizer].(string),
		NumClasses:       values[OptionNumClasses].(int),
		NumFeatures:      values[OptionNumFeatures].(int),
		NumNeurons:       values[OptionNumNeurons].([]int),
		OutputActivation: stringOr(values, OptionOutputActivation, DefaultOutputActivation),
		LearningRate:     floatOr(values, OptionLearningRate, 0),
		Seed:             intOr(values, OptionSeed, DefaultSeed),
	}, nil
}

// Options returns the configuration as a map of options. Optional options left at their zero value are omitted.
func (c DNNConfig) Options() map[string]any {
	options := map[string]any{
		OptionActivation:  c.Activation,
		OptionDropoutRate: c.DropoutRate,
		OptionLoss:        c.Loss,
		OptionOptimizer:   c.Optimizer,
		OptionNumClasses:  c.NumClasses,
		OptionNumFeatures: c.NumFeatures,
		OptionNumNeurons:  c.NumNeurons,
		OptionSeed:        c.Seed,
	}
	if c.OutputActivation != "" {
		options[OptionOutputActivation] = c.OutputActivation
	}
	if c.LearningRate != 0 {
		options[OptionLearningRate] = c.LearningRate
	}
	return options
}

// Validate checks the ranges of the configuration, for configurations not built with DecodeDNN.
func (c DNNConfig) Validate() error {
	return Validate(DNNSchema, c.Options())
}

// LSTMSchema is the schema of the sequence model options.
var LSTMSchema = Schema{
	OptionDropoutRate:      {Kind: KindFloat, Required: true, Check: InClosedRange(0, 1)},
	OptionMaxLength:        {Kind: KindInt, Required: true, Check: Positive},
	OptionNumClasses:       {Kind: KindInt, Required: true, Check: Positive},
	OptionNumNeurons:       {Kind: KindIntList, Required: true, Check: PositiveList},
	OptionTrainable:        {Kind: KindBool, Required: true},
	OptionVocabularySize:   {Kind: KindInt, Required: true, Check: Positive},
	OptionLoss:             {Kind: KindString, Required: true},
	OptionOptimizer:        {Kind: KindString, Required: true},
	OptionEmbeddingMatrix:  {Kind: KindMatrix},
	OptionEmbeddingDim:     {Kind: KindInt, Check: Positive},
	OptionOutputActivation: {Kind: KindString},
	OptionLearningRate:     {Kind: KindFloat, Check: Positive},
	OptionSeed:             {Kind: KindInt},
}

// LSTMConfig configures a sequence classifier: an embedding of the token ids, a stack of LSTM stages, each
// followed by dropout, and a final dense output stage with one unit per class.
type LSTMConfig struct {
	DropoutRate float64

	// MaxLength is the length of the input sequences of token ids.
	MaxLength  int
	NumClasses int

	// NumNeurons holds the number of units of each LSTM stage.
	NumNeurons []int

	// Trainable tells whether the embedding table is updated during training.
	Trainable      bool
	VocabularySize int
	Loss           string
	Optimizer      string

	// EmbeddingMatrix holds pretrained embeddings, shaped VocabularySize x EmbeddingDim.
	// If nil, the embedding is randomly initialized.
	EmbeddingMatrix *mat.Dense

	// EmbeddingDim is the width of the embedding. Defaults to MaxLength.
	EmbeddingDim int

	// OutputActivation of the final stage. Defaults to DefaultOutputActivation.
	OutputActivation string

	// LearningRate of the optimizer. If 0, the optimizer default is used.
	LearningRate float64

	// Seed of the random initialization of the variables and of dropout.
	Seed int
}

// DecodeLSTM validates options against LSTMSchema and returns the corresponding LSTMConfig, with defaults
// filled in.
//
// The embedding matrix, if given, must be shaped `vocabulary_size x embedding_dim`.
func DecodeLSTM(options map[string]any) (LSTMConfig, error) {
	values, err := validate(LSTMSchema, options)
	if err != nil {
		return LSTMConfig{}, err
	}
	c := LSTMConfig{
		DropoutRate:      values[OptionDropoutRate].(float64),
		MaxLength:        values[OptionMaxLength].(int),
		NumClasses:       values[OptionNumClasses].(int),
		NumNeurons:       values[OptionNumNeurons].([]int),
		Trainable:        values[OptionTrainable].(bool),
		VocabularySize:   values[OptionVocabularySize].(int),
		Loss:             values[OptionLoss].(string),
		Optimizer:        values[OptionOptimizer].(string),
		OutputActivation: stringOr(values, OptionOutputActivation, DefaultOutputActivation),
		LearningRate:     floatOr(values, OptionLearningRate, 0),
		Seed:             intOr(values, OptionSeed, DefaultSeed),
	}
	c.EmbeddingDim = intOr(values, OptionEmbeddingDim, c.MaxLength)
	if m, found := values[OptionEmbeddingMatrix]; found {
		c.EmbeddingMatrix = m.(*mat.Dense)
	}
	if err := c.checkEmbedding(); err != nil {
		return LSTMConfig{}, err
	}
	return c, nil
}

// checkEmbedding checks the shape of the embedding matrix against the vocabulary and embedding sizes.
func (c LSTMConfig) checkEmbedding() error {
	if c.EmbeddingMatrix == nil {
		return nil
	}
	embeddingDim := c.EmbeddingDim
	if embeddingDim == 0 {
		embeddingDim = c.MaxLength
	}
	rows, cols := c.EmbeddingMatrix.Dims()
	if rows == c.VocabularySize && cols == embeddingDim {
		return nil
	}
	return &ValidationError{Errors: []error{&RangeError{
		Option:     OptionEmbeddingMatrix,
		Value:      fmt.Sprintf("%dx%d matrix", rows, cols),
		Constraint: fmt.Sprintf("must be shaped vocabulary_size x embedding_dim (%dx%d)", c.VocabularySize, embeddingDim),
	}}}
}

// Options returns the configuration as a map of options. Optional options left at their zero value are omitted.
func (c LSTMConfig) Options() map[string]any {
	options := map[string]any{
		OptionDropoutRate:    c.DropoutRate,
		OptionMaxLength:      c.MaxLength,
		OptionNumClasses:     c.NumClasses,
		OptionNumNeurons:     c.NumNeurons,
		OptionTrainable:      c.Trainable,
		OptionVocabularySize: c.VocabularySize,
		OptionLoss:           c.Loss,
		OptionOptimizer:      c.Optimizer,
		OptionSeed:           c.Seed,
	}
	if c.EmbeddingMatrix != nil {
		options[OptionEmbeddingMatrix] = c.EmbeddingMatrix
	}
	if c.EmbeddingDim != 0 {
		options[OptionEmbeddingDim] = c.EmbeddingDim
	}
	if c.OutputActivation != "" {
		options[OptionOutputActivation] = c.OutputActivation
	}
	if c.LearningRate != 0 {
		options[OptionLearningRate] = c.LearningRate
	}
	return options
}

// Validate checks the ranges of the configuration, for configurations not built with DecodeLSTM.
func (c LSTMConfig) Validate() error {
	if err := Validate(LSTMSchema, c.Options()); err != nil {
		return err
	}
	return c.checkEmbedding()
}
