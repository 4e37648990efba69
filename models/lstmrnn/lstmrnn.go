// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lstmrnn builds an LSTM classifier of sequences of token ids from validated options.
//
// The model embeds the token ids, runs them through a stack of LSTM stages, one per entry of num_neurons,
// each followed by a dropout stage, and ends with a dense stage with one unit per class:
//
//	Embedding(vocabulary_size, embedding_dim) -> LSTM(num_neurons[0]) -> Dropout(dropout_rate) -> ...
//	  -> Dense(num_classes, output_activation)
//
// All LSTM stages but the last return the full sequence of hidden states, to feed the next LSTM stage.
// The last one returns only its final hidden state.
//
// The inputs are shaped `[numExamples, max_length]`, holding token ids in `[0, vocabulary_size)`; see
// datasets.PadSequences to build them from sequences of varying lengths.
package lstmrnn

import (
	"github.com/dlwrap/dlwrap/models"
	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/lstm"
	"github.com/dlwrap/dlwrap/pkg/ml/model"
	"github.com/pkg/errors"
)

// LstmRNN is a compiled LSTM classifier.
type LstmRNN struct {
	*models.Wrapper
	cfg config.LSTMConfig
}

// NewFromOptions validates the options (see config.LSTMSchema) and builds the classifier.
func NewFromOptions(options map[string]any) (*LstmRNN, error) {
	cfg, err := config.DecodeLSTM(options)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New validates cfg and builds the classifier.
func New(cfg config.LSTMConfig) (*LstmRNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputActivation == "" {
		cfg.OutputActivation = config.DefaultOutputActivation
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = cfg.MaxLength
	}
	registry, err := models.NewActivations()
	if err != nil {
		return nil, err
	}
	output, err := registry.Get(cfg.OutputActivation)
	if err != nil {
		return nil, errors.WithMessage(err, "lstmrnn output")
	}

	ctx := models.NewContext(cfg.Seed, cfg.LearningRate)
	seq := model.NewSequential(ctx, cfg.MaxLength)
	w, err := models.Assemble(seq, registry, func(m *model.Sequential) error {
		embedding := layers.NewEmbedding(cfg.VocabularySize, cfg.EmbeddingDim).Trainable(cfg.Trainable)
		if cfg.EmbeddingMatrix != nil {
			embedding.WithWeights(tensors.FromMatrix(cfg.EmbeddingMatrix))
		}
		if err := m.Add(embedding); err != nil {
			return err
		}
		last := len(cfg.NumNeurons) - 1
		for ii, units := range cfg.NumNeurons {
			if err := m.Add(lstm.New(units).ReturnSequences(ii < last)); err != nil {
				return err
			}
			if err := m.Add(layers.NewDropout(cfg.DropoutRate)); err != nil {
				return err
			}
		}
		return m.Add(layers.NewDense(cfg.NumClasses, output))
	}, cfg.Loss, cfg.Optimizer)
	if err != nil {
		return nil, errors.WithMessage(err, "lstmrnn")
	}
	return &LstmRNN{Wrapper: w, cfg: cfg}, nil
}

// Config returns the configuration used to build the classifier.
func (l *LstmRNN) Config() config.LSTMConfig {
	return l.cfg
}
