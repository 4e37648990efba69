// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/initializer"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Embedding maps token ids to learnable vectors.
//
// The input is shaped `[batch, seqLen]` with the ids stored as float64 integral values in `[0, vocabSize)`.
// The output is shaped `[batch, seqLen, dimension]`.
type Embedding struct {
	vocabSize, dimension int
	weights              *tensors.Tensor
	trainable            bool

	table *context.Variable
	ids   []int
}

var _ Layer = (*Embedding)(nil)

// NewEmbedding creates an Embedding layer. By default, the table is randomly initialized and trainable.
func NewEmbedding(vocabSize, dimension int) *Embedding {
	return &Embedding{vocabSize: vocabSize, dimension: dimension, trainable: true}
}

// WithWeights sets pretrained weights, shaped `[vocabSize, dimension]`. A nil value means random
// initialization.
func (e *Embedding) WithWeights(weights *tensors.Tensor) *Embedding {
	e.weights = weights
	return e
}

// Trainable configures whether the embedding table is updated during training.
func (e *Embedding) Trainable(trainable bool) *Embedding {
	e.trainable = trainable
	return e
}

// Name implements Layer.
func (e *Embedding) Name() string { return "embedding" }

// Build implements Layer.
func (e *Embedding) Build(ctx *context.Context, inputDims []int) ([]int, error) {
	if len(inputDims) != 1 {
		return nil, errors.Errorf("Embedding expects inputs shaped [batch, seqLen], got [batch]+%v", inputDims)
	}
	if e.vocabSize <= 0 || e.dimension <= 0 {
		return nil, errors.Errorf("Embedding needs positive vocabulary size and dimension, got %d and %d",
			e.vocabSize, e.dimension)
	}
	var err error
	if e.weights != nil {
		dims := e.weights.Dims()
		if len(dims) != 2 || dims[0] != e.vocabSize || dims[1] != e.dimension {
			return nil, errors.Errorf("Embedding weights must be shaped [%d, %d], got %v",
				e.vocabSize, e.dimension, dims)
		}
		e.table, err = ctx.VariableWithValue("embeddings", e.weights.Clone())
	} else {
		e.table, err = ctx.VariableWithShape("embeddings", initializer.Uniform(-0.05, 0.05), e.vocabSize, e.dimension)
	}
	if err != nil {
		return nil, err
	}
	e.table.Trainable = e.trainable
	return []int{inputDims[0], e.dimension}, nil
}

// Forward implements Layer.
func (e *Embedding) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if e.table == nil {
		return nil, errors.New("Embedding.Forward called before Build")
	}
	if x.Rank() != 2 {
		return nil, errors.Errorf("Embedding expects input shaped [batch, seqLen], got %v", x.Dims())
	}
	ids := make([]int, x.Size())
	for ii, v := range x.Data() {
		id := int(v)
		if float64(id) != v || id < 0 || id >= e.vocabSize {
			return nil, errors.Errorf("Embedding: invalid token id %g at position %d, vocabulary size is %d",
				v, ii, e.vocabSize)
		}
		ids[ii] = id
	}
	y := tensors.Zeros(x.Dim(0), x.Dim(1), e.dimension)
	table := e.table.Value.Matrix()
	yData := y.Data()
	for ii, id := range ids {
		copy(yData[ii*e.dimension:(ii+1)*e.dimension], table.RawRowView(id))
	}
	if training {
		e.ids = ids
	}
	return y, nil
}

// Backward implements Layer. The returned gradient with respect to the ids is always zero.
func (e *Embedding) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if e.ids == nil {
		return nil, errors.New("Embedding.Backward called without a previous Forward in training mode")
	}
	if e.table.Trainable {
		gradTable := e.table.Grad.Matrix()
		gradData := grad.Data()
		for ii, id := range e.ids {
			floats.Add(gradTable.RawRowView(id), gradData[ii*e.dimension:(ii+1)*e.dimension])
		}
	}
	batch := grad.Dim(0)
	return tensors.Zeros(batch, len(e.ids)/batch), nil
}

// Variables implements Layer.
func (e *Embedding) Variables() []*context.Variable {
	if e.table == nil {
		return nil
	}
	return []*context.Variable{e.table}
}
