// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds a collection of common modeling layers: dense, dropout and embedding. The recurrent
// layer lives in the sub-package lstm and the activations in the sub-package activations.
//
// A Layer is a stage of a sequential model. It is built once, given the dimensions of its input (excluding
// the batch axis), at which point it creates its variables in the context. Afterward, Forward and Backward
// are called once per batch: Backward uses the values cached by the last Forward call made with
// training=true, and accumulates into the gradients of the variables (see context.Variable.Grad).
//
// A small convention on naming: typically layers are nouns (like "Dense", "Dropout", "Embedding").
package layers

import (
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
)

const (
	// ParamDropoutRate context hyperparameter defines the amount of dropout applied by Dropout layers
	// created with DropoutFromContext.
	// Should be a value from `0.0` to `1.0`, where 0 means no dropout, and 1 would drop everything out.
	//
	// The default is `0.0`, which means no dropout.
	ParamDropoutRate = "dropout_rate"
)

// Layer is one stage of a sequential model.
type Layer interface {
	// Name is the base name of the layer type, e.g.: "dense". The model uses it to create the scope of the
	// layer variables.
	Name() string

	// Build creates the variables of the layer in ctx, and returns the output dimensions (excluding the batch
	// axis) for the given input dimensions (also excluding the batch axis).
	Build(ctx *context.Context, inputDims []int) (outputDims []int, err error)

	// Forward computes the output of the layer for a batch x. If training is true, the values needed by Backward
	// are cached, and stochastic layers (Dropout) are enabled.
	Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error)

	// Backward takes the gradient of the loss with respect to the output of the last Forward call, accumulates the
	// gradients of the layer variables, and returns the gradient with respect to the input.
	Backward(grad *tensors.Tensor) (*tensors.Tensor, error)

	// Variables returns the variables created by Build, if any.
	Variables() []*context.Variable
}
