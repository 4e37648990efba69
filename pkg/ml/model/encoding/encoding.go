// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoding defines the types used during the encoding and decoding process of saved model weights.
//
// This is only used for tools handling the saved models themselves.
package encoding

const (
	// Version1 encoding format. The only one for now.
	Version1 = "dlwrap.weights.v1"
)

// Header is the first gob-encoded value of a saved model. It's followed by one EncodedVariable per
// Header.NumVariables.
type Header struct {
	Version      string
	NumVariables int

	// InputDims and OutputDims of the model that was saved, excluding the batch axis.
	InputDims, OutputDims []int
}

// EncodedVariable holds one variable of the model.
type EncodedVariable struct {
	Scope, Name string
	Dims        []int
	Trainable   bool
	Values      []float64
}
