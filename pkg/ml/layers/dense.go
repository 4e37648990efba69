// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/initializer"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a learnable linear transformation plus an optional bias term, followed by an activation.
//
// If the input has shape `[<batch dimensions...>, featureDimension]`, the output will have
// shape `[<batch dimensions...>, units]`.
type Dense struct {
	units      int
	activation activations.Activation
	useBias    bool

	weights, biases *context.Variable

	// Cached by Forward for Backward.
	x, z, y *tensors.Tensor
}

var _ Layer = (*Dense)(nil)

// NewDense creates a Dense layer with the given number of output units. A nil activation means linear.
func NewDense(units int, activation activations.Activation) *Dense {
	if activation == nil {
		activation = activations.Linear
	}
	return &Dense{units: units, activation: activation, useBias: true}
}

// UseBias configures whether to add a bias term. Default is true.
func (d *Dense) UseBias(useBias bool) *Dense {
	d.useBias = useBias
	return d
}

// Name implements Layer.
func (d *Dense) Name() string { return "dense" }

// Units returns the number of output units.
func (d *Dense) Units() int { return d.units }

// Activation returns the activation applied to the output.
func (d *Dense) Activation() activations.Activation { return d.activation }

// Build implements Layer.
func (d *Dense) Build(ctx *context.Context, inputDims []int) ([]int, error) {
	if len(inputDims) == 0 {
		return nil, errors.Errorf("input for Dense needs to have rank >= 1 (excluding the batch axis), got %v", inputDims)
	}
	if d.units <= 0 {
		return nil, errors.Errorf("Dense needs a positive number of units, got %d", d.units)
	}
	var err error
	featureDim := inputDims[len(inputDims)-1]
	d.weights, err = ctx.VariableWithShape("weights", initializer.GlorotUniform, featureDim, d.units)
	if err != nil {
		return nil, err
	}
	if d.useBias {
		d.biases, err = ctx.VariableWithShape("biases", initializer.Zero, d.units)
		if err != nil {
			return nil, err
		}
	}
	outputDims := append([]int{}, inputDims...)
	outputDims[len(outputDims)-1] = d.units
	return outputDims, nil
}

// Forward implements Layer.
func (d *Dense) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if d.weights == nil {
		return nil, errors.New("Dense.Forward called before Build")
	}
	featureDim := d.weights.Value.Dim(0)
	if x.Rank() < 2 || x.Dim(-1) != featureDim {
		return nil, errors.Errorf("Dense expects input shaped [batch..., %d], got %v", featureDim, x.Dims())
	}
	outDims := x.Dims()
	outDims[len(outDims)-1] = d.units
	z := tensors.Zeros(outDims...)
	zm := z.Matrix()
	zm.Mul(x.Matrix(), d.weights.Value.Matrix())
	if d.useBias {
		rows, _ := zm.Dims()
		bias := d.biases.Value.Data()
		for r := range rows {
			floats.Add(zm.RawRowView(r), bias)
		}
	}
	y := d.activation.Forward(z)
	if training {
		d.x, d.z, d.y = x, z, y
	}
	return y, nil
}

// Backward implements Layer.
func (d *Dense) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if d.x == nil {
		return nil, errors.New("Dense.Backward called without a previous Forward in training mode")
	}
	dz := d.activation.Backward(d.z, d.y, grad)
	dzm := dz.Matrix()
	if d.weights.Trainable {
		var gw mat.Dense
		gw.Mul(d.x.Matrix().T(), dzm)
		wGrad := d.weights.Grad.Matrix()
		wGrad.Add(wGrad, &gw)
	}
	if d.useBias && d.biases.Trainable {
		rows, _ := dzm.Dims()
		bGrad := d.biases.Grad.Data()
		for r := range rows {
			floats.Add(bGrad, dzm.RawRowView(r))
		}
	}
	dx := tensors.Zeros(d.x.Dims()...)
	dx.Matrix().Mul(dzm, d.weights.Value.Matrix().T())
	return dx, nil
}

// Variables implements Layer.
func (d *Dense) Variables() []*context.Variable {
	if d.weights == nil {
		return nil
	}
	if d.biases == nil {
		return []*context.Variable{d.weights}
	}
	return []*context.Variable{d.weights, d.biases}
}
