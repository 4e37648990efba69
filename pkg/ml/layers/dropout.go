// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/pkg/errors"
)

// Dropout randomly replaces the input with zeros when training, and scales the kept values by
// 1/(1-rate) to preserve the mean of the input values. When not training it is a no-op.
type Dropout struct {
	rate float64
	rng  *rand.Rand
	mask []float64
}

var _ Layer = (*Dropout)(nil)

// NewDropout creates a Dropout layer. The rate must be in [0, 1].
func NewDropout(rate float64) *Dropout {
	return &Dropout{rate: rate}
}

// DropoutFromContext creates a Dropout layer with the rate given by the context parameter ParamDropoutRate.
func DropoutFromContext(ctx *context.Context) *Dropout {
	return NewDropout(context.GetParamOr(ctx, ParamDropoutRate, 0.0))
}

// Name implements Layer.
func (d *Dropout) Name() string { return "dropout" }

// Rate returns the dropout rate.
func (d *Dropout) Rate() float64 { return d.rate }

// Build implements Layer.
func (d *Dropout) Build(ctx *context.Context, inputDims []int) ([]int, error) {
	if d.rate < 0 || d.rate > 1 {
		return nil, errors.Errorf("dropout rate must be in [0, 1], got %g", d.rate)
	}
	d.rng = ctx.RNG()
	return append([]int{}, inputDims...), nil
}

// Forward implements Layer.
func (d *Dropout) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if !training || d.rate <= 0 {
		d.mask = nil
		return x, nil
	}
	y := tensors.Zeros(x.Dims()...)
	d.mask = make([]float64, x.Size())
	if d.rate >= 1 {
		return y, nil
	}
	scale := 1 / (1 - d.rate)
	yData := y.Data()
	for ii, v := range x.Data() {
		if d.rng.Float64() >= d.rate {
			d.mask[ii] = scale
			yData[ii] = v * scale
		}
	}
	return y, nil
}

// Backward implements Layer.
func (d *Dropout) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if d.mask == nil {
		return grad, nil
	}
	if len(d.mask) != grad.Size() {
		return nil, errors.Errorf("Dropout.Backward: gradient dimensions %v don't match the last Forward", grad.Dims())
	}
	dx := tensors.Zeros(grad.Dims()...)
	dxData := dx.Data()
	for ii, g := range grad.Data() {
		dxData[ii] = g * d.mask[ii]
	}
	return dx, nil
}

// Variables implements Layer. Dropout has no variables.
func (d *Dropout) Variables() []*context.Variable { return nil }
