// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements several common activations, each with its derivative, and a Registry to
// look them up by name.
//
// The built-in names follow the usual Keras naming: `linear` (also `none` or ""), `relu`, `sigmoid`, `tanh`,
// `softmax`, `softplus`, `softsign`, `selu`, `elu`, `exponential`, `hard_sigmoid`, `leaky_relu` and `gelu`.
//
// Custom activations (e.g.: Swish) are added to a Registry with Registry.Register. Each Registry is
// independent: registering an activation in one doesn't affect any other.
package activations

import (
	"math"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
)

// Activation transforms the output of a stage, and knows how to back-propagate through it.
type Activation interface {
	// Name of the activation, used to find it in a Registry.
	Name() string

	// Forward returns the activation of x, a new tensor with the same dimensions.
	Forward(x *tensors.Tensor) *tensors.Tensor

	// Backward returns the gradient with respect to x, given x, the output y = Forward(x) and
	// the gradient with respect to y.
	Backward(x, y, grad *tensors.Tensor) *tensors.Tensor
}

// Elementwise is an Activation applied independently to each element.
type Elementwise struct {
	ActivationName string

	// Fn computes the activation of x.
	Fn func(x float64) float64

	// Derivative returns dFn(x)/dx. It is given both x and y = Fn(x), so it can use whichever is cheaper.
	Derivative func(x, y float64) float64
}

// Name implements Activation.
func (e *Elementwise) Name() string { return e.ActivationName }

// Forward implements Activation.
func (e *Elementwise) Forward(x *tensors.Tensor) *tensors.Tensor {
	y := tensors.Zeros(x.Dims()...)
	yData := y.Data()
	for ii, v := range x.Data() {
		yData[ii] = e.Fn(v)
	}
	return y
}

// Backward implements Activation.
func (e *Elementwise) Backward(x, y, grad *tensors.Tensor) *tensors.Tensor {
	dx := tensors.Zeros(x.Dims()...)
	dxData, yData, gradData := dx.Data(), y.Data(), grad.Data()
	for ii, v := range x.Data() {
		dxData[ii] = gradData[ii] * e.Derivative(v, yData[ii])
	}
	return dx
}

var _ Activation = (*Elementwise)(nil)

// Sigmoid returns 1/(1+e^{-x}), computed in a numerically stable way.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

const (
	SeluAlpha = 1.6732632423543772848170429916717
	SeluScale = 1.0507009873554804934193349852946

	// LeakyReluAlpha is the slope used for negative values by "leaky_relu".
	LeakyReluAlpha = 0.3
)

var (
	// Linear (aka. "none") is the identity.
	Linear = &Elementwise{"linear",
		func(x float64) float64 { return x },
		func(_, _ float64) float64 { return 1 }}

	// Relu returns max(x, 0).
	Relu = &Elementwise{"relu",
		func(x float64) float64 { return max(x, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		}}

	// SigmoidActivation wraps Sigmoid.
	SigmoidActivation = &Elementwise{"sigmoid",
		Sigmoid,
		func(_, y float64) float64 { return y * (1 - y) }}

	// Tanh is the hyperbolic tangent.
	Tanh = &Elementwise{"tanh",
		math.Tanh,
		func(_, y float64) float64 { return 1 - y*y }}

	// Softplus returns log(1+e^x).
	Softplus = &Elementwise{"softplus",
		func(x float64) float64 { return math.Log1p(math.Exp(-math.Abs(x))) + max(x, 0) },
		func(x, _ float64) float64 { return Sigmoid(x) }}

	// Softsign returns x/(1+|x|).
	Softsign = &Elementwise{"softsign",
		func(x float64) float64 { return x / (1 + math.Abs(x)) },
		func(x, _ float64) float64 {
			d := 1 + math.Abs(x)
			return 1 / (d * d)
		}}

	// Selu stands for Scaled Exponential Linear Unit:
	// SeluScale * x if x > 0, SeluScale * SeluAlpha * (e^x - 1) otherwise.
	Selu = &Elementwise{"selu",
		func(x float64) float64 {
			if x > 0 {
				return SeluScale * x
			}
			return SeluScale * SeluAlpha * math.Expm1(x)
		},
		func(x, y float64) float64 {
			if x > 0 {
				return SeluScale
			}
			return y + SeluScale*SeluAlpha
		}}

	// Elu returns x if x > 0, e^x - 1 otherwise.
	Elu = &Elementwise{"elu",
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Expm1(x)
		},
		func(x, y float64) float64 {
			if x > 0 {
				return 1
			}
			return y + 1
		}}

	// Exponential returns e^x.
	Exponential = &Elementwise{"exponential",
		math.Exp,
		func(_, y float64) float64 { return y }}

	// HardSigmoid is a piecewise linear approximation of the sigmoid: clip(0.2*x+0.5, 0, 1).
	HardSigmoid = &Elementwise{"hard_sigmoid",
		func(x float64) float64 { return min(max(0.2*x+0.5, 0), 1) },
		func(x, _ float64) float64 {
			if x > -2.5 && x < 2.5 {
				return 0.2
			}
			return 0
		}}

	// LeakyRelu returns x if x >= 0, LeakyReluAlpha*x otherwise.
	LeakyRelu = &Elementwise{"leaky_relu",
		func(x float64) float64 {
			if x >= 0 {
				return x
			}
			return LeakyReluAlpha * x
		},
		func(x, _ float64) float64 {
			if x >= 0 {
				return 1
			}
			return LeakyReluAlpha
		}}

	// Gelu is defined as Gelu(x) = x * Φ(x), where Φ(x) = 0.5 * (1 + Erf(x / √2)).
	Gelu = &Elementwise{"gelu",
		func(x float64) float64 { return x * 0.5 * (1 + math.Erf(x/math.Sqrt2)) },
		func(x, _ float64) float64 {
			cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
			pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
			return cdf + x*pdf
		}}

	// Swish activation (or SiLU) returns `x * Sigmoid(x)`.
	//
	// It is not part of the built-in activations: it has to be added to a Registry explicitly.
	Swish = &Elementwise{"swish",
		func(x float64) float64 { return x * Sigmoid(x) },
		func(x, y float64) float64 {
			s := Sigmoid(x)
			return y + s*(1-y)
		}}
)

// Softmax normalizes the last axis into a probability distribution.
var Softmax Activation = softmax{}

type softmax struct{}

func (softmax) Name() string { return "softmax" }

func (softmax) Forward(x *tensors.Tensor) *tensors.Tensor {
	y := x.Clone()
	m := y.Matrix()
	rows, _ := m.Dims()
	for r := range rows {
		row := m.RawRowView(r)
		maxValue := slices.Max(row)
		sum := 0.0
		for ii, v := range row {
			row[ii] = math.Exp(v - maxValue)
			sum += row[ii]
		}
		for ii := range row {
			row[ii] /= sum
		}
	}
	return y
}

// Backward uses dx_i = y_i * (g_i - Σ_j g_j*y_j).
func (softmax) Backward(_, y, grad *tensors.Tensor) *tensors.Tensor {
	dx := tensors.Zeros(y.Dims()...)
	ym, gm, dxm := y.Matrix(), grad.Matrix(), dx.Matrix()
	rows, _ := ym.Dims()
	for r := range rows {
		yRow, gRow, dxRow := ym.RawRowView(r), gm.RawRowView(r), dxm.RawRowView(r)
		dot := 0.0
		for ii := range yRow {
			dot += yRow[ii] * gRow[ii]
		}
		for ii := range yRow {
			dxRow[ii] = yRow[ii] * (gRow[ii] - dot)
		}
	}
	return dx
}
