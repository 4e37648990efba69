// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lstm provides a "Long Short-Term Memory RNN" (LSTM) [1] layer.
//
// An LSTM is a type of recurrent neural network that addresses the vanishing gradient problem in vanilla RNNs through
// additional cells, input and output gates. Intuitively, vanishing gradients are solved through additional additive
// components, and forget gate activations, that allow the gradients to flow through the network without vanishing
// as quickly.
//
// The weights are laid out as in Keras: a kernel shaped [featuresSize, 4*units], a recurrent kernel shaped
// [units, 4*units] and biases shaped [4*units], with the gates in the order input (i), forget (f),
// cell candidate (g) and output (o). The forget gate biases start at 1.
//
// Gradients are computed with backpropagation through time over the full sequence.
//
// [1] https://www.bioinf.jku.at/publications/older/2604.pdf, Hochreiter & Schmidhuber, 1997
// [2] https://colah.github.io/posts/2015-08-Understanding-LSTMs/
package lstm

import (
	"math"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/initializer"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LSTM layer. Create it with New, and configure it with its methods before adding it to a model.
//
// Its input is shaped [batchSize, sequenceSize, featuresSize]. Its output is the last hidden state, shaped
// [batchSize, units], or the full sequence of hidden states, shaped [batchSize, sequenceSize, units], if
// ReturnSequences is set.
type LSTM struct {
	units           int
	returnSequences bool

	kernel, recurrentKernel, biases *context.Variable

	// Cached by Forward for Backward. Index t of hs and cs holds the state before step t.
	x      *tensors.Tensor
	xs     []*mat.Dense
	gates  []*mat.Dense
	hs, cs []*mat.Dense
}

var _ layers.Layer = (*LSTM)(nil)

// New creates a new LSTM layer with the given hidden size.
func New(units int) *LSTM {
	return &LSTM{units: units}
}

// ReturnSequences configures whether to output the hidden state of every step, as opposed to only the last one.
// Default is false.
//
// Set it to true when stacking LSTM layers.
func (l *LSTM) ReturnSequences(returnSequences bool) *LSTM {
	l.returnSequences = returnSequences
	return l
}

// IsReturnSequences returns whether the layer outputs the full sequence of hidden states.
func (l *LSTM) IsReturnSequences() bool { return l.returnSequences }

// Units returns the hidden size.
func (l *LSTM) Units() int { return l.units }

// Name implements layers.Layer.
func (l *LSTM) Name() string { return "lstm" }

// Build implements layers.Layer.
func (l *LSTM) Build(ctx *context.Context, inputDims []int) ([]int, error) {
	if len(inputDims) != 2 {
		return nil, errors.Errorf("LSTM expects inputs shaped [batch, sequenceSize, featuresSize], got [batch]+%v",
			inputDims)
	}
	if l.units <= 0 {
		return nil, errors.Errorf("LSTM needs a positive number of units, got %d", l.units)
	}
	featuresSize := inputDims[1]
	var err error
	l.kernel, err = ctx.VariableWithShape("kernel", initializer.GlorotUniform, featuresSize, 4*l.units)
	if err != nil {
		return nil, err
	}
	l.recurrentKernel, err = ctx.VariableWithShape("recurrent_kernel", initializer.Orthogonal(1.0), l.units, 4*l.units)
	if err != nil {
		return nil, err
	}
	l.biases, err = ctx.VariableWithShape("biases", initializer.Zero, 4*l.units)
	if err != nil {
		return nil, err
	}
	// Forget gate biases start at 1.
	floats.AddConst(1, l.biases.Value.Data()[l.units:2*l.units])

	if l.returnSequences {
		return []int{inputDims[0], l.units}, nil
	}
	return []int{l.units}, nil
}

// step extracts x[:, t, :] as a [batchSize, featuresSize] matrix.
func step(x *tensors.Tensor, t int) *mat.Dense {
	batchSize, seqLen, featuresSize := x.Dim(0), x.Dim(1), x.Dim(2)
	xt := mat.NewDense(batchSize, featuresSize, nil)
	data := x.Data()
	for b := range batchSize {
		start := (b*seqLen + t) * featuresSize
		copy(xt.RawRowView(b), data[start:start+featuresSize])
	}
	return xt
}

// Forward implements layers.Layer.
func (l *LSTM) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if l.kernel == nil {
		return nil, errors.New("LSTM.Forward called before Build")
	}
	featuresSize := l.kernel.Value.Dim(0)
	if x.Rank() != 3 || x.Dim(2) != featuresSize {
		return nil, errors.Errorf("LSTM expects input shaped [batch, sequenceSize, %d], got %v",
			featuresSize, x.Dims())
	}
	batchSize, seqLen, u := x.Dim(0), x.Dim(1), l.units
	kernel, recurrent := l.kernel.Value.Matrix(), l.recurrentKernel.Value.Matrix()
	biases := l.biases.Value.Data()

	xs := make([]*mat.Dense, seqLen)
	gates := make([]*mat.Dense, seqLen)
	hs := make([]*mat.Dense, seqLen+1)
	cs := make([]*mat.Dense, seqLen+1)
	hs[0] = mat.NewDense(batchSize, u, nil)
	cs[0] = mat.NewDense(batchSize, u, nil)
	var output *tensors.Tensor
	if l.returnSequences {
		output = tensors.Zeros(batchSize, seqLen, u)
	}

	for t := range seqLen {
		xt := step(x, t)
		z := mat.NewDense(batchSize, 4*u, nil)
		z.Mul(xt, kernel)
		var zh mat.Dense
		zh.Mul(hs[t], recurrent)
		z.Add(z, &zh)
		h := mat.NewDense(batchSize, u, nil)
		c := mat.NewDense(batchSize, u, nil)
		for b := range batchSize {
			row := z.RawRowView(b)
			floats.Add(row, biases)
			cPrev := cs[t].RawRowView(b)
			cRow, hRow := c.RawRowView(b), h.RawRowView(b)
			for j := range u {
				i := activations.Sigmoid(row[j])
				f := activations.Sigmoid(row[u+j])
				g := math.Tanh(row[2*u+j])
				o := activations.Sigmoid(row[3*u+j])
				row[j], row[u+j], row[2*u+j], row[3*u+j] = i, f, g, o
				cRow[j] = f*cPrev[j] + i*g
				hRow[j] = o * math.Tanh(cRow[j])
			}
		}
		xs[t], gates[t], hs[t+1], cs[t+1] = xt, z, h, c
		if output != nil {
			outData := output.Data()
			for b := range batchSize {
				start := (b*seqLen + t) * u
				copy(outData[start:start+u], h.RawRowView(b))
			}
		}
	}
	if training {
		l.x, l.xs, l.gates, l.hs, l.cs = x, xs, gates, hs, cs
	}
	if output != nil {
		return output, nil
	}
	return tensors.FromMatrix(hs[seqLen]), nil
}

// Backward implements layers.Layer.
func (l *LSTM) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if l.x == nil {
		return nil, errors.New("LSTM.Backward called without a previous Forward in training mode")
	}
	batchSize, seqLen, featuresSize, u := l.x.Dim(0), l.x.Dim(1), l.x.Dim(2), l.units
	if l.returnSequences {
		if grad.Rank() != 3 || grad.Dim(0) != batchSize || grad.Dim(1) != seqLen || grad.Dim(2) != u {
			return nil, errors.Errorf("LSTM.Backward: expected gradient shaped [%d, %d, %d], got %v",
				batchSize, seqLen, u, grad.Dims())
		}
	} else if grad.Rank() != 2 || grad.Dim(0) != batchSize || grad.Dim(1) != u {
		return nil, errors.Errorf("LSTM.Backward: expected gradient shaped [%d, %d], got %v", batchSize, u, grad.Dims())
	}
	kernel, recurrent := l.kernel.Value.Matrix(), l.recurrentKernel.Value.Matrix()
	gradData := grad.Data()

	dx := tensors.Zeros(batchSize, seqLen, featuresSize)
	dxData := dx.Data()
	dh := mat.NewDense(batchSize, u, nil)
	dc := mat.NewDense(batchSize, u, nil)
	if !l.returnSequences {
		dh.Copy(grad.Matrix())
	}
	gradKernel := mat.NewDense(featuresSize, 4*u, nil)
	gradRecurrent := mat.NewDense(u, 4*u, nil)
	gradBiases := make([]float64, 4*u)

	for t := seqLen - 1; t >= 0; t-- {
		if l.returnSequences {
			for b := range batchSize {
				start := (b*seqLen + t) * u
				floats.Add(dh.RawRowView(b), gradData[start:start+u])
			}
		}
		dz := mat.NewDense(batchSize, 4*u, nil)
		for b := range batchSize {
			gRow := l.gates[t].RawRowView(b)
			cRow, cPrev := l.cs[t+1].RawRowView(b), l.cs[t].RawRowView(b)
			dhRow, dcRow, dzRow := dh.RawRowView(b), dc.RawRowView(b), dz.RawRowView(b)
			for j := range u {
				i, f, g, o := gRow[j], gRow[u+j], gRow[2*u+j], gRow[3*u+j]
				tanhC := math.Tanh(cRow[j])
				dcT := dcRow[j] + dhRow[j]*o*(1-tanhC*tanhC)
				dzRow[j] = dcT * g * i * (1 - i)
				dzRow[u+j] = dcT * cPrev[j] * f * (1 - f)
				dzRow[2*u+j] = dcT * i * (1 - g*g)
				dzRow[3*u+j] = dhRow[j] * tanhC * o * (1 - o)
				// Gradient flowing to the previous cell state.
				dcRow[j] = dcT * f
			}
			floats.Add(gradBiases, dzRow)
		}
		var tmp mat.Dense
		tmp.Mul(l.xs[t].T(), dz)
		gradKernel.Add(gradKernel, &tmp)
		var tmpRecurrent mat.Dense
		tmpRecurrent.Mul(l.hs[t].T(), dz)
		gradRecurrent.Add(gradRecurrent, &tmpRecurrent)

		var dxt mat.Dense
		dxt.Mul(dz, kernel.T())
		for b := range batchSize {
			start := (b*seqLen + t) * featuresSize
			copy(dxData[start:start+featuresSize], dxt.RawRowView(b))
		}
		dh.Mul(dz, recurrent.T())
	}

	if l.kernel.Trainable {
		k := l.kernel.Grad.Matrix()
		k.Add(k, gradKernel)
	}
	if l.recurrentKernel.Trainable {
		r := l.recurrentKernel.Grad.Matrix()
		r.Add(r, gradRecurrent)
	}
	if l.biases.Trainable {
		floats.Add(l.biases.Grad.Data(), gradBiases)
	}
	return dx, nil
}

// Variables implements layers.Layer.
func (l *LSTM) Variables() []*context.Variable {
	if l.kernel == nil {
		return nil
	}
	return []*context.Variable{l.kernel, l.recurrentKernel, l.biases}
}
