// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer provides the functions used to set the initial values of variables.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer returns a new tensor with the given dimensions, drawing any random values from rng.
type Initializer func(rng *rand.Rand, dims []int) *tensors.Tensor

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(_ *rand.Rand, dims []int) *tensors.Tensor {
		return tensors.Zeros(dims...)
	}

	// One initializes variables with one.
	One Initializer = func(_ *rand.Rand, dims []int) *tensors.Tensor {
		t := tensors.Zeros(dims...)
		t.Fill(1)
		return t
	}
)

// Constant initializes all values with value.
func Constant(value float64) Initializer {
	return func(_ *rand.Rand, dims []int) *tensors.Tensor {
		t := tensors.Zeros(dims...)
		t.Fill(value)
		return t
	}
}

func sample(dist interface{ Rand() float64 }, dims []int) *tensors.Tensor {
	t := tensors.Zeros(dims...)
	data := t.Data()
	for ii := range data {
		data[ii] = dist.Rand()
	}
	return t
}

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor {
		return sample(distuv.Uniform{Min: minValue, Max: maxValue, Src: rng}, dims)
	}
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(stddev float64) Initializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor {
		return sample(distuv.Normal{Mu: 0, Sigma: stddev, Src: rng}, dims)
	}
}

// GlorotUniform draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(6 / (fan_in + fan_out))`.
//
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *rand.Rand, dims []int) *tensors.Tensor {
	if len(dims) <= 1 {
		return tensors.Zeros(dims...)
	}
	fanIn, fanOut := computeFanInFanOut(dims)
	limit := math.Sqrt(6.0 / max(1.0, float64(fanIn+fanOut)))
	return Uniform(-limit, limit)(rng, dims)
}

// computeFanInFanOut of a variable expected to be a kernel of shape [..., fanIn, fanOut].
func computeFanInFanOut(dims []int) (fanIn, fanOut int) {
	rank := len(dims)
	switch rank {
	case 0:
		return 1, 1
	case 1:
		return 0, 0
	}
	receptiveFieldSize := 1
	for _, dim := range dims[:rank-2] {
		receptiveFieldSize *= dim
	}
	return dims[rank-2] * receptiveFieldSize, dims[rank-1] * receptiveFieldSize
}

// Orthogonal returns an initializer of a 2D kernel whose rows (or columns, whichever are fewer) are
// orthonormal, scaled by gain. It is the usual choice for recurrent kernels.
//
// Shapes other than rank 2 fall back to GlorotUniform.
func Orthogonal(gain float64) Initializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor {
		if len(dims) != 2 {
			return GlorotUniform(rng, dims)
		}
		rows, cols := dims[0], dims[1]
		n, m := max(rows, cols), min(rows, cols)
		a := Normal(1.0)(rng, []int{n, m}).Matrix()
		var qr mat.QR
		qr.Factorize(a)
		var q mat.Dense
		qr.QTo(&q)
		// Fix the signs so the decomposition is unique, as in Saxe et al.
		var r mat.Dense
		qr.RTo(&r)
		result := tensors.Zeros(rows, cols)
		out := result.Matrix()
		for ii := range n {
			for jj := range m {
				v := q.At(ii, jj) * gain
				if r.At(jj, jj) < 0 {
					v = -v
				}
				if rows >= cols {
					out.Set(ii, jj, v)
				} else {
					out.Set(jj, ii, v)
				}
			}
		}
		return result
	}
}
