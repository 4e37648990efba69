// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package data holds tools to preprocess the features before they are fed to a model.
package data

import (
	"io"
	"math"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Normalization calculates the normalization parameters `mean` and `stddev` of the inputs yielded by the
// given dataset. Each feature (the last axis) gets its own normalization, all the other axes are reduced.
//
// The dataset is read until io.EOF and is not reset.
//
// These values can later be used for normalization with Normalize. Notice for any feature that happens to
// be constant, the `stddev` will be 0: Normalize replaces those by 1, see ReplaceZerosByOnes.
func Normalization(ds train.Dataset) (mean, stddev *tensors.Tensor, err error) {
	var count float64
	var sum, sumSquare, squares []float64
	for batchNum := 0; ; batchNum++ {
		var inputs *tensors.Tensor
		inputs, _, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "while reading batch #%d of the dataset", batchNum)
		}
		if inputs.Rank() == 0 {
			return nil, nil, errors.Errorf("Normalization requires inputs with a features axis, got a scalar")
		}
		numFeatures := inputs.Dim(-1)
		if sum == nil {
			sum = make([]float64, numFeatures)
			sumSquare = make([]float64, numFeatures)
			squares = make([]float64, numFeatures)
		} else if numFeatures != len(sum) {
			return nil, nil, errors.Errorf("batch #%d has %d features, previous batches had %d",
				batchNum, numFeatures, len(sum))
		}
		data := inputs.Data()
		for start := 0; start < len(data); start += numFeatures {
			row := data[start : start+numFeatures]
			floats.Add(sum, row)
			floats.MulTo(squares, row, row)
			floats.Add(sumSquare, squares)
			count++
		}
	}
	if count == 0 {
		return nil, nil, errors.Errorf("Normalization of dataset %q: no examples", ds.Name())
	}

	numFeatures := len(sum)
	mean = tensors.Zeros(numFeatures)
	stddev = tensors.Zeros(numFeatures)
	for ii := range numFeatures {
		m := sum[ii] / count
		mean.Data()[ii] = m
		// Rounding can make the variance of constant features slightly negative.
		stddev.Data()[ii] = math.Sqrt(max(sumSquare[ii]/count-m*m, 0))
	}
	return mean, stddev, nil
}

// ReplaceZerosByOnes returns a copy of x where any zero values are replaced by one.
// This is useful if normalizing a value with a standard deviation (`stddev`) that has zeros.
func ReplaceZerosByOnes(x *tensors.Tensor) *tensors.Tensor {
	x = x.Clone()
	for ii, v := range x.Data() {
		if v == 0 {
			x.Data()[ii] = 1
		}
	}
	return x
}

// Normalize returns (x - mean) / stddev, applied to each feature (the last axis) of x.
// Zeros in stddev are taken as 1.
func Normalize(x, mean, stddev *tensors.Tensor) (*tensors.Tensor, error) {
	if x.Rank() == 0 {
		return nil, errors.Errorf("Normalize requires inputs with a features axis, got a scalar")
	}
	if mean.Rank() != 1 || stddev.Rank() != 1 || mean.Dim(0) != x.Dim(-1) || stddev.Dim(0) != x.Dim(-1) {
		return nil, errors.Errorf("Normalize: x%v requires mean and stddev shaped [%d], got mean%v and stddev%v",
			x.Dims(), x.Dim(-1), mean.Dims(), stddev.Dims())
	}
	stddev = ReplaceZerosByOnes(stddev)
	normalized := x.Clone()
	data := normalized.Data()
	numFeatures := mean.Dim(0)
	for start := 0; start < len(data); start += numFeatures {
		row := data[start : start+numFeatures]
		floats.Sub(row, mean.Data())
		floats.Div(row, stddev.Data())
	}
	return normalized, nil
}
