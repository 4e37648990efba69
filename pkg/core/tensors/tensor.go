// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a dense multidimensional array of float64 stored in row-major order.
//
// Tensors are what flows between the stages of a model: batches of features, labels, activations and
// gradients. The leading axis is always the batch (example) axis.
//
// There are various ways to construct a Tensor from local data:
//
//   - Zeros(dimensions ...int): a tensor with the given dimensions filled with zeros.
//   - FromFlatData(data []float64, dimensions ...int): wraps the flat data (no copy).
//   - FromRows(rows [][]float64): copies a regular 2D slice.
//   - FromMatrix(m mat.Matrix): copies a gonum matrix.
//   - FromInts(values []T, dimensions ...int): converts integer values (e.g. token ids).
//   - OneHot(classes []int, numClasses int): one-hot encodes class indices.
//
// Tensor.Matrix returns a gonum *mat.Dense view that collapses all leading axes into rows and uses the
// last axis as columns. Layers use it to do their math with gonum while keeping the tensor shape.
package tensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense multidimensional array of float64.
type Tensor struct {
	dims []int
	data []float64
}

func sizeOf(dims []int) int {
	size := 1
	for _, d := range dims {
		size *= d
	}
	return size
}

// Zeros creates a tensor with the given dimensions filled with zeros.
func Zeros(dimensions ...int) *Tensor {
	for _, d := range dimensions {
		if d < 0 {
			exceptions.Panicf("tensors.Zeros: negative dimension in %v", dimensions)
		}
	}
	return &Tensor{
		dims: slices.Clone(dimensions),
		data: make([]float64, sizeOf(dimensions)),
	}
}

// FromFlatData creates a tensor with the given dimensions, backed by data. The data is not copied.
//
// It panics if len(data) doesn't match the dimensions.
func FromFlatData(data []float64, dimensions ...int) *Tensor {
	if len(data) != sizeOf(dimensions) {
		exceptions.Panicf("tensors.FromFlatData: data has %d elements, dimensions %v require %d",
			len(data), dimensions, sizeOf(dimensions))
	}
	return &Tensor{dims: slices.Clone(dimensions), data: data}
}

// FromRows copies a regular 2D slice into a tensor shaped [len(rows), len(rows[0])].
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, errors.New("tensors.FromRows: no rows given")
	}
	cols := len(rows[0])
	t := Zeros(len(rows), cols)
	for ii, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("tensors.FromRows: row #%d has %d columns, row #0 has %d", ii, len(row), cols)
		}
		copy(t.data[ii*cols:], row)
	}
	return t, nil
}

// FromMatrix copies the contents of a gonum matrix into a tensor shaped [rows, cols].
func FromMatrix(m mat.Matrix) *Tensor {
	rows, cols := m.Dims()
	t := Zeros(rows, cols)
	t.Matrix().Copy(m)
	return t
}

// FromInts converts integer values (e.g. token ids or class indices) to a tensor with the given dimensions.
func FromInts[T constraints.Integer](values []T, dimensions ...int) *Tensor {
	data := make([]float64, len(values))
	for ii, v := range values {
		data[ii] = float64(v)
	}
	return FromFlatData(data, dimensions...)
}

// OneHot encodes the class indices as a tensor shaped [len(classes), numClasses].
func OneHot(classes []int, numClasses int) (*Tensor, error) {
	t := Zeros(len(classes), numClasses)
	for ii, c := range classes {
		if c < 0 || c >= numClasses {
			return nil, errors.Errorf("tensors.OneHot: class %d of example #%d out of range [0, %d)", c, ii, numClasses)
		}
		t.data[ii*numClasses+c] = 1
	}
	return t, nil
}

// Dims returns a copy of the tensor dimensions.
func (t *Tensor) Dims() []int {
	return slices.Clone(t.dims)
}

// Dim returns the dimension of the given axis. Negative values count from the end.
func (t *Tensor) Dim(axis int) int {
	if axis < 0 {
		axis += len(t.dims)
	}
	if axis < 0 || axis >= len(t.dims) {
		exceptions.Panicf("tensors.Dim(%d): tensor has rank %d", axis, len(t.dims))
	}
	return t.dims[axis]
}

// Rank is the number of axes.
func (t *Tensor) Rank() int {
	return len(t.dims)
}

// Size is the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the underlying flat data. Changes to it are reflected in the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{dims: slices.Clone(t.dims), data: slices.Clone(t.data)}
}

// Reshape returns a tensor sharing the same data with new dimensions.
// It panics if the total size differs.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	if sizeOf(dimensions) != len(t.data) {
		exceptions.Panicf("tensors.Reshape: cannot reshape %v (size %d) to %v", t.dims, len(t.data), dimensions)
	}
	return &Tensor{dims: slices.Clone(dimensions), data: t.data}
}

// Matrix returns a gonum view of the tensor: the last axis gives the columns, all leading axes are
// collapsed into rows. A scalar is a 1x1 matrix and a vector is a single row.
//
// The view shares the data with the tensor.
func (t *Tensor) Matrix() *mat.Dense {
	cols := 1
	if len(t.dims) > 0 {
		cols = t.dims[len(t.dims)-1]
	}
	rows := 1
	if cols > 0 {
		rows = len(t.data) / cols
	}
	return mat.NewDense(rows, cols, t.data)
}

// Row returns the flat data of example idx (along the leading axis), sharing the data.
func (t *Tensor) Row(idx int) []float64 {
	stride := len(t.data) / t.dims[0]
	return t.data[idx*stride : (idx+1)*stride]
}

// Gather returns a new tensor with the examples (leading axis) selected by indices, in that order.
func (t *Tensor) Gather(indices []int) *Tensor {
	dims := slices.Clone(t.dims)
	dims[0] = len(indices)
	out := Zeros(dims...)
	stride := 0
	if t.dims[0] > 0 {
		stride = len(t.data) / t.dims[0]
	}
	for ii, idx := range indices {
		copy(out.data[ii*stride:(ii+1)*stride], t.data[idx*stride:(idx+1)*stride])
	}
	return out
}

// Argmax returns the index of the largest value of the last axis, for each row of Tensor.Matrix.
// Ties resolve to the lowest index.
func (t *Tensor) Argmax() []int {
	m := t.Matrix()
	rows, _ := m.Dims()
	result := make([]int, rows)
	for r := range rows {
		result[r] = floats.MaxIdx(m.RawRowView(r))
	}
	return result
}

// Fill sets all elements to value.
func (t *Tensor) Fill(value float64) {
	for ii := range t.data {
		t.data[ii] = value
	}
}

// InDelta returns whether both tensors have the same dimensions and all values are within delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !slices.Equal(t.dims, other.dims) {
		return false
	}
	return floats.EqualApprox(t.data, other.data, delta)
}

// String implements fmt.Stringer. Large tensors are excerpted.
func (t *Tensor) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "(Float64)%v", t.dims)
	if len(t.data) == 0 {
		return sb.String()
	}
	_, _ = fmt.Fprintf(&sb, "\n%v", mat.Formatted(t.Matrix(), mat.Excerpt(4), mat.Squeeze()))
	return sb.String()
}
