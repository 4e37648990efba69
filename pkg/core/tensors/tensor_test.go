// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestConstructors(t *testing.T) {
	z := Zeros(2, 3)
	assert.Equal(t, []int{2, 3}, z.Dims())
	assert.Equal(t, 6, z.Size())
	assert.Equal(t, 2, z.Rank())
	assert.Equal(t, 3, z.Dim(-1))

	rows, err := FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, rows.Data())
	_, err = FromRows([][]float64{{1, 2}, {3}})
	require.Error(t, err)
	_, err = FromRows(nil)
	require.Error(t, err)

	m := FromMatrix(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	assert.Equal(t, []int{2, 2}, m.Dims())
	assert.Equal(t, []float64{1, 2, 3, 4}, m.Data())

	ids := FromInts([]int32{3, 1, 4, 1, 5, 9}, 2, 3)
	assert.Equal(t, []float64{3, 1, 4, 1, 5, 9}, ids.Data())

	assert.Panics(t, func() { FromFlatData([]float64{1, 2, 3}, 2, 2) })
}

func TestOneHotAndArgmax(t *testing.T) {
	labels, err := OneHot([]int{2, 0, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 1, 0, 0, 0, 1, 0}, labels.Data())
	assert.Equal(t, []int{2, 0, 1}, labels.Argmax())
	_, err = OneHot([]int{3}, 3)
	require.Error(t, err)

	// Ties resolve to the lowest index.
	tie := FromFlatData([]float64{0.5, 0.5, 0.1, 0.2}, 2, 2)
	assert.Equal(t, []int{0, 1}, tie.Argmax())
}

func TestMatrixViewAndGather(t *testing.T) {
	x := FromFlatData([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 3, 2, 2)
	m := x.Matrix()
	r, c := m.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 2, c)
	m.Set(0, 0, 100)
	assert.Equal(t, 100.0, x.Data()[0], "Matrix() must share the data")

	g := x.Gather([]int{2, 0})
	assert.Equal(t, []int{2, 2, 2}, g.Dims())
	assert.Equal(t, []float64{8, 9, 10, 11, 100, 1, 2, 3}, g.Data())
	assert.Equal(t, []float64{4, 5, 6, 7}, x.Row(1))

	flat := x.Reshape(3, 4)
	assert.Equal(t, []int{3, 4}, flat.Dims())
	assert.Panics(t, func() { x.Reshape(5) })

	c2 := x.Clone()
	c2.Data()[0] = -1
	assert.Equal(t, 100.0, x.Data()[0])
	assert.True(t, x.InDelta(x.Clone(), 0))
	assert.False(t, x.InDelta(flat, 0))
	assert.Contains(t, x.String(), "(Float64)[3 2 2]")
}
