// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provides generic slice utilities missing from the standard slices package, and a flag
// for lists of values.
package xslices

import (
	"flag"
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// Map executes the given function sequentially for every element of in, and returns the mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// MapErr is like Map, but fn may fail: it returns the first error.
func MapErr[In, Out any](in []In, fn func(e In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(in))
	for ii, e := range in {
		var err error
		out[ii], err = fn(e)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Iota returns a slice of incremental values, starting with start and of the given length.
// E.g.: Iota(3, 2) -> []int{3, 4}
func Iota[T constraints.Integer | constraints.Float](start T, length int) []T {
	slice := make([]T, length)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return slice
}

// Flag creates a flag for []T, given as comma-separated values, with the given name, usage and default value.
// parserFn parses each individual value.
func Flag[T any](name string, defaultValue []T, usage string, parserFn func(valueStr string) (T, error)) *[]T {
	f := &sliceFlag[T]{values: defaultValue, parserFn: parserFn}
	flag.Var(f, name, usage)
	return &f.values
}

// sliceFlag implements flag.Value for a list of T.
type sliceFlag[T any] struct {
	values   []T
	parserFn func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(Map(f.values, func(v T) string { return fmt.Sprint(v) }), ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	if listStr == "" {
		f.values = nil
		return nil
	}
	values, err := MapErr(strings.Split(listStr, ","), f.parserFn)
	if err != nil {
		return err
	}
	f.values = values
	return nil
}
