// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config validates the named options of the model wrappers and of the training driver, before
// anything is built or allocated.
//
// Options are given as a `map[string]any` (e.g.: decoded from a TOML file with LoadTOML) and checked against
// a Schema: each option has a Kind, may be required, and may have a range Check. Validation is exhaustive:
// all problems are reported at once in a *ValidationError, whose Unwrap method exposes the individual
// *MissingOptionError, *TypeMismatchError and *RangeError.
//
// The typed configurations (DNNConfig, LSTMConfig, TrainConfig and EvalConfig) are built from validated
// options with DecodeDNN, DecodeLSTM, DecodeTrain and DecodeEval.
package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Kind is the semantic type of an option.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	KindIntList
	KindStringList
	KindMatrix
)

var kindNames = map[Kind]string{
	KindString:     "string",
	KindFloat:      "float",
	KindInt:        "int",
	KindBool:       "bool",
	KindIntList:    "list of ints",
	KindStringList: "list of strings",
	KindMatrix:     "matrix",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, found := kindNames[k]; found {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Rule for one option of a Schema.
type Rule struct {
	Kind     Kind
	Required bool

	// Check, if set, is called with the value converted to its canonical Go type: string, float64, int, bool,
	// []int, []string or *mat.Dense. It returns an error describing the constraint if the value is out of range.
	Check func(value any) error
}

// Schema maps option names to their rules.
type Schema map[string]Rule

// MissingOptionError is returned when a required option is absent.
type MissingOptionError struct {
	Option string
}

func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("missing required option %q", e.Option)
}

// TypeMismatchError is returned when an option is present but holds a value of the wrong type.
type TypeMismatchError struct {
	Option   string
	Expected Kind
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("option %q must be of type %s, got %s", e.Option, e.Expected, e.Got)
}

// RangeError is returned when an option has the right type but a value outside its allowed range.
type RangeError struct {
	Option     string
	Value      any
	Constraint string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("option %q=%v is invalid: %s", e.Option, e.Value, e.Constraint)
}

// ValidationError aggregates all the problems found in a set of options, sorted by option name.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for ii, err := range e.Errors {
		parts[ii] = err.Error()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Unwrap allows errors.Is and errors.As to find the individual errors.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// Validate checks options against the schema: every required option must be present, and every option in
// the schema that is present must have the right Kind and satisfy its Check.
//
// It returns nil or a *ValidationError with all the problems found. Options not in the schema are ignored,
// with a warning.
func Validate(schema Schema, options map[string]any) error {
	_, err := validate(schema, options)
	return err
}

// validate implements Validate, and also returns the present options converted to their canonical types.
func validate(schema Schema, options map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(schema))
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(schema)) {
		rule := schema[name]
		raw, found := options[name]
		if !found || isNil(raw) {
			if rule.Required {
				errs = append(errs, &MissingOptionError{Option: name})
			}
			continue
		}
		value, ok := canonical(rule.Kind, raw)
		if !ok {
			errs = append(errs, &TypeMismatchError{Option: name, Expected: rule.Kind, Got: fmt.Sprintf("%T", raw)})
			continue
		}
		if rule.Check != nil {
			if err := rule.Check(value); err != nil {
				errs = append(errs, &RangeError{Option: name, Value: raw, Constraint: err.Error()})
				continue
			}
		}
		values[name] = value
	}
	for name := range options {
		if _, found := schema[name]; !found {
			klog.Warningf("unknown option %q ignored", name)
		}
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return values, nil
}

// isNil returns whether value is nil, including typed nil pointers of matrices.
func isNil(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case *mat.Dense:
		return v == nil
	case *tensors.Tensor:
		return v == nil
	}
	return false
}

// canonical converts value to the canonical Go type of kind. It returns false if value is not of that kind.
// Conversions are strict: an int is not a float, and a float is not an int.
func canonical(kind Kind, value any) (any, bool) {
	switch kind {
	case KindString:
		v, ok := value.(string)
		return v, ok
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
	case KindInt:
		return toInt(value)
	case KindBool:
		v, ok := value.(bool)
		return v, ok
	case KindIntList:
		switch v := value.(type) {
		case []int:
			return slices.Clone(v), true
		case []int64:
			return convertList(v, toInt)
		case []int32:
			return convertList(v, toInt)
		case []any:
			return convertList(v, toInt)
		}
	case KindStringList:
		switch v := value.(type) {
		case []string:
			return slices.Clone(v), true
		case []any:
			return convertList(v, func(e any) (string, bool) {
				s, ok := e.(string)
				return s, ok
			})
		}
	case KindMatrix:
		return toMatrix(value)
	}
	return nil, false
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case int16:
		return int(v), true
	case int8:
		return int(v), true
	}
	return 0, false
}

func convertList[E, T any](values []E, convert func(any) (T, bool)) ([]T, bool) {
	result := make([]T, len(values))
	for ii, e := range values {
		var ok bool
		result[ii], ok = convert(e)
		if !ok {
			return nil, false
		}
	}
	return result, true
}

func toMatrix(value any) (*mat.Dense, bool) {
	switch v := value.(type) {
	case *mat.Dense:
		return mat.DenseCopyOf(v), true
	case *tensors.Tensor:
		if v.Rank() != 2 {
			return nil, false
		}
		return mat.DenseCopyOf(v.Matrix()), true
	case [][]float64:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, false
		}
		m := mat.NewDense(len(v), len(v[0]), nil)
		for row, values := range v {
			if len(values) != len(v[0]) {
				return nil, false
			}
			m.SetRow(row, values)
		}
		return m, true
	}
	return nil, false
}

// Positive checks that an int or float option is > 0.
func Positive(value any) error {
	if v, ok := asFloat(value); !ok || v <= 0 {
		return errors.New("must be > 0")
	}
	return nil
}

// AtLeast returns a check that an int or float option is >= minimum.
func AtLeast(minimum float64) func(any) error {
	return func(value any) error {
		if v, ok := asFloat(value); !ok || v < minimum {
			return errors.Errorf("must be >= %g", minimum)
		}
		return nil
	}
}

// InClosedRange returns a check that an int or float option is in [low, high].
func InClosedRange(low, high float64) func(any) error {
	return func(value any) error {
		if v, ok := asFloat(value); !ok || v < low || v > high {
			return errors.Errorf("must be in [%g, %g]", low, high)
		}
		return nil
	}
}

// InHalfOpenRange returns a check that an int or float option is in [low, high).
func InHalfOpenRange(low, high float64) func(any) error {
	return func(value any) error {
		if v, ok := asFloat(value); !ok || v < low || v >= high {
			return errors.Errorf("must be in [%g, %g)", low, high)
		}
		return nil
	}
}

// OneOf returns a check that an int option is one of the given values.
func OneOf(values ...int) func(any) error {
	return func(value any) error {
		if v, ok := value.(int); !ok || !slices.Contains(values, v) {
			return errors.Errorf("must be one of %v", values)
		}
		return nil
	}
}

// PositiveList checks that a list of ints is not empty and that all its elements are > 0.
func PositiveList(value any) error {
	list, _ := value.([]int)
	if len(list) == 0 {
		return errors.New("must have at least one element")
	}
	for _, v := range list {
		if v <= 0 {
			return errors.New("all elements must be > 0")
		}
	}
	return nil
}

// NonEmptyList checks that a list of strings is not empty.
func NonEmptyList(value any) error {
	if list, _ := value.([]string); len(list) == 0 {
		return errors.New("must have at least one element")
	}
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Decoding helpers: they are only called with options already validated, so the type assertions hold.

func stringOr(values map[string]any, name, defaultValue string) string {
	if v, found := values[name]; found {
		return v.(string)
	}
	return defaultValue
}

func floatOr(values map[string]any, name string, defaultValue float64) float64 {
	if v, found := values[name]; found {
		return v.(float64)
	}
	return defaultValue
}

func intOr(values map[string]any, name string, defaultValue int) int {
	if v, found := values[name]; found {
		return v.(int)
	}
	return defaultValue
}
