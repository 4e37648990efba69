// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Sections of a configuration file with the options of the model, of the training and of the evaluation.
const (
	SectionModel = "model"
	SectionTrain = "train"
	SectionEval  = "eval"
)

// LoadTOML reads the options in the TOML file at path.
//
// Values are normalized so they can be checked against a Schema: integers become int, arrays of integers
// become []int, arrays of strings become []string, arrays of arrays of numbers become [][]float64, and
// tables become nested map[string]any (see Section).
func LoadTOML(path string) (map[string]any, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file %q", path)
	}
	options, err := ParseTOML(string(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	return options, nil
}

// ParseTOML parses TOML contents into normalized options, see LoadTOML.
func ParseTOML(contents string) (map[string]any, error) {
	var raw map[string]any
	if err := toml.Unmarshal([]byte(contents), &raw); err != nil {
		return nil, errors.Wrap(err, "parsing TOML")
	}
	return normalizeTable(raw), nil
}

// Section returns the table named section of options loaded with LoadTOML.
// It returns an empty map if the section is missing.
func Section(options map[string]any, section string) (map[string]any, error) {
	value, found := options[section]
	if !found {
		return map[string]any{}, nil
	}
	table, ok := value.(map[string]any)
	if !ok {
		return nil, errors.Errorf("configuration %q must be a table, got %T", section, value)
	}
	return table, nil
}

func normalizeTable(table map[string]any) map[string]any {
	result := make(map[string]any, len(table))
	for key, value := range table {
		result[key] = normalize(value)
	}
	return result
}

func normalize(value any) any {
	switch v := value.(type) {
	case int64:
		return int(v)
	case map[string]any:
		return normalizeTable(v)
	case []map[string]any:
		tables := make([]any, len(v))
		for ii, t := range v {
			tables[ii] = normalizeTable(t)
		}
		return tables
	case []any:
		return normalizeArray(v)
	}
	return value
}

// normalizeArray converts homogeneous arrays to typed slices. Mixed arrays are returned as []any, with their
// elements normalized.
func normalizeArray(values []any) any {
	if len(values) == 0 {
		return values
	}
	if ints, ok := convertList(values, func(e any) (int, bool) {
		i, ok := e.(int64)
		return int(i), ok
	}); ok {
		return ints
	}
	if strs, ok := convertList(values, func(e any) (string, bool) {
		s, ok := e.(string)
		return s, ok
	}); ok {
		return strs
	}
	if rows, ok := convertList(values, func(e any) ([]float64, bool) {
		row, ok := e.([]any)
		if !ok {
			return nil, false
		}
		return convertList(row, tomlNumber)
	}); ok {
		return rows
	}
	result := make([]any, len(values))
	for ii, e := range values {
		result[ii] = normalize(e)
	}
	return result
}

// tomlNumber converts a TOML integer or float to float64.
func tomlNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
