// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped".
package scoped

import (
	"maps"
	"slices"
	"strings"
)

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "learning_rate": 0.001, "seed": 7 }
//	Scope: "/optimizer": { "learning_rate": 0.01 }
//
//	Params.Get("/optimizer/adam", "learning_rate") -> 0.01
//	Params.Get("/optimizer/adam", "seed") -> 7
//	Params.Get("/optimizer/adam", "beta1") -> Not found.
//
// The root scope is the separator itself ("/"). There is no "empty" scope.
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a copy of the Params. Values themselves are not deep-copied.
func (p *Params) Clone() *Params {
	p2 := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		p2.scopeToMap[scope] = maps.Clone(dataMap)
	}
	return p2
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap, found := p.scopeToMap[scope]
	if !found {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if dataMap, ok := p.scopeToMap[scope]; ok {
			if value, found = dataMap[key]; found {
				return
			}
		}
		if scope == p.Separator || scope == "" {
			return nil, false
		}
		idx := strings.LastIndex(scope, p.Separator)
		switch {
		case idx < 0:
			scope = ""
		case idx == 0:
			scope = p.Separator
		default:
			scope = scope[:idx]
		}
	}
}

// Enumerate calls fn for every parameter stored, sorted by scope and then by key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range slices.Sorted(maps.Keys(p.scopeToMap)) {
		keyValues := p.scopeToMap[scope]
		for _, key := range slices.Sorted(maps.Keys(keyValues)) {
			fn(scope, key, keyValues[key])
		}
	}
}
