// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Registry maps activation names to their implementation.
//
// It is not safe for concurrent modification.
type Registry struct {
	byName map[string]Activation
}

func builtIns() []Activation {
	return []Activation{Linear, Relu, SigmoidActivation, Tanh, Softmax, Softplus, Softsign, Selu, Elu,
		Exponential, HardSigmoid, LeakyRelu, Gelu}
}

// NewRegistry returns a registry with the built-in activations.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Activation)}
	for _, a := range builtIns() {
		r.byName[a.Name()] = a
	}
	r.byName["none"] = Linear
	r.byName[""] = Linear
	return r
}

// Register adds or replaces an activation under its name.
func (r *Registry) Register(activation Activation) error {
	if activation == nil || activation.Name() == "" {
		return errors.New("cannot register an activation without a name")
	}
	r.byName[activation.Name()] = activation
	return nil
}

// Has returns whether name is registered.
func (r *Registry) Has(name string) bool {
	_, found := r.byName[name]
	return found
}

// Get returns the activation registered under name.
func (r *Registry) Get(name string) (Activation, error) {
	a, found := r.byName[name]
	if !found {
		return nil, errors.Errorf("unknown activation %q: options are %q", name, r.Names())
	}
	return a, nil
}

// Names returns the sorted list of registered non-empty names.
func (r *Registry) Names() []string {
	names := slices.Sorted(maps.Keys(r.byName))
	if len(names) > 0 && names[0] == "" {
		names = names[1:]
	}
	return names
}

// FromName returns the built-in activation with the given name.
// An empty string is converted to Linear.
func FromName(name string) (Activation, error) {
	return NewRegistry().Get(name)
}

// MustFromName is like FromName, but panics with a helpful message if the name is invalid.
func MustFromName(name string) Activation {
	a, err := FromName(name)
	if err != nil {
		exceptions.Panicf("invalid activation name %q: %v", name, err)
	}
	return a
}
