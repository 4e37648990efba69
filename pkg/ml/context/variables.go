// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Variable holds a model weight (aka. parameter) and the gradient accumulated for it by the last
// backward pass. It's defined in a scope in a Context.
type Variable struct {
	name, scope string

	// Value of the variable. Optimizers update it in place.
	Value *tensors.Tensor

	// Grad holds the gradient of the loss with respect to Value. It has the same dimensions as Value,
	// and is reset by ZeroGrad.
	Grad *tensors.Tensor

	// Trainable indicates whether the variable is trainable.
	// If set to false, it won't be touched by optimizers.
	Trainable bool
}

// Name of the variable within its scope.
func (v *Variable) Name() string { return v.name }

// Scope where the variable was created.
func (v *Variable) Scope() string { return v.scope }

// ScopeAndName returns a unique identifier of the variable, its scope joined with its name.
func (v *Variable) ScopeAndName() string {
	return JoinScope(v.scope, v.name)
}

// ZeroGrad resets the accumulated gradient.
func (v *Variable) ZeroGrad() {
	v.Grad.Fill(0)
}

// SetValue replaces the value of the variable. The new value must have the same dimensions.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	if value.Size() != v.Value.Size() || value.Rank() != v.Value.Rank() {
		return errors.Errorf("variable %q: cannot set value with dimensions %v, variable has dimensions %v",
			v.ScopeAndName(), value.Dims(), v.Value.Dims())
	}
	copy(v.Value.Data(), value.Data())
	return nil
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("%s%v", v.ScopeAndName(), v.Value.Dims())
}
