// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
//
// The optimizers keep their state (moments, accumulators, step counters) as non-trainable variables in the
// context, under the scope Scope.
package optimizers

import (
	"maps"
	"math"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/pkg/errors"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Name of the optimizer, as in KnownOptimizers.
	Name() string

	// UpdateVariables applies one optimization step to the given variables, using the gradients accumulated
	// in them (context.Variable.Grad) for the current batch. Variables not marked as trainable are skipped.
	//
	// The ctx holds the hyperparameters used by the optimizer and the non-trainable variables that
	// the optimizer itself creates.
	UpdateVariables(ctx *context.Context, variables []*context.Variable) error
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// The names and default learning rates follow Keras.
	KnownOptimizers = map[string]func(ctx *context.Context) Interface{
		"sgd":      func(ctx *context.Context) Interface { return StochasticGradientDescent().FromContext(ctx) },
		"rmsprop":  func(ctx *context.Context) Interface { return RMSProp().FromContext(ctx) },
		"adagrad":  func(ctx *context.Context) Interface { return Adagrad() },
		"adadelta": func(ctx *context.Context) Interface { return Adadelta() },
		"adam":     func(ctx *context.Context) Interface { return Adam().FromContext(ctx).Done() },
		"adamax":   func(ctx *context.Context) Interface { return Adam().Adamax().FromContext(ctx).Done() },
		"nadam":    func(ctx *context.Context) Interface { return Adam().Nadam().FromContext(ctx).Done() },
	}

	// ParamOptimizer is the context parameter with the name of the optimizer.
	// The default value is "adam".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the context parameter name for the default value of learning rate.
	// It is used by all optimizers. If not set, each optimizer uses its own default.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a scalar value used to clip each value of the gradient step, after
	// being scaled by the learning rate and the optimizer.
	// The step applied will be `Clip(step, -clip_step_by_value, +clip_step_by_value)`.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"
)

const (
	// GlobalStepVariableName as stored in context.Context, in the Scope scope.
	GlobalStepVariableName = "global_step"

	// Scope reserved for optimizers.
	Scope = "optimizers"
)

// FromContext creates an optimizer from context hyperparameters.
// See [ParamOptimizer]. The default is "adam".
func FromContext(ctx *context.Context) (Interface, error) {
	return ByName(ctx, context.GetParamOr(ctx, ParamOptimizer, "adam"))
}

// ByName returns an optimizer given the name, or an error listing the valid names if one does not exist.
//
// Some optimizers (e.g.: Adam) use optional hyperparameters set in the context for configuration.
func ByName(ctx *context.Context, optName string) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %q",
			optName, slices.Sorted(maps.Keys(KnownOptimizers)))
	}
	return optBuilder(ctx), nil
}

// GetGlobalStep returns the number of optimization steps taken so far by any optimizer on this context.
func GetGlobalStep(ctx *context.Context) int64 {
	v := ctx.InAbsPath(context.RootScope).In(Scope).InspectVariableInScope(GlobalStepVariableName)
	if v == nil {
		return 0
	}
	return int64(v.Value.Data()[0])
}

// IncrementGlobalStep increments the step counter stored in the current scope of ctx (creating it if needed),
// and returns the new value. Its first returned value is 1.
func IncrementGlobalStep(ctx *context.Context) (int64, error) {
	v := ctx.InspectVariableInScope(GlobalStepVariableName)
	if v == nil {
		var err error
		v, err = ctx.VariableWithValue(GlobalStepVariableName, tensors.Zeros())
		if err != nil {
			return 0, err
		}
		v.Trainable = false
	}
	v.Value.Data()[0]++
	return int64(v.Value.Data()[0]), nil
}

// startStep increments both the global step and the step counter of the optimizer scope,
// returning the latter.
func startStep(optCtx *context.Context) (int64, error) {
	if _, err := IncrementGlobalStep(optCtx.InAbsPath(context.RootScope).In(Scope)); err != nil {
		return 0, err
	}
	return IncrementGlobalStep(optCtx)
}

// slot returns the optimizer state with the given slot name associated with variable v, creating it
// filled with value if needed.
func slot(optCtx *context.Context, slotName string, v *context.Variable, value float64) ([]float64, error) {
	slotCtx := optCtx.In(slotName)
	key := context.EscapeScopeName(v.ScopeAndName())
	if s := slotCtx.InspectVariableInScope(key); s != nil {
		return s.Value.Data(), nil
	}
	t := tensors.Zeros(v.Value.Dims()...)
	if value != 0 {
		t.Fill(value)
	}
	s, err := slotCtx.VariableWithValue(key, t)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating optimizer slot %q for variable %s", slotName, v.ScopeAndName())
	}
	s.Trainable = false
	return s.Value.Data(), nil
}

// learningRate returns the learning rate configured, or the context ParamLearningRate, or defaultValue.
func learningRate(ctx *context.Context, configured, defaultValue float64) float64 {
	if configured >= 0 {
		return configured
	}
	return context.GetParamOr(ctx, ParamLearningRate, defaultValue)
}

// stepper subtracts steps from the variables values, after clipping them according to ParamClipStepByValue.
type stepper struct {
	clip float64
}

func newStepper(ctx *context.Context) stepper {
	return stepper{clip: context.GetParamOr(ctx, ParamClipStepByValue, 0.0)}
}

// apply subtracts step from the value at idx of v. A NaN or Inf step is an error.
func (s stepper) apply(v *context.Variable, idx int, step float64) error {
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return errors.Errorf("optimizer step for variable %s is %g", v.ScopeAndName(), step)
	}
	if s.clip > 0 {
		step = min(max(step, -s.clip), s.clip)
	}
	v.Value.Data()[idx] -= step
	return nil
}

// trainable filters the trainable variables.
func trainable(variables []*context.Variable) []*context.Variable {
	result := make([]*context.Variable, 0, len(variables))
	for _, v := range variables {
		if v.Trainable {
			result = append(result, v)
		}
	}
	return result
}
