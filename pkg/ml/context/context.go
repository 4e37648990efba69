// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes the hyperparameters and the
// variables (weights) of a model, all of them organized in scopes.
package context

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"reflect"
	"strings"

	"github.com/dlwrap/dlwrap/internal/scoped"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/initializer"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Context organizes information shared in a model: its variables (weights) and its (hyper-)parameters.
//
// Both are organized in "scopes". The Context object is a thin wrapper that contains the current scope
// (similar to a current directory) and a link to the actual data. One can change scopes with
// Context.In("new_scope"): it returns a new Context with the new scope set, sharing all the data with
// the previous Context. E.g:
//
//	ctx := context.New()
//	ctx.SetParam("learning_rate", 0.01)
//	{
//		ctx := ctx.In("dense_1")
//		kernel, err := ctx.VariableWithShape("weights", initializer.GlorotUniform, 10, 32)
//		...
//	}
//
// Variables are created in the current scope with VariableWithShape or VariableWithValue. Creating a
// variable that already exists is an error: layers are expected to build their variables once.
type Context struct {
	// scope for currently created variables and registration.
	scope string

	// data is shared among all Context references.
	data *contextData
}

type contextData struct {
	// params holds a model's building (hyper)parameters, e.g.:
	//
	// * "learning_rate" -> float64: used by the optimizers.
	params *scoped.Params

	// variablesMap maps scope -> name -> variable.
	variablesMap map[string]map[string]*Variable

	// variables in order of creation.
	variables []*Variable

	rng *rand.Rand
}

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator

	// ParamSeed is the key for the random seed. It is only read by SetRNGSeed callers: changing the
	// param afterward doesn't reseed.
	ParamSeed = "seed"

	// DefaultSeed used by New.
	DefaultSeed = 7
)

// New returns an empty context, with the root scope and the random number generator seeded with DefaultSeed.
func New() *Context {
	ctx := &Context{
		scope: RootScope,
		data: &contextData{
			params:       scoped.New(ScopeSeparator),
			variablesMap: make(map[string]map[string]*Variable),
		},
	}
	ctx.SetRNGSeed(DefaultSeed)
	return ctx
}

// copy creates a copy of the Context, but sharing the same "data" component.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// JoinScope and name into a single string.
// If scope is empty, name is returned.
func JoinScope(scope, name string) string {
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	if scope == "" {
		return name
	}
	return scope + ScopeSeparator + name
}

// SplitScope splits the scope from the name for a combined string, typically created by JoinScope.
// If there is no scope configured, scope is set to "".
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	separationIdx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[separationIdx+1:]
	if separationIdx == 0 {
		scope = RootScope
	} else {
		scope = scopeAndName[:separationIdx]
	}
	return
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf returns a new reference to the Context with the extra given scope, formatted with fmt.Sprintf.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context with the given absolute scope path. It must start with
// ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// E.g: if current scope is "/a/b", it will search for the key in "/a/b" scope, then
// in "/a" and finally in "/", and return the first result found.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found or the key is set to nil, it returns the given default value.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, it panics with an explaining exception.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(defaultValue)
	if !v.CanConvert(typeOfT) {
		exceptions.Panicf("GetParamOr[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v, and cannot be converted to %T",
			defaultValue, key, ctx.Scope(), key, valueAny, valueAny, defaultValue)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.data.params.Set(ctx.scope, key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes calls fn with their values.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

// SetRNGSeed resets the random number generator used to initialize variables and by stochastic layers
// (e.g.: Dropout).
func (ctx *Context) SetRNGSeed(seed uint64) {
	ctx.data.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RNG returns the random number generator shared by all references of this context.
func (ctx *Context) RNG() *rand.Rand {
	return ctx.data.rng
}

// InspectVariable returns the variable with the given name in the given scope, or nil if it doesn't exist.
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	scopeVars, ok := ctx.data.variablesMap[scope]
	if !ok {
		return nil
	}
	return scopeVars[name]
}

// InspectVariableInScope returns the variable with the given name in the current scope, or nil.
func (ctx *Context) InspectVariableInScope(name string) *Variable {
	return ctx.InspectVariable(ctx.scope, name)
}

func (ctx *Context) setVariableInScope(v *Variable) error {
	scopeVars, ok := ctx.data.variablesMap[v.scope]
	if !ok {
		scopeVars = make(map[string]*Variable)
		ctx.data.variablesMap[v.scope] = scopeVars
	}
	if _, found := scopeVars[v.name]; found {
		return errors.Errorf("variable %q for scope %q already exists", v.name, v.scope)
	}
	scopeVars[v.name] = v
	ctx.data.variables = append(ctx.data.variables, v)
	return nil
}

// VariableWithShape creates a new trainable variable in the current scope, with its value set by init.
//
// It returns an error if the variable already exists.
func (ctx *Context) VariableWithShape(name string, init initializer.Initializer, dims ...int) (*Variable, error) {
	if init == nil {
		init = initializer.GlorotUniform
	}
	return ctx.VariableWithValue(name, init(ctx.data.rng, dims))
}

// VariableWithValue creates a new trainable variable in the current scope, initialized with the given value.
// The value is owned by the variable afterward.
//
// It returns an error if the variable already exists.
func (ctx *Context) VariableWithValue(name string, value *tensors.Tensor) (*Variable, error) {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		return nil, errors.Errorf("invalid variable name %q in scope %q", name, ctx.scope)
	}
	if value == nil {
		return nil, errors.Errorf("nil value for variable %q in scope %q", name, ctx.scope)
	}
	v := &Variable{
		name:      name,
		scope:     ctx.scope,
		Value:     value,
		Grad:      tensors.Zeros(value.Dims()...),
		Trainable: true,
	}
	if err := ctx.setVariableInScope(v); err != nil {
		return nil, err
	}
	return v, nil
}

// IterVariables iterates over all variables, in the order they were created.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !yield(v) {
				return
			}
		}
	}
}

// IterVariablesInScope iterates over the variables in the current scope or any of its sub-scopes,
// in the order they were created.
func (ctx *Context) IterVariablesInScope() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if v.scope != ctx.scope && !strings.HasPrefix(v.scope, JoinScope(ctx.scope, "")) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// NumVariables returns the number of variables in the context.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters returns the summed-up number of all variables' elements.
func (ctx *Context) NumParameters() int {
	total := 0
	for _, v := range ctx.data.variables {
		total += v.Value.Size()
	}
	return total
}

// EscapeScopeName replaces ScopeSeparator in the string and replaces them by "_".
func EscapeScopeName(scopeName string) string {
	return strings.ReplaceAll(scopeName, ScopeSeparator, "_")
}
