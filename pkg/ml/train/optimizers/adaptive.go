// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/dlwrap/dlwrap/pkg/ml/context"
)

const (
	// RMSPropDefaultLearningRate is used by RMSProp if no learning rate is set.
	RMSPropDefaultLearningRate = 0.001

	// ParamRMSPropRho is the decay of the moving average of squared gradients used by RMSProp.
	// The default value is 0.9.
	ParamRMSPropRho = "rmsprop_rho"

	// AdagradDefaultLearningRate is used by Adagrad if no learning rate is set.
	AdagradDefaultLearningRate = 0.01

	// AdadeltaDefaultLearningRate is used by Adadelta if no learning rate is set.
	AdadeltaDefaultLearningRate = 1.0
)

// RMSPropConfig holds the configuration of RMSProp.
type RMSPropConfig struct {
	learningRate, rho, epsilon float64
}

var _ Interface = (*RMSPropConfig)(nil)

// RMSProp is an optimizer that divides the learning rate for a weight by a running average
// of the recent gradients magnitudes (L2) for that weight.
//
// It was described first in the following sources:
// * https://www.cs.toronto.edu/~tijmen/csc321/slides/lecture_slides_lec6.pdf (Hinton)
// * https://arxiv.org/pdf/1308.0850 (Graves)
func RMSProp() *RMSPropConfig {
	return &RMSPropConfig{learningRate: -1, rho: 0.9, epsilon: 1e-7}
}

// FromContext configures rho from ParamRMSPropRho.
func (c *RMSPropConfig) FromContext(ctx *context.Context) *RMSPropConfig {
	c.rho = context.GetParamOr(ctx, ParamRMSPropRho, c.rho)
	return c
}

// LearningRate sets the learning rate. If not set, it uses ParamLearningRate or RMSPropDefaultLearningRate.
func (c *RMSPropConfig) LearningRate(value float64) *RMSPropConfig {
	c.learningRate = value
	return c
}

// Name implements Interface.
func (c *RMSPropConfig) Name() string { return "rmsprop" }

// UpdateVariables implements Interface.
func (c *RMSPropConfig) UpdateVariables(ctx *context.Context, variables []*context.Variable) error {
	optCtx := ctx.In(Scope).In("rmsprop")
	if _, err := startStep(optCtx); err != nil {
		return err
	}
	lr := learningRate(ctx, c.learningRate, RMSPropDefaultLearningRate)
	s := newStepper(ctx)
	for _, v := range trainable(variables) {
		avg, err := slot(optCtx, "rms", v, 0)
		if err != nil {
			return err
		}
		for ii, g := range v.Grad.Data() {
			avg[ii] = c.rho*avg[ii] + (1-c.rho)*g*g
			if err := s.apply(v, ii, lr*g/(math.Sqrt(avg[ii])+c.epsilon)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AdagradConfig holds the configuration of Adagrad.
type AdagradConfig struct {
	learningRate, initialAccumulator, epsilon float64
}

var _ Interface = (*AdagradConfig)(nil)

// Adagrad adapts the learning rate of each weight by the accumulated sum of its squared gradients.
// See [Duchi et al., 2011](https://jmlr.org/papers/v12/duchi11a.html).
func Adagrad() *AdagradConfig {
	return &AdagradConfig{learningRate: -1, initialAccumulator: 0.1, epsilon: 1e-7}
}

// LearningRate sets the learning rate. If not set, it uses ParamLearningRate or AdagradDefaultLearningRate.
func (c *AdagradConfig) LearningRate(value float64) *AdagradConfig {
	c.learningRate = value
	return c
}

// Name implements Interface.
func (c *AdagradConfig) Name() string { return "adagrad" }

// UpdateVariables implements Interface.
func (c *AdagradConfig) UpdateVariables(ctx *context.Context, variables []*context.Variable) error {
	optCtx := ctx.In(Scope).In("adagrad")
	if _, err := startStep(optCtx); err != nil {
		return err
	}
	lr := learningRate(ctx, c.learningRate, AdagradDefaultLearningRate)
	s := newStepper(ctx)
	for _, v := range trainable(variables) {
		acc, err := slot(optCtx, "accumulator", v, c.initialAccumulator)
		if err != nil {
			return err
		}
		for ii, g := range v.Grad.Data() {
			acc[ii] += g * g
			if err := s.apply(v, ii, lr*g/(math.Sqrt(acc[ii])+c.epsilon)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AdadeltaConfig holds the configuration of Adadelta.
type AdadeltaConfig struct {
	learningRate, rho, epsilon float64
}

var _ Interface = (*AdadeltaConfig)(nil)

// Adadelta adapts the learning rates based on a moving window of gradient updates.
// See [Zeiler, 2012](https://arxiv.org/abs/1212.5701).
func Adadelta() *AdadeltaConfig {
	return &AdadeltaConfig{learningRate: -1, rho: 0.95, epsilon: 1e-7}
}

// LearningRate sets the learning rate. If not set, it uses ParamLearningRate or AdadeltaDefaultLearningRate.
func (c *AdadeltaConfig) LearningRate(value float64) *AdadeltaConfig {
	c.learningRate = value
	return c
}

// Name implements Interface.
func (c *AdadeltaConfig) Name() string { return "adadelta" }

// UpdateVariables implements Interface.
func (c *AdadeltaConfig) UpdateVariables(ctx *context.Context, variables []*context.Variable) error {
	optCtx := ctx.In(Scope).In("adadelta")
	if _, err := startStep(optCtx); err != nil {
		return err
	}
	lr := learningRate(ctx, c.learningRate, AdadeltaDefaultLearningRate)
	s := newStepper(ctx)
	for _, v := range trainable(variables) {
		accGrad, err := slot(optCtx, "accumulated_grad", v, 0)
		if err != nil {
			return err
		}
		accDelta, err := slot(optCtx, "accumulated_delta", v, 0)
		if err != nil {
			return err
		}
		for ii, g := range v.Grad.Data() {
			accGrad[ii] = c.rho*accGrad[ii] + (1-c.rho)*g*g
			delta := math.Sqrt(accDelta[ii]+c.epsilon) / math.Sqrt(accGrad[ii]+c.epsilon) * g
			accDelta[ii] = c.rho*accDelta[ii] + (1-c.rho)*delta*delta
			if err := s.apply(v, ii, lr*delta); err != nil {
				return err
			}
		}
	}
	return nil
}
