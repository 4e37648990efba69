// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/dlwrap/dlwrap/pkg/ml/context"
)

const (
	// SgdDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
	SgdDefaultLearningRate = 0.01

	// ParamSGDMomentum is the momentum used by SGD. Default is 0, no momentum.
	ParamSGDMomentum = "sgd_momentum"
)

// SGDConfig holds the configuration of the StochasticGradientDescent optimizer.
type SGDConfig struct {
	learningRate, momentum float64
}

var _ Interface = (*SGDConfig)(nil)

// StochasticGradientDescent creates an optimizer that applies `value -= learningRate * gradient`, optionally
// with momentum.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: -1}
}

// FromContext configures the momentum from ParamSGDMomentum.
func (c *SGDConfig) FromContext(ctx *context.Context) *SGDConfig {
	c.momentum = context.GetParamOr(ctx, ParamSGDMomentum, c.momentum)
	return c
}

// LearningRate sets the learning rate. If not set, it uses ParamLearningRate or SgdDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum. Default is 0.
func (c *SGDConfig) Momentum(value float64) *SGDConfig {
	c.momentum = value
	return c
}

// Name implements Interface.
func (c *SGDConfig) Name() string { return "sgd" }

// UpdateVariables implements Interface.
func (c *SGDConfig) UpdateVariables(ctx *context.Context, variables []*context.Variable) error {
	optCtx := ctx.In(Scope).In("sgd")
	if _, err := startStep(optCtx); err != nil {
		return err
	}
	lr := learningRate(ctx, c.learningRate, SgdDefaultLearningRate)
	s := newStepper(ctx)
	for _, v := range trainable(variables) {
		grad := v.Grad.Data()
		if c.momentum == 0 {
			for ii, g := range grad {
				if err := s.apply(v, ii, lr*g); err != nil {
					return err
				}
			}
			continue
		}
		velocity, err := slot(optCtx, "velocity", v, 0)
		if err != nil {
			return err
		}
		for ii, g := range grad {
			velocity[ii] = c.momentum*velocity[ii] + lr*g
			if err := s.apply(v, ii, velocity[ii]); err != nil {
				return err
			}
		}
	}
	return nil
}
