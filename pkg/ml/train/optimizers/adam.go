// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/dlwrap/dlwrap/pkg/ml/context"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// AdamaxDefaultLearningRate is used by Adamax and Nadam if no learning rate is set.
	AdamaxDefaultLearningRate = 0.002

	// AdamDefaultScope is the default scope name for moments and step used by Adam.
	AdamDefaultScope = "AdamOptimizer"

	// ParamAdamEpsilon can be used to configure the default value of epsilon. It must be a float64.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 is the moving average coefficient for the gradient (momentum), the numerator.
	// The default value is 0.9
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the moving average coefficient for the variance, the denominator.
	// The default value is 0.999
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method based on an adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured, call AdamConfig.Done,
// and it will return an optimizer.Interface.
//
// See [AdamConfig.FromContext] to configure it from the context hyperparameters.
func Adam() *AdamConfig {
	return &AdamConfig{
		scopeName:    AdamDefaultScope,
		learningRate: -1, // < 0 means use the default.
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam-based optimizer.Interface.
type AdamConfig struct {
	scopeName    string
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool // Works as Adamax.
	nadam        bool // Works as Nadam.
}

// FromContext will configure Adam with hyperparameters set in the given context.
// E.g.: "adam_epsilon" (see [ParamAdamEpsilon]) is used to set [AdamConfig.Epsilon].
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.epsilon = context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon)
	c.beta1 = context.GetParamOr(ctx, ParamAdamBeta1, c.beta1)
	c.beta2 = context.GetParamOr(ctx, ParamAdamBeta2, c.beta2)
	return c
}

// Scope defines the scope (under optimizers.Scope) used to store the 1st and 2nd order moments of the gradients
// and the step number.
//
// It defaults to AdamDefaultScope.
func (c *AdamConfig) Scope(name string) *AdamConfig {
	c.scopeName = name
	return c
}

// LearningRate sets the base learning rate.
//
// Default is either the value of ParamLearningRate ("learning_rate") parameter in Context if defined, or
// AdamDefaultLearningRate (AdamaxDefaultLearningRate for Adamax and Nadam) if not.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas set the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use an L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax, c.nadam = true, false
	return c
}

// Nadam configures Adam to use Nesterov momentum, as described in
// [Dozat, 2016](https://openreview.net/pdf?id=OM0jvwB8jIp57ZJjtNEZ).
func (c *AdamConfig) Nadam() *AdamConfig {
	c.nadam, c.adamax = true, false
	return c
}

// Done will finish the configuration and construct an optimizer.Interface that implements Adam.
func (c *AdamConfig) Done() Interface {
	return &adam{config: c}
}

// adam implements the Adam algorithm as an optimizer.Interface.
type adam struct {
	config *AdamConfig
}

// Name implements Interface.
func (o *adam) Name() string {
	switch {
	case o.config.adamax:
		return "adamax"
	case o.config.nadam:
		return "nadam"
	}
	return "adam"
}

// UpdateVariables implements Interface.
func (o *adam) UpdateVariables(ctx *context.Context, variables []*context.Variable) error {
	c := o.config
	optCtx := ctx.In(Scope).In(c.scopeName)
	step, err := startStep(optCtx)
	if err != nil {
		return err
	}
	defaultLR := AdamDefaultLearningRate
	if c.adamax || c.nadam {
		defaultLR = AdamaxDefaultLearningRate
	}
	lr := learningRate(ctx, c.learningRate, defaultLR)
	t := float64(step)
	debias1 := 1 - math.Pow(c.beta1, t)
	debias1Next := 1 - math.Pow(c.beta1, t+1)
	debias2 := 1 - math.Pow(c.beta2, t)
	s := newStepper(ctx)

	for _, v := range trainable(variables) {
		m, err := slot(optCtx, "m", v, 0)
		if err != nil {
			return err
		}
		secondMoment, err := slot(optCtx, "v", v, 0)
		if err != nil {
			return err
		}
		for ii, g := range v.Grad.Data() {
			m[ii] = c.beta1*m[ii] + (1-c.beta1)*g
			var update float64
			switch {
			case c.adamax:
				secondMoment[ii] = max(c.beta2*secondMoment[ii], math.Abs(g))
				update = lr / debias1 * m[ii] / (secondMoment[ii] + c.epsilon)
			case c.nadam:
				secondMoment[ii] = c.beta2*secondMoment[ii] + (1-c.beta2)*g*g
				mHat := c.beta1*m[ii]/debias1Next + (1-c.beta1)*g/debias1
				vHat := secondMoment[ii] / debias2
				update = lr * mHat / (math.Sqrt(vHat) + c.epsilon)
			default:
				secondMoment[ii] = c.beta2*secondMoment[ii] + (1-c.beta2)*g*g
				mHat := m[ii] / debias1
				vHat := secondMoment[ii] / debias2
				update = lr * mHat / (math.Sqrt(vHat) + c.epsilon)
			}
			if err := s.apply(v, ii, update); err != nil {
				return err
			}
		}
	}
	return nil
}
