// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds tools to help run a training loop: the Trainer, which executes one training step or
// an evaluation over a Dataset, and the Loop, which runs the trainer for many steps or epochs, calling hooks
// (progress bars, logging, plotting) along the way.
package train

import (
	"io"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/train/losses"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/dlwrap/dlwrap/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Model is what the Trainer trains: a differentiable function of a batch of inputs.
type Model interface {
	// Forward returns the predictions for the batch of inputs. If training is true it caches what is needed by
	// Backward.
	Forward(inputs *tensors.Tensor, training bool) (*tensors.Tensor, error)

	// Backward takes the gradient of the loss with respect to the predictions of the last Forward call with
	// training=true, and accumulates the gradients of the model variables.
	Backward(grad *tensors.Tensor) error

	// Variables returns the variables of the model, trainable or not.
	Variables() []*context.Variable
}

// Trainer is a helper object to orchestrate a training step and evaluation.
//
// Given the inputs and labels, it calls the model, calculates the loss, back-propagates the gradients and calls
// the optimizer to update the variables. It also keeps the train and evaluation metrics.
//
// The first metric of both TrainMetrics and EvalMetrics is always the mean loss, created by the Trainer.
type Trainer struct {
	ctx          *context.Context
	model        Model
	lossFn       losses.LossFn
	optimizer    optimizers.Interface
	trainMetrics []metrics.Interface
	evalMetrics  []metrics.Interface
}

// LossMetricName is the name given to the loss metric, the first of the train and eval metrics.
const LossMetricName = "loss"

// NewTrainer constructs a trainer for the model.
//
// The trainMetrics and evalMetrics must be different instances, since metrics keep state. The mean loss is
// prepended to both.
func NewTrainer(ctx *context.Context, model Model, lossFn losses.LossFn, optimizer optimizers.Interface,
	trainMetrics, evalMetrics []metrics.Interface) *Trainer {
	r := &Trainer{
		ctx:       ctx,
		model:     model,
		lossFn:    lossFn,
		optimizer: optimizer,
	}
	r.trainMetrics = append([]metrics.Interface{metrics.NewMeanLoss(LossMetricName, LossMetricName, lossFn)},
		trainMetrics...)
	r.evalMetrics = append([]metrics.Interface{metrics.NewMeanLoss(LossMetricName, LossMetricName, lossFn)},
		evalMetrics...)
	return r
}

// Context returns the context used by the trainer.
func (r *Trainer) Context() *context.Context {
	return r.ctx
}

// Optimizer returns the optimizer used by the trainer.
func (r *Trainer) Optimizer() optimizers.Interface {
	return r.optimizer
}

// TrainMetrics returns the train metrics objects (not the actual values, just the objects that implement them).
func (r *Trainer) TrainMetrics() []metrics.Interface {
	return r.trainMetrics
}

// EvalMetrics returns the eval metrics objects (not the actual values, just the objects that implement them).
func (r *Trainer) EvalMetrics() []metrics.Interface {
	return r.evalMetrics
}

// GlobalStep returns the current global step, the number of optimization steps taken on the context.
func (r *Trainer) GlobalStep() int64 {
	return optimizers.GetGlobalStep(r.ctx)
}

// ResetTrainMetrics call Metrics.Reset on all train metrics. Usually called before a training session.
func (r *Trainer) ResetTrainMetrics() {
	for _, m := range r.trainMetrics {
		m.Reset()
	}
}

// ResetEvalMetrics call Metrics.Reset on all eval metrics. Called at the start of every evaluation.
func (r *Trainer) ResetEvalMetrics() {
	for _, m := range r.evalMetrics {
		m.Reset()
	}
}

func checkBatch(inputs, labels *tensors.Tensor) error {
	if inputs == nil || labels == nil {
		return errors.New("dataset yielded nil inputs or labels")
	}
	if inputs.Rank() == 0 || labels.Rank() == 0 || inputs.Dim(0) != labels.Dim(0) {
		return errors.Errorf("dataset yielded inputs %v and labels %v with different batch sizes",
			inputs.Dims(), labels.Dims())
	}
	return nil
}

func updateMetrics(ms []metrics.Interface, labels, predictions *tensors.Tensor) ([]float64, error) {
	values := make([]float64, len(ms))
	for ii, m := range ms {
		var err error
		values[ii], err = m.Update(labels, predictions)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// TrainStep runs one step of training on the batch: forward, loss, backward and the optimizer update.
//
// It returns the values of the train metrics, aggregated since the last ResetTrainMetrics.
func (r *Trainer) TrainStep(inputs, labels *tensors.Tensor) (metricsValues []float64, err error) {
	if err = checkBatch(inputs, labels); err != nil {
		return nil, err
	}
	variables := r.model.Variables()
	for _, v := range variables {
		v.ZeroGrad()
	}
	predictions, err := r.model.Forward(inputs, true)
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep(): model forward")
	}
	_, grad, err := r.lossFn(labels, predictions)
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep(): loss")
	}
	if err = r.model.Backward(grad); err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep(): model backward")
	}
	if err = r.optimizer.UpdateVariables(r.ctx, variables); err != nil {
		return nil, errors.WithMessagef(err, "Trainer.TrainStep(): optimizer %q", r.optimizer.Name())
	}
	return updateMetrics(r.trainMetrics, labels, predictions)
}

// EvalStep evaluates the model on one batch, and returns the values of the eval metrics aggregated since the
// last ResetEvalMetrics.
func (r *Trainer) EvalStep(inputs, labels *tensors.Tensor) (metricsValues []float64, err error) {
	if err = checkBatch(inputs, labels); err != nil {
		return nil, err
	}
	predictions, err := r.model.Forward(inputs, false)
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.EvalStep(): model forward")
	}
	return updateMetrics(r.evalMetrics, labels, predictions)
}

// Eval returns the computation of loss and metrics over the given dataset. The dataset has to be finite
// (yield io.EOF at the end). The function will reset the dataset at the end.
func (r *Trainer) Eval(ds Dataset) (metricsValues []float64, err error) {
	r.ResetEvalMetrics()
	defer ds.Reset()
	count := 0
	for {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): failed reading dataset", ds.Name())
		}
		count++
		metricsValues, err = r.EvalStep(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): batch #%d", ds.Name(), count-1)
		}
	}
	if count == 0 {
		return nil, errors.Errorf("Trainer.Eval(%q): dataset yielded no batches", ds.Name())
	}
	return metricsValues, nil
}
