// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"time"
)

// EveryNSteps registers an OnStep hook on the loop that is called every N steps of a run, counting from the
// start of the run (Loop.StartStep).
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	n = max(n, 1)
	loop.OnStep(name, priority, func(loop *Loop, metrics []float64) error {
		if (loop.LoopStep-loop.StartStep+1)%n != 0 {
			return nil
		}
		return fn(loop, metrics)
	})
}

// NTimesDuringLoop registers an OnStep hook on the loop that is called at most N times during a run, evenly
// spread. The last step of the run is always included.
//
// If the number of steps is not known (Loop.EndStep < 0, during the first epoch of Loop.RunEpochs), fn is
// called at every step until it is.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	n = max(n, 1)
	loop.OnStep(name, priority, func(loop *Loop, metrics []float64) error {
		if loop.EndStep < 0 {
			return fn(loop, metrics)
		}
		numSteps := loop.EndStep - loop.StartStep
		period := max(numSteps/n, 1)
		stepsDone := loop.LoopStep - loop.StartStep + 1
		if stepsDone%period == 0 || loop.LoopStep == loop.EndStep-1 {
			return fn(loop, metrics)
		}
		return nil
	})
}

// PeriodicCallback registers an OnStep hook on the loop that is called at most once every period of time.
// The first step of a run is always called.
//
// If callOnEnd is true, fn is also called at the end of the loop, with the final metrics.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	var last time.Time
	loop.OnStart(name, priority, func(_ *Loop, _ Dataset) error {
		last = time.Time{}
		return nil
	})
	loop.OnStep(name, priority, func(loop *Loop, metrics []float64) error {
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < period {
			return nil
		}
		last = now
		return fn(loop, metrics)
	})
	if callOnEnd {
		loop.OnEnd(name, priority, func(loop *Loop, metrics []float64) error {
			if metrics == nil {
				return nil
			}
			return fn(loop, metrics)
		})
	}
}
