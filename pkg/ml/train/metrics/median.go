// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
)

// StreamingMedian keeps an approximate median of a stream of values, using reservoir sampling.
//
// It is used to track things like the median duration of a training step, where the stream is long
// and holding all values is wasteful.
type StreamingMedian struct {
	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

// NewStreamingMedian creates a StreamingMedian with the default sample size.
func NewStreamingMedian() *StreamingMedian {
	return &StreamingMedian{maxNumSamples: 10_001}
}

// WithSampleSize configures the number of random samples to keep to estimate the median.
func (m *StreamingMedian) WithSampleSize(n int) *StreamingMedian {
	m.maxNumSamples = n
	return m
}

// WithSeed sets the seed of the random number generator used to decide which samples to keep.
func (m *StreamingMedian) WithSeed(seed uint64) *StreamingMedian {
	m.rng = rand.New(rand.NewPCG(seed, seed))
	return m
}

// Add a new value to the stream.
func (m *StreamingMedian) Add(x float64) {
	if m.rng == nil {
		m.WithSeed(42)
	}
	m.samplesSeen++
	if len(m.samples) < m.maxNumSamples {
		m.samples = append(m.samples, x)
		return
	}

	// We must decide whether to keep x:
	if m.rng.Float64() >= float64(m.maxNumSamples)/float64(m.samplesSeen) {
		return
	}
	// We replace the new sampled x in a random position.
	m.samples[m.rng.IntN(m.maxNumSamples)] = x
}

// Count returns the number of values seen since the last Reset.
func (m *StreamingMedian) Count() int {
	return m.samplesSeen
}

// Median returns the current estimate of the median. It fails if no values have been added.
func (m *StreamingMedian) Median() (float64, error) {
	if len(m.samples) == 0 {
		return 0, errors.New("streaming median has seen no samples to read")
	}
	slices.Sort(m.samples)
	return m.samples[len(m.samples)/2], nil
}

// Reset discards all samples.
func (m *StreamingMedian) Reset() {
	m.samples = nil
	m.samplesSeen = 0
}
