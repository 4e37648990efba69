// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"sync"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/pkg/errors"
)

// InMemoryDataset represents a Dataset whose inputs and labels are held in memory as tensors, with the
// examples along the leading axis.
//
// It supports batching and shuffling, and can be split into subsets (e.g.: for cross-validation folds or
// validation splits) that copy the selected examples.
type InMemoryDataset struct {
	// name of the dataset.
	name      string
	shortName string

	// inputs and labels of all examples.
	inputs, labels *tensors.Tensor

	// numExamples indicates the total number of examples.
	numExamples int

	// muSampling serializes the sampling information, all the member variables below.
	muSampling sync.Mutex

	// batchSize to yield. If set to 0 yields only one example at a time.
	batchSize int

	// dropIncompleteBatch, when there are not enough remaining examples in the epoch.
	dropIncompleteBatch bool

	// next record to be sampled. If shuffle is given, this is an index in shuffle.
	//
	// If it is set to -1, it means the dataset has been exhausted already.
	next int

	// shuffle holds the current shuffle if Shuffle was selected.
	shuffle []int

	// infinite sets whether to loop indefinitely.
	infinite bool

	// rng used when shuffling, allows for deterministic random datasets.
	rng *rand.Rand
}

// Assert InMemoryDataset implements train.Dataset.
var _ train.Dataset = (*InMemoryDataset)(nil)

// InMemoryFromData creates an InMemoryDataset from the inputs and labels, which must have the same
// dimension on the leading (examples) axis. The tensors are not copied.
//
// Returns a `InMemoryDataset`, that is initially not shuffled and not batched. You can configure how you want to
// use it with the other configuration methods.
func InMemoryFromData(name string, inputs, labels *tensors.Tensor) (*InMemoryDataset, error) {
	if inputs == nil || labels == nil {
		return nil, errors.Errorf("InMemoryFromData(%q): inputs and labels must be given", name)
	}
	if inputs.Rank() == 0 || labels.Rank() == 0 {
		return nil, errors.Errorf("InMemoryFromData(%q): inputs %v and labels %v must have a leading examples axis",
			name, inputs.Dims(), labels.Dims())
	}
	if inputs.Dim(0) != labels.Dim(0) {
		return nil, errors.Errorf("InMemoryFromData(%q): inputs have %d examples, labels have %d",
			name, inputs.Dim(0), labels.Dim(0))
	}
	mds := &InMemoryDataset{
		inputs:      inputs,
		labels:      labels,
		numExamples: inputs.Dim(0),
		rng:         rand.New(rand.NewPCG(0, 0)),
	}
	mds.SetName(name)
	return mds, nil
}

// NumExamples cached.
func (mds *InMemoryDataset) NumExamples() int {
	return mds.numExamples
}

// Inputs returns the tensor with all the inputs, not a copy.
func (mds *InMemoryDataset) Inputs() *tensors.Tensor {
	return mds.inputs
}

// Labels returns the tensor with all the labels, not a copy.
func (mds *InMemoryDataset) Labels() *tensors.Tensor {
	return mds.labels
}

// Name implements `train.Dataset`
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// ShortName implements `train.HasShortName`
func (mds *InMemoryDataset) ShortName() string {
	return mds.shortName
}

// SetName sets the name of the dataset and optionally its ShortName, and returns the updated dataset.
func (mds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	mds.name = name
	if len(shortName) > 0 {
		mds.shortName = shortName[0]
	} else {
		mds.shortName = name[:min(3, len(name))]
	}
	return mds
}

// Subset returns a new InMemoryDataset with a copy of the examples selected by indices, in that order.
// It inherits the batch configuration, but not shuffling.
func (mds *InMemoryDataset) Subset(name string, indices []int) (*InMemoryDataset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= mds.numExamples {
			return nil, errors.Errorf("InMemoryDataset(%q).Subset: index %d out of range [0, %d)",
				mds.name, idx, mds.numExamples)
		}
	}
	sub, err := InMemoryFromData(name, mds.inputs.Gather(indices), mds.labels.Gather(indices))
	if err != nil {
		return nil, err
	}
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	sub.batchSize = mds.batchSize
	sub.dropIncompleteBatch = mds.dropIncompleteBatch
	return sub, nil
}

// Reset implements `train.Dataset`
func (mds *InMemoryDataset) Reset() {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()

	mds.next = 0
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
}

// indicesNextYield retrieve the indices for the next Yield call.
func (mds *InMemoryDataset) indicesNextYield() (indices []int) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	if mds.next == -1 {
		return // dataset already exhausted.
	}
	n := mds.batchSize
	if n <= 0 {
		n = 1
	}
	indices = make([]int, 0, n)
	for mds.next < mds.numExamples && len(indices) < n {
		if len(mds.shuffle) > 0 {
			indices = append(indices, mds.shuffle[mds.next])
		} else {
			indices = append(indices, mds.next)
		}
		mds.next++
	}
	if len(indices) < n && mds.dropIncompleteBatch {
		// Drop the incomplete batch.
		indices = nil
	}
	if mds.next >= mds.numExamples {
		mds.next = -1
	}
	return
}

// Yield implements `train.Dataset`.
//
// It returns io.EOF at the end of the data, unless the dataset is configured with Infinite(true), in which case it
// resets (and reshuffles, if configured) automatically.
func (mds *InMemoryDataset) Yield() (inputs, labels *tensors.Tensor, err error) {
	indices := mds.indicesNextYield()
	if len(indices) == 0 && mds.infinite && mds.numExamples > 0 {
		mds.Reset()
		indices = mds.indicesNextYield()
	}
	if len(indices) == 0 {
		return nil, nil, io.EOF
	}
	return mds.inputs.Gather(indices), mds.labels.Gather(indices), nil
}

// Shuffle configures the InMemoryDataset to shuffle the order of the data. It returns random elements
// without replacement.
//
// At each call to Reset() it is reshuffled. It happens automatically if dataset is configured to Loop.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.shuffleLocked()
	return mds
}

// shuffleLocked shuffles dataset yield order. It assumed muSampling is locked.
func (mds *InMemoryDataset) shuffleLocked() {
	if mds.shuffle == nil {
		mds.shuffle = make([]int, mds.numExamples)
	}
	for ii := range mds.shuffle {
		mds.shuffle[ii] = ii
	}
	mds.rng.Shuffle(len(mds.shuffle), func(i, j int) {
		mds.shuffle[i], mds.shuffle[j] = mds.shuffle[j], mds.shuffle[i]
	})
}

// BatchSize configures the InMemoryDataset to return batches of the given size. dropIncompleteBatch is set to true,
// it will simply drop examples if there are not enough to fill a batch -- this can only happen on the last
// batch of an epoch. Otherwise, it will return a partially filled batch.
//
// If `n` is set to 0, it reverts back to yielding one example at a time.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.batchSize = n
	mds.dropIncompleteBatch = dropIncompleteBatch
	return mds
}

// WithRand sets the random number generator (RNG) for shuffling. This allows for repeatable
// deterministic random sampling. The default is an RNG with a fixed seed.
//
// If dataset is configured with Shuffle, this re-shuffles the dataset immediately.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.rng = rng
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
	return mds
}

// Infinite sets whether the dataset should loop indefinitely. The default is `infinite = false`, which
// causes the dataset to going through the data only once before returning io.EOF.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.infinite = infinite
	return mds
}
