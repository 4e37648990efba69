// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Fold holds the indices of the examples used for training and for testing in one split of a k-fold
// cross-validation. Both are sorted.
type Fold struct {
	Train, Test []int
}

// StratifiedKFold splits a dataset into NumSplits folds that preserve the proportion of examples of each
// class.
//
// Examples are ordered by class and dealt round-robin to the folds, so the number of examples of each class
// in each fold differs by at most one. If Shuffle is set, the assignment of examples to folds within each class
// is randomized with Seed, otherwise examples keep their original order.
type StratifiedKFold struct {
	NumSplits int
	Shuffle   bool
	Seed      uint64
}

// Split returns NumSplits folds for the given classes (one per example). Every example appears as a test
// example in exactly one fold.
func (kf StratifiedKFold) Split(classes []int) ([]Fold, error) {
	if kf.NumSplits < 2 {
		return nil, errors.Errorf("StratifiedKFold requires at least 2 splits, got NumSplits=%d", kf.NumSplits)
	}
	numExamples := len(classes)
	if kf.NumSplits > numExamples {
		return nil, errors.Errorf("StratifiedKFold: cannot have NumSplits=%d greater than the number of examples %d",
			kf.NumSplits, numExamples)
	}

	// Encode classes in order of first appearance.
	encoding := make(map[int]int)
	encoded := make([]int, numExamples)
	var counts []int
	for ii, c := range classes {
		idx, found := encoding[c]
		if !found {
			idx = len(counts)
			encoding[c] = idx
			counts = append(counts, 0)
		}
		encoded[ii] = idx
		counts[idx]++
	}
	numClasses := len(counts)
	if slices.Max(counts) < kf.NumSplits {
		return nil, errors.Errorf("StratifiedKFold: NumSplits=%d cannot be greater than the number of members "+
			"in each class (largest class has %d)", kf.NumSplits, slices.Max(counts))
	}
	if minCount := slices.Min(counts); minCount < kf.NumSplits {
		klog.Warningf("StratifiedKFold: the least populated class has only %d members, which is less than "+
			"NumSplits=%d", minCount, kf.NumSplits)
	}

	// allocation[fold][class] is the number of test examples of the class in the fold: examples sorted by class
	// are dealt round-robin to the folds.
	allocation := make([][]int, kf.NumSplits)
	for fold := range allocation {
		allocation[fold] = make([]int, numClasses)
	}
	position := 0
	for class, count := range counts {
		for range count {
			allocation[position%kf.NumSplits][class]++
			position++
		}
	}

	var rng *rand.Rand
	if kf.Shuffle {
		rng = rand.New(rand.NewPCG(kf.Seed, kf.Seed))
	}
	testFold := make([]int, numExamples)
	for class := range numClasses {
		foldsForClass := make([]int, 0, counts[class])
		for fold := range kf.NumSplits {
			for range allocation[fold][class] {
				foldsForClass = append(foldsForClass, fold)
			}
		}
		if rng != nil {
			rng.Shuffle(len(foldsForClass), func(i, j int) {
				foldsForClass[i], foldsForClass[j] = foldsForClass[j], foldsForClass[i]
			})
		}
		next := 0
		for ii, c := range encoded {
			if c == class {
				testFold[ii] = foldsForClass[next]
				next++
			}
		}
	}

	folds := make([]Fold, kf.NumSplits)
	for ii, fold := range testFold {
		for f := range folds {
			if f == fold {
				folds[f].Test = append(folds[f].Test, ii)
			} else {
				folds[f].Train = append(folds[f].Train, ii)
			}
		}
	}
	return folds, nil
}
