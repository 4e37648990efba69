// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets is a collection of Dataset implementations and data tools: the InMemoryDataset used for
// training and evaluation, the StratifiedKFold splitter used by cross-validation, and sequence padding.
package datasets

import (
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ClassesFromLabels returns the class of each example of the labels tensor: the argmax of each one-hot row,
// or the value itself if labels have a single column.
func ClassesFromLabels(labels *tensors.Tensor) ([]int, error) {
	if labels == nil || labels.Rank() != 2 {
		var dims []int
		if labels != nil {
			dims = labels.Dims()
		}
		return nil, errors.Errorf("ClassesFromLabels: labels must be shaped [examples, classes], got %v", dims)
	}
	if labels.Dim(1) == 1 {
		classes := make([]int, labels.Dim(0))
		for ii, v := range labels.Data() {
			if v >= 0.5 {
				classes[ii] = 1
			}
		}
		return classes, nil
	}
	return labels.Argmax(), nil
}
