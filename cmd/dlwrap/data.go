// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/data"
	"github.com/dlwrap/dlwrap/pkg/ml/datasets"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Data loaded from a CSV file: one row per example, the label column holds the class ids and all the
// other columns are (numeric) features.
type Data struct {
	Name     string
	Features *tensors.Tensor
	Labels   []int
}

// LoadCSV reads the CSV file at path, with a header line, using labelColumn as the labels.
func LoadCSV(path, labelColumn string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.WithTypes(map[string]series.Type{
		labelColumn: series.Int,
	}))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "reading CSV %q", path)
	}
	return FromDataFrame(path, df, labelColumn)
}

// FromDataFrame converts df to Data, using labelColumn as the labels.
func FromDataFrame(name string, df dataframe.DataFrame, labelColumn string) (*Data, error) {
	if !slices.Contains(df.Names(), labelColumn) {
		return nil, errors.Errorf("%q has no label column %q, columns are %q", name, labelColumn, df.Names())
	}
	labels, err := df.Col(labelColumn).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%q: label column %q must hold integer class ids", name, labelColumn)
	}
	for ii, label := range labels {
		if label < 0 {
			return nil, errors.Errorf("%q: negative label %d in row %d", name, label, ii)
		}
	}
	features := df.Drop(labelColumn)
	if features.Err != nil {
		return nil, errors.Wrapf(features.Err, "%q: dropping label column", name)
	}
	if features.Ncol() == 0 {
		return nil, errors.Errorf("%q: no feature columns besides the label %q", name, labelColumn)
	}
	numExamples, numFeatures := features.Dims()
	x := tensors.Zeros(numExamples, numFeatures)
	for colIdx, colName := range features.Names() {
		col := features.Col(colName)
		if t := col.Type(); t != series.Float && t != series.Int && t != series.Bool {
			return nil, errors.Errorf("%q: feature column %q must be numeric, got %s", name, colName, t)
		}
		for row, v := range col.Float() {
			x.Data()[row*numFeatures+colIdx] = v
		}
	}
	klog.V(1).Infof("Loaded %q: %d examples, %d features", name, numExamples, numFeatures)
	return &Data{
		Name:     name,
		Features: x,
		Labels:   labels,
	}, nil
}

// NumFeatures is the number of feature columns.
func (d *Data) NumFeatures() int {
	return d.Features.Dim(1)
}

// NumClasses is the largest class id plus one.
func (d *Data) NumClasses() int {
	if len(d.Labels) == 0 {
		return 0
	}
	return slices.Max(d.Labels) + 1
}

// MaxToken is the largest feature value, taken as a token id.
func (d *Data) MaxToken() int {
	if d.Features.Size() == 0 {
		return 0
	}
	return int(slices.Max(d.Features.Data()))
}

// OneHotLabels returns the labels one-hot encoded over numClasses.
func (d *Data) OneHotLabels(numClasses int) (*tensors.Tensor, error) {
	oneHot, err := tensors.OneHot(d.Labels, numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "%q labels", d.Name)
	}
	return oneHot, nil
}

// Sequences returns the features as sequences of token ids padded (or truncated) to maxLength.
// Zeros are the padding token and trailing zeros of each row are dropped before padding.
func (d *Data) Sequences(maxLength int) (*tensors.Tensor, error) {
	numExamples := d.Features.Dim(0)
	sequences := make([][]int, numExamples)
	for ii := range numExamples {
		row := d.Features.Row(ii)
		end := len(row)
		for end > 0 && row[end-1] == 0 {
			end--
		}
		seq := make([]int, end)
		for jj, v := range row[:end] {
			if v < 0 || v != float64(int(v)) {
				return nil, errors.Errorf("%q: row %d has an invalid token id %g", d.Name, ii, v)
			}
			seq[jj] = int(v)
		}
		sequences[ii] = seq
	}
	padded, err := datasets.PadSequences(datasets.PaddingConfig{
		MaxLength:  maxLength,
		Padding:    datasets.PadPre,
		Truncating: datasets.PadPost,
	}, sequences)
	if err != nil {
		return nil, errors.WithMessagef(err, "%q sequences", d.Name)
	}
	return padded, nil
}

// Standardize normalizes the features of train to zero mean and unit variance, and applies the same
// transformation to the features of test (if not nil).
func Standardize(train, test *Data) (trainX, testX *tensors.Tensor, err error) {
	ds, err := datasets.InMemoryFromData(train.Name, train.Features, tensors.Zeros(train.Features.Dim(0), 1))
	if err != nil {
		return nil, nil, err
	}
	ds.BatchSize(1024, false)
	mean, stddev, err := data.Normalization(ds)
	if err != nil {
		return nil, nil, err
	}
	if trainX, err = data.Normalize(train.Features, mean, stddev); err != nil {
		return nil, nil, err
	}
	if test != nil {
		if testX, err = data.Normalize(test.Features, mean, stddev); err != nil {
			return nil, nil, errors.WithMessagef(err, "%q", test.Name)
		}
	}
	return trainX, testX, nil
}
