// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"bufio"
	"encoding/gob"
	"os"
	"slices"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/model/encoding"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Save writes the weights of the model layers (not the optimizer state) to the file in path.
func (s *Sequential) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Sequential.Save(%q)", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "Sequential.Save(%q)", path)
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	vars := s.Variables()
	header := encoding.Header{
		Version:      encoding.Version1,
		NumVariables: len(vars),
		InputDims:    s.inputDims,
		OutputDims:   s.outputDims,
	}
	if err = enc.Encode(header); err != nil {
		return errors.Wrapf(err, "Sequential.Save(%q): encoding header", path)
	}
	for _, v := range vars {
		encoded := encoding.EncodedVariable{
			Scope:     v.Scope(),
			Name:      v.Name(),
			Dims:      v.Value.Dims(),
			Trainable: v.Trainable,
			Values:    v.Value.Data(),
		}
		if err = enc.Encode(encoded); err != nil {
			return errors.Wrapf(err, "Sequential.Save(%q): encoding variable %s", path, v.ScopeAndName())
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "Sequential.Save(%q)", path)
	}
	klog.V(1).Infof("saved %d variables to %q", len(vars), path)
	return nil
}

// Load reads the weights saved with Save into the model variables. The model must have been assembled with the
// same layers: every saved variable must match a model variable with the same scope, name and dimensions.
func (s *Sequential) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "Sequential.Load(%q)", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	var header encoding.Header
	if err = dec.Decode(&header); err != nil {
		return errors.Wrapf(err, "Sequential.Load(%q): decoding header", path)
	}
	if header.Version != encoding.Version1 {
		return errors.Errorf("Sequential.Load(%q): unknown format version %q", path, header.Version)
	}
	if !slices.Equal(header.InputDims, s.inputDims) || !slices.Equal(header.OutputDims, s.outputDims) {
		return errors.Errorf("Sequential.Load(%q): saved model maps [batch]+%v to [batch]+%v, this model maps "+
			"[batch]+%v to [batch]+%v", path, header.InputDims, header.OutputDims, s.inputDims, s.outputDims)
	}
	vars := s.Variables()
	if header.NumVariables != len(vars) {
		return errors.Errorf("Sequential.Load(%q): saved model has %d variables, this model has %d",
			path, header.NumVariables, len(vars))
	}
	for range header.NumVariables {
		var encoded encoding.EncodedVariable
		if err = dec.Decode(&encoded); err != nil {
			return errors.Wrapf(err, "Sequential.Load(%q): decoding variable", path)
		}
		v := s.ctx.InspectVariable(encoded.Scope, encoded.Name)
		if v == nil {
			return errors.Errorf("Sequential.Load(%q): variable %s/%s not found in the model",
				path, encoded.Scope, encoded.Name)
		}
		if !slices.Equal(encoded.Dims, v.Value.Dims()) || len(encoded.Values) != v.Value.Size() {
			return errors.Errorf("Sequential.Load(%q): variable %s saved with dimensions %v (%d values), want %v",
				path, v.ScopeAndName(), encoded.Dims, len(encoded.Values), v.Value.Dims())
		}
		if err = v.SetValue(tensors.FromFlatData(encoded.Values, encoded.Dims...)); err != nil {
			return errors.WithMessagef(err, "Sequential.Load(%q)", path)
		}
		v.Trainable = encoded.Trainable
	}
	return nil
}
