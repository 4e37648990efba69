// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/pkg/errors"
)

// PadSide selects at which end of a sequence padding or truncation is applied.
type PadSide int

const (
	// PadPre pads or truncates at the start of the sequence.
	PadPre PadSide = iota

	// PadPost pads or truncates at the end of the sequence.
	PadPost
)

// PaddingConfig configures how sequences of token ids are padded to a fixed length.
type PaddingConfig struct {
	// MaxLength is the length of the padded sequences. Required.
	MaxLength int

	// Padding selects where the PadValue is inserted in sequences shorter than MaxLength. Default is PadPre.
	Padding PadSide

	// Truncating selects where tokens are dropped from sequences longer than MaxLength. Default is PadPre.
	Truncating PadSide

	// PadValue is the token id used for padding. Default is 0.
	PadValue int
}

// PadSequences pads (or truncates) each sequence of token ids to config.MaxLength, and returns them as a
// tensor shaped [len(sequences), MaxLength], ready to be fed to an embedding layer.
//
// Example:
//
//	ids, err := PadSequences(PaddingConfig{MaxLength: 4}, [][]int{{7, 3}, {1, 2, 3, 4, 5}})
//	// ids = [[0, 0, 7, 3], [2, 3, 4, 5]]
func PadSequences(config PaddingConfig, sequences [][]int) (*tensors.Tensor, error) {
	if config.MaxLength <= 0 {
		return nil, errors.Errorf("PadSequences requires MaxLength > 0, got %d", config.MaxLength)
	}
	if len(sequences) == 0 {
		return nil, errors.New("PadSequences: no sequences provided")
	}
	maxLen := config.MaxLength
	padded := tensors.Zeros(len(sequences), maxLen)
	data := padded.Data()
	for ii, seq := range sequences {
		if len(seq) > maxLen {
			if config.Truncating == PadPre {
				seq = seq[len(seq)-maxLen:]
			} else {
				seq = seq[:maxLen]
			}
		}
		row := data[ii*maxLen : (ii+1)*maxLen]
		offset := 0
		if config.Padding == PadPre {
			offset = maxLen - len(seq)
		}
		for jj := range row {
			row[jj] = float64(config.PadValue)
		}
		for jj, id := range seq {
			if id < 0 {
				return nil, errors.Errorf("PadSequences: sequence #%d has negative token id %d", ii, id)
			}
			row[offset+jj] = float64(id)
		}
	}
	return padded, nil
}
