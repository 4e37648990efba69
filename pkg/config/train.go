// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

// Names of the training and evaluation options.
const (
	OptionBatchSize       = "batch_size"
	OptionNSplits         = "n_splits"
	OptionValidationSplit = "validation_split"
	OptionVerbose         = "verbose"
	OptionLogPath         = "log_path"
	OptionEpochs          = "epochs"
	OptionShuffleSeed     = "shuffle_seed"
	OptionClassNames      = "class_names"
)

// Verbosity levels of the training.
const (
	VerboseSilent   = 0
	VerboseProgress = 1
	VerboseEpochs   = 2
)

// TrainSchema is the schema of the cross-validation training options.
var TrainSchema = Schema{
	OptionBatchSize:       {Kind: KindInt, Required: true, Check: Positive},
	OptionNSplits:         {Kind: KindInt, Required: true, Check: AtLeast(2)},
	OptionValidationSplit: {Kind: KindFloat, Required: true, Check: InHalfOpenRange(0, 1)},
	OptionVerbose:         {Kind: KindInt, Required: true, Check: OneOf(VerboseSilent, VerboseProgress, VerboseEpochs)},
	OptionLogPath:         {Kind: KindString, Required: true},
	OptionEpochs:          {Kind: KindInt, Required: true, Check: Positive},
	OptionShuffleSeed:     {Kind: KindInt},
}

// TrainConfig configures the stratified k-fold cross-validation training.
type TrainConfig struct {
	BatchSize int

	// NSplits is the number of folds.
	NSplits int

	// ValidationSplit is the fraction of the training part of each fold held out to validate each epoch.
	ValidationSplit float64

	// Verbose is one of VerboseSilent, VerboseProgress (a progress bar per fold) or VerboseEpochs (one log line
	// per epoch).
	Verbose int

	// LogPath is the directory where the metrics of each run are logged. If empty, nothing is logged.
	LogPath string

	Epochs int

	// ShuffleSeed of the fold assignment.
	ShuffleSeed int
}

// DecodeTrain validates options against TrainSchema and returns the corresponding TrainConfig.
func DecodeTrain(options map[string]any) (TrainConfig, error) {
	values, err := validate(TrainSchema, options)
	if err != nil {
		return TrainConfig{}, err
	}
	return TrainConfig{
		BatchSize:       values[OptionBatchSize].(int),
		NSplits:         values[OptionNSplits].(int),
		ValidationSplit: values[OptionValidationSplit].(float64),
		Verbose:         values[OptionVerbose].(int),
		LogPath:         values[OptionLogPath].(string),
		Epochs:          values[OptionEpochs].(int),
		ShuffleSeed:     intOr(values, OptionShuffleSeed, DefaultSeed),
	}, nil
}

// Options returns the configuration as a map of options.
func (c TrainConfig) Options() map[string]any {
	return map[string]any{
		OptionBatchSize:       c.BatchSize,
		OptionNSplits:         c.NSplits,
		OptionValidationSplit: c.ValidationSplit,
		OptionVerbose:         c.Verbose,
		OptionLogPath:         c.LogPath,
		OptionEpochs:          c.Epochs,
		OptionShuffleSeed:     c.ShuffleSeed,
	}
}

// Validate checks the ranges of the configuration, for configurations not built with DecodeTrain.
func (c TrainConfig) Validate() error {
	return Validate(TrainSchema, c.Options())
}

// EvalSchema is the schema of the evaluation options.
var EvalSchema = Schema{
	OptionBatchSize:  {Kind: KindInt, Required: true, Check: Positive},
	OptionClassNames: {Kind: KindStringList, Required: true, Check: NonEmptyList},
}

// EvalConfig configures the evaluation on a held-out test set.
type EvalConfig struct {
	BatchSize int

	// ClassNames used in the classification report, one per class.
	ClassNames []string
}

// DecodeEval validates options against EvalSchema and returns the corresponding EvalConfig.
func DecodeEval(options map[string]any) (EvalConfig, error) {
	values, err := validate(EvalSchema, options)
	if err != nil {
		return EvalConfig{}, err
	}
	return EvalConfig{
		BatchSize:  values[OptionBatchSize].(int),
		ClassNames: values[OptionClassNames].([]string),
	}, nil
}

// Options returns the configuration as a map of options.
func (c EvalConfig) Options() map[string]any {
	return map[string]any{
		OptionBatchSize:  c.BatchSize,
		OptionClassNames: c.ClassNames,
	}
}

// Validate checks the ranges of the configuration, for configurations not built with DecodeEval.
func (c EvalConfig) Validate() error {
	return Validate(EvalSchema, c.Options())
}
