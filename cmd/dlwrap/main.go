// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// dlwrap trains a DNN or an LSTM classifier on a CSV file with stratified k-fold cross-validation, and
// optionally evaluates it on a test CSV file.
//
// Options are taken, in increasing order of precedence, from the defaults, from the "model", "train" and
// "eval" tables of the -config TOML file and from the -set flag.
//
// Example:
//
//	dlwrap -model=dnn -train=train.csv -test=test.csv -label=species -class_names=setosa,versicolor,virginica \
//		-set="num_neurons=32,16;epochs=50"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dlwrap/dlwrap/models"
	"github.com/dlwrap/dlwrap/models/dnn"
	"github.com/dlwrap/dlwrap/models/lstmrnn"
	"github.com/dlwrap/dlwrap/pkg/config"
	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/train/crossval"
	"github.com/dlwrap/dlwrap/pkg/support/fsutil"
	"github.com/dlwrap/dlwrap/pkg/support/xslices"
	"github.com/dlwrap/dlwrap/ui/commandline"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model types accepted by -model.
const (
	ModelDNN  = "dnn"
	ModelLSTM = "lstm"
)

var (
	flagModel      = flag.String("model", ModelDNN, "Type of classifier: \"dnn\" for numeric features or \"lstm\" for sequences of token ids.")
	flagConfig     = flag.String("config", "", "TOML file with the options in the tables \"model\", \"train\" and \"eval\".")
	flagTrain      = flag.String("train", "", "CSV file with the training data, with a header. Required.")
	flagTest       = flag.String("test", "", "CSV file with the test data. If set, the trained model is evaluated on it.")
	flagLabel      = flag.String("label", "label", "Name of the CSV column with the integer class labels. All other columns are features.")
	flagSave       = flag.String("save", "", "File where to save the weights of the trained model.")
	flagClassNames = xslices.Flag("class_names", nil, "Comma-separated names of the classes, used in the evaluation report.",
		func(s string) (string, error) { return s, nil })
)

// createDefaultContext holds the default value of every option that can be set with -set.
//
// The number of features and of classes are taken from the data. A vocabulary_size of 0 is taken from the
// largest token id in the training data, a max_length of 0 is the number of feature columns, and a
// learning_rate of 0 uses the optimizer's default.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Model.
		config.OptionActivation:       "relu",
		config.OptionDropoutRate:      0.2,
		config.OptionLoss:             "categorical_crossentropy",
		config.OptionOptimizer:        "adam",
		config.OptionNumNeurons:       []int{64, 32},
		config.OptionOutputActivation: config.DefaultOutputActivation,
		config.OptionLearningRate:     0.0,
		config.OptionSeed:             config.DefaultSeed,
		config.OptionMaxLength:        0,
		config.OptionTrainable:        true,
		config.OptionVocabularySize:   0,
		config.OptionEmbeddingDim:     0,

		// Training.
		config.OptionBatchSize:       32,
		config.OptionNSplits:         5,
		config.OptionValidationSplit: 0.1,
		config.OptionVerbose:         config.VerboseProgress,
		config.OptionLogPath:         "",
		config.OptionEpochs:          20,
		config.OptionShuffleSeed:     config.DefaultSeed,

		// Evaluation.
		config.OptionClassNames: []string{},
	})
	return ctx
}

func main() {
	klog.InitFlags(nil)
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()
	defer klog.Flush()

	err := exceptions.TryCatch[error](func() { run(ctx, *settings) })
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// run panics on errors, which are caught in main.
func run(ctx *context.Context, settings string) {
	if *flagTrain == "" {
		exceptions.Panicf("-train is required")
	}
	if *flagConfig != "" {
		must.M(applyConfigFile(ctx, fsutil.MustReplaceTildeInDir(*flagConfig)))
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, settings))
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Options set:\n%s", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	if len(*flagClassNames) > 0 {
		ctx.SetParam(config.OptionClassNames, *flagClassNames)
	}
	klog.V(2).Infof("Options:\n%s", commandline.SprintContextSettings(ctx))

	trainData := must.M1(LoadCSV(fsutil.MustReplaceTildeInDir(*flagTrain), *flagLabel))
	var testData *Data
	if *flagTest != "" {
		testData = must.M1(LoadCSV(fsutil.MustReplaceTildeInDir(*flagTest), *flagLabel))
	}
	classifier, prepared := must.M2(buildClassifier(ctx, *flagModel, trainData, testData))
	fmt.Println(classifier.Summary())

	result := must.M1(classifier.TrainFromOptions(prepared.trainX, prepared.trainY, optionsFor(ctx, config.TrainSchema)))
	losses := xslices.Map(result.Folds, func(f crossval.FoldResult) float64 { return f.Loss })
	fmt.Println(must.M1(commandline.FoldsTable(losses, result.Accuracies())))
	fmt.Println(result)

	if prepared.testX != nil {
		evalCfg := must.M1(config.DecodeEval(evalOptions(ctx, prepared.testY.Dim(1))))
		eval := must.M1(classifier.Evaluate(prepared.testX, prepared.testY, evalCfg))
		fmt.Printf("Test loss: %.4f, accuracy: %.4f\n", eval.Loss, eval.Accuracy)
		fmt.Println(commandline.ClassificationReportTable(eval.Report))
		fmt.Println(must.M1(commandline.ConfusionMatrixTable(eval.Confusion, evalCfg.ClassNames)))
	}

	if *flagSave != "" {
		must.M(classifier.Save(fsutil.MustReplaceTildeInDir(*flagSave)))
		klog.Infof("Model weights saved to %q", *flagSave)
	}
}

// applyConfigFile sets the options of the "model", "train" and "eval" tables of the TOML file into ctx.
func applyConfigFile(ctx *context.Context, path string) error {
	options, err := config.LoadTOML(path)
	if err != nil {
		return err
	}
	for _, name := range []string{config.SectionModel, config.SectionTrain, config.SectionEval} {
		section, err := config.Section(options, name)
		if err != nil {
			return errors.WithMessagef(err, "configuration file %q", path)
		}
		ctx.SetParams(section)
	}
	return nil
}

// optionsFor returns the options in ctx listed in schema.
func optionsFor(ctx *context.Context, schema config.Schema) map[string]any {
	options := make(map[string]any, len(schema))
	for key := range schema {
		if value, found := ctx.GetParam(key); found {
			options[key] = value
		}
	}
	return options
}

// evalOptions returns the evaluation options, with the classes named by their index if no names were given.
func evalOptions(ctx *context.Context, numClasses int) map[string]any {
	options := optionsFor(ctx, config.EvalSchema)
	if names, _ := options[config.OptionClassNames].([]string); len(names) == 0 {
		options[config.OptionClassNames] = xslices.Map(xslices.Iota(0, max(numClasses, 2)),
			func(c int) string { return fmt.Sprintf("%d", c) })
	}
	return options
}

// preparedData holds the features and one-hot labels fed to the classifier. The test ones are nil if there
// is no test data.
type preparedData struct {
	trainX, trainY, testX, testY *tensors.Tensor
}

// buildClassifier creates the classifier selected by modelType, and prepares the features and one-hot labels
// of the train and (optional) test data for it.
func buildClassifier(ctx *context.Context, modelType string, trainData, testData *Data) (
	c *models.Wrapper, p *preparedData, err error) {
	var options map[string]any
	p = &preparedData{}
	numClasses := trainData.NumClasses()
	if testData != nil {
		numClasses = max(numClasses, testData.NumClasses())
	}
	if names := context.GetParamOr(ctx, config.OptionClassNames, []string{}); len(names) > numClasses {
		numClasses = len(names)
	}

	switch modelType {
	case ModelDNN:
		options = optionsFor(ctx, config.DNNSchema)
		options[config.OptionNumFeatures] = trainData.NumFeatures()
		options[config.OptionNumClasses] = numClasses
		dropZeroOptions(options, config.OptionLearningRate)
		p.trainX, p.testX, err = Standardize(trainData, testData)
		if err != nil {
			return
		}
		var d *dnn.DNN
		if d, err = dnn.NewFromOptions(options); err != nil {
			return
		}
		c = d.Wrapper

	case ModelLSTM:
		options = optionsFor(ctx, config.LSTMSchema)
		options[config.OptionNumClasses] = numClasses
		if options[config.OptionMaxLength] == 0 {
			options[config.OptionMaxLength] = trainData.NumFeatures()
		}
		if options[config.OptionVocabularySize] == 0 {
			options[config.OptionVocabularySize] = trainData.MaxToken() + 1
			if testData != nil {
				options[config.OptionVocabularySize] = max(trainData.MaxToken(), testData.MaxToken()) + 1
			}
		}
		dropZeroOptions(options, config.OptionLearningRate, config.OptionEmbeddingDim)
		maxLength := options[config.OptionMaxLength].(int)
		if p.trainX, err = trainData.Sequences(maxLength); err != nil {
			return
		}
		if testData != nil {
			if p.testX, err = testData.Sequences(maxLength); err != nil {
				return
			}
		}
		var l *lstmrnn.LstmRNN
		if l, err = lstmrnn.NewFromOptions(options); err != nil {
			return
		}
		c = l.Wrapper

	default:
		err = errors.Errorf("unknown -model=%q, valid values are %q and %q", modelType, ModelDNN, ModelLSTM)
		return
	}

	if p.trainY, err = trainData.OneHotLabels(numClasses); err != nil {
		return
	}
	if testData != nil {
		if p.testY, err = testData.OneHotLabels(numClasses); err != nil {
			return
		}
	}
	return
}

// dropZeroOptions removes the options set to 0, which stand for "use the default".
func dropZeroOptions(options map[string]any, keys ...string) {
	for _, key := range keys {
		switch v := options[key].(type) {
		case int:
			if v == 0 {
				delete(options, key)
			}
		case float64:
			if v == 0 {
				delete(options, key)
			}
		}
	}
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -train=<csv> [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
