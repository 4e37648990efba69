// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: a progress bar for
// the training loop, tables for the evaluation results and the parsing of settings flags.
package commandline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// ReportEval reports on w the results of evaluating the datasets using trainer.Eval.
func ReportEval(w io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		metricsValues, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		if _, err = fmt.Fprintf(w, "Results on %s:\n", ds.Name()); err != nil {
			return errors.WithStack(err)
		}
		for metricIdx, metric := range trainer.EvalMetrics() {
			value := metricsValues[metricIdx]
			if _, err = fmt.Fprintf(w, "\t%s (%s): %s\n", metric.Name(), metric.ShortName(), metric.PrettyPrint(value)); err != nil {
				return errors.WithStack(err)
			}
		}
		ds.Reset()
	}
	return nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)

// newTable creates a table with the same look as the progress bar stats table, with numbers right-aligned.
func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return normalStyle
			default:
				return rightAlignedStyle
			}
		})
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ClassificationReportTable renders the report as a table with the precision, recall, f1-score and support
// of each class, followed by the accuracy and the averages.
func ClassificationReportTable(report *metrics.ClassificationReport) string {
	table := newTable("", "precision", "recall", "f1-score", "support")
	row := func(name string, s metrics.ClassScores) {
		table.Row(name, formatScore(s.Precision), formatScore(s.Recall), formatScore(s.F1), strconv.Itoa(s.Support))
	}
	for ii, scores := range report.Classes {
		row(report.ClassNames[ii], scores)
	}
	table.Row("accuracy", "", "", formatScore(report.Accuracy), strconv.Itoa(report.Total))
	row("macro avg", report.MacroAvg)
	row("weighted avg", report.WeightedAvg)
	return table.String()
}

// ConfusionMatrixTable renders the confusion matrix with one row per true class and one column per
// predicted class. classNames is optional: if empty the classes are named by their index.
func ConfusionMatrixTable(cm *metrics.ConfusionMatrix, classNames []string) (string, error) {
	n := cm.NumClasses()
	if len(classNames) == 0 {
		classNames = make([]string, n)
		for ii := range classNames {
			classNames[ii] = strconv.Itoa(ii)
		}
	} else if len(classNames) != n {
		return "", errors.Errorf("confusion matrix has %d classes, but %d class names were given", n, len(classNames))
	}
	table := newTable(append([]string{"true \\ predicted"}, classNames...)...)
	for trueClass, counts := range cm.Counts() {
		row := make([]string, 0, n+1)
		row = append(row, classNames[trueClass])
		for _, count := range counts {
			row = append(row, strconv.Itoa(count))
		}
		table.Row(row...)
	}
	return table.String(), nil
}

// FoldsTable renders the loss and accuracy of each cross-validation fold, followed by their mean.
func FoldsTable(losses, accuracies []float64) (string, error) {
	if len(losses) != len(accuracies) {
		return "", errors.Errorf("got %d fold losses but %d fold accuracies", len(losses), len(accuracies))
	}
	table := newTable("fold", "loss", "accuracy")
	var meanLoss, meanAccuracy float64
	for ii := range losses {
		table.Row(strconv.Itoa(ii), fmt.Sprintf("%.4f", losses[ii]), fmt.Sprintf("%.4f", accuracies[ii]))
		meanLoss += losses[ii]
		meanAccuracy += accuracies[ii]
	}
	if n := len(losses); n > 0 {
		table.Row("mean", fmt.Sprintf("%.4f", meanLoss/float64(n)), fmt.Sprintf("%.4f", meanAccuracy/float64(n)))
	}
	return table.String(), nil
}
