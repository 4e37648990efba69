// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts, for each true class (row), how many examples were predicted as each class (column).
type ConfusionMatrix struct {
	counts [][]int
}

// NewConfusionMatrix builds the confusion matrix for the given true and predicted classes.
// Classes must be in the range [0, numClasses).
func NewConfusionMatrix(trueClasses, predictedClasses []int, numClasses int) (*ConfusionMatrix, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("confusion matrix requires numClasses > 0, got %d", numClasses)
	}
	if len(trueClasses) != len(predictedClasses) {
		return nil, errors.Errorf("confusion matrix got %d true classes and %d predicted classes",
			len(trueClasses), len(predictedClasses))
	}
	cm := &ConfusionMatrix{counts: make([][]int, numClasses)}
	for ii := range cm.counts {
		cm.counts[ii] = make([]int, numClasses)
	}
	for ii, want := range trueClasses {
		got := predictedClasses[ii]
		if want < 0 || want >= numClasses || got < 0 || got >= numClasses {
			return nil, errors.Errorf("example #%d has classes (true=%d, predicted=%d) out of range [0, %d)",
				ii, want, got, numClasses)
		}
		cm.counts[want][got]++
	}
	return cm, nil
}

// NumClasses returns the number of classes, the dimension of both axes.
func (cm *ConfusionMatrix) NumClasses() int {
	return len(cm.counts)
}

// At returns the number of examples of class trueClass predicted as predictedClass.
func (cm *ConfusionMatrix) At(trueClass, predictedClass int) int {
	return cm.counts[trueClass][predictedClass]
}

// Counts returns a copy of the counts: rows are true classes, columns are predicted classes.
func (cm *ConfusionMatrix) Counts() [][]int {
	out := make([][]int, len(cm.counts))
	for ii, row := range cm.counts {
		out[ii] = append([]int(nil), row...)
	}
	return out
}

// Total returns the number of examples counted.
func (cm *ConfusionMatrix) Total() int {
	var total int
	for _, row := range cm.counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// Dense returns the counts as a gonum matrix.
func (cm *ConfusionMatrix) Dense() *mat.Dense {
	n := cm.NumClasses()
	m := mat.NewDense(n, n, nil)
	for r, row := range cm.counts {
		for c, v := range row {
			m.Set(r, c, float64(v))
		}
	}
	return m
}

// String implements fmt.Stringer.
func (cm *ConfusionMatrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(cm.Dense(), mat.Squeeze()))
}

// ClassScores holds the per-class (or averaged) scores of a ClassificationReport.
type ClassScores struct {
	Precision, Recall, F1 float64
	Support               int
}

// ClassificationReport holds precision, recall, F1 and support per class, plus the overall accuracy and
// the macro and support-weighted averages.
//
// Scores whose denominator is zero (e.g.: precision of a class never predicted) are 0.
type ClassificationReport struct {
	ClassNames  []string
	Classes     []ClassScores
	Accuracy    float64
	MacroAvg    ClassScores
	WeightedAvg ClassScores
	Total       int
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// NewClassificationReport builds the report from a confusion matrix.
// classNames is optional: if empty, classes are named by their index.
func NewClassificationReport(cm *ConfusionMatrix, classNames []string) (*ClassificationReport, error) {
	n := cm.NumClasses()
	if len(classNames) == 0 {
		classNames = make([]string, n)
		for ii := range classNames {
			classNames[ii] = fmt.Sprintf("%d", ii)
		}
	} else if len(classNames) != n {
		return nil, errors.Errorf("classification report got %d class names for %d classes", len(classNames), n)
	}
	r := &ClassificationReport{
		ClassNames: append([]string(nil), classNames...),
		Classes:    make([]ClassScores, n),
		Total:      cm.Total(),
	}
	predictedCounts := make([]int, n)
	for _, row := range cm.counts {
		for c, v := range row {
			predictedCounts[c] += v
		}
	}
	var correct int
	for c := range n {
		tp := float64(cm.counts[c][c])
		correct += cm.counts[c][c]
		support := 0
		for _, v := range cm.counts[c] {
			support += v
		}
		scores := ClassScores{
			Precision: safeDiv(tp, float64(predictedCounts[c])),
			Recall:    safeDiv(tp, float64(support)),
			Support:   support,
		}
		scores.F1 = safeDiv(2*scores.Precision*scores.Recall, scores.Precision+scores.Recall)
		r.Classes[c] = scores

		r.MacroAvg.Precision += scores.Precision / float64(n)
		r.MacroAvg.Recall += scores.Recall / float64(n)
		r.MacroAvg.F1 += scores.F1 / float64(n)
		if r.Total > 0 {
			w := float64(support) / float64(r.Total)
			r.WeightedAvg.Precision += scores.Precision * w
			r.WeightedAvg.Recall += scores.Recall * w
			r.WeightedAvg.F1 += scores.F1 * w
		}
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	r.Accuracy = safeDiv(float64(correct), float64(r.Total))
	return r, nil
}

// String formats the report as a text table with 2 decimal digits.
func (r *ClassificationReport) String() string {
	const weightedAvgName = "weighted avg"
	width := len(weightedAvgName)
	for _, name := range r.ClassNames {
		width = max(width, len(name))
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(name string, s ClassScores) {
		_, _ = fmt.Fprintf(&sb, "%*s %9.2f %9.2f %9.2f %9d\n", width, name, s.Precision, s.Recall, s.F1, s.Support)
	}
	for ii, s := range r.Classes {
		row(r.ClassNames[ii], s)
	}
	sb.WriteString("\n")
	_, _ = fmt.Fprintf(&sb, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	row("macro avg", r.MacroAvg)
	row(weightedAvgName, r.WeightedAvg)
	return sb.String()
}
