// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dlwrap/dlwrap/pkg/core/tensors"
	"github.com/dlwrap/dlwrap/pkg/ml/context"
	"github.com/dlwrap/dlwrap/pkg/ml/datasets"
	"github.com/dlwrap/dlwrap/pkg/ml/layers"
	"github.com/dlwrap/dlwrap/pkg/ml/layers/activations"
	"github.com/dlwrap/dlwrap/pkg/ml/model"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dlwrap/dlwrap/pkg/ml/train/metrics"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParam("x", 11.0)
	ctx.SetParam("y", 7)
	ctx.SetParam("z", false)
	ctx.SetParam("s", "foo")
	ctx.SetParam("list_int", []int{})
	ctx.SetParam("list_float", []float64{})
	ctx.SetParam("list_str", []string{})
	return ctx
}

func TestParseContextSettings(t *testing.T) {
	ctx := createTestContext()

	paramsSet, err := ParseContextSettings(ctx, "x=13;/a/z=true;/a/b/y=3;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	x, found := ctx.GetParam("x")
	assert.True(t, found)
	assert.Equal(t, 13.0, x.(float64))

	y, found := ctx.GetParam("y")
	assert.True(t, found)
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").GetParam("y")
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").In("b").GetParam("y")
	assert.Equal(t, 3, y)

	z, found := ctx.GetParam("z")
	assert.True(t, found)
	assert.False(t, z.(bool))
	z, _ = ctx.In("a").GetParam("z")
	assert.True(t, z.(bool))

	s, found := ctx.GetParam("s")
	assert.True(t, found)
	assert.Equal(t, "bar", s.(string))

	assert.Equal(t, []int{1, 3, 7}, context.GetParamOr(ctx, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, context.GetParamOr(ctx, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, context.GetParamOr(ctx, "list_str", []string{}))

	// Parameter "q" is unknown.
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Parameter "q" is still unknown in root.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseContextSettings(ctx, "y=3.14")
	require.Error(t, err)
	_, err = ParseContextSettings(ctx, "list_int=1,x")
	require.Error(t, err)

	// Cannot parse setting with scope not absolute.
	_, err = ParseContextSettings(ctx, "a/abc=3.14")
	require.Error(t, err)

	// Large numbers with separators.
	_, err = ParseContextSettings(ctx, "y=1_000_000")
	require.NoError(t, err)
	assert.Equal(t, 1000000, context.GetParamOr(ctx, "y", 0))

	modified := SprintModifiedContextSettings(ctx, []string{"y", "x", "y"})
	assert.Equal(t, "\t\"x\": (float64) 13\n\t\"y\": (int) 1000000", modified)
}

func TestParseContextSettingsFile(t *testing.T) {
	ctx := createTestContext()
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Comment\nx=1.5\n\ny=2;s=baz\n"), 0o644))
	paramsSet, err := ParseContextSettings(ctx, "file:"+path+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "z"}, paramsSet)
	assert.Equal(t, 1.5, context.GetParamOr(ctx, "x", 0.0))
	assert.Equal(t, "baz", context.GetParamOr(ctx, "s", ""))

	_, err = ParseContextSettings(ctx, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestTables(t *testing.T) {
	cm := must.M1(metrics.NewConfusionMatrix([]int{0, 0, 1, 1, 2}, []int{0, 1, 1, 1, 2}, 3))
	report := must.M1(metrics.NewClassificationReport(cm, []string{"cat", "dog", "fish"}))
	table := ClassificationReportTable(report)
	for _, want := range []string{"precision", "recall", "f1-score", "support", "cat", "weighted avg", "0.67", "0.80"} {
		assert.Contains(t, table, want)
	}

	table, err := ConfusionMatrixTable(cm, nil)
	require.NoError(t, err)
	assert.Contains(t, table, "true \\ predicted")
	lines := strings.Split(table, "\n")
	// Top border, header, separator, 3 rows and bottom border.
	assert.Len(t, lines, 7)
	_, err = ConfusionMatrixTable(cm, []string{"a"})
	require.Error(t, err)

	table, err = FoldsTable([]float64{0.5, 0.25}, []float64{0.75, 1})
	require.NoError(t, err)
	assert.Contains(t, table, "mean")
	assert.Contains(t, table, "0.3750")
	assert.Contains(t, table, "0.8750")
	_, err = FoldsTable([]float64{0.5}, nil)
	require.Error(t, err)
}

func newRegression(t *testing.T) (*model.Sequential, *tensors.Tensor, *tensors.Tensor) {
	m := model.NewSequential(context.New(), 1)
	require.NoError(t, m.Add(layers.NewDense(1, activations.Linear)))
	require.NoError(t, m.Compile("mse", "sgd"))
	x := tensors.FromFlatData([]float64{0, 1, 2, 3, 4, 5, 6, 7}, 8, 1)
	y := tensors.FromFlatData([]float64{1, 3, 5, 7, 9, 11, 13, 15}, 8, 1)
	return m, x, y
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	Output = &buf
	defer func() { Output = os.Stdout }()

	m, x, y := newRegression(t)
	_, err := m.Fit(x, y, model.FitOptions{
		Epochs:    3,
		BatchSize: 4,
		Hooks: []func(*train.Loop){func(loop *train.Loop) {
			AttachProgressBar(loop, func() (string, string) { return "fold", "0" })
		}},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Median train step duration")
	assert.Contains(t, out, "fold")
	assert.Contains(t, out, "of 6")
}

func TestReportEval(t *testing.T) {
	m, x, y := newRegression(t)
	ds := must.M1(datasets.InMemoryFromData("line", x, y))
	var buf bytes.Buffer
	require.NoError(t, ReportEval(&buf, m.Trainer(), ds))
	assert.True(t, strings.HasPrefix(buf.String(), "Results on line:\n"))
}
