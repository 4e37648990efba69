// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package logdir records the training progress of a run into a directory: one CSV row per epoch with the train
// and validation metrics, and a plot of those metrics rendered at the end of each training loop.
//
// A run is stored in `<logPath>/<run-uuid>/`, with the files MetricsFileName and PlotFileName.
package logdir

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

const (
	// MetricsFileName is the name of the CSV file with one row per epoch.
	MetricsFileName = "metrics.csv"

	// PlotFileName is the name of the image with the metrics plotted per epoch.
	PlotFileName = "metrics.png"

	// HookName used when attaching to a train.Loop.
	HookName = "logdir"
)

// Logger writes the metrics of the training loops it is attached to.
//
// Epochs are counted cumulatively across all attached loops, since cross-validation folds keep training the
// same model.
type Logger struct {
	dir    string
	file   *os.File
	writer *csv.Writer
	header []string

	epochs int
	series map[string]plotter.XYs
}

// New creates the run directory `<logPath>/<run-uuid>` and the metrics file in it.
func New(logPath string) (*Logger, error) {
	dir := filepath.Join(logPath, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "logdir: creating run directory")
	}
	f, err := os.Create(filepath.Join(dir, MetricsFileName))
	if err != nil {
		return nil, errors.Wrapf(err, "logdir: creating metrics file")
	}
	klog.V(1).Infof("logging training metrics to %q", dir)
	return &Logger{
		dir:    dir,
		file:   f,
		writer: csv.NewWriter(f),
		series: make(map[string]plotter.XYs),
	}, nil
}

// Dir returns the run directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Attach the logger to the loop: at the end of each epoch it appends a row tagged with fold, and at the end of
// the loop it renders the plot.
//
// Validation metrics are taken from train.ValidationMetricsKey in the loop shared data, if present.
func (l *Logger) Attach(loop *train.Loop, fold int) {
	loop.OnEpoch(HookName, 0, func(loop *train.Loop, epoch int, metrics []float64) error {
		return l.logEpoch(loop, fold, epoch, metrics)
	})
	loop.OnEnd(HookName, 0, func(_ *train.Loop, _ []float64) error {
		return l.Plot()
	})
}

func (l *Logger) logEpoch(loop *train.Loop, fold, epoch int, values []float64) error {
	names := make([]string, 0, 2*len(values))
	for _, m := range loop.Trainer.TrainMetrics() {
		names = append(names, m.Name())
	}
	if validation, found := loop.SharedData[train.ValidationMetricsKey].([]float64); found {
		values = append(slices.Clone(values), validation...)
		for _, m := range loop.Trainer.EvalMetrics() {
			names = append(names, train.ValidationPrefix+m.Name())
		}
	}
	if len(names) != len(values) {
		return errors.Errorf("logdir: got %d values for metrics %q", len(values), names)
	}
	header := append([]string{"fold", "epoch"}, names...)
	if l.header == nil {
		l.header = header
		if err := l.writer.Write(header); err != nil {
			return errors.Wrap(err, "logdir: writing header")
		}
	} else if !slices.Equal(l.header, header) {
		return errors.Errorf("logdir: metrics changed from %q to %q", l.header, header)
	}

	row := make([]string, 0, len(header))
	row = append(row, strconv.Itoa(fold), strconv.Itoa(epoch))
	for ii, v := range values {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		l.series[names[ii]] = append(l.series[names[ii]], plotter.XY{X: float64(l.epochs + 1), Y: v})
	}
	l.epochs++
	if err := l.writer.Write(row); err != nil {
		return errors.Wrap(err, "logdir: writing row")
	}
	l.writer.Flush()
	return errors.Wrap(l.writer.Error(), "logdir: flushing")
}

// Plot renders all metrics recorded so far into PlotFileName. It does nothing if nothing was recorded.
func (l *Logger) Plot() error {
	if len(l.header) == 0 || l.epochs == 0 {
		return nil
	}
	p := plot.New()
	p.Title.Text = "Training metrics"
	p.X.Label.Text = "epoch"
	var lines []any
	for _, name := range l.header[2:] {
		lines = append(lines, name, l.series[name])
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "logdir: creating plot")
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(l.dir, PlotFileName)); err != nil {
		return errors.Wrap(err, "logdir: saving plot")
	}
	return nil
}

// Close flushes and closes the metrics file.
func (l *Logger) Close() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		_ = l.file.Close()
		return errors.Wrap(err, "logdir: flushing")
	}
	return errors.Wrap(l.file.Close(), "logdir: closing metrics file")
}
