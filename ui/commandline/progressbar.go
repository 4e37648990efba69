// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dlwrap/dlwrap/pkg/ml/train"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the time between terminal updates.
var RefreshPeriod = time.Second * 3

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// Output where the progress bar is drawn. Tests may redirect it.
var Output io.Writer = os.Stdout

// progressBar holds a progressbar being displayed.
type progressBar struct {
	numSteps         int
	lastStepReported int
	bar              *progressbar.ProgressBar

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	amount   int
	numSteps int
	metrics  []string
}

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "dlwrap.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// guessNumSteps is used while the number of steps of the loop is not known.
const guessNumSteps = 1000

func (pBar *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	pBar.lastStepReported = loop.LoopStep
	if loop.EndStep < 0 {
		pBar.numSteps = guessNumSteps
	} else {
		pBar.numSteps = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(Output),
	)
	pBar.startAsyncUpdates(loop)
	return nil
}

func (pBar *progressBar) onStep(loop *train.Loop, metrics []float64) error {
	if pBar.bar == nil || pBar.bar.IsFinished() {
		return nil
	}
	// +1 because the current LoopStep is finished.
	amount := loop.LoopStep + 1 - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}

	numSteps := pBar.numSteps
	if loop.EndStep > 0 {
		// The number of steps of an epoch loop is only known after the first epoch.
		numSteps = loop.EndStep - loop.StartStep
	}
	endStep := "?"
	if loop.EndStep > 0 {
		endStep = humanize.Comma(int64(loop.EndStep))
	}
	trainMetrics := loop.Trainer.TrainMetrics()
	update := progressBarUpdate{
		amount:   amount,
		numSteps: numSteps,
		metrics:  make([]string, 0, len(trainMetrics)+2),
	}
	update.metrics = append(update.metrics,
		fmt.Sprintf("%s of %s", humanize.Comma(int64(loop.LoopStep+1)), endStep),
		fmt.Sprintf("%d", loop.Epoch))
	for metricIdx, metricObj := range trainMetrics {
		update.metrics = append(update.metrics, metricObj.PrettyPrint(metrics[metricIdx]))
	}
	pBar.updates <- update
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ []float64) error {
	if pBar.updates != nil {
		close(pBar.updates)
	}
	pBar.asyncUpdatesDone.Wait()
	pBar.updates = nil
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	_, err := fmt.Fprintln(Output)
	return err
}

// startAsyncUpdates draws the updates in a separate goroutine: this is handy if the training is faster
// than the terminal.
func (pBar *progressBar) startAsyncUpdates(loop *train.Loop) {
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		defer pBar.asyncUpdatesDone.Done()
		for update := range pBar.updates {
			// Exhaust the updates in the buffer.
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}

			pBar.statsTable.Data(lgtable.NewStringData())
			pBar.statsTable.Row("Step", update.metrics[0])
			pBar.statsTable.Row("Epoch", update.metrics[1])
			pBar.statsTable.Row("Median train step duration", FormatDuration(loop.MedianTrainStepDuration()))
			for metricIdx, metricObj := range loop.Trainer.TrainMetrics() {
				pBar.statsTable.Row(metricObj.Name(), update.metrics[2+metricIdx])
			}
			for _, extraMetric := range pBar.extraMetricFns {
				name, value := extraMetric()
				pBar.statsTable.Row(name, value)
			}

			// Clear the previous lines that will be overwritten.
			pBar.termenv.HideCursor()
			if !pBar.isFirstOutput {
				// Table rows, plus 2 border lines and the progress bar line.
				numLinesToBackup := len(update.metrics) + 1 + len(pBar.extraMetricFns) + 2 + 1
				pBar.termenv.CursorPrevLine(numLinesToBackup)
			}
			pBar.isFirstOutput = false

			_, _ = fmt.Fprintln(Output, pBar.statsStyle.Render(pBar.statsTable.String()))
			if update.numSteps != pBar.numSteps {
				pBar.numSteps = update.numSteps
				pBar.bar.ChangeMax(pBar.numSteps)
			}
			_ = pBar.bar.Add(amount) // Prints progress bar line.
			_, _ = fmt.Fprintln(Output, "\033[J")
			pBar.termenv.ShowCursor()
			time.Sleep(maxUpdateFrequency)
		}
	}()
}

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// everytime Loop is run, it will display a progress bar with progression and metrics.
//
// The associated data will be attached to the train.Loop, so nothing is returned.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		extraMetricFns: extraMetrics,
		termenv:        termenv.NewOutput(Output),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Update at least 1000 times during the loop or at least every RefreshPeriod.
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
