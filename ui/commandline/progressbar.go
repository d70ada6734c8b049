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
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/train"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/notebooks"
	"github.com/gomlx/logreg/pkg/logreg"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each update of the progress bar, and it should return a name and the current value.
type ExtraMetricFn func() (name, value string)

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "logreg.commandline.progressBar"

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

// Output where the progress bar and its statistics are drawn.
var Output io.Writer = os.Stdout

// maxUpdateFrequency is the minimum time between two redraws of the statistics.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

// progressBar is attached to a logreg.Loop by AttachProgressBar.
type progressBar struct {
	numSteps         int
	lastStepReported int
	lastUpdate       time.Time
	pendingAmount    int
	lastRows         [][2]string
	bar              *progressbar.ProgressBar
	suffix           string
	inNotebook       bool

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	numLinesPrinted  int
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// Write implements io.Writer, and appends the current suffix to each write of the enclosed
// progressbar.ProgressBar, so both are written in the same operation.
func (pBar *progressBar) Write(data []byte) (n int, err error) {
	n, err = Output.Write(data)
	if err != nil {
		return n, err
	}
	_, err = io.WriteString(Output, pBar.suffix)
	return
}

func (pBar *progressBar) onStart(loop *logreg.Loop, ds train.Dataset) error {
	pBar.lastStepReported = loop.LoopStep
	pBar.lastUpdate = time.Time{}
	pBar.pendingAmount = 0
	pBar.numSteps = -1 // Unknown until the end of the first epoch.
	if lenDS, ok := ds.(interface{ Len() int }); ok {
		pBar.numSteps = lenDS.Len() * loop.NumEpochs
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	if !pBar.inNotebook {
		pBar.startAsyncDrawing()
	}
	return nil
}

func (pBar *progressBar) statsRows(loop *logreg.Loop, result logreg.StepResult) [][2]string {
	endStep := "?"
	if loop.EndStep >= 0 {
		endStep = humanize.Comma(int64(loop.EndStep))
	}
	rows := [][2]string{
		{"Epoch", humanize.Comma(int64(loop.Epoch + 1))},
		{"Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(loop.LoopStep+1)), endStep)},
		{"Learning rate", fmt.Sprintf("%.4g", loop.LearningRate)},
		{"Batch loss", fmt.Sprintf("%.4f", result.Loss)},
		{"Median train step duration", gomlxcli.FormatDuration(loop.MedianTrainStepDuration())},
	}
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		rows = append(rows, [2]string{name, value})
	}
	return rows
}

func (pBar *progressBar) onStep(loop *logreg.Loop, result logreg.StepResult) error {
	if pBar.numSteps < 0 && loop.EndStep >= 0 {
		// First epoch done: now the total is known.
		pBar.numSteps = loop.EndStep - loop.StartStep
		pBar.bar.ChangeMax(pBar.numSteps)
	}
	amount := loop.LoopStep + 1 - pBar.lastStepReported // +1 because the current LoopStep is finished.
	if amount <= 0 {
		return nil
	}
	pBar.lastStepReported = loop.LoopStep + 1
	pBar.pendingAmount += amount
	pBar.lastRows = pBar.statsRows(loop, result)
	isLast := pBar.numSteps >= 0 && pBar.lastStepReported-loop.StartStep >= pBar.numSteps
	if !isLast && time.Since(pBar.lastUpdate) < maxUpdateFrequency {
		return nil
	}
	pBar.lastUpdate = time.Now()
	pBar.flush()
	return nil
}

// flush draws the steps not reported yet.
func (pBar *progressBar) flush() {
	if pBar.pendingAmount <= 0 || pBar.bar == nil {
		return
	}
	amount := pBar.pendingAmount
	pBar.pendingAmount = 0
	if pBar.inNotebook {
		pBar.suffix = " "
		for _, row := range pBar.lastRows[:4] {
			pBar.suffix += fmt.Sprintf(" [%s=%s]", row[0], row[1])
		}
		pBar.suffix += "        "
		_ = pBar.bar.Add(amount)
		return
	}
	pBar.suffix = "\033[J"
	pBar.updates <- progressBarUpdate{amount: amount, rows: pBar.lastRows}
}

func (pBar *progressBar) onEnd(_ *logreg.Loop, _ logreg.StepResult) error {
	pBar.flush()
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.asyncUpdatesDone.Wait()
		pBar.updates = nil
	}
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	_, _ = fmt.Fprintln(Output)
	return nil
}

// startAsyncDrawing starts the goroutine that draws the updates, at most one every maxUpdateFrequency.
// Updates queued in the meantime are merged.
func (pBar *progressBar) startAsyncDrawing() {
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100)
	pBar.asyncUpdatesDone.Add(1)
	go func(updates chan progressBarUpdate) {
		defer pBar.asyncUpdatesDone.Done()
		for update := range updates {
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-updates:
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
			for _, row := range update.rows {
				pBar.statsTable.Row(row[0], row[1])
			}
			pBar.termenv.HideCursor()
			if !pBar.isFirstOutput {
				pBar.termenv.CursorPrevLine(pBar.numLinesPrinted)
			}
			pBar.isFirstOutput = false
			pBar.numLinesPrinted = len(update.rows) + 2 + 2 // Table borders, the bar and a blank line.

			_, _ = fmt.Fprintln(Output, pBar.statsStyle.Render(pBar.statsTable.String()))
			_ = pBar.bar.Add(amount)
			_, _ = fmt.Fprintln(Output)
			pBar.termenv.ShowCursor()
			time.Sleep(maxUpdateFrequency)
		}
	}(pBar.updates)
}

// AttachProgressBar creates a command-line progress bar and attaches it to the loop, so that
// every time the loop is run it displays the progression, the current epoch, learning rate and loss.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop *logreg.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		inNotebook:     notebooks.IsNotebook(),
		extraMetricFns: extraMetrics,
	}
	if !pBar.inNotebook {
		pBar.termenv = termenv.NewOutput(Output)
		pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
		pBar.statsTable = newTable()
	}
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	loop.OnStep(ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

// newTable returns a lipgloss table with the style used by the progress bar and SummaryTable.
func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}
