// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for training logistic regressions from the
// command line: a progress bar for logreg.Loop and tables to report the results.
package commandline

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/logreg/pkg/logreg"
)

// SummaryTable renders rows of (name, value) pairs as a table.
func SummaryTable(rows [][2]string) string {
	table := newTable()
	for _, row := range rows {
		table.Row(row[0], row[1])
	}
	return table.String()
}

// HistoryTable renders one row per epoch, with the learning rate, number of steps and mean loss.
func HistoryTable(history []logreg.EpochSummary) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Epoch", "Learning rate", "Steps", "Mean loss").
		StyleFunc(func(row, col int) lipgloss.Style { return rightAlignedStyle })
	for _, summary := range history {
		table.Row(
			fmt.Sprintf("%d", summary.Epoch),
			fmt.Sprintf("%.4g", summary.LearningRate),
			fmt.Sprintf("%d", summary.Steps),
			fmt.Sprintf("%.4f", summary.MeanLoss))
	}
	return table.String()
}

// FormatWeights prints the weights with 4 decimal places.
func FormatWeights(weights []float64) string {
	return fmt.Sprintf("%.4f", weights)
}
