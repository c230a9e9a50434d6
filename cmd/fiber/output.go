package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wippyai/wasm-fiber/driver"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var resultHeaders = []string{"DRIVER", "OUTCOME", "RESULT", "ADVANCES", "FUEL", "ELAPSED"}

func printResults(w io.Writer, results []driver.Result) {
	if len(results) == 0 {
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, resultRow(r))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(helpStyle).
		Headers(resultHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func resultRow(r driver.Result) []string {
	return []string{
		nameStyle.Render(r.Name),
		outcomeText(r),
		valueText(r),
		strconv.Itoa(r.Advances),
		strconv.FormatUint(r.Fuel, 10),
		r.Elapsed.Round(time.Microsecond).String(),
	}
}

func outcomeText(r driver.Result) string {
	switch r.Outcome {
	case driver.OutcomeCompleted:
		return resultStyle.Render(r.Outcome.String())
	case driver.OutcomeFailed:
		return errorStyle.Render(r.Outcome.String())
	default:
		return helpStyle.Render(r.Outcome.String())
	}
}

func valueText(r driver.Result) string {
	if r.Err != nil {
		return errorStyle.Render(r.Err.Error())
	}
	if len(r.Values) == 0 {
		return "-"
	}
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
