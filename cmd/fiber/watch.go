package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-fiber/driver"
)

const refreshInterval = 100 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run drivers with a live dashboard",
	Long: `Watch runs the same drivers as run and shows their state, advances and
fuel while they execute. Press q to cancel the remaining drivers.

When stdout is not a terminal, watch behaves like run.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addRunFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

type tickMsg time.Time

type doneMsg struct {
	results []driver.Result
	err     error
}

type watchModel struct {
	board    *board
	cancel   context.CancelFunc
	spinner  spinner.Model
	rows     []boardRow
	started  time.Time
	stopping bool
	done     *doneMsg
}

func newWatchModel(b *board, cancel context.CancelFunc) *watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return &watchModel{board: b, cancel: cancel, spinner: s, started: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping {
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil

	case tickMsg:
		m.rows = m.board.snapshot()
		return m, tick()

	case doneMsg:
		m.done = &msg
		m.rows = m.board.snapshot()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) View() string {
	var b strings.Builder

	status := m.spinner.View() + " running"
	if m.stopping {
		status = m.spinner.View() + " canceling"
	}
	if m.done != nil {
		status = "done"
	}
	b.WriteString(titleStyle.Render("fiber") + " " + status + " " +
		helpStyle.Render(time.Since(m.started).Round(time.Millisecond).String()))
	b.WriteString("\n\n")

	rows := make([][]string, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, []string{
			nameStyle.Render(r.name),
			statusText(r),
			strconv.Itoa(r.advances),
			strconv.Itoa(r.pending),
			strconv.FormatUint(r.fuel, 10),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(helpStyle).
		Headers("DRIVER", "STATE", "ADVANCES", "SUSPENDED", "FUEL").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("q: cancel drivers"))
	return b.String()
}

func statusText(r boardRow) string {
	if r.result == nil {
		return r.status
	}
	if r.result.Err != nil {
		return errorStyle.Render(r.status)
	}
	return resultStyle.Render(r.status)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runRun(cmd, args)
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	drivers, err := driverConfigs(cmd, cfg)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	b := newBoard()
	for i, dc := range drivers {
		b.expect(dc.DriverName(i))
	}

	p := tea.NewProgram(newWatchModel(b, cancel), tea.WithAltScreen())
	finished := make(chan doneMsg, 1)
	go func() {
		// Log lines would tear the alternate screen.
		results, err := drive(ctx, cfg, zap.NewNop(), drivers, b)
		msg := doneMsg{results: results, err: err}
		finished <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return fmt.Errorf("dashboard: %w", err)
	}
	msg := <-finished
	printResults(cmd.OutOrStdout(), msg.results)
	return exitError(msg.results, msg.err)
}
