package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-fiber/config"
	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/sample"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare native fib with guest fib driven through the loop",
	Long: `Bench times fib(n) three ways: natively in Go, as a guest invocation
with unlimited fuel (one advance), and as a guest invocation metered by
--fuel (one advance per quota).`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int32("n", 32, "Fibonacci argument")
	rootCmd.AddCommand(benchCmd)
}

type benchRow struct {
	name     string
	value    string
	advances int
	fuel     uint64
	elapsed  time.Duration
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt32("n")
	if n < 0 {
		return fmt.Errorf("--n must not be negative")
	}

	start := time.Now()
	native := sample.NativeFib(n)
	rows := []benchRow{{name: "native", value: strconv.Itoa(int(native)), advances: 1, elapsed: time.Since(start)}}

	unlimited := fiber.Unlimited
	drivers := []config.DriverConfig{
		{Name: "guest", Workload: "fib", Args: []int64{int64(n)}, Fuel: &unlimited},
		{Name: "guest-metered", Workload: "fib", Args: []int64{int64(n)}},
	}
	// One driver per session so the two guest runs do not share turns.
	for _, dc := range drivers {
		results, err := drive(cmd.Context(), cfg, logger, []config.DriverConfig{dc})
		if err := exitError(results, err); err != nil {
			printResults(cmd.OutOrStdout(), results)
			return err
		}
		rows = append(rows, benchFromResult(results[0]))
	}

	printBench(cmd, n, cfg.Fuel.Quota, rows)
	return nil
}

func benchFromResult(r driver.Result) benchRow {
	return benchRow{
		name:     r.Name,
		value:    valueText(r),
		advances: r.Advances,
		fuel:     r.Fuel,
		elapsed:  r.Elapsed,
	}
}

func printBench(cmd *cobra.Command, n int32, quota uint64, rows []benchRow) {
	base := rows[0].elapsed
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		ratio := "-"
		if base > 0 {
			ratio = fmt.Sprintf("%.1fx", float64(r.elapsed)/float64(base))
		}
		out = append(out, []string{
			nameStyle.Render(r.name),
			r.value,
			strconv.Itoa(r.advances),
			strconv.FormatUint(r.fuel, 10),
			r.elapsed.Round(time.Microsecond).String(),
			ratio,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("fib(%d), quota %d", n, quota)))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(helpStyle).
		Headers("RUN", "RESULT", "ADVANCES", "FUEL", "ELAPSED", "VS NATIVE").
		Rows(out...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}
