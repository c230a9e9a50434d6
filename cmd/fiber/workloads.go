package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-fiber/sample"
)

var workloadsCmd = &cobra.Command{
	Use:   "workloads",
	Short: "List the sample guest workloads",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		for _, name := range sample.Names() {
			wl, _ := sample.Lookup(name)
			fmt.Fprintf(w, "%s  %s\n", signature(name, wl.Params), helpStyle.Render(wl.Description))
		}
	},
}

func init() {
	rootCmd.AddCommand(workloadsCmd)
}

func signature(name string, params int) string {
	sig := name + "()"
	if params > 0 {
		sig = fmt.Sprintf("%s(%d args)", name, params)
	}
	return nameStyle.Render(fmt.Sprintf("%-20s", sig))
}
