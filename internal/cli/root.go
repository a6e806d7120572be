// Package cli is picomasterd's command-line entrypoint, grounded in
// the teacher's internal/cli/root.go cobra setup.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const banner = `
  ____  _                             _
 |  _ \(_) ___ ___  _ __ ___   __ _ __| |_ ___ _ __
 | |_) | |/ __/ _ \| '_ ' _ \ / _' / _' __/ _ \ '__|
 |  __/| | (_| (_) | | | | | | (_| \__ \ || (_) | |
 |_|   |_|\___\___/|_| |_| |_|\__,_|___/\__\___/|_|
`

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprint(os.Stderr, banner)
}

var rootCmd = &cobra.Command{
	Use:           "picomasterd",
	Short:         "picomasterd process supervisor",
	Long:          "picomasterd supervises a fixed set of worker processes and exposes control over a UNIX socket.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return nil
}
