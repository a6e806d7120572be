package cli

import (
	"os"

	"github.com/spf13/cobra"

	"picomasterd/internal/daemon"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the master in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		printBanner()
		os.Exit(daemon.Run(configPath))
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "picomasterd.json", "path to the JSON config file")
	rootCmd.AddCommand(runCmd)
}
