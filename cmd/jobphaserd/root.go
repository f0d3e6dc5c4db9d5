// Command jobphaserd is a thin demonstration harness for the job execution
// and coordination runtime: it can run a demo instance (phases + API server
// + event dispatchers) and drive running instances from another terminal
// (list, tail, stop, release). It is not the job-definition CLI frontend,
// which lives outside this module.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/jobphaser/internal/logging"
	"github.com/boshu2/jobphaser/internal/paths"
)

var (
	verbose bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:          "jobphaserd",
	Short:        "Run and control phased job instances on this host",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.Setup(logging.LevelDebug)
		} else {
			logging.Setup(logging.LevelInfo)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
}

// socketDir resolves the shared socket directory, exiting on failure since
// nothing works without it.
func socketDir(cmd *cobra.Command) string {
	dir, err := paths.SocketDir()
	if err != nil {
		cmd.PrintErrln("failed to resolve socket directory:", err)
		os.Exit(1)
	}
	return dir
}
