package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	backupCmd "github.com/sidkik/treesync/cmd/backup"
	"github.com/sidkik/treesync/cmd/jobs"
	"github.com/sidkik/treesync/cmd/run"
	"github.com/sidkik/treesync/cmd/util"
	"github.com/sidkik/treesync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "TREESYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	log.SetOutput(os.Stdout)
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:   "treesync",
		Short: "Mirror directory trees and keep rotating backups of the mirrors.",

		SilenceUsage: true,

		// Errors are printed by HandleFatalError, so we silence them here to
		// avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		backupCmd.New(),
		jobs.New(),
		run.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
