package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-repack/log"
)

var (
	logsTail    int
	logsGrep    string
	logsSummary bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "View rebuild logs",
	Long: `View rebuild logs. Without a name the available logs are listed.
A name is one of results, success, failure, debug (or 00-03), a log
file name or a session ID.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "t", 0, "show only the last N lines")
	logsCmd.Flags().StringVarP(&logsGrep, "grep", "g", "", "show only lines containing pattern")
	logsCmd.Flags().BoolVar(&logsSummary, "summary", false, "count successes and failures")
	logsCmd.MarkFlagsMutuallyExclusive("tail", "grep")
}

func runLogs(cmd *cobra.Command, args []string) error {
	if logsSummary {
		summary := log.GetLogSummary(cfg)
		fmt.Printf("Succeeded: %d\n", summary["success"])
		fmt.Printf("Failed:    %d\n", summary["failed"])
		return nil
	}

	if len(args) == 0 {
		return log.ListLogs(cfg, os.Stdout)
	}

	name := args[0]
	switch {
	case logsTail > 0:
		return log.TailLog(cfg, name, logsTail, os.Stdout)
	case logsGrep != "":
		return log.GrepLog(cfg, name, logsGrep, os.Stdout)
	default:
		return log.ViewLog(cfg, name, os.Stdout)
	}
}
