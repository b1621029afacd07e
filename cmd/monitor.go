package cmd

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"go-repack/builddb"
	"go-repack/stats"
)

var (
	runsLimit  int
	runsExport string
)

// runsCmd implements the `repack runs` command.
//
// Usage:
//
//	repack runs                       # List recorded rebuild sessions
//	repack runs <id>                  # Show one session and its packages
//	repack runs <id> --export PATH    # Write its stats snapshot as key=value lines
var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Show recorded rebuild sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list (0 = all)")
	runsCmd.Flags().StringVar(&runsExport, "export", "", "write the stats snapshot of the run to a file")
}

func runRuns(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(args) == 0 {
		runs, err := svc.Runs(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No rebuild sessions recorded")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  %d/%d built  %d failed\n",
				run.ID, run.StartTime.Format("2006-01-02 15:04:05"),
				run.Stats.Success, run.Stats.Total, run.Stats.Failed)
		}
		return nil
	}

	run, err := svc.FindRun(args[0])
	if err != nil {
		return err
	}

	if runsExport != "" {
		return exportSnapshot(run, runsExport)
	}

	fmt.Printf("═══════════════════════════════════════════════════════════════════════\n")
	fmt.Printf(" Rebuild Run: %s\n", run.ID)
	fmt.Printf("═══════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("Started:  %s\n", run.StartTime.Format("2006-01-02 15:04:05"))
	if !run.Running() {
		fmt.Printf("Ended:    %s\n", run.EndTime.Format("2006-01-02 15:04:05"))
	}
	if run.Aborted {
		fmt.Println("Status:   failed")
	}
	fmt.Println()

	if info, ok := decodeSnapshot(run.LiveSnapshot); ok {
		displaySnapshot(os.Stdout, info)
	} else {
		fmt.Printf("Built: %d  Failed: %d  Total: %d\n\n", run.Stats.Success, run.Stats.Failed, run.Stats.Total)
	}

	items, err := svc.RunPackages(run.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		switch item.Status {
		case builddb.RunStatusSuccess:
			fmt.Printf("  ✓ %s@%s -> %s\n", item.Identifier, item.Version, item.Output)
		default:
			fmt.Printf("  ✗ %s@%s: %s\n", item.Identifier, item.Version, item.Reason)
		}
	}
	return nil
}

// decodeSnapshot parses the JSON stats snapshot stored with a run
func decodeSnapshot(raw string) (stats.TopInfo, bool) {
	var info stats.TopInfo
	if raw == "" {
		return info, false
	}
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return info, false
	}
	return info, true
}

// displaySnapshot formats a TopInfo snapshot
func displaySnapshot(w io.Writer, info stats.TopInfo) {
	// Line 1: rate and timing
	fmt.Fprintf(w, "Elapsed: %s  Rate: %s pkg/hr  Impulse: %.0f  Active: %d\n",
		stats.FormatDuration(info.Elapsed), stats.FormatRate(info.Rate), info.Impulse, info.Active)

	// Line 2: totals
	fmt.Fprintf(w, "Queued: %d  Built: %d  Failed: %d  Remaining: %d\n",
		info.Queued, info.Built, info.Failed, info.Remaining)
	fmt.Fprintln(w)
}

// exportSnapshot writes the run's stats snapshot as key=value lines
func exportSnapshot(run *builddb.RunRecord, exportPath string) error {
	info, ok := decodeSnapshot(run.LiveSnapshot)
	if !ok {
		return fmt.Errorf("run %s has no stats snapshot", shortID(run.ID))
	}

	content := fmt.Sprintf(`Rate=%s
Impulse=%.0f
Elapsed=%d
Queued=%d
Built=%d
Failed=%d
Remaining=%d
`,
		stats.FormatRate(info.Rate),
		info.Impulse,
		int(info.Elapsed.Seconds()),
		info.Queued,
		info.Built,
		info.Failed,
		info.Remaining,
	)

	if err := os.WriteFile(exportPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Exported snapshot from run %s to %s\n", shortID(run.ID), exportPath)
	return nil
}
