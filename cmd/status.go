package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"go-repack/build"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show package cache and rebuild status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status()
	if err != nil {
		return err
	}

	fmt.Println("=== Package Cache Status ===")
	fmt.Printf("Database:      %s\n", svc.GetDatabasePath())
	fmt.Printf("Size:          %s\n", humanize.IBytes(uint64(st.DatabaseSize)))
	fmt.Printf("Packages:      %d\n", st.Cache.Packages)
	fmt.Printf("Archives:      %s\n", humanize.IBytes(uint64(st.Cache.TotalBytes)))
	fmt.Printf("Runs:          %d\n", st.Cache.Runs)

	if st.ActiveRun != nil {
		fmt.Println()
		fmt.Println("=== Active Run ===")
		fmt.Printf("Run:           %s\n", shortID(st.ActiveRun.ID))
		fmt.Printf("Started:       %s (%s)\n",
			st.ActiveRun.StartTime.Format("2006-01-02 15:04:05"), humanize.Time(st.ActiveRun.StartTime))
		if info, ok := decodeSnapshot(st.ActiveRun.LiveSnapshot); ok {
			displaySnapshot(os.Stdout, info)
		}
	}

	if len(st.RecentRuns) > 0 {
		fmt.Println()
		fmt.Println("=== Recent Runs ===")
		for _, run := range st.RecentRuns {
			state := "completed"
			switch {
			case run.Running():
				state = "running"
			case run.Aborted:
				state = "failed"
			}
			fmt.Printf("  %s  %s  %-9s  %d built, %d failed of %d  (%s)\n",
				shortID(run.ID), run.StartTime.Format("2006-01-02 15:04"), state,
				run.Stats.Success, run.Stats.Failed, run.Stats.Total,
				run.Duration().Round(time.Second))
		}
	}

	if st.State != build.Idle {
		fmt.Printf("\nThis process: %s (%d/%d)\n", st.State, st.Progress.Completed, st.Progress.Total)
	}
	if st.ImportNeeded {
		fmt.Printf("\nNote: %s holds archives the cache does not know; run 'repack db import'\n", cfg.OutputPath)
	}
	return nil
}

// shortID returns the first 8 characters of a run ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
