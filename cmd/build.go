package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-repack/build"
	"go-repack/service"
	"go-repack/util"
)

var buildCmd = &cobra.Command{
	Use:   "build <identifier[@version]>...",
	Short: "Rebuild installed packages into .deb archives",
	Long: `Rebuild the named installed packages into .deb archives in the
output directory and record them in the package cache. A package that
fails does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

// errItemsFailed makes the process exit non-zero when packages failed
var errItemsFailed = errors.New("some packages failed to rebuild")

func runBuild(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Rebuilding %d package(s) into %s\n", len(args), cfg.OutputPath)
	for i, id := range args {
		if i == 10 {
			fmt.Printf("  ... and %d more\n", len(args)-10)
			break
		}
		fmt.Printf("  - %s\n", id)
	}
	fmt.Println()

	// Confirm build
	if !yesAll {
		if !util.AskYN(fmt.Sprintf("Rebuild %d packages?", len(args)), true) {
			fmt.Println("Build cancelled")
			return nil
		}
	}

	ui := build.NewStdoutUI(os.Stdout, len(args))
	result, err := svc.Rebuild(ctx, args, service.RebuildOptions{UI: ui})
	if err != nil {
		if ctx.Err() != nil {
			// Close waits for the engine to finish and records the session
			fmt.Fprintln(os.Stderr, "\nInterrupted, waiting for the running session to finish...")
		}
		return err
	}

	if result.PersistErr != nil || result.Summary.Failed > 0 {
		return errItemsFailed
	}
	return nil
}
