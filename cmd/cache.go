package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-repack/service"
	"go-repack/util"
)

var (
	deleteFiles   bool
	cleanupDryRun bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <identifier[@version]>...",
	Short: "Remove packages from the cache",
	Long: `Remove cached packages. Without a version every cached version of
the identifier is removed. With --files the archives are deleted too.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check cached archives against their checksums",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove archives the cache does not know about",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteFiles, "files", false, "delete the archive files as well")
	cleanupCmd.Flags().BoolVarP(&cleanupDryRun, "dry-run", "n", false, "only list orphaned archives")
}

func runDelete(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	// Confirm destructive operation (unless -y flag)
	if !yesAll {
		what := "cache records"
		if deleteFiles {
			what = "cache records and archives"
		}
		fmt.Printf("⚠️  This will remove %s for: %v\n", what, args)
		if !util.AskYN("Are you sure?", false) {
			fmt.Println("Cancelled")
			return nil
		}
	}

	removed, err := svc.Delete(cmd.Context(), args, deleteFiles)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Println("Nothing matched in the cache")
		return nil
	}
	fmt.Printf("✓ Removed %d cached package(s)\n", removed)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("Verifying cached archives...")
	result, err := svc.Verify(cmd.Context())
	if err != nil {
		return err
	}

	for _, issue := range result.Issues {
		fmt.Printf("  ✗ %s\n", issue)
	}
	if len(result.Issues) > 0 {
		return fmt.Errorf("%d of %d cached archives failed verification", len(result.Issues), result.Checked)
	}
	fmt.Printf("✓ %d cached archive(s) verified\n", result.Checked)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("Looking for orphaned archives...")
	preview, err := svc.Cleanup(cmd.Context(), service.CleanupOptions{DryRun: true})
	if err != nil {
		return err
	}
	if len(preview.Orphans) == 0 {
		fmt.Println("No orphaned archives found")
		return nil
	}
	for _, path := range preview.Orphans {
		fmt.Printf("  %s\n", path)
	}
	if cleanupDryRun {
		fmt.Printf("\n%d orphaned archive(s) (dry run)\n", len(preview.Orphans))
		return nil
	}

	if !yesAll && !util.AskYN(fmt.Sprintf("Remove %d archives?", len(preview.Orphans)), false) {
		fmt.Println("Cancelled")
		return nil
	}

	result, err := svc.Cleanup(cmd.Context(), service.CleanupOptions{})
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		fmt.Printf("  ✗ %v\n", e)
	}
	fmt.Printf("\n✓ Removed %d/%d orphaned archive(s)\n", result.Removed, len(result.Orphans))
	return nil
}
