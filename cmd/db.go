package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Package cache database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup [path]",
	Short: "Write a consistent copy of the database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDBBackup,
}

var dbImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Record archives in the output directory the cache does not know",
	Args:  cobra.NoArgs,
	RunE:  runDBImport,
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the database location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(cfg.Database.Path)
	},
}

func init() {
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbImportCmd)
	dbCmd.AddCommand(dbPathCmd)
}

func runDBBackup(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	written, err := svc.BackupDatabase(path)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Database backed up to %s\n", written)
	return nil
}

func runDBImport(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("Importing archives from %s...\n", cfg.OutputPath)
	result, err := svc.ImportArchives(cmd.Context())
	if err != nil {
		return err
	}

	for _, k := range result.Imported {
		fmt.Printf("  ✓ %s\n", k)
	}
	for _, path := range result.Skipped {
		fmt.Printf("  - %s (already cached)\n", path)
	}
	for path, err := range result.Failed {
		fmt.Printf("  ✗ %s: %v\n", path, err)
	}
	fmt.Printf("\nImported %d archive(s)\n", len(result.Imported))
	return nil
}
