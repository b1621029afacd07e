package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-repack/service"
)

var initOverwrite bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and directories",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initOverwrite, "force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println("Initializing repack environment...")
	fmt.Println()

	result, err := service.Initialize(cfg, service.InitOptions{
		ConfigPath: cfg.ConfigPath,
		Overwrite:  initOverwrite,
	})
	if err != nil {
		return err
	}

	fmt.Println("Setting up directories:")
	for _, dir := range result.DirsCreated {
		fmt.Printf("  ✓ %s\n", dir)
	}
	if result.ConfigWritten != "" {
		fmt.Printf("\n  ✓ Configuration: %s\n", result.ConfigWritten)
	}

	// The database and log files are created on first open
	fmt.Println("\nInitializing package cache:")
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()
	fmt.Printf("  ✓ Database: %s\n", svc.GetDatabasePath())

	fmt.Println("\nVerifying environment:")
	if result.StatusFound {
		fmt.Printf("  ✓ dpkg database: %s\n", cfg.AdminDir)
	}
	for _, w := range result.Warnings {
		fmt.Printf("  ⚠  %s\n", w)
	}

	fmt.Println("\n✓ Initialization complete!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review the configuration file (if needed)")
	fmt.Println("  2. Run: repack list --leaves")
	fmt.Println("  3. Run: repack build <package>")
	fmt.Println()
	return nil
}
