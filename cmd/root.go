// Package cmd implements the repack command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-repack/config"
	"go-repack/service"
)

// Version is set at link time
var Version = "dev"

var (
	configDir string
	profile   string
	debug     bool
	yesAll    bool
	cfg       *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "repack",
	Short: "Rebuild installed dpkg packages into .deb archives",
	Long: `repack - dpkg package re-packager

Reads the dpkg database of the running system and rebuilds installed
packages into .deb archives. Rebuilt archives are recorded in a local
package cache together with their checksums.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "C", "", "config base directory (default "+config.DefaultConfigDir+")")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "default", "profile to use")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug verbosity")
	rootCmd.PersistentFlags().BoolVarP(&yesAll, "yes", "y", false, "answer yes to all prompts")

	// Add commands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cachedCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	c, err := config.LoadConfig(configDir, profile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Apply command-line overrides
	if debug {
		c.Debug = true
		c.LogLevel = "debug"
	}
	cfg = c
	return nil
}

// openService opens the service with log lines mirrored to stderr
func openService() (*service.Service, error) {
	svc, err := service.NewService(cfg, service.Options{Console: os.Stderr})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// signalContext returns a context that ends on SIGINT, SIGTERM or SIGHUP
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}
