package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	listLeaves   bool
	listQuery    string
	listSections []string
	listJSON     bool
	listYAML     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long: `List the packages installed on this system according to the dpkg
database. With --leaves only packages no other installed package depends
on are shown.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List rebuilt packages in the cache",
	Args:  cobra.NoArgs,
	RunE:  runCached,
}

func init() {
	listCmd.Flags().BoolVar(&listLeaves, "leaves", false, "only packages nothing else depends on")
	for _, c := range []*cobra.Command{listCmd, cachedCmd} {
		c.Flags().StringVarP(&listQuery, "query", "q", "", "match identifier or name (case-insensitive)")
		c.Flags().StringSliceVarP(&listSections, "section", "s", nil, "restrict to sections (repeatable)")
		c.Flags().BoolVar(&listJSON, "json", false, "print JSON")
		c.Flags().BoolVar(&listYAML, "yaml", false, "print YAML")
		c.MarkFlagsMutuallyExclusive("json", "yaml")
	}
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(listQuery, listSections)
	if err != nil {
		return err
	}
	if listLeaves {
		cfg.OnlyLeaves = true
	}

	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	packages, err := svc.ListInstalled(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printPackages(os.Stdout, packages, outputFormat(listJSON, listYAML))
}

func runCached(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(listQuery, listSections)
	if err != nil {
		return err
	}

	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	packages, err := svc.ListCached(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printPackages(os.Stdout, packages, outputFormat(listJSON, listYAML))
}
