// Package cli implements the cmdcenter command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/cmdcenter/internal/config"
)

type globalOptions struct {
	configPath string
}

func (g *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// NewRootCommand builds the cmdcenter command tree.
func NewRootCommand(version, commit, date string) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cmdcenter",
		Short: "Command center plugin host",
		Long: `cmdcenter loads plugins from a directory, provisions their tables in a
shared SQLite store, runs their Lua backend modules, and serves the bridge
their web surfaces talk to.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "",
		"config file (default $CMDCENTER_CONFIG or "+config.DefaultPath()+")")

	rootCmd.AddCommand(
		newServeCommand(g, version),
		newPluginsCommand(g),
		newTablesCommand(g),
		newConfigCommand(g),
		newVersionCommand(version, commit, date),
	)

	return rootCmd
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cmdcenter %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
