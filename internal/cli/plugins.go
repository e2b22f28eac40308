package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/cmdcenter/internal/plugin"
)

// pluginRow is one line of `plugins list`.
type pluginRow struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Version    string   `json:"version,omitempty" yaml:"version,omitempty"`
	Trust      string   `json:"trustLevel" yaml:"trustLevel"`
	Service    bool     `json:"service" yaml:"service"`
	Prefix     string   `json:"prefix" yaml:"prefix"`
	Tables     []string `json:"tables" yaml:"tables"`
	EntryPoint string   `json:"entryPoint" yaml:"entryPoint"`
}

func newPluginRow(d *plugin.Descriptor) pluginRow {
	return pluginRow{
		ID:         d.ID,
		Name:       d.DisplayName,
		Version:    d.Version,
		Trust:      string(d.TrustLevel),
		Service:    d.HasService(),
		Prefix:     d.Prefix(),
		Tables:     d.TableNames(),
		EntryPoint: d.EntryPoint,
	}
}

func newPluginsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect installed plugins",
	}
	cmd.AddCommand(newPluginsListCommand(g))
	return cmd
}

func newPluginsListCommand(g *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins and the problems of those that were excluded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			reg := plugin.NewRegistry(cfg.Plugins.Dir)
			ds, err := reg.Load(background(cmd))
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", cfg.Plugins.Dir, err)
			}

			rows := make([]pluginRow, 0, len(ds))
			for _, d := range ds {
				rows = append(rows, newPluginRow(d))
			}
			if err := writePlugins(cmd.OutOrStdout(), output, rows); err != nil {
				return err
			}
			for _, f := range reg.Failures() {
				fmt.Fprintf(cmd.ErrOrStderr(), "excluded: %v\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	return cmd
}

func writePlugins(w io.Writer, format string, rows []pluginRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTRUST\tSERVICE\tTABLES")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.ID, r.Name, r.Trust, r.Service, strings.Join(r.Tables, ","))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
