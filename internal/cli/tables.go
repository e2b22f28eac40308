package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/cmdcenter/internal/store"
)

func newTablesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Administer plugin tables in the store",
	}
	cmd.AddCommand(
		newTablesListCommand(g),
		newTablesShowCommand(g),
		newTablesDropCommand(g),
		newTablesDeleteRowCommand(g),
	)
	return cmd
}

// withStore opens the configured database for one command.
func withStore(g *globalOptions, fn func(*store.Store) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return fn(s)
}

func newTablesListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugin tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(g, func(s *store.Store) error {
				tables, err := s.ListTables(background(cmd))
				if err != nil {
					return err
				}
				for _, t := range tables {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func newTablesShowCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <table>",
		Short: "Print the rows of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(g, func(s *store.Store) error {
				rows, err := s.TableContent(background(cmd), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			})
		},
	}
}

func newTablesDropCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(g, func(s *store.Store) error {
				if err := s.DropTable(background(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
				return nil
			})
		},
	}
}

func newTablesDeleteRowCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-row <table> <rowid>",
		Short: "Delete one row by rowid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(g, func(s *store.Store) error {
				if err := s.DeleteRow(background(cmd), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted row %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}
