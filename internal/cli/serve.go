package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/cmdcenter/internal/app"
)

func newServeCommand(g *globalOptions, version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve the bridge",
		Long: `Serve loads every plugin, provisions its tables, starts its backend
module and then listens for surfaces.

Example:
  cmdcenter serve --addr 127.0.0.1:7777`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(background(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			host, err := app.New(ctx, cfg, app.Options{Version: version})
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer host.Close()

			if err := host.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

// background is the context used when cobra runs without one.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
