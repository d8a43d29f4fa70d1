package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hostctl/hostctl/internal/config"
	"github.com/hostctl/hostctl/internal/server"
)

// buildServeCmd creates the "serve" command that starts hostctld.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hostctld daemon",
		Long: `Start hostctld with all available native protocol adapters.

The daemon will:
1. Load configuration from the specified file
2. Probe host capabilities (systemd, OVSDB socket, OVS kernel module, PackageKit)
3. Connect only the adapters the host actually supports
4. Register the matching builtin state plugins and tool handlers
5. Start the forced-tool pipeline and the HTTP health/metrics server

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  hostctld serve
  hostctld serve --config /etc/hostctl/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	return d.Serve(ctx)
}
