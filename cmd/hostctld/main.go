// Package main provides the CLI entry point for hostctld, the
// LLM-driven host administration daemon.
//
// hostctld accepts natural-language admin requests and drives host
// changes through typed native protocol tools (systemd over D-Bus, OVS
// over OVSDB JSON-RPC and Generic Netlink, packages over PackageKit),
// journaling every committed mutation.
//
// Start the daemon:
//
//	hostctld serve --config /etc/hostctl/config.yaml
//
// Verify the change journal's hash chain:
//
//	hostctld journal verify
//
// Manage btrfs snapshots:
//
//	hostctld snapshot list
//	hostctld snapshot create
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostctld",
		Short: "hostctld - LLM-driven host administration daemon",
		Long: `hostctld accepts natural-language administration requests and drives
host changes through typed native-protocol tools instead of shell commands.

Protocols: systemd (D-Bus), Open vSwitch (OVSDB JSON-RPC, Generic Netlink),
packages (PackageKit). Every committed mutation is journaled with a
SHA-256 hash chain and may be captured in a btrfs snapshot.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildJournalCmd(),
		buildSnapshotCmd(),
		buildPluginCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if v := os.Getenv("HOSTCTL_CONFIG"); v != "" {
		return v
	}
	return "/etc/hostctl/config.yaml"
}
