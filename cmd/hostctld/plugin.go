package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hostctl/hostctl/internal/adapters/packagekit"
	"github.com/hostctl/hostctl/internal/config"
	"github.com/hostctl/hostctl/internal/server"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// buildPluginCmd creates the "plugin" command group for disaster
// recovery export/import of the state engine's registered plugins.
func buildPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Export and import state engine plugin state for disaster recovery",
	}
	cmd.AddCommand(buildPluginExportCmd(), buildPluginImportCmd())
	return cmd
}

func buildPluginExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every registered plugin's current state to a disaster recovery bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			d, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			export, err := d.Engine.Export(ctx)
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(export, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			return os.WriteFile(outPath, raw, 0o600)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "-", "output file, or - for stdout")
	return cmd
}

func buildPluginImportCmd() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore plugin state from a disaster recovery bundle, installing missing packages via PackageKit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if inPath == "" {
				return fmt.Errorf("--input is required")
			}
			raw, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			var export stateengine.DisasterRecoveryExport
			if err := json.Unmarshal(raw, &export); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			d, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			return d.Engine.Import(ctx, export, installDepsViaPackageKit(cfg))
		},
	}
	cmd.Flags().StringVarP(&inPath, "input", "i", "", "disaster recovery bundle to restore from")
	return cmd
}

func installDepsViaPackageKit(cfg *config.Config) func(ctx context.Context, deps []stateengine.SystemDependency) error {
	return func(ctx context.Context, deps []stateengine.SystemDependency) error {
		if len(deps) == 0 {
			return nil
		}
		adapter, err := packagekit.Connect()
		if err != nil {
			return fmt.Errorf("connect packagekit to install dependencies: %w", err)
		}
		defer adapter.Close()

		names := make([]string, 0, len(deps))
		for _, dep := range deps {
			if dep.Required {
				names = append(names, dep.Name)
			}
		}
		return adapter.InstallPackages(ctx, names)
	}
}
