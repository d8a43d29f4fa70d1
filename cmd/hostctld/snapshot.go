package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostctl/hostctl/internal/config"
	"github.com/hostctl/hostctl/internal/snapshot"
)

// buildSnapshotCmd creates the "snapshot" command group.
func buildSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage btrfs snapshots of the host's working-state subvolume",
	}
	cmd.AddCommand(buildSnapshotListCmd(), buildSnapshotCreateCmd(), buildSnapshotPruneCmd())
	return cmd
}

func snapshotManagerFromConfig() (*snapshot.SnapshotManager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Snapshot.SourceSubvol == "" {
		return nil, fmt.Errorf("snapshot.source_subvolume is not configured")
	}
	return snapshot.NewSnapshotManager(cfg.Snapshot.SourceSubvol, snapshot.SnapshotConfig{
		Dir:          cfg.Snapshot.Dir,
		MaxSnapshots: cfg.Snapshot.MaxSnapshots,
		Prefix:       cfg.Snapshot.Prefix,
	}), nil
}

func buildSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List retained snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := snapshotManagerFromConfig()
			if err != nil {
				return err
			}
			snaps, err := mgr.ListSnapshots()
			if err != nil {
				return err
			}
			for i := len(snaps) - 1; i >= 0; i-- {
				s := snaps[i]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.Name, s.Path, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func buildSnapshotCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new read-only snapshot, rotating the oldest if over the retention cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := snapshotManagerFromConfig()
			if err != nil {
				return err
			}
			desc, err := mgr.CreateSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s at %s\n", desc.Name, desc.Path)
			return nil
		},
	}
}

func buildSnapshotPruneCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete a specific snapshot by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			mgr, err := snapshotManagerFromConfig()
			if err != nil {
				return err
			}
			if err := mgr.DeleteSnapshot(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "snapshot name to delete")
	return cmd
}
