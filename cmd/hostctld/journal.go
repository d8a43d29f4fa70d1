package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostctl/hostctl/internal/config"
	"github.com/hostctl/hostctl/internal/journal"
)

// buildJournalCmd creates the "journal" command group.
func buildJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the change journal",
	}
	cmd.AddCommand(buildJournalVerifyCmd(), buildJournalListCmd())
	return cmd
}

func buildJournalVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal's SHA-256 hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.Journal.Path, false)
			if err != nil {
				return err
			}
			defer j.Close()

			if err := j.VerifyChain(); err != nil {
				return fmt.Errorf("journal chain broken: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal chain verified: %d records\n", len(j.Records()))
			return nil
		},
	}
}

func buildJournalListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent journal records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.Journal.Path, false)
			if err != nil {
				return err
			}
			defer j.Close()

			records := j.Records()
			if limit > 0 && limit < len(records) {
				records = records[len(records)-limit:]
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the last N records (0 = all)")
	return cmd
}
