package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/devblac/cask-bridge/internal/config"
	"github.com/devblac/cask-bridge/internal/storage"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show last observed blocks and delivery counts from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		cursors, err := store.ListCursors(ctx)
		if err != nil {
			return err
		}
		stats, err := store.DeliveryStats(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tLAST BLOCK\tHASH\tUPDATED")
		for _, c := range cursors {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.SourceID, c.Height, c.Hash, c.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(tw)

		outcomes := make([]string, 0, len(stats))
		total := 0
		for outcome, n := range stats {
			outcomes = append(outcomes, outcome)
			total += n
		}
		sort.Strings(outcomes)
		fmt.Fprintln(tw, "OUTCOME\tCOUNT")
		for _, o := range outcomes {
			fmt.Fprintf(tw, "%s\t%d\n", o, stats[o])
		}
		fmt.Fprintf(tw, "total\t%d\n", total)
		return tw.Flush()
	},
}

func openJournal(cfg *config.Config) (*storage.Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db_path (or CASK_BRIDGE_DB) is required for this command")
	}
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}
