package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/dedup"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clustering state counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openKV()
		if err != nil {
			return err
		}
		defer store.Close()

		ev, err := openEvidence()
		if err != nil {
			return err
		}
		defer ev.Close()

		stats, err := dedup.NewAuditor(store, cfg.Engine, logger).Stats()
		if err != nil {
			return err
		}
		imported, err := ev.Count(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Evidence cards:    %d\n", imported)
		fmt.Printf("Clustered cards:   %d\n", stats.Cards)
		fmt.Printf("SubBuckets:        %d\n", stats.SubBuckets)
		fmt.Printf("BucketSets:        %d (multi-member)\n", stats.BucketSets)
		fmt.Printf("Sentence shards:   %d\n", stats.SentenceShards)
		fmt.Printf("Queue depth:       %d\n", stats.QueueDepth)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
