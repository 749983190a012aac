package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/dedup"
	"github.com/nearline/nd/internal/types"
)

var dumpBucketSet uint32

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the clusters (BucketSet -> SubBucket -> cards)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openKV()
		if err != nil {
			return err
		}
		defer store.Close()

		views, err := dedup.NewAuditor(store, cfg.Engine, logger).Snapshot()
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		var lastSet uint32
		printed := false
		for _, v := range views {
			if dumpBucketSet != 0 && v.BucketSet != dumpBucketSet {
				continue
			}
			if !printed || v.BucketSet != lastSet {
				fmt.Printf("%s %d\n", cyan("bucket set"), v.BucketSet)
				lastSet = v.BucketSet
				printed = true
			}
			fmt.Printf("  %s %d\n", green("sub bucket"), v.SubBucket)
			for _, id := range sortedIDs(v.Cards) {
				fmt.Printf("    card %d (matches %d/%d)\n", id, v.Cards[id], len(v.Cards))
			}
			if len(v.Matching) > 0 {
				fmt.Printf("    %s", yellow("external:"))
				for _, id := range sortedIDs(v.Matching) {
					fmt.Printf(" %d(%d)", id, v.Matching[id])
				}
				fmt.Println()
			}
		}
		if !printed {
			fmt.Println("No clusters.")
		}
		return nil
	},
}

func sortedIDs(m map[types.CardID]int) []types.CardID {
	ids := make([]types.CardID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func init() {
	dumpCmd.Flags().Uint32Var(&dumpBucketSet, "bucket-set", 0, "only dump this bucket set")
	rootCmd.AddCommand(dumpCmd)
}
