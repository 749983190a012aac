package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/dedup"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the persisted clustering state for invariant violations",
	Long: `Verify the persisted state:
- every SubBucket member matches more than half its bucket
- SubBucket and BucketSet keys equal their minimum member
- back-references between cards, SubBuckets and BucketSets agree
- no singleton BucketSet is persisted and families pass the merge predicate
- sentence shards contain only well-formed records

Run it against a quiesced store; concurrent ingestion can produce
transient readings.

Exit codes:
  0 - no violations
  1 - violations found
  2 - state could not be read`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		store, err := openKV()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s cannot open KV store: %v\n", red("✗"), err)
			os.Exit(2)
		}
		defer store.Close()

		audit := dedup.NewAuditor(store, cfg.Engine, logger)

		fmt.Printf("%s Scanning persisted state\n", cyan("→"))
		stats, err := audit.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s scan failed: %v\n", red("✗"), err)
			os.Exit(2)
		}
		fmt.Printf("  %s %d cards, %d sub buckets, %d bucket sets, %d shards\n",
			green("✓"), stats.Cards, stats.SubBuckets, stats.BucketSets, stats.SentenceShards)

		fmt.Printf("%s Verifying invariants\n", cyan("→"))
		problems, err := audit.Verify()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s verification failed: %v\n", red("✗"), err)
			os.Exit(2)
		}
		if len(problems) == 0 {
			fmt.Printf("  %s All invariants hold\n", green("✓"))
			return
		}
		for _, p := range problems {
			if doctorVerbose {
				fmt.Printf("  %s %s\n", red("✗"), p)
			}
		}
		if !doctorVerbose {
			fmt.Printf("  %s %d violations (rerun with --verbose)\n", red("✗"), len(problems))
		}
		os.Exit(1)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "print each violation")
	rootCmd.AddCommand(doctorCmd)
}
