package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, evidence database and KV store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := openEvidence()
		if err != nil {
			return err
		}
		defer ev.Close()

		store, err := openKV()
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Printf("Initialized data directory: %s\n", cfg.DataDir)
		fmt.Printf("  evidence: %s\n", cfg.EvidenceDB())
		fmt.Printf("  kv store: %s\n", cfg.KVDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
