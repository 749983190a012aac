package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/queue"
	"github.com/nearline/nd/internal/types"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <id>...",
	Short: "Push card IDs onto the ingestion queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]types.CardID, 0, len(args))
		for _, arg := range args {
			id, err := types.ParseCardID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		store, err := openKV()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := queue.New(store, cfg.Engine.KeyPrefix).Push(ids...); err != nil {
			return err
		}
		fmt.Printf("Enqueued %d cards\n", len(ids))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}
