package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/queue"
	"github.com/nearline/nd/internal/types"
)

var addEnqueue bool

var addCmd = &cobra.Command{
	Use:   "add <file|dir>...",
	Short: "Import card fulltexts into the evidence store",
	Long: `Import text files as cards. Each file becomes one card; the card ID
is taken from the numeric part of the file name (e.g. 00042.txt -> 42).
Directories are imported recursively. The imported IDs are also pushed
onto the ingestion queue unless --enqueue=false is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := openEvidence()
		if err != nil {
			return err
		}
		defer ev.Close()

		var files []string
		for _, arg := range args {
			info, err := os.Stat(arg)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				files = append(files, arg)
				continue
			}
			err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		sort.Strings(files)

		var ids []types.CardID
		for _, path := range files {
			id, err := cardIDFromFilename(path)
			if err != nil {
				logger.Warn("skipping file without numeric ID", "file", path)
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := ev.PutCard(cmd.Context(), id, string(data)); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		fmt.Printf("Imported %d cards\n", len(ids))

		if addEnqueue && len(ids) > 0 {
			store, err := openKV()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := queue.New(store, cfg.Engine.KeyPrefix).Push(ids...); err != nil {
				return err
			}
			fmt.Printf("Enqueued %d cards\n", len(ids))
		}
		return nil
	},
}

// cardIDFromFilename extracts the trailing number of the base name, so
// "cards/00042.txt" maps to card 42.
func cardIDFromFilename(path string) (types.CardID, error) {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	start := len(base)
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	return types.ParseCardID(base[start:])
}

func init() {
	addCmd.Flags().BoolVar(&addEnqueue, "enqueue", true, "push imported cards onto the ingestion queue")
	rootCmd.AddCommand(addCmd)
}
