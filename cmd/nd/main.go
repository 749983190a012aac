// nd clusters near-duplicate text cards. Cards are imported into the
// evidence store, queued, and folded one at a time into SubBuckets (tight
// clusters) grouped into BucketSets (loose families), coordinated across
// worker processes through an optimistically locked KV store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/evidence"
	"github.com/nearline/nd/internal/kv"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nd",
	Short: "Online near-duplicate clustering of text cards",
	Long: `nd ingests text records ("cards") and clusters near-duplicates
incrementally: tight clusters (SubBuckets) grouped into looser families
(BucketSets). Multiple nd processes can ingest in parallel against the
same data directory; all coordination happens through optimistic
transactions on the KV store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, dataDir)
		if err != nil {
			return err
		}
		logger = newLogger(logLevel)
		return nil
	},
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openKV opens the shared KV store for the configured data directory.
func openKV() (*kv.BadgerStore, error) {
	c := kv.DefaultConfig(cfg.KVDir())
	c.Logger = logger
	return kv.Open(c)
}

// openEvidence opens the evidence database.
func openEvidence() (*evidence.SQLiteStore, error) {
	return evidence.OpenSQLite(cfg.EvidenceDB())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "nd.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default .nd)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
