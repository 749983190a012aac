package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cardsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_cards_processed_total",
		Help: "Cards processed successfully, read-only reprocessing included.",
	})
	commitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_commit_conflicts_total",
		Help: "Optimistic commit failures that triggered a retry.",
	})
	bucketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_subbuckets_created_total",
		Help: "SubBuckets created for cards matching no existing bucket.",
	})
	setMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_bucketset_merges_total",
		Help: "BucketSet pairs merged during resolve.",
	})
	setSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_bucketset_splits_total",
		Help: "SubBuckets split out of their BucketSet during resolve.",
	})
	cardEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nd_card_evictions_total",
		Help: "Cards evicted from a SubBucket and re-queued.",
	})
	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nd_process_card_seconds",
		Help:    "Wall time of one successful card workflow, retries included.",
		Buckets: prometheus.DefBuckets,
	})
)
