// Package config holds the tunables of the dedup engine and the runtime
// settings of the nd daemon.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine holds the clustering tunables. The defaults are the values the
// matching and merge predicates were calibrated with; changing them changes
// which cards cluster together, so they are validated tightly.
type Engine struct {
	// EdgeTolerance is the slack, in sentences, allowed at the aligned
	// ends of two cards for the edge overlap test.
	EdgeTolerance int `yaml:"edge_tolerance"`

	// InsideTolerance is the number of sentences of one card allowed to
	// fall outside the other for the inside overlap test.
	InsideTolerance int `yaml:"inside_tolerance"`

	// SentenceCutoff is the minimum normalized sentence length kept by the
	// normalizer, in runes.
	SentenceCutoff int `yaml:"sentence_cutoff"`

	// MatchThreshold is the fraction of a SubBucket's members a card must
	// match to belong to it (strictly greater-than).
	MatchThreshold float64 `yaml:"match_threshold"`

	// MergeRatio and MergeAbsolute parameterize the loose merge predicate
	// between SubBucket families: m > MergeAbsolute OR m/t >= MergeRatio.
	MergeRatio    float64 `yaml:"merge_ratio"`
	MergeAbsolute int     `yaml:"merge_absolute"`

	// KeyPrefix is prepended to every KV key. Lets several clustering
	// universes share one store.
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultEngine returns the calibrated engine tunables.
func DefaultEngine() Engine {
	return Engine{
		EdgeTolerance:   1,
		InsideTolerance: 2,
		SentenceCutoff:  20,
		MatchThreshold:  0.5,
		MergeRatio:      0.2,
		MergeAbsolute:   5,
	}
}

// Validate checks that the tunables are within sane ranges.
func (e Engine) Validate() error {
	if e.EdgeTolerance < 0 {
		return fmt.Errorf("edge_tolerance cannot be negative (got %d)", e.EdgeTolerance)
	}
	if e.InsideTolerance < 0 {
		return fmt.Errorf("inside_tolerance cannot be negative (got %d)", e.InsideTolerance)
	}
	if e.SentenceCutoff <= 0 {
		return fmt.Errorf("sentence_cutoff must be positive (got %d)", e.SentenceCutoff)
	}
	if e.MatchThreshold <= 0 || e.MatchThreshold >= 1 {
		return fmt.Errorf("match_threshold must be in (0, 1) (got %g)", e.MatchThreshold)
	}
	if e.MergeRatio <= 0 || e.MergeRatio > 1 {
		return fmt.Errorf("merge_ratio must be in (0, 1] (got %g)", e.MergeRatio)
	}
	if e.MergeAbsolute < 0 {
		return fmt.Errorf("merge_absolute cannot be negative (got %d)", e.MergeAbsolute)
	}
	return nil
}

// String returns a human-readable representation of the tunables.
func (e Engine) String() string {
	return fmt.Sprintf(
		"Engine{Edge: %d, Inside: %d, Cutoff: %d, Match: %g, MergeRatio: %g, MergeAbs: %d, Prefix: %q}",
		e.EdgeTolerance, e.InsideTolerance, e.SentenceCutoff,
		e.MatchThreshold, e.MergeRatio, e.MergeAbsolute, e.KeyPrefix,
	)
}

// Config is the full nd configuration: engine tunables plus daemon settings.
type Config struct {
	Engine Engine `yaml:"engine"`

	// DataDir is the root directory for local state; EvidencePath and
	// KVPath default to files beneath it.
	DataDir      string `yaml:"data_dir"`
	EvidencePath string `yaml:"evidence_path"`
	KVPath       string `yaml:"kv_path"`

	// Concurrency is the number of parallel dedup workers. The sentence
	// index is sharded 2^20 ways, so first-try commit success stays above
	// 98% at the default worker counts.
	Concurrency int `yaml:"concurrency"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the default configuration rooted at dataDir.
func Default(dataDir string) Config {
	if dataDir == "" {
		dataDir = ".nd"
	}
	return Config{
		Engine:      DefaultEngine(),
		DataDir:     dataDir,
		Concurrency: 10,
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive (got %d)", c.Concurrency)
	}
	if c.Concurrency > 256 {
		return fmt.Errorf("concurrency too large (got %d, max 256)", c.Concurrency)
	}
	return nil
}

// EvidenceDB returns the evidence database path, defaulting under DataDir.
func (c Config) EvidenceDB() string {
	if c.EvidencePath != "" {
		return c.EvidencePath
	}
	return c.DataDir + "/evidence.db"
}

// KVDir returns the KV store directory, defaulting under DataDir.
func (c Config) KVDir() string {
	if c.KVPath != "" {
		return c.KVPath
	}
	return c.DataDir + "/kv"
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error; ND_* variables always win.
func Load(path, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from environment variables:
//
//   - ND_EDGE_TOLERANCE, ND_INSIDE_TOLERANCE, ND_SENTENCE_CUTOFF
//   - ND_MATCH_THRESHOLD, ND_MERGE_RATIO, ND_MERGE_ABSOLUTE
//   - ND_KEY_PREFIX, ND_DATA_DIR, ND_CONCURRENCY, ND_METRICS_ADDR
func applyEnv(cfg *Config) error {
	if v := os.Getenv("ND_EDGE_TOLERANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ND_EDGE_TOLERANCE: %w", err)
		}
		cfg.Engine.EdgeTolerance = n
	}
	if v := os.Getenv("ND_INSIDE_TOLERANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ND_INSIDE_TOLERANCE: %w", err)
		}
		cfg.Engine.InsideTolerance = n
	}
	if v := os.Getenv("ND_SENTENCE_CUTOFF"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ND_SENTENCE_CUTOFF: %w", err)
		}
		cfg.Engine.SentenceCutoff = n
	}
	if v := os.Getenv("ND_MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ND_MATCH_THRESHOLD: %w", err)
		}
		cfg.Engine.MatchThreshold = f
	}
	if v := os.Getenv("ND_MERGE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ND_MERGE_RATIO: %w", err)
		}
		cfg.Engine.MergeRatio = f
	}
	if v := os.Getenv("ND_MERGE_ABSOLUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ND_MERGE_ABSOLUTE: %w", err)
		}
		cfg.Engine.MergeAbsolute = n
	}
	if v := os.Getenv("ND_KEY_PREFIX"); v != "" {
		cfg.Engine.KeyPrefix = v
	}
	if v := os.Getenv("ND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ND_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ND_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv("ND_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}
