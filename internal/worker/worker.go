// Package worker runs the ingestion driver: a pool of goroutines draining
// the card queue through the dedup processor. Worker processes coordinate
// only through the KV store, so pools in separate processes compose.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nearline/nd/internal/dedup"
	"github.com/nearline/nd/internal/queue"
	"github.com/nearline/nd/internal/types"
)

// Config holds pool settings.
type Config struct {
	// Concurrency is the number of workers draining the queue.
	Concurrency int

	// IdlePollInterval paces queue polling when it runs dry. Re-queued
	// cards can appear at any time, so workers keep polling until the
	// context is cancelled (or ExitWhenDrained is set).
	IdlePollInterval time.Duration

	// ExitWhenDrained stops the pool once the queue is empty. Used for
	// batch runs.
	ExitWhenDrained bool
}

// DefaultConfig returns pool settings matched to the engine's concurrency
// budget.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		IdlePollInterval: time.Second,
	}
}

// Pool drains the queue through the processor.
type Pool struct {
	cfg  Config
	proc *dedup.Processor
	q    *queue.Queue
	log  *slog.Logger
	id   string
}

func New(cfg Config, proc *dedup.Processor, q *queue.Queue, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = DefaultConfig().IdlePollInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		cfg:  cfg,
		proc: proc,
		q:    q,
		log:  log,
		id:   uuid.NewString(),
	}
}

// Run blocks until the context is cancelled, the queue drains (when
// configured), or a worker fails on a non-recoverable error. Cards without
// evidence are logged and dropped, not fatal.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting", "instance", p.id, "concurrency", p.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.log.Info("worker pool stopped", "instance", p.id)
	return err
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	limiter := rate.NewLimiter(rate.Every(p.cfg.IdlePollInterval), 1)
	log := p.log.With("worker", worker)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok, err := p.q.Pop()
		if err != nil {
			return err
		}
		if !ok {
			if p.cfg.ExitWhenDrained {
				return nil
			}
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		if err := p.processOne(ctx, log, id); err != nil {
			return err
		}
	}
}

func (p *Pool) processOne(ctx context.Context, log *slog.Logger, id types.CardID) error {
	_, err := p.proc.ProcessCard(ctx, id, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dedup.ErrMissingCard):
		log.Warn("dropping card without evidence", "card", id)
		return nil
	default:
		return err
	}
}
