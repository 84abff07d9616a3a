// Package scheduler fans out periodic sync work: a ticker publishes one queue
// job per due seller, and a bounded worker pool consumes them.
//
// The queue deduplicates on seller ID, so a due seller whose previous job is
// still pending or in flight gets no second job. The ticker also sweeps
// sellers stuck in "syncing" after a crash back to an explicit error state.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/vtq"
)

// JobPayload is the queue payload of one sync job. The job ID is the seller
// ID.
type JobPayload struct {
	ForceFull bool `json:"force_full,omitempty"`
}

// SyncFunc performs one seller sync. In-flight duplicates and recorded sync
// failures return nil; a non-nil error nacks the job for redelivery.
type SyncFunc func(ctx context.Context, sellerID string, forceFull bool) error

// Options configures a Scheduler. Store, Queue and Sync are required.
type Options struct {
	Store *store.Store
	Queue *vtq.Q
	Sync  SyncFunc
	// Tick is the scheduling interval. Default: 30s.
	Tick time.Duration
	// Workers bounds concurrently syncing sellers. Default: 4.
	Workers int
	// ReapAfter converts "syncing" older than this to "error". Default: 30m.
	ReapAfter time.Duration
	// RetryDelay is the redelivery backoff for a failed job. Default: 1m.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.Tick <= 0 {
		o.Tick = 30 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ReapAfter <= 0 {
		o.ReapAfter = 30 * time.Minute
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scheduler owns the ticker loop and the worker pool.
type Scheduler struct {
	opts Options
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{opts: opts}
}

// Run blocks until ctx is done, scheduling and processing sync jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tickLoop(ctx) })
	for w := 0; w < s.opts.Workers; w++ {
		g.Go(func() error {
			s.opts.Queue.Run(ctx, s.handle)
			return nil
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Tick publishes jobs for due sellers once. Exposed so a trigger endpoint or
// a test can force a scheduling pass without waiting out the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	if reaped, err := s.opts.Store.ReapStaleSyncing(ctx, s.opts.ReapAfter); err != nil {
		s.opts.Logger.Warn("scheduler: reap failed", "error", err)
	} else if reaped > 0 {
		s.opts.Logger.Warn("scheduler: reaped stuck syncs", "count", reaped)
	}

	due, err := s.opts.Store.DueSellers(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, seller := range due {
		if err := s.opts.Queue.Publish(ctx, seller.ID, nil); err != nil {
			s.opts.Logger.Warn("scheduler: publish failed", "seller", seller.ID, "error", err)
			continue
		}
	}
	if len(due) > 0 {
		s.opts.Logger.Debug("scheduler: published due sellers", "count", len(due))
	}
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	// First pass immediately so a restart doesn't wait out a full tick.
	if err := s.Tick(ctx); err != nil {
		s.opts.Logger.Warn("scheduler: tick failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.opts.Logger.Warn("scheduler: tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, job *vtq.Job) error {
	var p JobPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			s.opts.Logger.Warn("scheduler: bad job payload, running plain sync",
				"seller", job.ID, "error", err)
		}
	}
	if err := s.opts.Sync(ctx, job.ID, p.ForceFull); err != nil {
		return &vtq.RetryAfter{Err: err, Delay: s.opts.RetryDelay}
	}
	return nil
}
