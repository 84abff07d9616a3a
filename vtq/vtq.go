// Package vtq implements a visibility-timeout queue backed by SQLite, used as
// the retry-capable substrate for seller sync jobs.
//
// Rows are invisible to consumers for a configurable duration after being
// claimed. If the holder finishes it acks (deletes) the row; if it crashes or
// exceeds the timeout the row reappears and another worker can claim it. A
// failed job is nacked with a delay, which is how task-level retry backoff
// works without an external broker.
//
// Publish deduplicates on job ID (INSERT OR IGNORE): publishing a sync job
// for a seller that already has one pending is a no-op, which is exactly the
// "trigger while in-flight does nothing" semantic the scheduler needs.
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Job is a row in the queue.
type Job struct {
	ID        string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 1m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits how many times a job can be delivered before being
	// discarded. 0 means unlimited. Default: 0.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Schema creates the sync_jobs table and its index.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_jobs (
    id          TEXT PRIMARY KEY,
    payload     BLOB,
    visible_at  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_visible ON sync_jobs (visible_at);
`

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle over an already-opened database. The schema must
// have been applied (dbopen.WithSchema(vtq.Schema)).
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Publish inserts a job that is immediately visible. Publishing an ID that is
// already queued (visible or claimed) is a silent no-op.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	return q.PublishDelayed(ctx, id, payload, 0)
}

// PublishDelayed inserts a job that becomes visible after delay.
func (q *Q) PublishDelayed(ctx context.Context, id string, payload []byte, delay time.Duration) error {
	now := time.Now()
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_jobs (id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		id, payload, now.Add(delay).UnixMilli(), now.UnixMilli(),
	)
	return err
}

// Claim atomically picks the oldest visible job, marks it invisible for the
// configured visibility duration, and returns it. Returns nil, nil if no job
// is available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE sync_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, payload, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE id = ?`, id)
	return err
}

// Nack makes a job visible again after delay, so the next delivery waits out
// a backoff window. A zero delay means immediately visible.
func (q *Q) Nack(ctx context.Context, id string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_jobs SET visible_at = ? WHERE id = ?`,
		time.Now().Add(delay).UnixMilli(), id,
	)
	return err
}

// Len returns the total number of jobs (visible + invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_jobs`).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack. A non-nil error nacks
// the job with the returned RetryAfter delay (or immediately if none).
type Handler func(ctx context.Context, job *Job) error

// RetryAfter wraps an error with an explicit redelivery delay.
type RetryAfter struct {
	Err   error
	Delay time.Duration
}

func (r *RetryAfter) Error() string { return r.Err.Error() }
func (r *RetryAfter) Unwrap() error { return r.Err }

// Run polls for visible jobs and calls handler for each one. It blocks until
// ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("vtq: consumer started", "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("vtq: consumer stopped")
			return
		case <-ticker.C:
			q.poll(ctx, handler, log)
		}
	}
}

func (q *Q) poll(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			log.Warn("vtq: claim failed", "error", err)
			return
		}
		if job == nil {
			return // nothing visible
		}

		// Discard if max attempts exceeded.
		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("vtq: job exceeded max attempts, discarding",
				"id", job.ID, "attempts", job.Attempts)
			_ = q.Ack(ctx, job.ID)
			continue
		}

		if err := handler(ctx, job); err != nil {
			var ra *RetryAfter
			delay := time.Duration(0)
			if errors.As(err, &ra) {
				delay = ra.Delay
			}
			log.Warn("vtq: handler failed, nacking",
				"id", job.ID, "error", err, "retry_in", delay)
			_ = q.Nack(ctx, job.ID, delay)
		} else {
			_ = q.Ack(ctx, job.ID)
		}
	}
}
