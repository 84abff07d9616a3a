// Package ingest implements the incremental, watermark-based ingestion of
// source records into canonical interactions.
//
// A run pulls pages for one (seller, channel) newest-first, upserts every
// record, and proposes a new watermark. The watermark-stop rule finishes the
// current page before stopping — never mid-page — with a small overlap buffer
// so same-second clock granularity cannot silently drop a record; the upsert
// makes any re-processing a no-op.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/idgen"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/ratelimit"
)

// Options configures one ingestion run.
type Options struct {
	// PageSize is items per source page. Default: 50.
	PageSize int
	// MaxPages bounds each sub-scan (answered and unanswered have
	// independent budgets). Default: 20.
	MaxPages int
	// MaxRecords caps a first/forced-full sync. Default: 1000.
	MaxRecords int
	// OverlapBuffer widens the watermark comparison so records timestamped
	// exactly at the watermark are reconsidered. Default: 2s.
	OverlapBuffer time.Duration
	// InterPageDelay is the pause between pages on top of the rate limiter.
	// Default: 100ms.
	InterPageDelay time.Duration
	// ReplyGrace is how long a locally-initiated reply shields the record
	// from reverting to open while the source catches up. Default: 15m.
	ReplyGrace time.Duration
	// ForceFull ignores the stored watermark and pulls up to MaxRecords.
	ForceFull bool
	// Deadline stops the run cooperatively between pages. Zero disables.
	Deadline time.Time
}

func (o *Options) defaults() {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = 1000
	}
	if o.OverlapBuffer <= 0 {
		o.OverlapBuffer = 2 * time.Second
	}
	if o.InterPageDelay < 0 {
		o.InterPageDelay = 0
	} else if o.InterPageDelay == 0 {
		o.InterPageDelay = 100 * time.Millisecond
	}
	if o.ReplyGrace <= 0 {
		o.ReplyGrace = 15 * time.Minute
	}
}

// Result is the operational signal of one channel run.
type Result struct {
	Fetched            int
	Created            int
	Updated            int
	Skipped            int
	StoppedAtWatermark bool
	// NewWatermark is the maximum source timestamp observed. The caller
	// persists it only after the run's writes commit.
	NewWatermark time.Time
	// TouchedIDs are interactions created or updated, in upsert order.
	// Linking recomputes candidates for exactly these.
	TouchedIDs []string
	// CreatedIDs are the subset of TouchedIDs that are new rows — the
	// automation gate's input.
	CreatedIDs []string
}

// Engine runs ingestion for one channel at a time.
type Engine struct {
	limiter *ratelimit.Bucket
	logger  *slog.Logger
	newID   idgen.Generator
	sleep   func(ctx context.Context, d time.Duration) error // test seam
}

// New creates an Engine. limiter is the seller's shared token bucket.
func New(limiter *ratelimit.Bucket, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		limiter: limiter,
		logger:  logger,
		newID:   idgen.Prefixed("int_", idgen.Default),
		sleep:   sleepCtx,
	}
}

// Run ingests everything newer than the stored watermark for one
// (seller, channel). st must be bound to the run's transaction; Run performs
// no commits and advances no watermark — both belong to the caller, strictly
// after the transaction is durable.
func (e *Engine) Run(ctx context.Context, st *store.Store, conn connector.Connector, seller *store.Seller, channel connector.Channel, opts Options) (*Result, error) {
	opts.defaults()
	log := e.logger.With("seller", seller.ID, "channel", string(channel))

	wm, err := st.GetWatermark(ctx, seller.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	if opts.ForceFull {
		wm = time.Time{}
	}

	res := &Result{}
	seen := make(map[string]bool)

	// Reviews and questions distinguish answered state at the source; each
	// sub-scan gets its own page budget so a backlog in one state cannot
	// starve the other. Chat has no such split.
	var scans []*bool
	if channel == connector.ChannelChat {
		scans = []*bool{nil}
	} else {
		f, tr := false, true
		scans = []*bool{&f, &tr}
	}

	for _, answered := range scans {
		if err := e.runScan(ctx, st, conn, seller, channel, answered, wm, opts, seen, res, log); err != nil {
			return nil, err
		}
	}

	log.Info("ingest: run complete",
		"fetched", res.Fetched, "created", res.Created, "updated", res.Updated,
		"skipped", res.Skipped, "stopped_at_watermark", res.StoppedAtWatermark,
		"new_watermark", res.NewWatermark)
	return res, nil
}

func (e *Engine) runScan(ctx context.Context, st *store.Store, conn connector.Connector, seller *store.Seller, channel connector.Channel, answered *bool, wm time.Time, opts Options, seen map[string]bool, res *Result, log *slog.Logger) error {
	cursor := ""
	cutoff := wm.Add(-opts.OverlapBuffer)

	for page := 0; page < opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			log.Warn("ingest: deadline reached, stopping between pages")
			return nil
		}
		if page > 0 && opts.InterPageDelay > 0 {
			if err := e.sleep(ctx, opts.InterPageDelay); err != nil {
				return err
			}
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		q := connector.ListQuery{Cursor: cursor, Take: opts.PageSize, Answered: answered}
		if !wm.IsZero() {
			q.Since = cutoff
		}
		pg, err := conn.ListItems(ctx, q)
		if err != nil {
			return fmt.Errorf("list page %d: %w", page, err)
		}
		if len(pg.Items) == 0 {
			return nil
		}

		// The page always finishes writing; pageFinal only stops the loop.
		pageFinal := false
		for _, item := range pg.Items {
			if item.ExternalID == "" || item.OccurredAt.IsZero() {
				res.Skipped++
				log.Warn("ingest: record missing identity fields, skipped",
					"external_id", item.ExternalID)
				continue
			}
			if seen[item.ExternalID] {
				res.Skipped++
				continue
			}
			seen[item.ExternalID] = true
			res.Fetched++

			if !wm.IsZero() && item.OccurredAt.Before(cutoff) {
				pageFinal = true
			}
			if item.OccurredAt.After(res.NewWatermark) {
				res.NewWatermark = item.OccurredAt
			}

			if err := e.upsertItem(ctx, st, seller, channel, item, opts, res); err != nil {
				return err
			}

			if opts.ForceFull && res.Fetched >= opts.MaxRecords {
				return nil
			}
		}

		if pageFinal {
			res.StoppedAtWatermark = true
			return nil
		}
		if !pg.HasMore || pg.NextCursor == "" {
			return nil
		}
		cursor = pg.NextCursor
	}
	return nil
}

func (e *Engine) upsertItem(ctx context.Context, st *store.Store, seller *store.Seller, channel connector.Channel, item connector.Item, opts Options, res *Result) error {
	prev, err := st.GetByIdentity(ctx, seller.ID, seller.Marketplace, channel, item.ExternalID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", item.ExternalID, err)
	}

	in := mapItem(seller, channel, item)
	if prev == nil {
		in.ID = e.newID()
	} else {
		applyReplyGrace(in, prev, item, opts.ReplyGrace)
	}

	outcome, err := st.UpsertInteraction(ctx, in, prev)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", item.ExternalID, err)
	}
	switch outcome {
	case store.OutcomeCreated:
		res.Created++
		res.TouchedIDs = append(res.TouchedIDs, in.ID)
		res.CreatedIDs = append(res.CreatedIDs, in.ID)
	case store.OutcomeUpdated:
		res.Updated++
		res.TouchedIDs = append(res.TouchedIDs, in.ID)
	case store.OutcomeUnchanged:
		res.Skipped++
	}
	return nil
}

// mapItem converts a raw source record into the canonical form. Content and
// workflow fields come wholesale from the payload.
func mapItem(seller *store.Seller, channel connector.Channel, item connector.Item) *store.Interaction {
	in := &store.Interaction{
		SellerID:       seller.ID,
		Marketplace:    seller.Marketplace,
		Channel:        channel,
		ExternalID:     item.ExternalID,
		OrderID:        item.OrderID,
		CustomerID:     item.CustomerID,
		CustomerName:   item.CustomerName,
		ProductID:      item.ProductID,
		ProductArticle: item.ProductArticle,
		Text:           item.Text,
		Subject:        item.Subject,
		OccurredAt:     item.OccurredAt,
		ExtraData:      map[string]any{},
	}
	if channel == connector.ChannelReview {
		in.Rating = item.Rating
	}
	for k, v := range item.Extra {
		in.ExtraData[k] = v
	}

	if item.Answered {
		in.Status = store.StatusResponded
		in.NeedsResponse = false
	} else {
		in.Status = store.StatusOpen
		in.NeedsResponse = true
	}

	switch {
	case channel == connector.ChannelReview && item.Rating >= 1 && item.Rating <= 2:
		in.Priority = store.PriorityUrgent
	case channel == connector.ChannelReview && item.Rating == 3:
		in.Priority = store.PriorityHigh
	default:
		in.Priority = store.PriorityNormal
	}
	return in
}

// applyReplyGrace keeps a locally-responded record in the responded state
// when the source has not yet reflected our reply and the reply is younger
// than the grace window.
func applyReplyGrace(in *store.Interaction, prev *store.Interaction, item connector.Item, grace time.Duration) {
	if item.Answered {
		// The source caught up; keep whether it was ours.
		in.IsAutoResponse = prev.IsAutoResponse
		return
	}
	if prev.Status != store.StatusResponded {
		return
	}
	sentAt, ok := replySentAt(prev.ExtraData)
	if !ok || time.Since(sentAt) > grace {
		return
	}
	in.Status = store.StatusResponded
	in.NeedsResponse = false
	in.Priority = prev.Priority
	in.IsAutoResponse = prev.IsAutoResponse
}

func replySentAt(extra map[string]any) (time.Time, bool) {
	raw, ok := extra[store.ExtraReplySentAt]
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
