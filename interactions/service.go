// Package interactions aggregates marketplace customer contact — reviews,
// questions, chats — into one canonical store, links records across channels,
// and gates automated replies behind an ordered veto chain.
//
// Service is the orchestrator: the scheduler and HTTP layer call it, it calls
// down into ingestion, linking, the automation gate and the store.
package interactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/interactions/internal/autogate"
	"github.com/hazyhaar/sellersync/interactions/internal/ingest"
	"github.com/hazyhaar/sellersync/interactions/internal/linking"
	"github.com/hazyhaar/sellersync/interactions/internal/retry"
	"github.com/hazyhaar/sellersync/interactions/internal/scheduler"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/interactions/internal/timeline"
	"github.com/hazyhaar/sellersync/observability"
	"github.com/hazyhaar/sellersync/ratelimit"
	"github.com/hazyhaar/sellersync/vtq"
)

// channelOrder fixes the per-seller sync order. Sequential channels keep
// watermark bookkeeping simple; the order puts the most reply-sensitive
// surface first.
var channelOrder = []connector.Channel{
	connector.ChannelReview,
	connector.ChannelQuestion,
	connector.ChannelChat,
}

// scopeName maps a channel to the scope label used in seller-visible error
// strings.
var scopeName = map[connector.Channel]string{
	connector.ChannelReview:   "reviews",
	connector.ChannelQuestion: "questions",
	connector.ChannelChat:     "chats",
}

// Options wires a Service. DB and Registry are required.
type Options struct {
	// DB is the opened service database with the store schema applied.
	DB *sql.DB
	// Registry resolves marketplace/channel pairs to connectors.
	Registry *connector.Registry
	Config   Config

	// Gate handles automated replies. Nil disables automation entirely.
	Gate *autogate.Gate
	// Queue backs TriggerSync and the scheduler. Nil makes TriggerSync
	// synchronous.
	Queue *vtq.Q

	Events  *observability.EventLogger
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Service is the interactions orchestrator.
type Service struct {
	db       *sql.DB
	st       *store.Store
	reg      *connector.Registry
	cfg      Config
	gate     *autogate.Gate
	queue    *vtq.Q
	events   *observability.EventLogger
	metrics  *observability.Metrics
	logger   *slog.Logger
	limiters *ratelimit.PerKey
	linker   *linking.Engine
	threads  *timeline.Builder

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, errors.New("interactions: Options.DB is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("interactions: Options.Registry is required")
	}
	opts.Config.applyDefaults()
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		db:      opts.DB,
		st:      store.NewStore(opts.DB),
		reg:     opts.Registry,
		cfg:     opts.Config,
		gate:    opts.Gate,
		queue:   opts.Queue,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		limiters: ratelimit.NewPerKey(
			opts.Config.RateLimit.PerSecond, opts.Config.RateLimit.Burst),
		linker: linking.New(linking.Options{
			TopK:          opts.Config.Linking.TopK,
			MaxCandidates: opts.Config.Linking.MaxCandidates,
			Logger:        opts.Logger,
		}),
		threads: timeline.New(timeline.Options{}),
		running: make(map[string]bool),
	}, nil
}

// Run starts the periodic scheduler and queue workers and blocks until ctx is
// done. Callers that only want the API surface (tests, one-shot tools) skip
// it.
func (s *Service) Run(ctx context.Context) error {
	if s.queue == nil {
		return errors.New("interactions: Run needs Options.Queue")
	}
	sched := scheduler.New(scheduler.Options{
		Store:     s.st,
		Queue:     s.queue,
		Sync:      s.syncJob,
		Tick:      s.cfg.Scheduler.Tick,
		Workers:   s.cfg.Scheduler.Workers,
		ReapAfter: s.cfg.Sync.ReapAfter,
		Logger:    s.logger,
	})
	return sched.Run(ctx)
}

// syncJob adapts SyncSeller for the queue worker: an in-flight duplicate is a
// clean no-op, and sync failures are already recorded on the seller row.
func (s *Service) syncJob(ctx context.Context, sellerID string, forceFull bool) error {
	err := s.SyncSeller(ctx, sellerID, forceFull)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSyncInFlight), errors.Is(err, ErrSellerDisabled), errors.Is(err, ErrSellerNotFound):
		s.logger.Info("sync job skipped", "seller", sellerID, "reason", err)
		return nil
	default:
		// Recorded on the seller; the job itself is done.
		s.logger.Warn("sync finished with errors", "seller", sellerID, "error", err)
		return nil
	}
}

// SyncSeller ingests every configured channel for one seller, refreshes link
// candidates, and runs the automation gate over newly created records.
// Channels run sequentially; a failing channel never blocks its siblings. The
// assembled error is also persisted on the seller row.
func (s *Service) SyncSeller(ctx context.Context, sellerID string, forceFull bool) error {
	if !s.acquire(sellerID) {
		return ErrSyncInFlight
	}
	defer s.release(sellerID)

	seller, err := s.st.GetSeller(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("interactions: load seller %s: %w", sellerID, err)
	}
	if seller == nil {
		return ErrSellerNotFound
	}
	if !seller.Enabled {
		return ErrSellerDisabled
	}

	if err := s.st.MarkSyncing(ctx, sellerID); err != nil {
		return fmt.Errorf("interactions: mark syncing: %w", err)
	}

	settings, err := autogate.ParseSettings(seller.AutomationConfig)
	if err != nil {
		s.logger.Warn("automation settings unparseable, automation off for this run",
			"seller", sellerID, "error", err)
		settings = autogate.Settings{}
	}

	eng := ingest.New(s.limiters.Get(sellerID), s.logger)
	var failures []string

	for _, ch := range channelOrder {
		cfg, ok := seller.ConnectorConfig[string(ch)]
		if !ok {
			continue
		}
		if err := s.syncChannel(ctx, eng, seller, settings, ch, cfg, forceFull); err != nil {
			s.logger.Error("channel sync failed",
				"seller", sellerID, "channel", string(ch), "error", err)
			failures = append(failures, fmt.Sprintf("%s:%s", scopeName[ch], errDetail(err)))
		}
	}

	if len(failures) > 0 {
		msg := "[interactions_sync] " + strings.Join(failures, "; ")
		if err := s.st.MarkSyncError(ctx, sellerID, msg); err != nil {
			return fmt.Errorf("interactions: mark sync error: %w", err)
		}
		return errors.New(msg)
	}
	if err := s.st.MarkSyncSuccess(ctx, sellerID); err != nil {
		return fmt.Errorf("interactions: mark sync success: %w", err)
	}
	return nil
}

// syncChannel runs one channel: ingestion inside a transaction, watermark
// after commit, then linking and automation outside the transaction.
func (s *Service) syncChannel(ctx context.Context, eng *ingest.Engine, seller *store.Seller, settings autogate.Settings, ch connector.Channel, cfg json.RawMessage, forceFull bool) error {
	conn, err := s.reg.Open(connector.Key(seller.Marketplace, ch), seller.ID, cfg)
	if err != nil {
		return err
	}

	opts := ingest.Options{
		PageSize:       s.cfg.Sync.PageSize,
		MaxPages:       s.cfg.Sync.MaxPages,
		MaxRecords:     s.cfg.Sync.MaxRecords,
		InterPageDelay: s.cfg.Sync.InterPageDelay,
		ReplyGrace:     s.cfg.Sync.ReplyGrace,
		ForceFull:      forceFull,
	}

	pol := retry.Policy{
		MaxAttempts: s.cfg.Retry.MaxAttempts,
		BaseDelay:   s.cfg.Retry.BaseDelay,
		MaxDelay:    s.cfg.Retry.MaxDelay,
		Terminal:    connector.IsTerminal,
		Logger:      s.logger,
	}

	started := time.Now()
	var res *ingest.Result
	err = pol.Do(ctx, func(ctx context.Context) error {
		return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
			r, err := eng.Run(ctx, s.st.WithTx(tx), conn, seller, ch, opts)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	s.recordRun(ctx, seller.ID, ch, res, time.Since(started), err)
	if err != nil {
		return err
	}

	// The run's writes are durable; only now may the watermark move.
	if !res.NewWatermark.IsZero() {
		if err := s.st.SetWatermark(ctx, seller.ID, ch, res.NewWatermark); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}

	if len(res.TouchedIDs) > 0 {
		if err := s.linker.RefreshBatch(ctx, s.st, res.TouchedIDs); err != nil {
			return fmt.Errorf("refresh links: %w", err)
		}
	}

	s.automationPass(ctx, conn, seller, settings, res.CreatedIDs)
	return nil
}

// automationPass runs the gate over newly created records. Gate decisions are
// values; only infrastructure failures are logged.
func (s *Service) automationPass(ctx context.Context, conn connector.Connector, seller *store.Seller, settings autogate.Settings, createdIDs []string) {
	if s.gate == nil || !settings.Enabled || len(createdIDs) == 0 {
		return
	}
	for _, id := range createdIDs {
		in, err := s.st.GetInteraction(ctx, id)
		if err != nil {
			s.logger.Error("automation: load interaction", "id", id, "error", err)
			continue
		}
		if in == nil || !in.NeedsResponse || in.Status != store.StatusOpen {
			continue
		}
		dec, err := s.gate.Process(ctx, s.st, conn, seller, settings, in)
		if err != nil {
			s.logger.Error("automation: persistence failed after decision",
				"id", id, "stage", dec.Stage, "error", err)
			continue
		}
		if !dec.Sent && !dec.Sandboxed {
			s.logger.Debug("automation: not sent",
				"id", id, "stage", dec.Stage, "reason", dec.Reason)
		}
	}
}

func (s *Service) recordRun(ctx context.Context, sellerID string, ch connector.Channel, res *ingest.Result, took time.Duration, runErr error) {
	if s.metrics != nil && res != nil {
		labels := map[string]string{"seller_id": sellerID, "channel": string(ch)}
		s.metrics.Count(observability.MetricSyncFetched, float64(res.Fetched), labels)
		s.metrics.Count(observability.MetricSyncCreated, float64(res.Created), labels)
		s.metrics.Count(observability.MetricSyncUpdated, float64(res.Updated), labels)
		s.metrics.Count(observability.MetricSyncSkipped, float64(res.Skipped), labels)
		s.metrics.Duration(observability.MetricSyncDuration, took, labels)
	}
	if s.events != nil {
		details := map[string]any{"took_ms": took.Milliseconds()}
		if res != nil {
			details["fetched"] = res.Fetched
			details["created"] = res.Created
			details["updated"] = res.Updated
			details["skipped"] = res.Skipped
			details["stopped_at_watermark"] = res.StoppedAtWatermark
		}
		if runErr != nil {
			details["error"] = errDetail(runErr)
		}
		s.events.LogDetails(ctx, observability.EventSyncRun,
			sellerID, string(ch), "", runErr == nil, details)
	}
}

// Reply sends a manual reply to an interaction and marks it responded. The
// reply-pending grace in ingestion depends on the extra_data keys stamped
// here.
func (s *Service) Reply(ctx context.Context, interactionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("interactions: empty reply text")
	}
	in, err := s.st.GetInteraction(ctx, interactionID)
	if err != nil {
		return fmt.Errorf("interactions: load interaction: %w", err)
	}
	if in == nil {
		return ErrInteractionNotFound
	}
	seller, err := s.st.GetSeller(ctx, in.SellerID)
	if err != nil {
		return fmt.Errorf("interactions: load seller: %w", err)
	}
	if seller == nil {
		return ErrSellerNotFound
	}

	conn, err := s.reg.Open(connector.Key(in.Marketplace, in.Channel),
		seller.ID, seller.ConnectorConfig[string(in.Channel)])
	if err != nil {
		return err
	}
	if err := conn.SendReply(ctx, in.ExternalID, text); err != nil {
		if s.events != nil {
			s.events.LogDetails(ctx, observability.EventReplyFailed,
				seller.ID, string(in.Channel), in.ID, false,
				map[string]string{"error": err.Error(), "source": "manual"})
		}
		return fmt.Errorf("interactions: send reply: %w", err)
	}

	err = s.st.MarkResponded(ctx, in.ID, false, map[string]any{
		store.ExtraLastReplyText:   text,
		store.ExtraLastReplySource: "manual",
		store.ExtraReplySentAt:     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("interactions: mark responded: %w", err)
	}
	if s.events != nil {
		s.events.LogDetails(ctx, observability.EventManualReply,
			seller.ID, string(in.Channel), in.ID, true, nil)
	}
	return nil
}

// Timeline returns the deterministic thread view around one interaction.
func (s *Service) Timeline(ctx context.Context, interactionID string) ([]TimelineEntry, error) {
	entries, err := s.threads.Build(ctx, s.st, interactionID)
	if err != nil {
		return nil, err
	}
	out := make([]TimelineEntry, len(entries))
	for i, e := range entries {
		out[i] = entryOf(e)
	}
	return out, nil
}

// TriggerSync requests a sync for one seller. With a queue configured the
// request is published and deduplicated (a trigger while one is in flight is
// a no-op); without one it runs synchronously.
func (s *Service) TriggerSync(ctx context.Context, sellerID string, forceFull bool) error {
	seller, err := s.st.GetSeller(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("interactions: load seller: %w", err)
	}
	if seller == nil {
		return ErrSellerNotFound
	}
	if !seller.Enabled {
		return ErrSellerDisabled
	}
	if s.queue == nil {
		err := s.SyncSeller(ctx, sellerID, forceFull)
		if errors.Is(err, ErrSyncInFlight) {
			return nil
		}
		return err
	}
	payload, _ := json.Marshal(scheduler.JobPayload{ForceFull: forceFull})
	return s.queue.Publish(ctx, sellerID, payload)
}

// SellerStatus returns the seller's current sync state.
func (s *Service) SellerStatus(ctx context.Context, sellerID string) (SellerState, error) {
	seller, err := s.st.GetSeller(ctx, sellerID)
	if err != nil {
		return SellerState{}, fmt.Errorf("interactions: load seller: %w", err)
	}
	if seller == nil {
		return SellerState{}, ErrSellerNotFound
	}
	return stateOf(seller), nil
}

// NewSeller describes a seller to register.
type NewSeller struct {
	ID              string
	Name            string
	Marketplace     string
	SyncInterval    time.Duration
	ConnectorConfig map[string]json.RawMessage
	// AutomationConfig is the raw autogate settings JSON; empty disables
	// automation.
	AutomationConfig json.RawMessage
}

// CreateSeller registers a seller. Channels must reference registered
// connector factories.
func (s *Service) CreateSeller(ctx context.Context, ns NewSeller) error {
	if ns.ID == "" || ns.Marketplace == "" {
		return errors.New("interactions: seller needs an ID and a marketplace")
	}
	for ch := range ns.ConnectorConfig {
		if !connector.Channel(ch).Valid() {
			return fmt.Errorf("interactions: unknown channel %q", ch)
		}
	}
	if ns.SyncInterval <= 0 {
		ns.SyncInterval = s.cfg.Sync.DefaultInterval
	}
	return s.st.InsertSeller(ctx, &store.Seller{
		ID:               ns.ID,
		Name:             ns.Name,
		Marketplace:      ns.Marketplace,
		Enabled:          true,
		SyncInterval:     ns.SyncInterval,
		ConnectorConfig:  ns.ConnectorConfig,
		AutomationConfig: ns.AutomationConfig,
	})
}

func (s *Service) acquire(sellerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[sellerID] {
		return false
	}
	s.running[sellerID] = true
	return true
}

func (s *Service) release(sellerID string) {
	s.mu.Lock()
	delete(s.running, sellerID)
	s.mu.Unlock()
}

// errDetail strips nested wrap prefixes down to something a seller status
// page can show.
func errDetail(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "…"
	}
	return msg
}
