package ingest_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/interactions/internal/ingest"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
)

var (
	base    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	quietly = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func newEngine() *ingest.Engine {
	return ingest.New(nil, quietly)
}

// fastOpts disables the inter-page pause so pagination tests don't sleep.
func fastOpts() ingest.Options {
	return ingest.Options{InterPageDelay: -1}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return store.NewStore(db)
}

func seedSeller(t *testing.T, st *store.Store) *store.Seller {
	t.Helper()
	s := &store.Seller{ID: "s1", Name: "Shop", Marketplace: "wb", Enabled: true}
	if err := st.InsertSeller(context.Background(), s); err != nil {
		t.Fatalf("insert seller: %v", err)
	}
	return s
}

func chatItem(id string, at time.Time) connector.Item {
	return connector.Item{ExternalID: id, OccurredAt: at, Text: "msg " + id}
}

func TestRunFirstSyncCreatesEverything(t *testing.T) {
	// WHAT: With no watermark, a run ingests every page and proposes the max
	// observed timestamp as the new watermark without persisting it.
	// WHY: Watermark persistence belongs to the caller, after the commit.
	st := newStore(t)
	seller := seedSeller(t, st)
	conn := connector.NewMock(
		connector.Page{Items: []connector.Item{
			chatItem("c3", base.Add(3 * time.Minute)),
			chatItem("c2", base.Add(2 * time.Minute)),
		}},
		connector.Page{Items: []connector.Item{
			chatItem("c1", base.Add(1 * time.Minute)),
		}},
	)

	res, err := newEngine().Run(context.Background(), st, conn, seller, connector.ChannelChat, fastOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 3 || res.Created != 3 || res.Updated != 0 || res.Skipped != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.NewWatermark.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("watermark = %v", res.NewWatermark)
	}
	if len(res.CreatedIDs) != 3 {
		t.Fatalf("created IDs = %v", res.CreatedIDs)
	}

	wm, err := st.GetWatermark(context.Background(), seller.ID, connector.ChannelChat)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.IsZero() {
		t.Fatalf("engine persisted watermark %v", wm)
	}
}

func TestRunStopsAtWatermarkAfterFullPage(t *testing.T) {
	// WHAT: A record older than the watermark cutoff stops the run, but only
	// after the whole page is written; the next page is never fetched.
	// WHY: Mid-page stops would drop the newer records sharing that page.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()

	wm := base.Add(10 * time.Minute)
	if err := st.SetWatermark(ctx, seller.ID, connector.ChannelChat, wm); err != nil {
		t.Fatal(err)
	}

	conn := connector.NewMock(
		connector.Page{Items: []connector.Item{
			chatItem("new2", base.Add(12 * time.Minute)),
			chatItem("old1", base.Add(5 * time.Minute)), // behind the watermark
			chatItem("new1", base.Add(11 * time.Minute)),
		}},
		connector.Page{Items: []connector.Item{
			chatItem("older", base.Add(1 * time.Minute)),
		}},
	)

	res, err := newEngine().Run(ctx, st, conn, seller, connector.ChannelChat, fastOpts())
	if err != nil {
		t.Fatal(err)
	}
	if !res.StoppedAtWatermark {
		t.Fatal("expected watermark stop")
	}
	if res.Created != 3 {
		t.Fatalf("page not fully written, created = %d", res.Created)
	}
	if conn.ListCalls != 1 {
		t.Fatalf("fetched %d pages, want 1", conn.ListCalls)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	// WHAT: Re-running over identical source data counts everything as
	// skipped, not updated.
	// WHY: The overlap buffer guarantees re-processing; it must be a no-op.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()
	conn := connector.NewMock(connector.Page{Items: []connector.Item{
		chatItem("c1", base),
	}})

	eng := newEngine()
	if _, err := eng.Run(ctx, st, conn, seller, connector.ChannelChat, fastOpts()); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(ctx, st, conn, seller, connector.ChannelChat, fastOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Skipped != 1 {
		t.Fatalf("second run %+v", res)
	}
	if len(res.TouchedIDs) != 0 {
		t.Fatalf("touched %v on a no-op run", res.TouchedIDs)
	}
}

func TestRunScansAnsweredStatesSeparately(t *testing.T) {
	// WHAT: Review ingestion scans unanswered and answered records in two
	// passes and maps answer state onto workflow status.
	// WHY: Independent budgets keep an answered backlog from starving fresh
	// unanswered records.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()

	conn := connector.NewMock(connector.Page{Items: []connector.Item{
		{ExternalID: "r1", OccurredAt: base, Text: "bad", Rating: 1},
		{ExternalID: "r2", OccurredAt: base.Add(time.Minute), Text: "fine", Rating: 5, Answered: true},
	}})

	res, err := newEngine().Run(ctx, st, conn, seller, connector.ChannelReview, fastOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d", res.Created)
	}
	if conn.ListCalls != 2 {
		t.Fatalf("list calls = %d, want one per answered state", conn.ListCalls)
	}

	open, err := st.GetByIdentity(ctx, seller.ID, seller.Marketplace, connector.ChannelReview, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if open.Status != store.StatusOpen || !open.NeedsResponse || open.Priority != store.PriorityUrgent {
		t.Fatalf("unanswered 1-star review %+v", open)
	}

	done, err := st.GetByIdentity(ctx, seller.ID, seller.Marketplace, connector.ChannelReview, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != store.StatusResponded || done.NeedsResponse || done.Priority != store.PriorityNormal {
		t.Fatalf("answered 5-star review %+v", done)
	}
}

func TestReplyGraceShieldsLocalReply(t *testing.T) {
	// WHAT: A record we replied to stays responded while the source still
	// reports it unanswered, until the grace window expires.
	// WHY: Source APIs reflect replies with delay; reverting to open would
	// re-trigger automation on an already-answered record.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()

	in := &store.Interaction{
		ID: "int_r1", SellerID: seller.ID, Marketplace: seller.Marketplace,
		Channel: connector.ChannelQuestion, ExternalID: "q1",
		Text: "where is my order", OccurredAt: base,
		Status: store.StatusOpen, NeedsResponse: true, Priority: store.PriorityNormal,
	}
	if _, err := st.UpsertInteraction(ctx, in, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkResponded(ctx, in.ID, true, map[string]any{
		store.ExtraReplySentAt: time.Now().Format(time.RFC3339),
	}); err != nil {
		t.Fatal(err)
	}

	conn := connector.NewMock(connector.Page{Items: []connector.Item{
		{ExternalID: "q1", OccurredAt: base, Text: "where is my order"},
	}})
	if _, err := newEngine().Run(ctx, st, conn, seller, connector.ChannelQuestion, fastOpts()); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByIdentity(ctx, seller.ID, seller.Marketplace, connector.ChannelQuestion, "q1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusResponded || got.NeedsResponse {
		t.Fatalf("grace did not hold: %+v", got)
	}
	if !got.IsAutoResponse {
		t.Fatal("auto flag lost across re-ingest")
	}
}

func TestReplyGraceExpires(t *testing.T) {
	// WHAT: Past the grace window, the source's unanswered state wins and the
	// record reopens.
	// WHY: A reply the source never accepted must come back for attention.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()

	in := &store.Interaction{
		ID: "int_q2", SellerID: seller.ID, Marketplace: seller.Marketplace,
		Channel: connector.ChannelQuestion, ExternalID: "q2",
		Text: "still waiting", OccurredAt: base,
		Status: store.StatusOpen, NeedsResponse: true, Priority: store.PriorityNormal,
	}
	if _, err := st.UpsertInteraction(ctx, in, nil); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	if err := st.MarkResponded(ctx, in.ID, false, map[string]any{
		store.ExtraReplySentAt: stale,
	}); err != nil {
		t.Fatal(err)
	}

	conn := connector.NewMock(connector.Page{Items: []connector.Item{
		{ExternalID: "q2", OccurredAt: base, Text: "still waiting"},
	}})
	opts := fastOpts()
	opts.ReplyGrace = time.Hour
	if _, err := newEngine().Run(ctx, st, conn, seller, connector.ChannelQuestion, opts); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByIdentity(ctx, seller.ID, seller.Marketplace, connector.ChannelQuestion, "q2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusOpen || !got.NeedsResponse {
		t.Fatalf("expired grace should reopen: %+v", got)
	}
}

func TestRunSkipsRecordsWithoutIdentity(t *testing.T) {
	// WHAT: Records missing an external ID or timestamp are counted skipped
	// and never written.
	// WHY: They cannot participate in the permanent identity, so storing them
	// would create unmergeable duplicates.
	st := newStore(t)
	seller := seedSeller(t, st)
	conn := connector.NewMock(connector.Page{Items: []connector.Item{
		{ExternalID: "", OccurredAt: base, Text: "no id"},
		{ExternalID: "c9", Text: "no timestamp"},
		chatItem("ok", base),
	}})

	res, err := newEngine().Run(context.Background(), st, conn, seller, connector.ChannelChat, fastOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || res.Skipped != 2 {
		t.Fatalf("result %+v", res)
	}
}

func TestForceFullCapsAtMaxRecords(t *testing.T) {
	// WHAT: A forced-full run ignores the watermark and stops once MaxRecords
	// are fetched.
	// WHY: Full resyncs are bounded by design; the upsert makes partial
	// coverage safe to repeat.
	st := newStore(t)
	seller := seedSeller(t, st)
	ctx := context.Background()
	if err := st.SetWatermark(ctx, seller.ID, connector.ChannelChat, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	conn := connector.NewMock(
		connector.Page{Items: []connector.Item{
			chatItem("c1", base.Add(3 * time.Minute)),
			chatItem("c2", base.Add(2 * time.Minute)),
		}},
		connector.Page{Items: []connector.Item{
			chatItem("c3", base.Add(1 * time.Minute)),
		}},
	)

	opts := fastOpts()
	opts.ForceFull = true
	opts.MaxRecords = 2
	res, err := newEngine().Run(ctx, st, conn, seller, connector.ChannelChat, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 {
		t.Fatalf("fetched = %d, want cap of 2", res.Fetched)
	}
	if res.StoppedAtWatermark {
		t.Fatal("forced-full run must ignore the watermark")
	}
	if conn.ListCalls != 1 {
		t.Fatalf("list calls = %d", conn.ListCalls)
	}
}
