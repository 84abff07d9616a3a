package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/idgen"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func seedSeller(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.InsertSeller(context.Background(), &Seller{
		ID:          id,
		Name:        "Test Shop",
		Marketplace: "wb",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("insert seller: %v", err)
	}
}

func review(sellerID, externalID string, occurred time.Time) *Interaction {
	return &Interaction{
		ID:          idgen.Prefixed("int_", idgen.Default)(),
		SellerID:    sellerID,
		Marketplace: "wb",
		Channel:     connector.ChannelReview,
		ExternalID:  externalID,
		Text:        "great product",
		Rating:      5,
		OccurredAt:  occurred,
		Status:      StatusOpen,
	}
}

func TestUpsertCreateThenUnchanged(t *testing.T) {
	// WHAT: First upsert creates; re-upserting identical content is unchanged.
	// WHY: Replay-safe ingestion must not double-count or rewrite rows.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	now := time.Now().Truncate(time.Millisecond)
	in := review("s1", "r1", now)

	out, err := s.UpsertInteraction(ctx, in, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out != OutcomeCreated {
		t.Fatalf("outcome = %s, want created", out)
	}

	prev, err := s.GetByIdentity(ctx, "s1", "wb", connector.ChannelReview, "r1")
	if err != nil || prev == nil {
		t.Fatalf("get by identity: %v, %v", prev, err)
	}

	again := review("s1", "r1", now)
	out, err = s.UpsertInteraction(ctx, again, prev)
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if out != OutcomeUnchanged {
		t.Fatalf("outcome = %s, want unchanged", out)
	}
	if again.ID != prev.ID {
		t.Errorf("identity not stable: %s vs %s", again.ID, prev.ID)
	}
}

func TestUpsertUpdatesContentKeepsIdentity(t *testing.T) {
	// WHAT: Changed content updates the row in place.
	// WHY: The identity tuple is permanent; re-sync must never duplicate.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	now := time.Now().Truncate(time.Millisecond)
	first := review("s1", "r1", now)
	s.UpsertInteraction(ctx, first, nil)

	prev, _ := s.GetByIdentity(ctx, "s1", "wb", connector.ChannelReview, "r1")
	edited := review("s1", "r1", now)
	edited.Text = "edited by customer"
	out, err := s.UpsertInteraction(ctx, edited, prev)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out != OutcomeUpdated {
		t.Fatalf("outcome = %s, want updated", out)
	}

	got, _ := s.GetInteraction(ctx, prev.ID)
	if got.Text != "edited by customer" {
		t.Errorf("text = %q", got.Text)
	}
	if !got.CreatedAt.Equal(prev.CreatedAt) {
		t.Error("created_at changed on update")
	}
}

func TestExtraDataPreservedAcrossUpsert(t *testing.T) {
	// WHAT: A preserved key set locally survives a payload that omits it.
	// WHY: Re-ingestion must never erase reply metadata the service wrote.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	now := time.Now().Truncate(time.Millisecond)
	in := review("s1", "r1", now)
	s.UpsertInteraction(ctx, in, nil)

	if err := s.SetExtraKeys(ctx, in.ID, map[string]any{
		ExtraLastReplyText: "thanks for your review",
	}); err != nil {
		t.Fatalf("set extra: %v", err)
	}

	prev, _ := s.GetByIdentity(ctx, "s1", "wb", connector.ChannelReview, "r1")
	resync := review("s1", "r1", now)
	resync.ExtraData = map[string]any{"source_badge": "verified"}
	if _, err := s.UpsertInteraction(ctx, resync, prev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := s.GetInteraction(ctx, in.ID)
	if got.ExtraData[ExtraLastReplyText] != "thanks for your review" {
		t.Errorf("preserved key lost: %v", got.ExtraData)
	}
	if got.ExtraData["source_badge"] != "verified" {
		t.Errorf("incoming key lost: %v", got.ExtraData)
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	// WHAT: SetWatermark never decreases the stored value.
	// WHY: A regressed watermark would re-create already-deleted history or,
	// worse, mask records ingested after the regression point.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	t1 := time.Now().Truncate(time.Millisecond)
	t0 := t1.Add(-time.Hour)

	if err := s.SetWatermark(ctx, "s1", connector.ChannelReview, t1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWatermark(ctx, "s1", connector.ChannelReview, t0); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWatermark(ctx, "s1", connector.ChannelReview)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(t1) {
		t.Errorf("watermark = %v, want %v", got, t1)
	}

	// A newer value still advances.
	t2 := t1.Add(time.Minute)
	s.SetWatermark(ctx, "s1", connector.ChannelReview, t2)
	got, _ = s.GetWatermark(ctx, "s1", connector.ChannelReview)
	if !got.Equal(t2) {
		t.Errorf("watermark = %v, want %v", got, t2)
	}
}

func TestWatermarkPerChannelIsolation(t *testing.T) {
	// WHAT: Watermarks are independent per channel.
	// WHY: A failing reviews sync must not block questions from advancing.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	now := time.Now().Truncate(time.Millisecond)
	s.SetWatermark(ctx, "s1", connector.ChannelReview, now)

	q, err := s.GetWatermark(ctx, "s1", connector.ChannelQuestion)
	if err != nil {
		t.Fatal(err)
	}
	if !q.IsZero() {
		t.Errorf("question watermark = %v, want zero", q)
	}
}

func TestSellerSyncLifecycle(t *testing.T) {
	// WHAT: idle → syncing → error with truncation, and stale-run reaping.
	// WHY: The seller row is the ops-facing source of sync truth.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	if err := s.MarkSyncing(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	sl, _ := s.GetSeller(ctx, "s1")
	if sl.SyncStatus != SyncRunning || sl.SyncStartedAt.IsZero() {
		t.Fatalf("after MarkSyncing: %+v", sl)
	}

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	if err := s.MarkSyncError(ctx, "s1", "[interactions_sync] reviews:"+string(long)); err != nil {
		t.Fatal(err)
	}
	sl, _ = s.GetSeller(ctx, "s1")
	if sl.SyncStatus != SyncError {
		t.Errorf("status = %s", sl.SyncStatus)
	}
	if len(sl.SyncError) > maxSyncErrorLen+4 {
		t.Errorf("error not truncated: %d chars", len(sl.SyncError))
	}

	// Stale reap: wind the clock back by writing sync_started_at directly.
	s.MarkSyncing(ctx, "s1")
	db.Exec(`UPDATE sellers SET sync_started_at = ? WHERE id = 's1'`,
		time.Now().Add(-2*time.Hour).UnixMilli())
	n, err := s.ReapStaleSyncing(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	sl, _ = s.GetSeller(ctx, "s1")
	if sl.SyncStatus != SyncError {
		t.Errorf("stale seller status = %s, want error", sl.SyncStatus)
	}
}

func TestDueSellers(t *testing.T) {
	// WHAT: Never-synced and overdue sellers are due; recent and syncing are not.
	// WHY: The scheduler's fan-out is driven entirely by this query.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	seedSeller(t, s, "fresh")
	seedSeller(t, s, "recent")
	seedSeller(t, s, "busy")
	s.MarkSyncSuccess(ctx, "recent")
	s.MarkSyncing(ctx, "busy")

	due, err := s.DueSellers(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, sl := range due {
		ids[sl.ID] = true
	}
	if !ids["fresh"] {
		t.Error("never-synced seller not due")
	}
	if ids["recent"] {
		t.Error("just-synced seller due")
	}
	if ids["busy"] {
		t.Error("in-flight seller due")
	}
}

func TestScanLinkCandidatesExcludesOwnChannel(t *testing.T) {
	// WHAT: Candidate scan returns other-channel rows sharing a key, capped.
	// WHY: Linking only relates records across channels, with bounded cost.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	now := time.Now().Truncate(time.Millisecond)

	r := review("s1", "r1", now)
	r.OrderID = "o-9"
	s.UpsertInteraction(ctx, r, nil)

	q := review("s1", "q1", now.Add(-2*time.Hour))
	q.Channel = connector.ChannelQuestion
	q.OrderID = "o-9"
	q.Rating = 0
	s.UpsertInteraction(ctx, q, nil)

	sib := review("s1", "r2", now)
	sib.OrderID = "o-9"
	s.UpsertInteraction(ctx, sib, nil)

	got, err := s.ScanLinkCandidates(ctx, "s1", LinkScan{
		ExcludeID: r.ID,
		Channel:   connector.ChannelReview,
		OrderID:   "o-9",
		Center:    now,
		Window:    30 * 24 * time.Hour,
		Limit:     10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ExternalID != "q1" {
		t.Fatalf("candidates = %+v", got)
	}
}

func TestAutoReplyRepetition(t *testing.T) {
	// WHAT: The same text (modulo case/space) is detected within the window.
	// WHY: The automation validator blocks repeated identical auto-replies.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	err := s.RecordAutoReply(ctx, idgen.New(), "s1", connector.ChannelReview, "int-1", "Thanks a lot!")
	if err != nil {
		t.Fatal(err)
	}

	since := time.Now().Add(-24 * time.Hour)
	hit, err := s.HasRecentAutoReply(ctx, "s1", "  thanks a LOT!  ", since)
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Error("normalized duplicate not detected")
	}

	hit, _ = s.HasRecentAutoReply(ctx, "s1", "different text", since)
	if hit {
		t.Error("false positive on different text")
	}
}

func TestMarkResponded(t *testing.T) {
	// WHAT: MarkResponded flips workflow state and stamps reply metadata.
	// WHY: Both the gate and manual replies converge on this transition.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	in := review("s1", "r1", time.Now())
	in.NeedsResponse = true
	s.UpsertInteraction(ctx, in, nil)

	err := s.MarkResponded(ctx, in.ID, true, map[string]any{
		ExtraLastReplyText:   "thank you!",
		ExtraLastReplySource: "auto",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetInteraction(ctx, in.ID)
	if got.Status != StatusResponded || got.NeedsResponse || !got.IsAutoResponse {
		t.Errorf("workflow state = %+v", got)
	}
	if got.Priority != PriorityLow {
		t.Errorf("priority = %s", got.Priority)
	}
	if got.ExtraData[ExtraLastReplyText] != "thank you!" {
		t.Errorf("extra = %v", got.ExtraData)
	}
}

func TestWithTxRollsBackAtomically(t *testing.T) {
	// WHAT: Writes through WithTx vanish when the transaction rolls back.
	// WHY: A channel run is one logical transaction; partial pages must not
	// survive a failure.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	seedSeller(t, s, "s1")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := s.WithTx(tx)
	if _, err := ts.UpsertInteraction(ctx, review("s1", "r1", time.Now()), nil); err != nil {
		t.Fatal(err)
	}
	tx.Rollback()

	got, err := s.GetByIdentity(ctx, "s1", "wb", connector.ChannelReview, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("rolled-back interaction visible")
	}
}
