package timeline_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/interactions/internal/timeline"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	st := store.NewStore(db)
	err := st.InsertSeller(context.Background(), &store.Seller{
		ID: "s1", Name: "Shop", Marketplace: "wb", Enabled: true,
	})
	if err != nil {
		t.Fatalf("insert seller: %v", err)
	}
	return st
}

func put(t *testing.T, st *store.Store, in *store.Interaction) *store.Interaction {
	t.Helper()
	in.SellerID = "s1"
	in.Marketplace = "wb"
	in.Status = store.StatusOpen
	in.Priority = store.PriorityNormal
	if _, err := st.UpsertInteraction(context.Background(), in, nil); err != nil {
		t.Fatalf("upsert %s: %v", in.ID, err)
	}
	return in
}

func reasons(entries []timeline.Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Interaction.ID] = e.MatchReason
	}
	return out
}

func TestOrderScopeWins(t *testing.T) {
	// WHAT: A record with an order ID builds its timeline from the order
	// scope; a same-customer record on a different order is excluded.
	// WHY: Scope priority is strict, not additive.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelQuestion, ExternalID: "q1",
		OrderID: "ord-1", CustomerID: "cust-1", OccurredAt: base,
	})
	put(t, st, &store.Interaction{
		ID: "same-order", Channel: connector.ChannelReview, ExternalID: "r1",
		OrderID: "ord-1", OccurredAt: base.Add(-time.Hour),
	})
	put(t, st, &store.Interaction{
		ID: "same-customer", Channel: connector.ChannelChat, ExternalID: "c1",
		OrderID: "ord-2", CustomerID: "cust-1", OccurredAt: base.Add(time.Hour),
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := reasons(entries)
	if len(got) != 2 {
		t.Fatalf("entries: %v", got)
	}
	if got["q"] != timeline.ReasonSelf || got["same-order"] != timeline.ReasonOrderExact {
		t.Fatalf("reasons: %v", got)
	}
}

func TestCustomerScopeNarrowedByProduct(t *testing.T) {
	// WHAT: Without an order ID, the customer scope applies, narrowed to the
	// record's product when present.
	// WHY: A chat about one product must not pull in the customer's whole
	// purchase history.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelQuestion, ExternalID: "q1",
		CustomerID: "cust-1", ProductID: "p-1", OccurredAt: base,
	})
	put(t, st, &store.Interaction{
		ID: "same-product", Channel: connector.ChannelReview, ExternalID: "r1",
		CustomerID: "cust-1", ProductID: "p-1", OccurredAt: base.Add(-time.Hour),
	})
	put(t, st, &store.Interaction{
		ID: "other-product", Channel: connector.ChannelReview, ExternalID: "r2",
		CustomerID: "cust-1", ProductID: "p-2", OccurredAt: base.Add(time.Hour),
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := reasons(entries)
	if len(got) != 2 || got["same-product"] != timeline.ReasonCustomerExact {
		t.Fatalf("reasons: %v", got)
	}
}

func TestProductWindowScope(t *testing.T) {
	// WHAT: With neither order nor customer ID, the product time-window scope
	// applies; records outside the window are excluded.
	// WHY: Product alone, unbounded in time, is coincidence, not a thread.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelQuestion, ExternalID: "q1",
		ProductID: "p-1", OccurredAt: base,
	})
	put(t, st, &store.Interaction{
		ID: "in-window", Channel: connector.ChannelReview, ExternalID: "r1",
		ProductID: "p-1", OccurredAt: base.AddDate(0, 0, -30),
	})
	put(t, st, &store.Interaction{
		ID: "out-of-window", Channel: connector.ChannelReview, ExternalID: "r2",
		ProductID: "p-1", OccurredAt: base.AddDate(0, 0, -90),
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := reasons(entries)
	if len(got) != 2 || got["in-window"] != timeline.ReasonProductWindow {
		t.Fatalf("reasons: %v", got)
	}
}

func TestArticleWindowReason(t *testing.T) {
	// WHAT: A match on article (no shared product ID) gets its own, lower
	// confidence reason.
	// WHY: Articles are coarser identifiers than product IDs.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelQuestion, ExternalID: "q1",
		ProductArticle: "A-77", OccurredAt: base,
	})
	put(t, st, &store.Interaction{
		ID: "by-article", Channel: connector.ChannelReview, ExternalID: "r1",
		ProductArticle: "A-77", OccurredAt: base.Add(-time.Hour),
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	var found *timeline.Entry
	for i := range entries {
		if entries[i].Interaction.ID == "by-article" {
			found = &entries[i]
		}
	}
	if found == nil || found.MatchReason != timeline.ReasonArticleWindow || found.Confidence != 0.70 {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestLoneRecordTimeline(t *testing.T) {
	// WHAT: A record without any correlation key yields a single-entry
	// timeline of itself.
	// WHY: The query record is always present, scope or no scope.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelChat, ExternalID: "c1",
		OccurredAt: base,
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].MatchReason != timeline.ReasonSelf || entries[0].Confidence != 1.0 {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestChronologicalDeterministicOrder(t *testing.T) {
	// WHAT: Entries come back ordered by source time ascending, ID breaking
	// ties.
	// WHY: The timeline pre-fills reply context; its order must be stable.
	st := newStore(t)
	q := put(t, st, &store.Interaction{
		ID: "q", Channel: connector.ChannelQuestion, ExternalID: "q1",
		OrderID: "ord-1", OccurredAt: base,
	})
	put(t, st, &store.Interaction{
		ID: "b", Channel: connector.ChannelReview, ExternalID: "r1",
		OrderID: "ord-1", OccurredAt: base.Add(-time.Hour),
	})
	put(t, st, &store.Interaction{
		ID: "a", Channel: connector.ChannelChat, ExternalID: "c1",
		OrderID: "ord-1", OccurredAt: base.Add(-time.Hour),
	})

	entries, err := timeline.New(timeline.Options{}).Build(context.Background(), st, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.Interaction.ID)
	}
	want := []string{"a", "b", "q"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}
