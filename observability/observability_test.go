package observability

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sellersync/dbopen"
)

func openObsDB(t *testing.T) *EventLogger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewEventLogger(db)
}

func TestEventLogAndQuery(t *testing.T) {
	// WHAT: Logged events come back through Query with filters applied.
	// WHY: Ops alerting reads sandbox and sync events from this table.
	l := openObsDB(t)
	ctx := context.Background()

	l.LogDetails(ctx, EventSyncRun, "seller-1", "review", "", true,
		map[string]int{"fetched": 6, "created": 6})
	l.LogDetails(ctx, EventSandboxPreview, "seller-1", "review", "int-1", true, nil)
	l.LogDetails(ctx, EventSyncRun, "seller-2", "question", "", false, nil)

	events, err := l.Query(ctx, EventFilter{EventType: EventSyncRun})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("sync_run events = %d, want 2", len(events))
	}

	events, err = l.Query(ctx, EventFilter{SellerID: "seller-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("seller-1 events = %d, want 2", len(events))
	}
	for _, e := range events {
		if e.EventID == "" || e.CreatedAt.IsZero() {
			t.Errorf("event missing defaults: %+v", e)
		}
	}
}

func TestEventCleanup(t *testing.T) {
	// WHAT: Cleanup removes events past retention, keeps the rest.
	// WHY: The observability database must not grow unbounded.
	l := openObsDB(t)
	ctx := context.Background()

	l.Log(ctx, Event{EventType: EventAutoReply, CreatedAt: time.Now().AddDate(0, 0, -40)})
	l.Log(ctx, Event{EventType: EventAutoReply})

	n, err := l.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleaned = %d, want 1", n)
	}
	events, _ := l.Query(ctx, EventFilter{})
	if len(events) != 1 {
		t.Fatalf("remaining = %d, want 1", len(events))
	}
}

func TestMetricsFlushOnClose(t *testing.T) {
	// WHAT: Buffered datapoints are written when the writer closes.
	// WHY: Short-lived processes (tests, CLIs) must not lose their last batch.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	m := NewMetrics(db, 100, time.Hour)

	m.Count(MetricSyncCreated, 6, map[string]string{"seller": "s1", "channel": "review"})
	m.Duration(MetricSyncDuration, 1500*time.Millisecond, nil)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM metrics`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("metric rows = %d, want 2", n)
	}

	var unit string
	if err := db.QueryRow(`SELECT unit FROM metrics WHERE metric_name = ?`, MetricSyncDuration).Scan(&unit); err != nil {
		t.Fatal(err)
	}
	if unit != "milliseconds" {
		t.Errorf("duration unit = %q", unit)
	}
}
