package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/sellersync/idgen"
)

// Event is a domain-level record: one sync run, one auto reply, one sandbox
// preview.
type Event struct {
	EventID   string
	EventType string
	SellerID  string
	Channel   string
	EntityID  string // interaction ID or job ID the event is about
	Details   string // JSON
	Success   bool
	CreatedAt time.Time
}

// EventLogger writes domain events to the observability database.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Errors are logged via slog and swallowed so a failing
// observability store never blocks the pipeline.
func (l *EventLogger) Log(ctx context.Context, e Event) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Details == "" {
		e.Details = "{}"
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO event_log (event_id, event_type, seller_id, channel, entity_id, details, success, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.EventID, e.EventType, e.SellerID, e.Channel, e.EntityID, e.Details, e.Success, e.CreatedAt.Unix())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", e.EventType)
	}
}

// LogDetails is a convenience wrapper marshalling details to JSON.
func (l *EventLogger) LogDetails(ctx context.Context, eventType, sellerID, channel, entityID string, success bool, details any) {
	e := Event{
		EventType: eventType,
		SellerID:  sellerID,
		Channel:   channel,
		EntityID:  entityID,
		Success:   success,
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			e.Details = string(b)
		}
	}
	l.Log(ctx, e)
}

// EventFilter narrows Query results. Zero values mean no filter.
type EventFilter struct {
	EventType string
	SellerID  string
	Limit     int // default 100
}

// Query returns events newest first.
func (l *EventLogger) Query(ctx context.Context, f EventFilter) ([]Event, error) {
	q := `SELECT event_id, event_type, seller_id, channel, entity_id, details, success, created_at
		FROM event_log WHERE 1=1`
	args := make([]any, 0, 3)
	if f.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.SellerID != "" {
		q += " AND seller_id = ?"
		args = append(args, f.SellerID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	if f.Limit <= 0 {
		f.Limit = 100
	}
	args = append(args, f.Limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var success int
		var created int64
		if err := rows.Scan(&e.EventID, &e.EventType, &e.SellerID, &e.Channel, &e.EntityID, &e.Details, &success, &created); err != nil {
			return nil, err
		}
		e.Success = success != 0
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *EventLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
