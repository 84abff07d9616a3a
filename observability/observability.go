// Package observability provides SQLite-native run metrics and a business
// event log for the sync and automation pipelines.
//
// Both writers target a dedicated observability database (separate from the
// service database to avoid write contention). Persistence is non-blocking:
// a failing observability store logs and drops, it never blocks or fails the
// pipeline that called it.
package observability

import "database/sql"

// Schema contains the DDL for the observability tables.
const Schema = `
-- Domain-level events: sync runs, auto replies, sandbox previews, failures.
CREATE TABLE IF NOT EXISTS event_log (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    seller_id   TEXT NOT NULL DEFAULT '',
    channel     TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '{}',
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_log_type ON event_log(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_log_seller ON event_log(seller_id, created_at DESC);

-- Timeseries datapoints: per-run counters, gate stage outcomes.
CREATE TABLE IF NOT EXISTS metrics (
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT NOT NULL DEFAULT '{}',
    unit        TEXT NOT NULL DEFAULT 'count'
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON metrics(metric_name, timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Event type constants used across the service.
const (
	EventSyncRun        = "sync_run"
	EventAutoReply      = "auto_reply"
	EventSandboxPreview = "sandbox_preview"
	EventReplyFailed    = "reply_failed"
	EventManualReply    = "manual_reply"
)

// Metric name constants.
const (
	MetricSyncFetched   = "sync_fetched"
	MetricSyncCreated   = "sync_created"
	MetricSyncUpdated   = "sync_updated"
	MetricSyncSkipped   = "sync_skipped"
	MetricSyncDuration  = "sync_duration_ms"
	MetricGateStopStage = "gate_stop_stage"
	MetricGateSent      = "gate_sent"
)
