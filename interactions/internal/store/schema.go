package store

import "database/sql"

// Schema is the complete service schema.
const Schema = `
-- Sellers: sync configuration and status per marketplace account
CREATE TABLE IF NOT EXISTS sellers (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    marketplace       TEXT NOT NULL,
    enabled           INTEGER NOT NULL DEFAULT 1,
    sync_interval     INTEGER NOT NULL DEFAULT 300000,
    connector_config  TEXT NOT NULL DEFAULT '{}',
    automation_config TEXT NOT NULL DEFAULT '{}',
    sync_status       TEXT NOT NULL DEFAULT 'idle',
    sync_started_at   INTEGER,
    last_sync_at      INTEGER,
    sync_error        TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sellers_enabled ON sellers(enabled, last_sync_at);

-- Interactions: the canonical cross-channel record
CREATE TABLE IF NOT EXISTS interactions (
    id               TEXT PRIMARY KEY,
    seller_id        TEXT NOT NULL REFERENCES sellers(id) ON DELETE CASCADE,
    marketplace      TEXT NOT NULL,
    channel          TEXT NOT NULL,
    external_id      TEXT NOT NULL,
    order_id         TEXT NOT NULL DEFAULT '',
    customer_id      TEXT NOT NULL DEFAULT '',
    customer_name    TEXT NOT NULL DEFAULT '',
    product_id       TEXT NOT NULL DEFAULT '',
    product_article  TEXT NOT NULL DEFAULT '',
    text             TEXT NOT NULL DEFAULT '',
    subject          TEXT NOT NULL DEFAULT '',
    rating           INTEGER NOT NULL DEFAULT 0,
    occurred_at      INTEGER NOT NULL,
    status           TEXT NOT NULL DEFAULT 'open',
    needs_response   INTEGER NOT NULL DEFAULT 1,
    priority         TEXT NOT NULL DEFAULT 'normal',
    is_auto_response INTEGER NOT NULL DEFAULT 0,
    extra_data       TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    UNIQUE(seller_id, marketplace, channel, external_id)
);
CREATE INDEX IF NOT EXISTS idx_interactions_order ON interactions(seller_id, order_id) WHERE order_id != '';
CREATE INDEX IF NOT EXISTS idx_interactions_customer ON interactions(seller_id, customer_id) WHERE customer_id != '';
CREATE INDEX IF NOT EXISTS idx_interactions_product ON interactions(seller_id, product_id, occurred_at) WHERE product_id != '';
CREATE INDEX IF NOT EXISTS idx_interactions_time ON interactions(seller_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_updated ON interactions(seller_id, updated_at DESC);

-- Watermarks: newest successfully ingested source timestamp per channel
CREATE TABLE IF NOT EXISTS watermarks (
    seller_id   TEXT NOT NULL REFERENCES sellers(id) ON DELETE CASCADE,
    channel     TEXT NOT NULL,
    watermark   INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (seller_id, channel)
);

-- Auto-reply ledger: repetition checks and audit joins
CREATE TABLE IF NOT EXISTS auto_replies (
    id             TEXT PRIMARY KEY,
    seller_id      TEXT NOT NULL,
    channel        TEXT NOT NULL,
    interaction_id TEXT NOT NULL,
    text_hash      TEXT NOT NULL,
    sent_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auto_replies_seller_time ON auto_replies(seller_id, sent_at DESC);
CREATE INDEX IF NOT EXISTS idx_auto_replies_hash ON auto_replies(seller_id, text_hash, sent_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
