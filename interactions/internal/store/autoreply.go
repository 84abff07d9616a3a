package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hazyhaar/sellersync/connector"
)

// ReplyTextHash produces the dedup key for a reply text: SHA-256 of the
// trimmed, lowercased body. Near-identical drafts differing only in
// whitespace or case hash the same.
func ReplyTextHash(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// RecordAutoReply appends to the auto-reply ledger.
func (s *Store) RecordAutoReply(ctx context.Context, id, sellerID string, channel connector.Channel, interactionID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auto_replies (id, seller_id, channel, interaction_id, text_hash, sent_at)
		VALUES (?,?,?,?,?,?)`,
		id, sellerID, string(channel), interactionID, ReplyTextHash(text), time.Now().UnixMilli())
	return err
}

// HasRecentAutoReply reports whether the seller already auto-sent the same
// text (by hash) since the given time. This backs the repetition check in the
// automation-only validation.
func (s *Store) HasRecentAutoReply(ctx context.Context, sellerID, text string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auto_replies
		WHERE seller_id = ? AND text_hash = ? AND sent_at >= ?`,
		sellerID, ReplyTextHash(text), since.UnixMilli()).Scan(&n)
	return n > 0, err
}
