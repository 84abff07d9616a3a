package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/sellersync/connector"
)

// GetWatermark returns the stored watermark for (seller, channel), or the
// zero time if none exists yet.
func (s *Store) GetWatermark(ctx context.Context, sellerID string, channel connector.Channel) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM watermarks WHERE seller_id = ? AND channel = ?`,
		sellerID, string(channel)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SetWatermark advances the watermark for (seller, channel). Monotonicity is
// enforced in SQL: a value older than the stored one leaves the row as-is,
// so no caller ordering mistake can move a watermark backwards.
func (s *Store) SetWatermark(ctx context.Context, sellerID string, channel connector.Channel, wm time.Time) error {
	if wm.IsZero() {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (seller_id, channel, watermark, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(seller_id, channel) DO UPDATE SET
			watermark = MAX(watermark, excluded.watermark),
			updated_at = excluded.updated_at`,
		sellerID, string(channel), wm.UnixMilli(), now)
	return err
}
