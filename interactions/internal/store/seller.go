package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sellerCols = `id, name, marketplace, enabled, sync_interval,
	connector_config, automation_config,
	sync_status, sync_started_at, last_sync_at, sync_error,
	created_at, updated_at`

// maxSyncErrorLen bounds the persisted error string. Errors are for humans
// scanning a status page, not stack-trace archaeology.
const maxSyncErrorLen = 500

// InsertSeller adds a seller.
func (s *Store) InsertSeller(ctx context.Context, sl *Seller) error {
	now := time.Now()
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = now
	}
	sl.UpdatedAt = now
	if sl.SyncInterval <= 0 {
		sl.SyncInterval = 5 * time.Minute
	}
	if sl.SyncStatus == "" {
		sl.SyncStatus = SyncIdle
	}
	connJSON, err := json.Marshal(sl.ConnectorConfig)
	if err != nil {
		return fmt.Errorf("store: marshal connector config: %w", err)
	}
	autoJSON := sl.AutomationConfig
	if len(autoJSON) == 0 {
		autoJSON = json.RawMessage("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sellers (`+sellerCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sl.ID, sl.Name, sl.Marketplace, sl.Enabled, sl.SyncInterval.Milliseconds(),
		string(connJSON), string(autoJSON),
		sl.SyncStatus, millis(sl.SyncStartedAt), millis(sl.LastSyncAt), sl.SyncError,
		millis(sl.CreatedAt), millis(sl.UpdatedAt),
	)
	return err
}

// GetSeller retrieves a seller by ID. Returns nil, nil if absent.
func (s *Store) GetSeller(ctx context.Context, id string) (*Seller, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sellerCols+` FROM sellers WHERE id = ?`, id)
	sl, err := scanSeller(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sl, nil
}

// DueSellers returns enabled sellers whose sync interval has elapsed since
// their last sync (never-synced sellers are always due). Sellers currently
// syncing are excluded.
func (s *Store) DueSellers(ctx context.Context, now time.Time) ([]*Seller, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sellerCols+` FROM sellers
		WHERE enabled = 1
		  AND sync_status != ?
		  AND (last_sync_at IS NULL OR last_sync_at = 0 OR last_sync_at + sync_interval <= ?)
		ORDER BY last_sync_at ASC`,
		SyncRunning, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Seller
	for rows.Next() {
		sl, err := scanSeller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// MarkSyncing transitions a seller into the syncing state, stamping the start
// time so stale runs can be reaped.
func (s *Store) MarkSyncing(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sellers SET sync_status=?, sync_started_at=?, sync_error='', updated_at=? WHERE id=?`,
		SyncRunning, now, now, id)
	return err
}

// MarkSyncSuccess records a completed sync.
func (s *Store) MarkSyncSuccess(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sellers SET sync_status=?, sync_started_at=NULL, last_sync_at=?, sync_error='', updated_at=?
		WHERE id=?`,
		SyncSuccess, now, now, id)
	return err
}

// MarkSyncError records a failed sync with a truncated, human-readable error.
func (s *Store) MarkSyncError(ctx context.Context, id, errMsg string) error {
	if len(errMsg) > maxSyncErrorLen {
		errMsg = errMsg[:maxSyncErrorLen] + "…"
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sellers SET sync_status=?, sync_started_at=NULL, sync_error=?, updated_at=? WHERE id=?`,
		SyncError, errMsg, now, id)
	return err
}

// ReapStaleSyncing converts sellers stuck in "syncing" longer than threshold
// back to "error" so no seller stays ambiguous after a crash. Returns how
// many rows it converted.
func (s *Store) ReapStaleSyncing(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sellers SET sync_status=?, sync_started_at=NULL,
		 sync_error='[interactions_sync] sync exceeded deadline, presumed crashed', updated_at=?
		WHERE sync_status=? AND sync_started_at IS NOT NULL AND sync_started_at < ?`,
		SyncError, time.Now().UnixMilli(), SyncRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSeller(sc rowScanner) (*Seller, error) {
	var sl Seller
	var enabled int
	var intervalMs int64
	var connJSON, autoJSON string
	var started, last, created, updated sql.NullInt64
	err := sc.Scan(
		&sl.ID, &sl.Name, &sl.Marketplace, &enabled, &intervalMs,
		&connJSON, &autoJSON,
		&sl.SyncStatus, &started, &last, &sl.SyncError,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	sl.Enabled = enabled != 0
	sl.SyncInterval = time.Duration(intervalMs) * time.Millisecond
	sl.SyncStartedAt = fromMillis(started.Int64)
	sl.LastSyncAt = fromMillis(last.Int64)
	sl.CreatedAt = fromMillis(created.Int64)
	sl.UpdatedAt = fromMillis(updated.Int64)
	sl.AutomationConfig = json.RawMessage(autoJSON)
	sl.ConnectorConfig = map[string]json.RawMessage{}
	if connJSON != "" {
		if err := json.Unmarshal([]byte(connJSON), &sl.ConnectorConfig); err != nil {
			return nil, fmt.Errorf("store: parse connector config for %s: %w", sl.ID, err)
		}
	}
	return &sl, nil
}
