package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/sellersync/connector"
)

const interactionCols = `id, seller_id, marketplace, channel, external_id,
	order_id, customer_id, customer_name, product_id, product_article,
	text, subject, rating, occurred_at,
	status, needs_response, priority, is_auto_response,
	extra_data, created_at, updated_at`

// GetInteraction retrieves an interaction by ID. Returns nil, nil if absent.
func (s *Store) GetInteraction(ctx context.Context, id string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionCols+` FROM interactions WHERE id = ?`, id)
	return scanInteraction(row)
}

// GetByIdentity retrieves an interaction by its permanent identity tuple.
// Returns nil, nil if absent.
func (s *Store) GetByIdentity(ctx context.Context, sellerID, marketplace string, channel connector.Channel, externalID string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionCols+` FROM interactions
		WHERE seller_id = ? AND marketplace = ? AND channel = ? AND external_id = ?`,
		sellerID, marketplace, string(channel), externalID)
	return scanInteraction(row)
}

// UpsertInteraction inserts in or updates the row prev (the current row for
// in's identity, or nil if the caller found none). Content and workflow
// fields are replaced wholesale from in; extra_data is merged through
// MergeExtraData so preserved keys survive. The identity tuple never changes:
// on update, in adopts prev's ID and CreatedAt.
func (s *Store) UpsertInteraction(ctx context.Context, in *Interaction, prev *Interaction) (UpsertOutcome, error) {
	now := time.Now()
	if in.ExtraData == nil {
		in.ExtraData = map[string]any{}
	}
	if in.Status == "" {
		in.Status = StatusOpen
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}

	if prev == nil {
		if in.ID == "" {
			return 0, fmt.Errorf("store: upsert: new interaction has no ID")
		}
		in.CreatedAt = now
		in.UpdatedAt = now
		extraJSON, err := json.Marshal(in.ExtraData)
		if err != nil {
			return 0, fmt.Errorf("store: marshal extra_data: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO interactions (`+interactionCols+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			in.ID, in.SellerID, in.Marketplace, string(in.Channel), in.ExternalID,
			in.OrderID, in.CustomerID, in.CustomerName, in.ProductID, in.ProductArticle,
			in.Text, in.Subject, in.Rating, millis(in.OccurredAt),
			in.Status, in.NeedsResponse, in.Priority, in.IsAutoResponse,
			string(extraJSON), millis(in.CreatedAt), millis(in.UpdatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("store: insert interaction: %w", err)
		}
		return OutcomeCreated, nil
	}

	in.ID = prev.ID
	in.CreatedAt = prev.CreatedAt
	in.ExtraData = MergeExtraData(prev.ExtraData, in.ExtraData)

	if contentEqual(in, prev) {
		in.UpdatedAt = prev.UpdatedAt
		return OutcomeUnchanged, nil
	}

	in.UpdatedAt = now
	extraJSON, err := json.Marshal(in.ExtraData)
	if err != nil {
		return 0, fmt.Errorf("store: marshal extra_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE interactions SET
		order_id=?, customer_id=?, customer_name=?, product_id=?, product_article=?,
		text=?, subject=?, rating=?, occurred_at=?,
		status=?, needs_response=?, priority=?, is_auto_response=?,
		extra_data=?, updated_at=?
		WHERE id=?`,
		in.OrderID, in.CustomerID, in.CustomerName, in.ProductID, in.ProductArticle,
		in.Text, in.Subject, in.Rating, millis(in.OccurredAt),
		in.Status, in.NeedsResponse, in.Priority, in.IsAutoResponse,
		string(extraJSON), millis(in.UpdatedAt), in.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update interaction: %w", err)
	}
	return OutcomeUpdated, nil
}

// contentEqual compares every field a re-sync may change, including the
// merged extra_data.
func contentEqual(a, b *Interaction) bool {
	if a.OrderID != b.OrderID || a.CustomerID != b.CustomerID ||
		a.CustomerName != b.CustomerName || a.ProductID != b.ProductID ||
		a.ProductArticle != b.ProductArticle ||
		a.Text != b.Text || a.Subject != b.Subject || a.Rating != b.Rating ||
		!a.OccurredAt.Equal(b.OccurredAt) ||
		a.Status != b.Status || a.NeedsResponse != b.NeedsResponse ||
		a.Priority != b.Priority || a.IsAutoResponse != b.IsAutoResponse {
		return false
	}
	aj, err1 := json.Marshal(a.ExtraData)
	bj, err2 := json.Marshal(b.ExtraData)
	return err1 == nil && err2 == nil && string(aj) == string(bj)
}

// SetExtraKeys merges updates into an interaction's extra_data without
// touching any other field.
func (s *Store) SetExtraKeys(ctx context.Context, id string, updates map[string]any) error {
	in, err := s.GetInteraction(ctx, id)
	if err != nil {
		return err
	}
	if in == nil {
		return fmt.Errorf("store: interaction %s not found", id)
	}
	extra := in.ExtraData
	if extra == nil {
		extra = map[string]any{}
	}
	for k, v := range updates {
		extra[k] = v
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("store: marshal extra_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE interactions SET extra_data=?, updated_at=? WHERE id=?`,
		string(extraJSON), time.Now().UnixMilli(), id)
	return err
}

// MarkResponded flips an interaction to the responded workflow state and
// merges extraUpdates (reply metadata) into extra_data.
func (s *Store) MarkResponded(ctx context.Context, id string, auto bool, extraUpdates map[string]any) error {
	if err := s.SetExtraKeys(ctx, id, extraUpdates); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET status=?, needs_response=0, priority=?, is_auto_response=?, updated_at=?
		WHERE id=?`,
		StatusResponded, PriorityLow, auto, time.Now().UnixMilli(), id)
	return err
}

// ListByOrderID returns a seller's interactions sharing an order ID, ordered
// by source time then ID for determinism.
func (s *Store) ListByOrderID(ctx context.Context, sellerID, orderID string) ([]*Interaction, error) {
	return s.list(ctx,
		`SELECT `+interactionCols+` FROM interactions
		WHERE seller_id = ? AND order_id = ? ORDER BY occurred_at ASC, id ASC`,
		sellerID, orderID)
}

// ListByCustomerID returns a seller's interactions for one customer,
// optionally narrowed to one product.
func (s *Store) ListByCustomerID(ctx context.Context, sellerID, customerID, productID string) ([]*Interaction, error) {
	if productID != "" {
		return s.list(ctx,
			`SELECT `+interactionCols+` FROM interactions
			WHERE seller_id = ? AND customer_id = ? AND product_id = ?
			ORDER BY occurred_at ASC, id ASC`,
			sellerID, customerID, productID)
	}
	return s.list(ctx,
		`SELECT `+interactionCols+` FROM interactions
		WHERE seller_id = ? AND customer_id = ? ORDER BY occurred_at ASC, id ASC`,
		sellerID, customerID)
}

// ListByProductWindow returns a seller's interactions for a product (by
// product ID or article) within a symmetric time window around center.
func (s *Store) ListByProductWindow(ctx context.Context, sellerID, productID, article string, center time.Time, window time.Duration) ([]*Interaction, error) {
	from := center.Add(-window).UnixMilli()
	to := center.Add(window).UnixMilli()
	return s.list(ctx,
		`SELECT `+interactionCols+` FROM interactions
		WHERE seller_id = ?
		  AND ((product_id != '' AND product_id = ?) OR (product_article != '' AND product_article = ?))
		  AND occurred_at BETWEEN ? AND ?
		ORDER BY occurred_at ASC, id ASC`,
		sellerID, productID, article, from, to)
}

// LinkScan bounds a candidate scan for the linking engine.
type LinkScan struct {
	ExcludeID      string
	Channel        connector.Channel // candidates must be on a different channel
	OrderID        string
	CustomerID     string
	ProductID      string
	ProductArticle string
	Center         time.Time
	Window         time.Duration // temporal net for weak-signal candidates
	Limit          int
}

// ScanLinkCandidates returns a seller's interactions on other channels that
// share any correlation key with the scan, or fall inside its time window.
// The result is capped at scan.Limit so cost stays bounded.
func (s *Store) ScanLinkCandidates(ctx context.Context, sellerID string, scan LinkScan) ([]*Interaction, error) {
	if scan.Limit <= 0 {
		scan.Limit = 200
	}
	from := scan.Center.Add(-scan.Window).UnixMilli()
	to := scan.Center.Add(scan.Window).UnixMilli()
	return s.list(ctx,
		`SELECT `+interactionCols+` FROM interactions
		WHERE seller_id = ? AND id != ? AND channel != ?
		  AND (
		    (order_id != '' AND order_id = ?)
		    OR (customer_id != '' AND customer_id = ?)
		    OR (product_id != '' AND product_id = ?)
		    OR (product_article != '' AND product_article = ?)
		    OR occurred_at BETWEEN ? AND ?
		  )
		ORDER BY occurred_at DESC, id ASC
		LIMIT ?`,
		sellerID, scan.ExcludeID, string(scan.Channel),
		scan.OrderID, scan.CustomerID, scan.ProductID, scan.ProductArticle,
		from, to, scan.Limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Interaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		in, err := scanInteractionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFields(sc rowScanner, in *Interaction) error {
	var channel, extraJSON string
	var needsResponse, isAuto int
	var occurred, created, updated int64
	err := sc.Scan(
		&in.ID, &in.SellerID, &in.Marketplace, &channel, &in.ExternalID,
		&in.OrderID, &in.CustomerID, &in.CustomerName, &in.ProductID, &in.ProductArticle,
		&in.Text, &in.Subject, &in.Rating, &occurred,
		&in.Status, &needsResponse, &in.Priority, &isAuto,
		&extraJSON, &created, &updated,
	)
	if err != nil {
		return err
	}
	in.Channel = connector.Channel(channel)
	in.NeedsResponse = needsResponse != 0
	in.IsAutoResponse = isAuto != 0
	in.OccurredAt = fromMillis(occurred)
	in.CreatedAt = fromMillis(created)
	in.UpdatedAt = fromMillis(updated)
	in.ExtraData = map[string]any{}
	if extraJSON != "" {
		if err := json.Unmarshal([]byte(extraJSON), &in.ExtraData); err != nil {
			return fmt.Errorf("store: parse extra_data for %s: %w", in.ID, err)
		}
	}
	return nil
}

func scanInteraction(row *sql.Row) (*Interaction, error) {
	var in Interaction
	if err := scanFields(row, &in); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	return &in, nil
}

func scanInteractionRows(rows *sql.Rows) (*Interaction, error) {
	var in Interaction
	if err := scanFields(rows, &in); err != nil {
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	return &in, nil
}
