// Package connector defines the per-(marketplace, channel) source API
// capability: a paginated list of new or updated records, and a send-reply
// operation.
//
// One Connector implementation exists per marketplace×channel pair. The
// Registry maps "marketplace/channel" keys to factories so the active set is
// configuration, not code — the same pattern channels tables use for
// messaging platforms.
//
//	reg := connector.NewRegistry()
//	reg.Register("wildberries/review", connector.HTTPFactory(httpCfg))
//	conn, err := reg.Open("wildberries/review", sellerID, sellerCfg)
package connector

import (
	"context"
	"time"
)

// Channel identifies the customer-facing surface a record came from.
type Channel string

const (
	ChannelReview   Channel = "review"
	ChannelQuestion Channel = "question"
	ChannelChat     Channel = "chat"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelReview, ChannelQuestion, ChannelChat:
		return true
	}
	return false
}

// Item is a raw source record, normalized just enough to be mapped onto an
// Interaction. Fields absent at the source stay zero.
type Item struct {
	ExternalID     string            `json:"external_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Text           string            `json:"text"`
	Subject        string            `json:"subject,omitempty"`
	Rating         int               `json:"rating,omitempty"` // reviews only, 1..5, 0 = absent
	OrderID        string            `json:"order_id,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	ProductID      string            `json:"product_id,omitempty"`
	ProductArticle string            `json:"product_article,omitempty"`
	Answered       bool              `json:"answered"`
	Extra          map[string]string `json:"extra,omitempty"` // source-specific leftovers
}

// ListQuery describes one page request against the source API.
type ListQuery struct {
	// Cursor is the source's opaque pagination token. Empty means first page.
	Cursor string
	// Skip/Take are used by offset-paginated sources when Cursor is unused.
	Skip int
	Take int
	// Answered filters by answer state where the source distinguishes it.
	// Nil means no filter.
	Answered *bool
	// Since hints the source to return records at or after this time.
	// Sources that cannot filter server-side may ignore it; the ingestion
	// watermark stop handles the overlap either way.
	Since time.Time
}

// Page is one page of source records in the source's natural newest-first
// order.
type Page struct {
	Items      []Item
	NextCursor string
	HasMore    bool
}

// Connector is the per-marketplace, per-channel source API capability.
type Connector interface {
	// ListItems returns one page of records for the query.
	ListItems(ctx context.Context, q ListQuery) (Page, error)

	// SendReply posts a reply to the record identified by externalID.
	SendReply(ctx context.Context, externalID, text string) error
}
