package interactions

import (
	"time"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/interactions/internal/timeline"
)

// InteractionView is the outward-facing projection of an interaction.
type InteractionView struct {
	ID          string            `json:"id"`
	SellerID    string            `json:"seller_id"`
	Marketplace string            `json:"marketplace"`
	Channel     connector.Channel `json:"channel"`
	ExternalID  string            `json:"external_id"`

	OrderID        string `json:"order_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	ProductArticle string `json:"product_article,omitempty"`

	Text       string    `json:"text"`
	Subject    string    `json:"subject,omitempty"`
	Rating     int       `json:"rating,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	Status         string `json:"status"`
	NeedsResponse  bool   `json:"needs_response"`
	Priority       string `json:"priority"`
	IsAutoResponse bool   `json:"is_auto_response"`

	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// TimelineEntry is one interaction in a thread view, with the reason it
// belongs there.
type TimelineEntry struct {
	Interaction InteractionView `json:"interaction"`
	MatchReason string          `json:"match_reason"`
	Confidence  float64         `json:"confidence"`
}

// SellerState is the outward-facing sync status of one seller.
type SellerState struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Marketplace   string        `json:"marketplace"`
	Enabled       bool          `json:"enabled"`
	SyncInterval  time.Duration `json:"sync_interval"`
	SyncStatus    string        `json:"sync_status"`
	SyncStartedAt *time.Time    `json:"sync_started_at,omitempty"`
	LastSyncAt    *time.Time    `json:"last_sync_at,omitempty"`
	SyncError     string        `json:"sync_error,omitempty"`
}

func viewOf(in *store.Interaction) InteractionView {
	return InteractionView{
		ID:             in.ID,
		SellerID:       in.SellerID,
		Marketplace:    in.Marketplace,
		Channel:        in.Channel,
		ExternalID:     in.ExternalID,
		OrderID:        in.OrderID,
		CustomerID:     in.CustomerID,
		CustomerName:   in.CustomerName,
		ProductID:      in.ProductID,
		ProductArticle: in.ProductArticle,
		Text:           in.Text,
		Subject:        in.Subject,
		Rating:         in.Rating,
		OccurredAt:     in.OccurredAt,
		Status:         in.Status,
		NeedsResponse:  in.NeedsResponse,
		Priority:       in.Priority,
		IsAutoResponse: in.IsAutoResponse,
		ExtraData:      in.ExtraData,
	}
}

func entryOf(e timeline.Entry) TimelineEntry {
	return TimelineEntry{
		Interaction: viewOf(e.Interaction),
		MatchReason: e.MatchReason,
		Confidence:  e.Confidence,
	}
}

func stateOf(sl *store.Seller) SellerState {
	out := SellerState{
		ID:           sl.ID,
		Name:         sl.Name,
		Marketplace:  sl.Marketplace,
		Enabled:      sl.Enabled,
		SyncInterval: sl.SyncInterval,
		SyncStatus:   sl.SyncStatus,
		SyncError:    sl.SyncError,
	}
	if !sl.SyncStartedAt.IsZero() {
		t := sl.SyncStartedAt
		out.SyncStartedAt = &t
	}
	if !sl.LastSyncAt.IsZero() {
		t := sl.LastSyncAt
		out.LastSyncAt = &t
	}
	return out
}
