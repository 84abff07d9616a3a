package store

import (
	"encoding/json"
	"time"

	"github.com/hazyhaar/sellersync/connector"
)

// Interaction workflow status.
const (
	StatusOpen      = "open"
	StatusResponded = "responded"
)

// Interaction priorities.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Seller sync statuses.
const (
	SyncIdle    = "idle"
	SyncRunning = "syncing"
	SyncSuccess = "success"
	SyncError   = "error"
)

// Interaction is the canonical cross-channel customer-contact record.
// Identity (SellerID, Marketplace, Channel, ExternalID) is permanent;
// re-ingesting the same external ID always resolves to the same row.
type Interaction struct {
	ID          string
	SellerID    string
	Marketplace string
	Channel     connector.Channel
	ExternalID  string

	// Correlation keys, any subset present.
	OrderID        string
	CustomerID     string
	CustomerName   string
	ProductID      string
	ProductArticle string

	Text       string
	Subject    string
	Rating     int // reviews only; 0 = absent
	OccurredAt time.Time

	Status         string
	NeedsResponse  bool
	Priority       string
	IsAutoResponse bool

	// ExtraData is the open key/value side channel. Keys in PreservedExtraKeys
	// survive any re-ingestion merge.
	ExtraData map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Seller is one marketplace account the service syncs.
type Seller struct {
	ID          string
	Name        string
	Marketplace string
	Enabled     bool
	// SyncInterval between scheduled syncs.
	SyncInterval time.Duration
	// ConnectorConfig maps channel name to per-channel connector JSON
	// (tokens, shop IDs).
	ConnectorConfig map[string]json.RawMessage
	// AutomationConfig is the raw automation settings JSON, parsed by the
	// automation gate.
	AutomationConfig json.RawMessage

	SyncStatus    string
	SyncStartedAt time.Time // zero unless status is "syncing"
	LastSyncAt    time.Time
	SyncError     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertOutcome reports what UpsertInteraction did.
type UpsertOutcome int

const (
	// OutcomeCreated means a new row was inserted.
	OutcomeCreated UpsertOutcome = iota
	// OutcomeUpdated means an existing row changed.
	OutcomeUpdated
	// OutcomeUnchanged means the row already held identical content.
	OutcomeUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	}
	return "unknown"
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
