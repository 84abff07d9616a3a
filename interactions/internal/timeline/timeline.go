// Package timeline builds the deterministic, explainable thread view around
// one interaction.
//
// Unlike the linking engine, which ranks probabilistic hypotheses, a timeline
// is presented as ground truth: every entry is re-validated against a fixed
// match-reason taxonomy with a fixed confidence, and no textual signal ever
// contributes. The output is stable across runs for the same data.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/sellersync/interactions/internal/store"
)

// Match reasons, in descending confidence. Persisted and shown verbatim.
const (
	ReasonOrderExact    = "order_id_exact"
	ReasonCustomerExact = "customer_id_exact"
	ReasonProductWindow = "nm_id_time_window"
	ReasonArticleWindow = "article_time_window"
	ReasonSelf          = "current_interaction"
)

var reasonConfidence = map[string]float64{
	ReasonOrderExact:    1.0,
	ReasonCustomerExact: 0.95,
	ReasonProductWindow: 0.80,
	ReasonArticleWindow: 0.70,
	ReasonSelf:          1.0,
}

// Entry is one interaction in a timeline, with the reason it belongs there.
type Entry struct {
	Interaction *store.Interaction `json:"interaction"`
	MatchReason string             `json:"match_reason"`
	Confidence  float64            `json:"confidence"`
}

// Options tunes scope selection.
type Options struct {
	// Window is the symmetric time window for product/article scopes.
	// Default: 45 days.
	Window time.Duration
}

func (o *Options) defaults() {
	if o.Window <= 0 {
		o.Window = 45 * 24 * time.Hour
	}
}

// Builder produces timelines.
type Builder struct {
	opts Options
}

// New creates a Builder.
func New(opts Options) *Builder {
	opts.defaults()
	return &Builder{opts: opts}
}

// Build returns the thread around the interaction with the given ID, ordered
// by source time ascending, ties broken by ID. The query record itself is
// always present.
//
// Scope selection runs in strict priority: an order ID match scope, else a
// customer ID scope (narrowed by product when the record has one), else a
// product/article time window, else the record alone.
func (b *Builder) Build(ctx context.Context, st *store.Store, id string) ([]Entry, error) {
	in, err := st.GetInteraction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("timeline: load %s: %w", id, err)
	}
	if in == nil {
		return nil, fmt.Errorf("timeline: interaction %s not found", id)
	}

	pool, err := b.scope(ctx, st, in)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(pool)+1)
	seen := map[string]bool{in.ID: true}
	entries = append(entries, entry(in, ReasonSelf))

	for _, other := range pool {
		if seen[other.ID] {
			continue
		}
		reason, ok := b.validate(in, other)
		if !ok {
			continue
		}
		seen[other.ID] = true
		entries = append(entries, entry(other, reason))
	}

	sort.Slice(entries, func(i, j int) bool {
		a, bb := entries[i].Interaction, entries[j].Interaction
		if !a.OccurredAt.Equal(bb.OccurredAt) {
			return a.OccurredAt.Before(bb.OccurredAt)
		}
		return a.ID < bb.ID
	})
	return entries, nil
}

func (b *Builder) scope(ctx context.Context, st *store.Store, in *store.Interaction) ([]*store.Interaction, error) {
	switch {
	case in.OrderID != "":
		return st.ListByOrderID(ctx, in.SellerID, in.OrderID)
	case in.CustomerID != "":
		return st.ListByCustomerID(ctx, in.SellerID, in.CustomerID, in.ProductID)
	case in.ProductID != "" || in.ProductArticle != "":
		return st.ListByProductWindow(ctx, in.SellerID, in.ProductID, in.ProductArticle, in.OccurredAt, b.opts.Window)
	}
	return nil, nil
}

// validate re-checks a scoped candidate against the taxonomy. Scope queries
// are broad on purpose; the reason assigned here is what the user sees.
func (b *Builder) validate(in, other *store.Interaction) (string, bool) {
	if in.OrderID != "" && in.OrderID == other.OrderID {
		return ReasonOrderExact, true
	}
	if in.CustomerID != "" && in.CustomerID == other.CustomerID {
		return ReasonCustomerExact, true
	}
	gap := in.OccurredAt.Sub(other.OccurredAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= b.opts.Window {
		if in.ProductID != "" && in.ProductID == other.ProductID {
			return ReasonProductWindow, true
		}
		if in.ProductArticle != "" && in.ProductArticle == other.ProductArticle {
			return ReasonArticleWindow, true
		}
	}
	return "", false
}

func entry(in *store.Interaction, reason string) Entry {
	return Entry{Interaction: in, MatchReason: reason, Confidence: reasonConfidence[reason]}
}
