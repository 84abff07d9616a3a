// Package linking computes cross-channel link candidates: scored, typed
// hypotheses that two interactions belong to the same real-world thread.
//
// Scoring is additive over fixed rule-fired signals, never a learned model.
// The deterministic/probabilistic split carries the automation-safety policy:
// only a deterministic link at high confidence may drive an automatic action,
// everything else is assist-only.
package linking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
)

// Link types.
const (
	TypeDeterministic = "deterministic"
	TypeProbabilistic = "probabilistic"
)

// Signal names, stable across versions: they are persisted and shown in UIs.
const (
	SignalOrderID       = "order_id_exact"
	SignalCustomerID    = "customer_id_exact"
	SignalProductWindow = "product_time_window"
	SignalProductOnly   = "product_no_window"
	SignalTemporal24h   = "temporal_24h"
	SignalTemporal7d    = "temporal_7d"
	SignalTemporal30d   = "temporal_30d"
	SignalNameExact     = "name_exact"
	SignalNameSubstring = "name_substring"
	SignalTextOverlap   = "text_overlap"
)

// Additive signal weights. The structure (which rule fired, at what weight)
// is the contract downstream automation depends on; do not tune casually.
const (
	weightOrderID       = 0.90
	weightCustomerID    = 0.85
	weightProductWindow = 0.60
	weightProductOnly   = 0.45
	weightTemporal24h   = 0.08
	weightTemporal7d    = 0.05
	weightTemporal30d   = 0.02
	weightNameExact     = 0.06
	weightNameSubstring = 0.04
	weightTextOverlap   = 0.05

	jaccardThreshold = 0.3
	scoreCeiling     = 0.99
)

// Candidate is one scored counterpart of an interaction, persisted as JSON in
// the owner's extra_data.
type Candidate struct {
	InteractionID     string            `json:"interaction_id"`
	Channel           connector.Channel `json:"channel"`
	ExternalID        string            `json:"external_id"`
	Confidence        float64           `json:"confidence"`
	LinkType          string            `json:"link_type"`
	AutoActionAllowed bool              `json:"auto_action_allowed"`
	Signals           []string          `json:"signals"`
}

// Options tunes the engine. Zero values take defaults.
type Options struct {
	// TopK caps candidates kept per interaction. Default: 5.
	TopK int
	// MinConfidence discards weaker candidates. Default: 0.55.
	MinConfidence float64
	// AutoActionThreshold is the deterministic confidence at which automation
	// may act on a link. Default: 0.85.
	AutoActionThreshold float64
	// ProductWindow bounds how far apart a product match still counts as
	// deterministic. Default: 45 days.
	ProductWindow time.Duration
	// ScanWindow is the temporal net for pulling weak-signal candidates from
	// the store. Default: 30 days.
	ScanWindow time.Duration
	// MaxCandidates bounds the store scan. Default: 200.
	MaxCandidates int

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 0.55
	}
	if o.AutoActionThreshold <= 0 {
		o.AutoActionThreshold = 0.85
	}
	if o.ProductWindow <= 0 {
		o.ProductWindow = 45 * 24 * time.Hour
	}
	if o.ScanWindow <= 0 {
		o.ScanWindow = 30 * 24 * time.Hour
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 200
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Engine scores and refreshes link candidates.
type Engine struct {
	opts Options
}

// New creates an Engine.
func New(opts Options) *Engine {
	opts.defaults()
	return &Engine{opts: opts}
}

// Candidates scans other channels for counterparts of in and returns the
// top-K by confidence, highest first, ties broken by ID for determinism.
func (e *Engine) Candidates(ctx context.Context, st *store.Store, in *store.Interaction) ([]Candidate, error) {
	pool, err := st.ScanLinkCandidates(ctx, in.SellerID, store.LinkScan{
		ExcludeID:      in.ID,
		Channel:        in.Channel,
		OrderID:        in.OrderID,
		CustomerID:     in.CustomerID,
		ProductID:      in.ProductID,
		ProductArticle: in.ProductArticle,
		Center:         in.OccurredAt,
		Window:         e.opts.ScanWindow,
		Limit:          e.opts.MaxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("linking: scan candidates for %s: %w", in.ID, err)
	}

	out := make([]Candidate, 0, len(pool))
	for _, other := range pool {
		c, ok := e.score(in, other)
		if ok {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].InteractionID < out[j].InteractionID
	})
	if len(out) > e.opts.TopK {
		out = out[:e.opts.TopK]
	}
	return out, nil
}

// score computes the candidate for one pair, reporting ok=false below the
// confidence floor.
func (e *Engine) score(in, other *store.Interaction) (Candidate, bool) {
	var (
		conf          float64
		signals       []string
		deterministic bool
	)

	if in.OrderID != "" && in.OrderID == other.OrderID {
		conf += weightOrderID
		signals = append(signals, SignalOrderID)
		deterministic = true
	}
	if in.CustomerID != "" && in.CustomerID == other.CustomerID {
		conf += weightCustomerID
		signals = append(signals, SignalCustomerID)
		deterministic = true
	}

	if productMatch(in, other) {
		gap := in.OccurredAt.Sub(other.OccurredAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= e.opts.ProductWindow {
			conf += weightProductWindow
			signals = append(signals, SignalProductWindow)
			deterministic = true
		} else {
			// Product alone, unbounded in time, is not identity.
			conf += weightProductOnly
			signals = append(signals, SignalProductOnly)
		}
	}

	if sig, w := temporalCredit(in.OccurredAt, other.OccurredAt); sig != "" {
		conf += w
		signals = append(signals, sig)
	}

	if sig, w := nameCredit(in.CustomerName, other.CustomerName); sig != "" {
		conf += w
		signals = append(signals, sig)
	}

	if jaccard(Tokens(in.Text), Tokens(other.Text)) >= jaccardThreshold {
		conf += weightTextOverlap
		signals = append(signals, SignalTextOverlap)
	}

	if conf > scoreCeiling {
		conf = scoreCeiling
	}
	if conf < e.opts.MinConfidence {
		return Candidate{}, false
	}

	linkType := TypeProbabilistic
	if deterministic {
		linkType = TypeDeterministic
	}
	return Candidate{
		InteractionID:     other.ID,
		Channel:           other.Channel,
		ExternalID:        other.ExternalID,
		Confidence:        conf,
		LinkType:          linkType,
		AutoActionAllowed: deterministic && conf >= e.opts.AutoActionThreshold,
		Signals:           signals,
	}, true
}

func productMatch(a, b *store.Interaction) bool {
	if a.ProductID != "" && a.ProductID == b.ProductID {
		return true
	}
	return a.ProductArticle != "" && a.ProductArticle == b.ProductArticle
}

func temporalCredit(a, b time.Time) (string, float64) {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= 24*time.Hour:
		return SignalTemporal24h, weightTemporal24h
	case gap <= 7*24*time.Hour:
		return SignalTemporal7d, weightTemporal7d
	case gap <= 30*24*time.Hour:
		return SignalTemporal30d, weightTemporal30d
	}
	return "", 0
}

// nameCredit compares normalized display names. Name similarity is never more
// than a small probabilistic nudge.
func nameCredit(a, b string) (string, float64) {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return "", 0
	}
	if na == nb {
		return SignalNameExact, weightNameExact
	}
	if containsEither(na, nb) {
		return SignalNameSubstring, weightNameSubstring
	}
	return "", 0
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
