// Package autogate decides whether an automated reply may be dispatched for
// one interaction.
//
// The decision is an ordered veto chain: the first failing stage stops the
// chain with an explicit reason and leaves the record untouched for a human.
// Policy stops are values, never errors. Stages run cheapest-first: config
// checks before store lookups before draft generation before network.
//
// The rating floor (4 of 5) is a constant, deliberately outside Settings: no
// configuration combination may auto-reply to an unhappy customer.
package autogate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/idgen"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/observability"
)

// minAutoRating is the unconditional rating safety floor.
const minAutoRating = 4

// Stage names, in chain order. Decision.Stage holds the stage that stopped
// the chain, or StageDispatched on a send.
const (
	StageEnabled    = "automation_enabled"
	StageChannel    = "channel_allowed"
	StageProduct    = "product_allowlist"
	StageScenario   = "scenario"
	StageRating     = "rating_floor"
	StageDraft      = "draft_generation"
	StageGuardrail  = "guardrail"
	StageValidation = "automation_validation"
	StageSandbox    = "sandbox"
	StageDispatch   = "dispatch"
	StageDispatched = "dispatched"
)

// Decision is the outcome of one gate run.
type Decision struct {
	// Sent is true only after a confirmed external dispatch.
	Sent bool
	// Stage is the chain stage that concluded the run.
	Stage string
	// Reason is the human-readable stop reason; empty on a send.
	Reason string

	DraftText   string
	DraftSource string
	Intent      string
	PromoCode   string
	// Sandboxed marks a run that completed fully but suppressed the send.
	Sandboxed bool
}

// Validation bounds the automation-only draft checks (stage 9). These are
// stricter than the shared guardrail because no human reviews the result.
type Validation struct {
	// MinLength/MaxLength bound the draft in runes. Defaults: 10 / 1000.
	MinLength int
	MaxLength int
	// BannedPatterns are lowercase substrings that veto a draft. Defaults to
	// external links and messenger solicitations.
	BannedPatterns []string
	// RepetitionWindow is how far back the same text may not have been
	// auto-sent already. Default: 24h.
	RepetitionWindow time.Duration
	// CheckLanguage, when set, vetoes drafts in the wrong language.
	CheckLanguage func(text string) error
}

func (v *Validation) defaults() {
	if v.MinLength <= 0 {
		v.MinLength = 10
	}
	if v.MaxLength <= 0 {
		v.MaxLength = 1000
	}
	if v.BannedPatterns == nil {
		v.BannedPatterns = []string{"http://", "https://", "www.", "whatsapp", "telegram", "viber"}
	}
	if v.RepetitionWindow <= 0 {
		v.RepetitionWindow = 24 * time.Hour
	}
}

// Options configures a Gate. Drafts is required; everything else optional.
type Options struct {
	Intents    IntentClassifier
	Drafts     DraftGenerator
	Guardrail  TextGuardrail
	Promo      PromoEnricher
	Events     *observability.EventLogger
	Metrics    *observability.Metrics
	Validation Validation
	Logger     *slog.Logger
}

// Gate is the automation veto chain.
type Gate struct {
	opts  Options
	newID idgen.Generator
}

// New creates a Gate.
func New(opts Options) *Gate {
	if opts.Intents == nil {
		opts.Intents = RuleIntents{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Validation.defaults()
	return &Gate{opts: opts, newID: idgen.Prefixed("rep_", idgen.Default)}
}

// Process runs the chain for one interaction. set is the seller's parsed
// automation settings. A non-nil error means a local persistence failure
// after the decision, never a policy stop.
func (g *Gate) Process(ctx context.Context, st *store.Store, conn connector.Connector, seller *store.Seller, set Settings, in *store.Interaction) (Decision, error) {
	log := g.opts.Logger.With("seller", seller.ID, "interaction", in.ID)

	// 1. Seller-level switch.
	if !set.Enabled {
		return g.stop(ctx, log, in, StageEnabled, "automation disabled for seller"), nil
	}
	// 2. Channel allow set.
	if !set.ChannelAllowed(in.Channel) {
		return g.stop(ctx, log, in, StageChannel, "channel not in allowed set"), nil
	}
	// 3. Product allow-list.
	if !set.ProductAllowed(in.ProductID) {
		return g.stop(ctx, log, in, StageProduct, "product not in allow-list"), nil
	}

	// 4. Per-intent scenario.
	intent, err := g.opts.Intents.Classify(ctx, in)
	if err != nil || intent == "" {
		return g.stop(ctx, log, in, StageScenario, "intent unknown"), nil
	}
	sc, ok := set.Scenarios[intent]
	switch {
	case !ok:
		return g.stopIntent(ctx, log, in, intent, StageScenario, "no scenario for intent"), nil
	case !sc.Enabled || sc.Mode == ModeBlock:
		return g.stopIntent(ctx, log, in, intent, StageScenario, "scenario disabled or blocked"), nil
	case sc.Mode == ModeDraftOnly:
		// A draft-only scenario always stops here; the draft is produced
		// elsewhere for human review, never auto-sent.
		return g.stopIntent(ctx, log, in, intent, StageScenario, "scenario is draft-only"), nil
	case sc.Mode != ModeAuto:
		return g.stopIntent(ctx, log, in, intent, StageScenario, "unknown scenario mode "+sc.Mode), nil
	}

	// 5. Rating safety floor. Unconditional: absent or low rating never
	// auto-replies, no matter what every other flag says.
	if in.Rating < minAutoRating {
		return g.stopIntent(ctx, log, in, intent, StageRating, "rating below safety floor"), nil
	}

	// 6. Draft generation.
	if g.opts.Drafts == nil {
		return g.stopIntent(ctx, log, in, intent, StageDraft, "no draft generator configured"), nil
	}
	draft, err := g.opts.Drafts.Generate(ctx, in, intent)
	if err != nil {
		return g.stopIntent(ctx, log, in, intent, StageDraft, "draft generation failed: "+err.Error()), nil
	}
	if strings.TrimSpace(draft.Text) == "" {
		return g.stopIntent(ctx, log, in, intent, StageDraft, "empty draft"), nil
	}

	// 7. Promotional enrichment, best-effort.
	promoCode := ""
	if g.opts.Promo != nil {
		enriched, code, err := g.opts.Promo.Enrich(ctx, in, draft.Text)
		if err != nil {
			log.Warn("gate: promo enrichment failed, continuing", "error", err)
		} else if enriched != "" {
			draft.Text = enriched
			promoCode = code
		}
	}

	// 8. Guardrail: error severity stops, warnings do not.
	if g.opts.Guardrail != nil {
		issues, err := g.opts.Guardrail.Check(ctx, in, draft.Text)
		if err != nil {
			return g.stopIntent(ctx, log, in, intent, StageGuardrail, "guardrail check failed: "+err.Error()), nil
		}
		for _, issue := range issues {
			if issue.Severity == SeverityError {
				return g.stopIntent(ctx, log, in, intent, StageGuardrail, issue.Message), nil
			}
			log.Warn("gate: guardrail warning", "message", issue.Message)
		}
	}

	// 9. Automation-only validation.
	if reason := g.validate(ctx, st, seller, draft.Text); reason != "" {
		return g.stopIntent(ctx, log, in, intent, StageValidation, reason), nil
	}

	dec := Decision{
		Stage:       StageDispatched,
		DraftText:   draft.Text,
		DraftSource: draft.Source,
		Intent:      intent,
		PromoCode:   promoCode,
	}

	// 10. Sandbox: the full pipeline ran; persist the would-have-sent draft
	// and report the pipeline's success without touching the outside world.
	if set.Sandbox {
		dec.Stage = StageSandbox
		dec.Sandboxed = true
		preview := map[string]any{
			"text":       draft.Text,
			"source":     draft.Source,
			"intent":     intent,
			"promo_code": promoCode,
			"at":         time.Now().Format(time.RFC3339),
		}
		if err := st.SetExtraKeys(ctx, in.ID, map[string]any{store.ExtraSandboxPreview: preview}); err != nil {
			return dec, err
		}
		if g.opts.Events != nil {
			g.opts.Events.LogDetails(ctx, observability.EventSandboxPreview,
				seller.ID, string(in.Channel), in.ID, true, preview)
		}
		log.Info("gate: sandbox preview persisted", "intent", intent)
		return dec, nil
	}

	// 11. Dispatch.
	if err := conn.SendReply(ctx, in.ExternalID, draft.Text); err != nil {
		if g.opts.Events != nil {
			g.opts.Events.LogDetails(ctx, observability.EventReplyFailed,
				seller.ID, string(in.Channel), in.ID, false, map[string]string{"error": err.Error()})
		}
		return g.stopIntent(ctx, log, in, intent, StageDispatch, "send failed: "+err.Error()), nil
	}

	// 12. Confirmed send: flip workflow state, stamp reply metadata, ledger
	// the text hash, audit.
	now := time.Now()
	err = st.MarkResponded(ctx, in.ID, true, map[string]any{
		store.ExtraLastReplyText:   draft.Text,
		store.ExtraLastReplySource: draft.Source,
		store.ExtraReplySentAt:     now.Format(time.RFC3339),
	})
	if err != nil {
		return dec, err
	}
	if err := st.RecordAutoReply(ctx, g.newID(), seller.ID, in.Channel, in.ID, draft.Text); err != nil {
		return dec, err
	}
	if g.opts.Events != nil {
		g.opts.Events.LogDetails(ctx, observability.EventAutoReply,
			seller.ID, string(in.Channel), in.ID, true, map[string]string{
				"intent":       intent,
				"draft_source": draft.Source,
				"promo_code":   promoCode,
			})
	}
	if g.opts.Metrics != nil {
		g.opts.Metrics.Count(observability.MetricGateSent, 1, map[string]string{
			"seller_id": seller.ID, "channel": string(in.Channel),
		})
	}
	dec.Sent = true
	log.Info("gate: auto reply dispatched", "intent", intent, "source", draft.Source)
	return dec, nil
}

// validate runs the stricter automation-only checks. Returns a stop reason or
// "". A failing repetition lookup degrades to a stop, never an error: leave
// the record for a human.
func (g *Gate) validate(ctx context.Context, st *store.Store, seller *store.Seller, text string) string {
	v := g.opts.Validation
	runes := len([]rune(text))
	if runes < v.MinLength {
		return "draft shorter than minimum"
	}
	if runes > v.MaxLength {
		return "draft exceeds maximum length"
	}
	lower := strings.ToLower(text)
	for _, pat := range v.BannedPatterns {
		if strings.Contains(lower, pat) {
			return "draft contains banned pattern " + pat
		}
	}
	if v.CheckLanguage != nil {
		if err := v.CheckLanguage(text); err != nil {
			return "language check: " + err.Error()
		}
	}
	repeated, err := st.HasRecentAutoReply(ctx, seller.ID, text, time.Now().Add(-v.RepetitionWindow))
	if err != nil {
		return "repetition check failed: " + err.Error()
	}
	if repeated {
		return "identical reply already sent within window"
	}
	return ""
}

func (g *Gate) stop(ctx context.Context, log *slog.Logger, in *store.Interaction, stage, reason string) Decision {
	return g.stopIntent(ctx, log, in, "", stage, reason)
}

func (g *Gate) stopIntent(ctx context.Context, log *slog.Logger, in *store.Interaction, intent, stage, reason string) Decision {
	log.Debug("gate: stopped", "stage", stage, "reason", reason)
	if g.opts.Metrics != nil {
		g.opts.Metrics.Count(observability.MetricGateStopStage, 1, map[string]string{
			"stage": stage, "channel": string(in.Channel),
		})
	}
	return Decision{Stage: stage, Reason: reason, Intent: intent}
}
