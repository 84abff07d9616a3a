package autogate

import (
	"context"
	"fmt"

	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
)

// Intents the default classifier produces. Scenario maps key off these.
const (
	IntentThanks    = "thanks"
	IntentComplaint = "complaint"
	IntentQuestion  = "question"
	IntentChat      = "chat"
)

// IntentClassifier assigns an intent label to an interaction. Runs before
// draft generation so scenario policy can veto without paying for a draft.
type IntentClassifier interface {
	Classify(ctx context.Context, in *store.Interaction) (string, error)
}

// RuleIntents is the default rule-based classifier.
type RuleIntents struct{}

func (RuleIntents) Classify(_ context.Context, in *store.Interaction) (string, error) {
	switch in.Channel {
	case connector.ChannelReview:
		if in.Rating >= 4 {
			return IntentThanks, nil
		}
		return IntentComplaint, nil
	case connector.ChannelQuestion:
		return IntentQuestion, nil
	case connector.ChannelChat:
		return IntentChat, nil
	}
	return "", fmt.Errorf("autogate: no intent for channel %q", in.Channel)
}

// Draft is a generated reply candidate.
type Draft struct {
	Text   string
	Source string // template, llm, ...
}

// DraftGenerator produces a reply draft for an interaction and its intent.
type DraftGenerator interface {
	Generate(ctx context.Context, in *store.Interaction, intent string) (Draft, error)
}

// TemplateDrafts generates drafts from fixed per-intent templates. The
// fallback generator for sellers without an LLM backend, and the test one.
type TemplateDrafts struct {
	// Templates maps intent to reply text.
	Templates map[string]string
}

func (t TemplateDrafts) Generate(_ context.Context, _ *store.Interaction, intent string) (Draft, error) {
	text, ok := t.Templates[intent]
	if !ok {
		return Draft{}, fmt.Errorf("autogate: no template for intent %q", intent)
	}
	return Draft{Text: text, Source: "template"}, nil
}

// Guardrail issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one guardrail finding.
type Issue struct {
	Severity string
	Message  string
}

// TextGuardrail validates a draft before any send. Error-severity issues are
// vetoes; warnings are logged and ignored.
type TextGuardrail interface {
	Check(ctx context.Context, in *store.Interaction, text string) ([]Issue, error)
}

// PromoEnricher optionally augments a draft with promotional content. Returns
// the (possibly unchanged) text and the promo code used, if any. Enrichment
// is best-effort: its failure never blocks a send.
type PromoEnricher interface {
	Enrich(ctx context.Context, in *store.Interaction, text string) (text2, promoCode string, err error)
}
