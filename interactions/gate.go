package interactions

import (
	"database/sql"
	"log/slog"

	"github.com/hazyhaar/sellersync/interactions/internal/autogate"
	"github.com/hazyhaar/sellersync/interactions/internal/store"
	"github.com/hazyhaar/sellersync/observability"
)

// ApplySchema creates the interaction tables. Run it once on the service
// database before New.
func ApplySchema(db *sql.DB) error { return store.ApplySchema(db) }

// DefaultReplyTemplates maps intent labels to draft texts for the template
// generator. Complaints never reach drafting under the default rating floor,
// so that entry only matters for custom classifiers.
var DefaultReplyTemplates = map[string]string{
	autogate.IntentThanks:    "Thank you for your feedback! We're glad the order worked out.",
	autogate.IntentComplaint: "We're sorry the order fell short. Our team will follow up shortly.",
	autogate.IntentQuestion:  "Thanks for reaching out — we'll get back to you with an answer soon.",
	autogate.IntentChat:      "Thanks for your message! We'll reply as soon as possible.",
}

// ReplyGate builds an automated-reply gate backed by template drafts. A nil
// templates map uses DefaultReplyTemplates. Pass the result to Options.Gate.
func ReplyGate(templates map[string]string, events *observability.EventLogger, metrics *observability.Metrics, logger *slog.Logger) *autogate.Gate {
	if templates == nil {
		templates = DefaultReplyTemplates
	}
	return autogate.New(autogate.Options{
		Drafts:  autogate.TemplateDrafts{Templates: templates},
		Events:  events,
		Metrics: metrics,
		Logger:  logger,
	})
}
