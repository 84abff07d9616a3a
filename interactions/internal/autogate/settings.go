package autogate

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/sellersync/connector"
)

// Scenario modes.
const (
	ModeAuto      = "auto"
	ModeDraftOnly = "draft_only"
	ModeBlock     = "block"
)

// Scenario is the per-intent automation policy.
type Scenario struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"`
}

// Settings is a seller's automation configuration, stored as JSON on the
// seller row. The zero value means automation off.
type Settings struct {
	Enabled          bool                `json:"enabled"`
	Channels         []string            `json:"channels"`
	ProductAllowList []string            `json:"product_allow_list,omitempty"`
	Scenarios        map[string]Scenario `json:"scenarios,omitempty"`
	Sandbox          bool                `json:"sandbox,omitempty"`
}

// ParseSettings decodes a seller's raw automation config. Absent or empty
// config yields disabled settings, not an error.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	var s Settings
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("autogate: parse settings: %w", err)
	}
	return s, nil
}

// ChannelAllowed reports whether automation may act on the channel.
func (s Settings) ChannelAllowed(c connector.Channel) bool {
	for _, ch := range s.Channels {
		if ch == string(c) {
			return true
		}
	}
	return false
}

// ProductAllowed reports whether the product passes the allow-list. An empty
// list allows everything.
func (s Settings) ProductAllowed(productID string) bool {
	if len(s.ProductAllowList) == 0 {
		return true
	}
	for _, p := range s.ProductAllowList {
		if p == productID {
			return true
		}
	}
	return false
}
