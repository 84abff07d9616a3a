package connector

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory creates a Connector bound to one seller from the seller's
// per-channel JSON config (API keys, shop IDs — whatever the marketplace
// needs).
type Factory func(sellerID string, cfg json.RawMessage) (Connector, error)

// Key builds the registry key for a marketplace/channel pair.
func Key(marketplace string, channel Channel) string {
	return marketplace + "/" + string(channel)
}

// Registry maps "marketplace/channel" keys to connector factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for a marketplace/channel key. Registering the
// same key twice replaces the previous factory.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	r.factories[key] = f
	r.mu.Unlock()
}

// Keys returns all registered keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}

// Open builds a Connector for the key, bound to sellerID with cfg.
func (r *Registry) Open(key, sellerID string, cfg json.RawMessage) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: no factory registered for %q", key)
	}
	return f(sellerID, cfg)
}
