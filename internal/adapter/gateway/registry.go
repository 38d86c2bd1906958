package gateway

import (
	"sort"
	"sync"

	"checkout-core/internal/core/ports"
)

// Registry implements ports.GatewayRegistry with an in-memory provider map.
// Providers are registered once during startup wiring; lookups afterwards are
// read-only and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]ports.SettlementGateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]ports.SettlementGateway),
	}
}

// Register adds a gateway under its own key. Registering the same key twice
// replaces the earlier entry.
func (r *Registry) Register(gw ports.SettlementGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[gw.Key()] = gw
}

// Get returns the gateway registered under key.
func (r *Registry) Get(key string) (ports.SettlementGateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[key]
	return gw, ok
}

// List returns all registered gateways ordered by key for stable output.
func (r *Registry) List() []ports.SettlementGateway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.gateways))
	for k := range r.gateways {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	gateways := make([]ports.SettlementGateway, 0, len(keys))
	for _, k := range keys {
		gateways = append(gateways, r.gateways[k])
	}
	return gateways
}
