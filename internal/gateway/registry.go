package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ikwen/paygate/internal/domain"
)

// Registry resolves the adapter serving a provider.
type Registry struct {
	mu       sync.RWMutex
	gateways map[domain.Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.Provider]Gateway)}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

func (r *Registry) Register(gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[gw.Provider()] = gw
}

func (r *Registry) Get(p domain.Provider) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return gw, nil
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
