// Package registry resolves provider addresses to webhook endpoints.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRegistryUnavailable wraps failures of the external mapping store.
var ErrRegistryUnavailable = errors.New("registry unavailable")

// Store is an external provider → endpoint mapping, read through on every lookup.
type Store interface {
	// Lookup returns the endpoint for provider, or ok=false when it is not mapped.
	Lookup(ctx context.Context, provider common.Address) (endpoint string, ok bool, err error)
	// Providers enumerates every provider the store currently maps.
	Providers(ctx context.Context) ([]common.Address, error)
}

// Registry is a static provider table with an optional external store behind it.
// Static entries take precedence; store misses are never cached.
type Registry struct {
	mu     sync.RWMutex
	static map[common.Address]string
	store  Store
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{static: map[common.Address]string{}}
}

// Map inserts or overwrites a static entry.
func (r *Registry) Map(provider common.Address, endpoint string) {
	r.mu.Lock()
	r.static[provider] = endpoint
	r.mu.Unlock()
}

// Attach sets the external store consulted on static misses.
func (r *Registry) Attach(store Store) {
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

// Store returns the attached external store, if any.
func (r *Registry) Store() Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store
}

// Resolve returns the endpoint for provider. A store failure wraps ErrRegistryUnavailable.
func (r *Registry) Resolve(ctx context.Context, provider common.Address) (string, bool, error) {
	r.mu.RLock()
	endpoint, ok := r.static[provider]
	store := r.store
	r.mu.RUnlock()

	if ok {
		return endpoint, true, nil
	}
	if store == nil {
		return "", false, nil
	}

	endpoint, ok, err := store.Lookup(ctx, provider)
	if err != nil {
		return "", false, fmt.Errorf("%w: lookup %s: %v", ErrRegistryUnavailable, provider.Hex(), err)
	}
	return endpoint, ok, nil
}

// ListKnownProviders returns the static providers, or the store's full provider set when a
// store is attached, sorted for stable filters.
func (r *Registry) ListKnownProviders(ctx context.Context) ([]common.Address, error) {
	r.mu.RLock()
	store := r.store
	out := make([]common.Address, 0, len(r.static))
	for p := range r.static {
		out = append(out, p)
	}
	r.mu.RUnlock()

	if store != nil {
		providers, err := store.Providers(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list providers: %v", ErrRegistryUnavailable, err)
		}
		out = providers
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}
