// Package registry implements the adapter registry (spec §4.1): lookup by
// providerId, a tenant ACL, and an administrative disable set. Grounded on
// the teacher's messaging.Registry (map[name]Provider with Register/Get),
// generalized with the tenant-scoping and lifecycle operations the gateway
// core requires.
package registry

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/adapter"
)

// Registry owns one live adapter instance per providerId and tracks which
// tenants may reach it.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]adapter.Adapter // providerId (lowercased) -> adapter
	tenantACL map[string]map[string]bool // tenantId -> set<providerId>
	disabled  map[string]bool           // providerId -> administratively suspended
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		adapters:  make(map[string]adapter.Adapter),
		tenantACL: make(map[string]map[string]bool),
		disabled:  make(map[string]bool),
	}
}

func normalize(providerID string) string { return strings.ToLower(providerID) }

// Register adds or replaces the adapter instance for its providerId.
func (r *Registry) Register(a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalize(a.ProviderID())] = a
}

// Unregister removes the adapter instance for providerId.
func (r *Registry) Unregister(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, normalize(providerID))
}

// Get looks up an adapter by providerId without any tenant-scoping check.
func (r *Registry) Get(providerID string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalize(providerID)]
	if !ok {
		return nil, errorsx.New(providerID, providerID, "get", errorsx.KindAdapterNotFound, nil)
	}
	return a, nil
}

// GrantTenantAccess adds providerId to tenantId's ACL. A tenant with no ACL
// entries at all is treated as having unrestricted access by GetForTenant;
// once any providerId is granted, the ACL becomes an allow-list for that
// tenant.
func (r *Registry) GrantTenantAccess(tenantID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tenantACL[tenantID]
	if !ok {
		set = make(map[string]bool)
		r.tenantACL[tenantID] = set
	}
	set[normalize(providerID)] = true
}

// RevokeTenantAccess removes providerId from tenantId's ACL.
func (r *Registry) RevokeTenantAccess(tenantID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.tenantACL[tenantID]; ok {
		delete(set, normalize(providerID))
	}
}

// Disable administratively suspends providerId across all tenants.
func (r *Registry) Disable(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[normalize(providerID)] = true
}

// Enable lifts an administrative suspension.
func (r *Registry) Enable(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, normalize(providerID))
}

// GetForTenant resolves providerId for tenantId, enforcing the ACL and the
// disabled set (spec §4.1): AdapterNotFound when the tenant has an ACL that
// excludes providerId, AdapterDisabled when the adapter is administratively
// suspended.
func (r *Registry) GetForTenant(tenantID, providerID string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalize(providerID)

	if set, ok := r.tenantACL[tenantID]; ok && len(set) > 0 && !set[key] {
		return nil, errorsx.New(providerID, providerID, "getForTenant", errorsx.KindAdapterNotFound, nil)
	}

	if r.disabled[key] {
		return nil, errorsx.New(providerID, providerID, "getForTenant", errorsx.KindAdapterDisabled, nil)
	}

	a, ok := r.adapters[key]
	if !ok {
		return nil, errorsx.New(providerID, providerID, "getForTenant", errorsx.KindAdapterNotFound, nil)
	}
	return a, nil
}

// ListAll returns every registered adapter, in map iteration order; the
// order is not defined and may differ between calls.
func (r *Registry) ListAll() []adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapter.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// RefreshResult reports the outcome of refreshing one adapter.
type RefreshResult struct {
	ProviderID   string
	Healthy      bool
	Capabilities adapter.Capabilities
	Err          error
}

// Refresh calls checkHealth and republishes capabilities for every
// registered adapter, concurrently; it must not interrupt in-flight calls,
// so it only reads from the adapter map rather than locking adapters
// individually (spec §4.1 "refresh ... MUST NOT interrupt in-flight calls").
func (r *Registry) Refresh(ctx context.Context) []RefreshResult {
	adapters := r.ListAll()
	results := make([]RefreshResult, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			health, err := a.CheckHealth(gctx)
			res := RefreshResult{ProviderID: a.ProviderID(), Healthy: health.Healthy, Err: err}
			if err == nil {
				caps, capErr := a.GetCapabilities(gctx)
				res.Capabilities = caps
				res.Err = capErr
			}
			results[i] = res
			return nil
		})
	}
	// Per-adapter failures are already captured in results[i].Err; the
	// group's own error return stays nil so one failing adapter's
	// gctx cancellation never cancels the others' still-in-flight calls.
	_ = g.Wait()

	return results
}
