// Package upstreammirror caches the most recently observed upstream-side
// resource snapshot for each (tenantId, providerId, resourceId),
// independent of whatever a provider adapter's own poll fetch returns.
// The operation dispatcher records into it whenever an inbound SCIM write
// from the upstream directory targets an adapter; pkg/polling reads it
// back as the upstreamState input to the three-way compare (spec §4.6).
// Grounded on pkg/syncstate.MemoryStore's per-key map-of-maps shape.
package upstreammirror

import (
	"sync"

	"github.com/wisbric/scimgateway/pkg/drift"
)

type key struct {
	tenantID   string
	providerID string
}

// Mirror is an in-memory, mutex-guarded cache of upstream snapshots. It
// has no independent persistence: the cache is only as complete as the
// inbound writes the dispatcher has observed since process start, which
// is why pkg/polling treats a resourceId absent from Mirror as "no
// observed upstream change" rather than "upstream deleted".
type Mirror struct {
	mu    sync.RWMutex
	state map[key]map[string]drift.Snapshot
}

// New creates an empty Mirror.
func New() *Mirror {
	return &Mirror{state: make(map[key]map[string]drift.Snapshot)}
}

// Record stores snapshot as the latest upstream-observed state for
// resourceID under (tenantID, providerID), overwriting any prior value.
func (m *Mirror) Record(tenantID, providerID, resourceID string, snapshot drift.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{tenantID, providerID}
	bucket, ok := m.state[k]
	if !ok {
		bucket = make(map[string]drift.Snapshot)
		m.state[k] = bucket
	}
	bucket[resourceID] = snapshot
}

// Forget removes resourceID's tracked upstream snapshot, used when an
// inbound delete is observed for it.
func (m *Mirror) Forget(tenantID, providerID, resourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.state[key{tenantID, providerID}]; ok {
		delete(bucket, resourceID)
	}
}

// Load implements polling.UpstreamSource: it returns a copy of the
// currently tracked upstream snapshots for (tenantID, providerID), empty
// when nothing has been recorded yet.
func (m *Mirror) Load(tenantID, providerID string) map[string]drift.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.state[key{tenantID, providerID}]
	out := make(map[string]drift.Snapshot, len(bucket))
	for id, s := range bucket {
		out[id] = s
	}
	return out
}
