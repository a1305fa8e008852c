// Package syncstate models and persists the per-(tenantId, providerId)
// Sync State (spec §3), with an in-memory store for tests and a pgx-backed
// store for production use, grounded on the teacher's pgx persistence
// idiom in pkg/tenant.provisioner (pgxpool.Pool, context-scoped queries).
package syncstate

import (
	"time"

	"github.com/wisbric/scimgateway/pkg/drift"
	"github.com/wisbric/scimgateway/pkg/reconcile"
)

// Status is the lifecycle state of one (tenant, provider) sync worker.
type Status string

const (
	StatusIdle                Status = "Idle"
	StatusInProgress          Status = "InProgress"
	StatusCompleted           Status = "Completed"
	StatusCompletedWithErrors Status = "CompletedWithErrors"
	StatusFailed              Status = "Failed"
)

// ErrorLogEntry records one transport/processing failure surfaced during a
// sync tick, kept for the admin surface.
type ErrorLogEntry struct {
	OccurredAt time.Time
	Message    string
	Retryable  bool
}

// State is the Sync State record for one (tenantId, providerId) pair
// (spec §3).
type State struct {
	TenantID          string
	ProviderID        string
	Status            Status
	LastSyncTimestamp time.Time
	SnapshotTimestamp time.Time
	SnapshotChecksum  string
	LastKnownState    map[string]drift.Snapshot // resourceId -> snapshot
	UserCount         int
	GroupCount        int
	DriftLog          []drift.Entry
	ConflictLog       []reconcile.ConflictLogEntry
	ErrorLog          []ErrorLogEntry
}

// Key identifies one Sync State record.
type Key struct {
	TenantID   string
	ProviderID string
}

func (s State) Key() Key { return Key{TenantID: s.TenantID, ProviderID: s.ProviderID} }

// AppendDrift appends entries to the drift log, which is append-only under
// the owning worker's per-key lock (spec §5 "Log lists within sync state
// are append-only under that same lock").
func (s *State) AppendDrift(entries ...drift.Entry) { s.DriftLog = append(s.DriftLog, entries...) }

// AppendConflict appends a conflict log entry.
func (s *State) AppendConflict(entry reconcile.ConflictLogEntry) {
	s.ConflictLog = append(s.ConflictLog, entry)
}

// AppendError appends an error log entry.
func (s *State) AppendError(entry ErrorLogEntry) { s.ErrorLog = append(s.ErrorLog, entry) }

// SnapshotDriftLog returns a copy of the drift log for readers that must
// not observe live appends (spec §5 "readers take a snapshot rather than
// iterate live").
func (s State) SnapshotDriftLog() []drift.Entry {
	out := make([]drift.Entry, len(s.DriftLog))
	copy(out, s.DriftLog)
	return out
}
