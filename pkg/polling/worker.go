// Package polling implements the scheduled per-(tenant, provider) sync
// worker (spec §4.7), grounded on the teacher's pkg/escalation.Engine
// ticker loop, generalized from a fixed 30s alert-escalation sweep to a
// per-key configurable interval with retry/backoff and drift detection.
package polling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wisbric/scimgateway/internal/alerting"
	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/adapter"
	"github.com/wisbric/scimgateway/pkg/drift"
	"github.com/wisbric/scimgateway/pkg/reconcile"
	"github.com/wisbric/scimgateway/pkg/syncstate"
)

// Config configures one (tenant, provider) poll worker.
type Config struct {
	TenantID       string
	ProviderID     string
	Interval       time.Duration
	MaxRetries     int
	Strategy       reconcile.Strategy
	Direction      reconcile.Direction
}

// Snapshotter builds a drift.Snapshot from a fetched User/Group so the
// worker doesn't need to know provider-specific attribute layouts.
type Snapshotter interface {
	SnapshotUser(u adapter.User) drift.Snapshot
	SnapshotGroup(g adapter.Group) drift.Snapshot
}

// UpstreamSource supplies the independently tracked upstream-side
// snapshot cache a Worker reads when building the three-way compare
// (spec §4.6 "three-way compare among {lastKnownState, upstreamState,
// providerState}"). The worker's own fetch only ever observes the
// downstream provider; UpstreamSource is the other, independent half.
// A resourceId absent from the returned map means no upstream change has
// been observed since the last known snapshot, not that it was deleted.
type UpstreamSource interface {
	Load(tenantID, providerID string) map[string]drift.Snapshot
}

// Worker runs the tick algorithm for one (tenant, provider) pair against
// its adapter.
type Worker struct {
	cfg         Config
	adapter     adapter.Adapter
	store       syncstate.Store
	reconciler  *reconcile.Reconciler
	applier     reconcile.Applier
	snapshotter Snapshotter
	rng         *rand.Rand
	now         func() time.Time
	notifier    *alerting.Notifier
	upstream    UpstreamSource
	sf          singleflight.Group
}

// SetNotifier wires an alerting.Notifier so the worker can raise operations
// alerts when a fetch exhausts its retries or fails with a critical error
// kind (spec §7). Optional; a nil notifier means alerting is disabled.
func (w *Worker) SetNotifier(n *alerting.Notifier) { w.notifier = n }

// SetUpstreamSource wires the independent upstream-state cache the
// three-way compare reads (spec §4.6). Optional; a nil source means every
// resource is treated as upstream-unchanged, so drift classification
// degenerates to one-sided provider changes only.
func (w *Worker) SetUpstreamSource(u UpstreamSource) { w.upstream = u }

// New creates a Worker. rng seeds jitter for retry backoff; now lets tests
// control time, defaulting to time.Now.
func New(cfg Config, a adapter.Adapter, store syncstate.Store, reconciler *reconcile.Reconciler, applier reconcile.Applier, snapshotter Snapshotter, rng *rand.Rand, now func() time.Time) *Worker {
	if now == nil {
		now = time.Now
	}
	return &Worker{cfg: cfg, adapter: a, store: store, reconciler: reconciler, applier: applier, snapshotter: snapshotter, rng: rng, now: now}
}

func (w *Worker) key() syncstate.Key {
	return syncstate.Key{TenantID: w.cfg.TenantID, ProviderID: w.cfg.ProviderID}
}

// TickResult summarizes the outcome of one Tick call.
type TickResult struct {
	Skipped            bool
	SkipReason         string
	Status             syncstate.Status
	DriftCount         int
	ConflictCount      int
	SuspiciousEmptyResponse bool
}

// Tick runs one poll cycle (spec §4.7 "Tick algorithm"). It skips entirely
// if another worker is InProgress for this key or if the configured
// interval has not yet elapsed since the last sync. Concurrent callers
// (a ticker-driven call racing a manually triggered one, say) collapse
// onto a single execution via singleflight, closing the gap between
// Load and WithLock below that a bare InProgress check alone cannot.
func (w *Worker) Tick(ctx context.Context) TickResult {
	v, _, _ := w.sf.Do("tick", func() (interface{}, error) {
		return w.tickOnce(ctx), nil
	})
	return v.(TickResult)
}

func (w *Worker) tickOnce(ctx context.Context) TickResult {
	current := w.store.Load(w.key())

	if current.Status == syncstate.StatusInProgress {
		return TickResult{Skipped: true, SkipReason: "already in progress"}
	}
	if !current.LastSyncTimestamp.IsZero() && w.now().Sub(current.LastSyncTimestamp) < w.cfg.Interval {
		return TickResult{Skipped: true, SkipReason: "interval not yet elapsed"}
	}

	w.store.WithLock(w.key(), func(st syncstate.State) syncstate.State {
		st.Status = syncstate.StatusInProgress
		return st
	})

	select {
	case <-ctx.Done():
		// cancellation before any work started: roll back the status
		// flag and leave the snapshot untouched (spec §5 "a cancelled
		// sync tick leaves state at InProgress=false ... and does not
		// advance snapshot").
		w.store.WithLock(w.key(), func(st syncstate.State) syncstate.State {
			st.Status = syncstate.StatusIdle
			return st
		})
		return TickResult{Status: syncstate.StatusIdle, SkipReason: "cancelled"}
	default:
	}

	users, usersErr := w.fetchAllUsers(ctx)
	groups, groupsErr := w.fetchAllGroups(ctx)

	if usersErr != nil || groupsErr != nil {
		w.store.WithLock(w.key(), func(st syncstate.State) syncstate.State {
			st.Status = syncstate.StatusFailed
			if usersErr != nil {
				st.AppendError(errorEntry(w.now(), usersErr))
			}
			if groupsErr != nil {
				st.AppendError(errorEntry(w.now(), groupsErr))
			}
			return st
		})
		w.alertOnFetchFailure(ctx, usersErr)
		w.alertOnFetchFailure(ctx, groupsErr)
		return TickResult{Status: syncstate.StatusFailed}
	}

	result := TickResult{}

	previous := current.LastKnownState
	currentSnapshots := make(map[string]drift.Snapshot, len(users)+len(groups))
	for _, u := range users {
		currentSnapshots[u.ID] = w.snapshotter.SnapshotUser(u)
	}
	for _, g := range groups {
		currentSnapshots[g.ID] = w.snapshotter.SnapshotGroup(g)
	}

	suspiciousEmpty := len(users) == 0 && len(groups) == 0 && (current.UserCount > 0 || current.GroupCount > 0)
	result.SuspiciousEmptyResponse = suspiciousEmpty

	var driftEntries []drift.Entry
	if suspiciousEmpty {
		// guard against mass-deletion from a misbehaving provider: run
		// the detector but drop any Deleted entries it would otherwise
		// emit (spec §4.7 step 4).
		for _, entry := range drift.Detect(previous, currentSnapshots) {
			if entry.DriftType == drift.DriftDeleted {
				continue
			}
			driftEntries = append(driftEntries, entry)
		}
	} else {
		driftEntries = drift.Detect(previous, currentSnapshots)
	}
	result.DriftCount = len(driftEntries)

	var upstreamSnapshots map[string]drift.Snapshot
	if w.upstream != nil {
		upstreamSnapshots = w.upstream.Load(w.cfg.TenantID, w.cfg.ProviderID)
	}

	var conflicts []reconcile.ConflictLogEntry
	for _, entry := range driftEntries {
		state := reconcile.ThreeWayState{
			ResourceID: entry.ResourceID,
			LastKnown:  lastKnownChecksum(previous, entry.ResourceID),
			Upstream:   upstreamChecksum(upstreamSnapshots, previous, entry.ResourceID),
			Provider:   currentChecksum(currentSnapshots, entry.ResourceID),
		}
		outcome := w.reconciler.Reconcile(ctx, state, w.cfg.Strategy, w.cfg.Direction, false, w.applier)
		if outcome.Conflict != nil {
			conflicts = append(conflicts, *outcome.Conflict)
		}
	}
	result.ConflictCount = len(conflicts)

	finalStatus := syncstate.StatusCompleted
	if len(conflicts) > 0 || suspiciousEmpty {
		finalStatus = syncstate.StatusCompletedWithErrors
	}
	result.Status = finalStatus

	w.store.WithLock(w.key(), func(st syncstate.State) syncstate.State {
		st.Status = finalStatus
		st.LastSyncTimestamp = w.now()
		st.SnapshotTimestamp = w.now()
		st.LastKnownState = currentSnapshots
		st.UserCount = len(users)
		st.GroupCount = len(groups)
		st.AppendDrift(driftEntries...)
		for _, c := range conflicts {
			st.AppendConflict(c)
		}
		if suspiciousEmpty {
			st.AppendDrift(drift.Entry{ResourceType: "Group", DriftType: "SuspiciousEmptyResponse"})
		}
		return st
	})

	return result
}

func lastKnownChecksum(previous map[string]drift.Snapshot, id string) string {
	if s, ok := previous[id]; ok {
		return s.Checksum()
	}
	return ""
}

func currentChecksum(current map[string]drift.Snapshot, id string) string {
	if s, ok := current[id]; ok {
		return s.Checksum()
	}
	return ""
}

// upstreamChecksum returns id's checksum from the independently tracked
// upstream snapshot cache when one has been recorded for it. Absent that
// (no inbound write has ever touched this resource, including on its very
// first sync), upstream falls back to the last-known baseline rather than
// the just-fetched provider value, so an unobserved resource reads as
// upstream-unchanged instead of spuriously agreeing with the provider
// poll (spec §4.6 three-way compare).
func upstreamChecksum(upstream map[string]drift.Snapshot, previous map[string]drift.Snapshot, id string) string {
	if s, ok := upstream[id]; ok {
		return s.Checksum()
	}
	return lastKnownChecksum(previous, id)
}

// alertOnFetchFailure raises an operations alert once retries are
// exhausted for a transient failure, or immediately for a critical error
// kind (spec §7). No-op when err is nil, not an *errorsx.AdapterError,
// neither critical nor retryable, or no notifier is wired.
func (w *Worker) alertOnFetchFailure(ctx context.Context, err error) {
	if err == nil || w.notifier == nil {
		return
	}
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) {
		return
	}
	if alerting.IsCritical(adapterErr.ScimErrorKind) {
		w.notifier.NotifyCritical(ctx, w.cfg.TenantID, w.cfg.ProviderID, adapterErr)
		return
	}
	if !adapterErr.IsRetryable {
		return
	}
	w.notifier.NotifyRetriesExhausted(ctx, w.cfg.TenantID, w.cfg.ProviderID, adapterErr, w.cfg.MaxRetries)
}

func errorEntry(now time.Time, err error) syncstate.ErrorLogEntry {
	var adapterErr *errorsx.AdapterError
	retryable := errors.As(err, &adapterErr) && adapterErr.IsRetryable
	return syncstate.ErrorLogEntry{OccurredAt: now, Message: err.Error(), Retryable: retryable}
}

// fetchAllUsers pages through every user with retry/backoff per page.
func (w *Worker) fetchAllUsers(ctx context.Context) ([]adapter.User, error) {
	var all []adapter.User
	startIndex := 1
	for {
		filter := adapter.QueryFilter{StartIndex: startIndex, Count: 100}
		page, err := withRetry(w, ctx, func() (adapter.PagedResult[adapter.User], error) {
			return w.adapter.ListUsers(ctx, filter)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if !page.HasMore() {
			break
		}
		startIndex += page.ItemsPerPage
	}
	return all, nil
}

// fetchAllGroups mirrors fetchAllUsers for groups.
func (w *Worker) fetchAllGroups(ctx context.Context) ([]adapter.Group, error) {
	var all []adapter.Group
	startIndex := 1
	for {
		filter := adapter.QueryFilter{StartIndex: startIndex, Count: 100}
		page, err := withRetry(w, ctx, func() (adapter.PagedResult[adapter.Group], error) {
			return w.adapter.ListGroups(ctx, filter)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if !page.HasMore() {
			break
		}
		startIndex += page.ItemsPerPage
	}
	return all, nil
}

// withRetry implements spec §4.7's retry policy for a single paged fetch.
func withRetry[T any](w *Worker, ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	var retryAfterFloor time.Duration

	for attempt := 1; ; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}

		var adapterErr *errorsx.AdapterError
		if !errors.As(err, &adapterErr) || !adapterErr.IsRetryable {
			return zero, err
		}
		if attempt > w.cfg.MaxRetries {
			return zero, fmt.Errorf("exhausted %d retries: %w", w.cfg.MaxRetries, err)
		}

		if adapterErr.ScimErrorKind == errorsx.KindRateLimitExceeded && adapterErr.RetryAfterSeconds > 0 {
			retryAfterFloor = time.Duration(adapterErr.RetryAfterSeconds) * time.Second
		}

		delay := nextBackoff(attempt, retryAfterFloor, w.rng)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}
