// Package dispatch implements the HTTP-agnostic operation API (spec §6):
// the single place every inbound operation passes through tenant
// resolution, rate-limit/lockout admission, adapter lookup, the adapter
// call itself, and error translation/audit logging, in that order (spec §2
// data-flow diagram: "claims -> tenantCtx -> admission -> adapter ->
// response"). Grounded on the teacher's pkg/incident.Service composing a
// tenant-scoped connection, its own audit writer, and the underlying CRUD
// calls behind one per-resource-type entry point.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wisbric/scimgateway/internal/audit"
	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/internal/tenantctx"
	"github.com/wisbric/scimgateway/pkg/adapter"
	"github.com/wisbric/scimgateway/pkg/drift"
	"github.com/wisbric/scimgateway/pkg/ratelimit"
	"github.com/wisbric/scimgateway/pkg/registry"
	"github.com/wisbric/scimgateway/pkg/transform"
	"github.com/wisbric/scimgateway/pkg/upstreammirror"
)

// Dispatcher is the composed operation API every handler surface (SCIM
// HTTP, or any future transport) calls into instead of touching the
// registry, limiter, or adapters directly.
type Dispatcher struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	lockout  *ratelimit.LockoutTracker
	mirror   *upstreammirror.Mirror
	auditor  *audit.Writer

	snapshotter drift.AdapterSnapshotter
	now         func() time.Time

	mu    sync.RWMutex
	rules map[string]*transform.RuleSet
	ranks map[string]func(string) int
}

// New builds a Dispatcher over its collaborators. auditor may be nil, in
// which case operations are not audit-logged (used by tests).
func New(reg *registry.Registry, limiter *ratelimit.Limiter, lockout *ratelimit.LockoutTracker, mirror *upstreammirror.Mirror, auditor *audit.Writer) *Dispatcher {
	return &Dispatcher{
		registry:    reg,
		limiter:     limiter,
		lockout:     lockout,
		mirror:      mirror,
		auditor:     auditor,
		snapshotter: drift.AdapterSnapshotter{},
		now:         time.Now,
		rules:       make(map[string]*transform.RuleSet),
		ranks:       make(map[string]func(string) int),
	}
}

func ruleKey(tenantID, providerID string) string { return tenantID + "/" + providerID }

// SetRuleSet registers the transformation rules that govern group->
// entitlement mapping for (tenantId, providerId) (spec §4.4). rank looks
// up a mapped entitlement's privilege rank for HIGHEST_PRIVILEGE; it may
// be nil when no rule in rs uses that strategy.
func (d *Dispatcher) SetRuleSet(tenantID, providerID string, rs *transform.RuleSet, rank func(string) int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := ruleKey(tenantID, providerID)
	d.rules[key] = rs
	d.ranks[key] = rank
}

func (d *Dispatcher) ruleSetFor(tenantID, providerID string) (*transform.RuleSet, func(string) int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key := ruleKey(tenantID, providerID)
	return d.rules[key], d.ranks[key]
}

// admit enforces the lockout then the rate limiter for tc, in that
// precedence order: a locked-out actor is rejected before it can spend
// down the token bucket further (spec §4.2).
func (d *Dispatcher) admit(tc tenantctx.Context) error {
	lockKey := ratelimit.ActorLockoutKey(tc.TenantID, tc.ActorID)
	if status := d.lockout.Status(lockKey, d.now()); status.IsLockedOut {
		err := errorsx.New(tc.TenantID, "", "admit", errorsx.KindForbidden,
			fmt.Errorf("actor locked out, retry after %ds", status.RetryAfterSeconds))
		err.RetryAfterSeconds = status.RetryAfterSeconds
		return err
	}

	result := d.limiter.Admit(tc.TenantID, tc.ActorID, d.now())
	if !result.Allowed {
		err := errorsx.New(tc.TenantID, "", "admit", errorsx.KindRateLimitExceeded,
			fmt.Errorf("rate limit exceeded, retry after %ds", result.RetryAfterSeconds))
		err.RetryAfterSeconds = result.RetryAfterSeconds
		return err
	}
	return nil
}

// resolve runs claims through tenant resolution, admission, and registry
// lookup, the full chain every operation shares ahead of its adapter call.
func (d *Dispatcher) resolve(claims tenantctx.Claims, providerID string) (tenantctx.Context, adapter.Adapter, error) {
	tc, err := tenantctx.Resolve(claims)
	if err != nil {
		return tenantctx.Context{}, nil, err
	}
	if err := d.admit(tc); err != nil {
		return tenantctx.Context{}, nil, err
	}
	a, err := d.registry.GetForTenant(tc.TenantID, providerID)
	if err != nil {
		return tenantctx.Context{}, nil, err
	}
	return tc, a, nil
}

// RecordAuthFailure registers a failed authentication attempt for
// (tenantId, actorId), the lockout tracker's other entry point beyond the
// Status check every admit performs (spec §4.2 "N failures within the
// window locks the actor out"). Callers are the surface's own
// authentication layer, external to this package.
func (d *Dispatcher) RecordAuthFailure(tenantID, actorID string) ratelimit.LockoutStatus {
	return d.lockout.RecordFailure(ratelimit.ActorLockoutKey(tenantID, actorID), d.now())
}

func (d *Dispatcher) audit(ctx context.Context, tc tenantctx.Context, providerID, operationType, resourceType, resourceID string, err error, start time.Time) {
	if d.auditor == nil {
		return
	}
	rec := audit.Record{
		OperationType: operationType,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		TenantID:      tc.TenantID,
		ProviderID:    providerID,
		ActorID:       tc.ActorID,
		Outcome:       "success",
		DurationMs:    time.Since(start).Milliseconds(),
		CorrelationID: tc.CorrelationID,
	}
	if err != nil {
		rec.Outcome = "failure"
		rec.ErrorMessage = err.Error()
		var adapterErr *errorsx.AdapterError
		if errors.As(err, &adapterErr) {
			rec.ProviderErrorCode = adapterErr.ProviderErrorCode
			rec.AdapterID = adapterErr.AdapterID
		}
	}
	d.auditor.Log(rec)
}

// auditRejected logs an operation that never reached an adapter (tenant
// resolution, admission, or registry lookup failure), since those still
// need an audit trail entry per spec §7 "every operation".
func (d *Dispatcher) auditRejected(tenantID, providerID, actorID, operationType, resourceType, resourceID string, err error, start time.Time) {
	if d.auditor == nil {
		return
	}
	d.auditor.Log(audit.Record{
		OperationType: operationType,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		TenantID:      tenantID,
		ProviderID:    providerID,
		ActorID:       actorID,
		Outcome:       "failure",
		DurationMs:    time.Since(start).Milliseconds(),
		ErrorMessage:  err.Error(),
	})
}

// CreateUser creates u at providerId on behalf of claims, then records u
// as the independently observed upstream state for the newly created
// resource so pkg/polling's three-way compare has a genuine upstream
// value to compare the next poll against (spec §4.6).
func (d *Dispatcher) CreateUser(ctx context.Context, claims tenantctx.Claims, providerID string, u adapter.User) (adapter.User, error) {
	start := d.now()
	tc, a, err := d.resolve(claims, providerID)
	if err != nil {
		d.auditRejected(claims.TenantID, providerID, claims.ActorID, "createUser", "User", u.ID, err, start)
		return adapter.User{}, err
	}

	created, err := a.CreateUser(ctx, u)
	d.audit(ctx, tc, providerID, "createUser", "User", created.ID, err, start)
	if err != nil {
		return adapter.User{}, err
	}

	upstreamView := u
	upstreamView.ID = created.ID
	d.mirror.Record(tc.TenantID, providerID, created.ID, d.snapshotter.SnapshotUser(upstreamView))
	return created, nil
}

// UpdateUser mirrors CreateUser for an inbound update.
func (d *Dispatcher) UpdateUser(ctx context.Context, claims tenantctx.Claims, providerID string, u adapter.User) (adapter.User, error) {
	start := d.now()
	tc, a, err := d.resolve(claims, providerID)
	if err != nil {
		d.auditRejected(claims.TenantID, providerID, claims.ActorID, "updateUser", "User", u.ID, err, start)
		return adapter.User{}, err
	}

	updated, err := a.UpdateUser(ctx, u)
	d.audit(ctx, tc, providerID, "updateUser", "User", u.ID, err, start)
	if err != nil {
		return adapter.User{}, err
	}

	d.mirror.Record(tc.TenantID, providerID, u.ID, d.snapshotter.SnapshotUser(u))
	return updated, nil
}

// DeleteUser deletes userID at providerId and forgets any upstream
// snapshot tracked for it.
func (d *Dispatcher) DeleteUser(ctx context.Context, claims tenantctx.Claims, providerID, userID string) error {
	start := d.now()
	tc, a, err := d.resolve(claims, providerID)
	if err != nil {
		d.auditRejected(claims.TenantID, providerID, claims.ActorID, "deleteUser", "User", userID, err, start)
		return err
	}

	err = a.DeleteUser(ctx, userID)
	d.audit(ctx, tc, providerID, "deleteUser", "User", userID, err, start)
	if err != nil {
		return err
	}

	d.mirror.Forget(tc.TenantID, providerID, userID)
	return nil
}

// GetUser looks up userID at providerId on behalf of claims. Reads do not
// update the upstream mirror, since a read observes the provider's state,
// not an inbound upstream write.
func (d *Dispatcher) GetUser(ctx context.Context, claims tenantctx.Claims, providerID, userID string) (adapter.User, bool, error) {
	start := d.now()
	tc, a, err := d.resolve(claims, providerID)
	if err != nil {
		d.auditRejected(claims.TenantID, providerID, claims.ActorID, "getUser", "User", userID, err, start)
		return adapter.User{}, false, err
	}

	u, found, err := a.GetUser(ctx, userID)
	d.audit(ctx, tc, providerID, "getUser", "User", userID, err, start)
	return u, found, err
}

// CreateGroup creates g at providerId. When a transformation rule set is
// registered for (tenantId, providerId), the group is evaluated against
// it first (spec §4.4) and the adapter receives the mapped entitlement via
// MapEntitlementToGroup rather than the raw group, the same flow
// pkg/transform.Preview exercises without the side effects.
func (d *Dispatcher) CreateGroup(ctx context.Context, claims tenantctx.Claims, providerID string, g adapter.Group) (adapter.Group, transform.Result, error) {
	start := d.now()
	tc, a, err := d.resolve(claims, providerID)
	if err != nil {
		d.auditRejected(claims.TenantID, providerID, claims.ActorID, "createGroup", "Group", g.ID, err, start)
		return adapter.Group{}, transform.Result{}, err
	}

	var result transform.Result
	if rs, rank := d.ruleSetFor(tc.TenantID, providerID); rs != nil {
		result, err = rs.Evaluate(g, rank)
		if err != nil {
			d.audit(ctx, tc, providerID, "createGroup", "Group", g.ID, err, start)
			return adapter.Group{}, transform.Result{}, err
		}
		if len(result.Conflicts) > 0 {
			// MANUAL_REVIEW: the group is created as-is, the conflict is
			// surfaced to the caller for the admin review queue rather than
			// silently picking a winner (spec §4.4 "Conflict resolution").
			created, cerr := a.CreateGroup(ctx, g)
			d.audit(ctx, tc, providerID, "createGroup", "Group", created.ID, cerr, start)
			return created, result, cerr
		}
		if result.TransformedEntitlement != "" {
			mapped, merr := a.MapEntitlementToGroup(ctx, adapter.Entitlement{
				ProviderID: providerID,
				Name:       result.TransformedEntitlement,
			})
			if merr != nil {
				d.audit(ctx, tc, providerID, "createGroup", "Group", g.ID, merr, start)
				return adapter.Group{}, result, merr
			}
			g.DisplayName = mapped.DisplayName
		}
	}

	created, err := a.CreateGroup(ctx, g)
	d.audit(ctx, tc, providerID, "createGroup", "Group", created.ID, err, start)
	if err != nil {
		return adapter.Group{}, result, err
	}

	d.mirror.Record(tc.TenantID, providerID, created.ID, d.snapshotter.SnapshotGroup(g))
	return created, result, nil
}
