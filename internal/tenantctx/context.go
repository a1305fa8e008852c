// Package tenantctx resolves and carries the per-request tenant context
// (spec §4.3), grounded on the teacher's pkg/tenant.Info /
// core/pkg/auth.Identity context-carrying pattern.
package tenantctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

// Context holds the resolved tenant metadata for the current request.
// Immutable for its lifetime; discarded at response (spec §3).
type Context struct {
	TenantID           string
	ActorID            string
	IsServicePrincipal bool
	Scopes             []string
	Roles              []string
	ExpiresAt          time.Time
	RequestID          string
	CorrelationID      string
}

// Claims is the subset of validated token claims tenantctx needs. Claim
// parsing itself is an external collaborator (spec §1); this struct is the
// contract the core consumes.
type Claims struct {
	TenantID      string
	ActorID       string
	Scopes        []string
	Roles         []string
	ExpiresAt     time.Time
	CorrelationID string
}

// Resolve builds a Context from validated claims, generating a fresh
// requestId (spec §4.3). Fails with TenantResolution when tenantId or
// actorId is missing.
func Resolve(claims Claims) (Context, error) {
	if claims.TenantID == "" || claims.ActorID == "" {
		return Context{}, errorsx.New("", "", "resolve", errorsx.KindTenantResolution,
			fmt.Errorf("missing tenantId or actorId claim"))
	}

	return Context{
		TenantID:           claims.TenantID,
		ActorID:            claims.ActorID,
		IsServicePrincipal: claims.TenantID == claims.ActorID,
		Scopes:             claims.Scopes,
		Roles:              claims.Roles,
		ExpiresAt:          claims.ExpiresAt,
		RequestID:          uuid.NewString(),
		CorrelationID:      claims.CorrelationID,
	}, nil
}

// RequireSameTenant fails with CrossTenantAccess when resourceTenantID
// differs from the context's tenant (spec §4.3, enforced "regardless of
// other permissions").
func (c Context) RequireSameTenant(resourceTenantID string) error {
	if resourceTenantID != c.TenantID {
		return errorsx.New(c.TenantID, "", "tenantCheck", errorsx.KindCrossTenantAccess,
			fmt.Errorf("resource tenant %q does not match request tenant %q", resourceTenantID, c.TenantID))
	}
	return nil
}

type ctxKey string

const infoKey ctxKey = "tenant_context"

// NewContext stores the tenant Context in ctx.
func NewContext(ctx context.Context, info Context) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext extracts the tenant Context. ok is false if none is set.
func FromContext(ctx context.Context) (Context, bool) {
	v, ok := ctx.Value(infoKey).(Context)
	return v, ok
}
