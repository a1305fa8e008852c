package tenantctx

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

func TestResolveFailsOnMissingTenantID(t *testing.T) {
	_, err := Resolve(Claims{ActorID: "actor-1"})
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindTenantResolution {
		t.Fatalf("expected TenantResolution, got %v", err)
	}
}

func TestResolveFailsOnMissingActorID(t *testing.T) {
	_, err := Resolve(Claims{TenantID: "tenant-1"})
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindTenantResolution {
		t.Fatalf("expected TenantResolution, got %v", err)
	}
}

func TestResolveServicePrincipalWhenTenantEqualsActor(t *testing.T) {
	ctx, err := Resolve(Claims{TenantID: "t1", ActorID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if !ctx.IsServicePrincipal {
		t.Error("expected IsServicePrincipal=true when tenantId==actorId")
	}
	if ctx.RequestID == "" {
		t.Error("expected a generated requestId")
	}
}

func TestRequireSameTenantRejectsCrossTenantAccess(t *testing.T) {
	ctx, _ := Resolve(Claims{TenantID: "t1", ActorID: "a1"})
	err := ctx.RequireSameTenant("t2")
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindCrossTenantAccess {
		t.Fatalf("expected CrossTenantAccess, got %v", err)
	}
}

func TestRequireSameTenantAllowsMatchingTenant(t *testing.T) {
	tc, _ := Resolve(Claims{TenantID: "t1", ActorID: "a1"})
	if err := tc.RequireSameTenant("t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc, _ := Resolve(Claims{TenantID: "t1", ActorID: "a1"})
	ctx := NewContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant context to be present")
	}
	if got.TenantID != "t1" {
		t.Errorf("TenantID = %q", got.TenantID)
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected ok=false when no tenant context set")
	}
}
