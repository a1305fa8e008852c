package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/adapter"
)

func TestGetForTenantUnrestrictedByDefault(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("salesforce-prod"))

	a, err := r.GetForTenant("tenant-a", "salesforce-prod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ProviderID() != "salesforce-prod" {
		t.Errorf("got %q", a.ProviderID())
	}
}

func TestGetForTenantDeniedByACL(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("salesforce-prod"))
	r.GrantTenantAccess("tenant-a", "workday")

	_, err := r.GetForTenant("tenant-a", "salesforce-prod")
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindAdapterNotFound {
		t.Fatalf("expected AdapterNotFound, got %v", err)
	}
}

func TestGetForTenantDisabledAdapter(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("servicenow"))
	r.Disable("servicenow")

	_, err := r.GetForTenant("tenant-a", "servicenow")
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindAdapterDisabled {
		t.Fatalf("expected AdapterDisabled, got %v", err)
	}

	r.Enable("servicenow")
	if _, err := r.GetForTenant("tenant-a", "servicenow"); err != nil {
		t.Fatalf("expected access restored after Enable: %v", err)
	}
}

func TestDistinctEnvironmentsAreDistinctProviderIDs(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("salesforce-prod"))
	r.Register(adapter.NewMockAdapter("salesforce-sandbox"))

	if len(r.ListAll()) != 2 {
		t.Fatalf("expected 2 distinct adapters, got %d", len(r.ListAll()))
	}
}

func TestProviderIDLookupCaseInsensitive(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("Salesforce-Prod"))

	if _, err := r.Get("salesforce-prod"); err != nil {
		t.Fatalf("expected case-insensitive match: %v", err)
	}
}

func TestRefreshDoesNotErrorForHealthyAdapters(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("p1"))
	r.Register(adapter.NewMockAdapter("p2"))

	results := r.Refresh(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if !res.Healthy || res.Err != nil {
			t.Errorf("unexpected unhealthy result: %+v", res)
		}
	}
}

func TestUnregisterRemovesAdapter(t *testing.T) {
	r := New()
	r.Register(adapter.NewMockAdapter("p1"))
	r.Unregister("p1")

	if _, err := r.Get("p1"); err == nil {
		t.Fatal("expected AdapterNotFound after unregister")
	}
}
