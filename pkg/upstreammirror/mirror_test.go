package upstreammirror

import (
	"testing"

	"github.com/wisbric/scimgateway/pkg/drift"
)

func TestLoadReturnsEmptyForUnknownKey(t *testing.T) {
	m := New()
	got := m.Load("t1", "salesforce")
	if len(got) != 0 {
		t.Errorf("expected empty map, got %+v", got)
	}
}

func TestRecordThenLoadRoundTrips(t *testing.T) {
	m := New()
	snap := drift.Snapshot{ResourceType: "User", Attributes: map[string]string{"userName": "alice"}}
	m.Record("t1", "salesforce", "u1", snap)

	got := m.Load("t1", "salesforce")
	if len(got) != 1 || got["u1"].Checksum() != snap.Checksum() {
		t.Errorf("expected recorded snapshot to round-trip, got %+v", got)
	}
}

func TestForgetRemovesResource(t *testing.T) {
	m := New()
	m.Record("t1", "salesforce", "u1", drift.Snapshot{ResourceType: "User"})
	m.Forget("t1", "salesforce", "u1")

	got := m.Load("t1", "salesforce")
	if len(got) != 0 {
		t.Errorf("expected resource forgotten, got %+v", got)
	}
}

func TestDistinctProvidersAreIndependent(t *testing.T) {
	m := New()
	m.Record("t1", "salesforce", "u1", drift.Snapshot{ResourceType: "User"})

	got := m.Load("t1", "workday")
	if len(got) != 0 {
		t.Errorf("expected distinct provider to be unaffected, got %+v", got)
	}
}

func TestLoadReturnsACopyNotALiveView(t *testing.T) {
	m := New()
	m.Record("t1", "salesforce", "u1", drift.Snapshot{ResourceType: "User"})

	got := m.Load("t1", "salesforce")
	delete(got, "u1")

	again := m.Load("t1", "salesforce")
	if len(again) != 1 {
		t.Errorf("expected mutation of a loaded copy not to affect the mirror, got %+v", again)
	}
}
