package reconcile

import (
	"context"
	"errors"
	"testing"
)

type fakeApplier struct {
	upstreamCalls []string
	providerCalls []string
	failNext      error
}

func (f *fakeApplier) ApplyUpstreamToProvider(ctx context.Context, resourceID, upstreamValue string) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.upstreamCalls = append(f.upstreamCalls, upstreamValue)
	return nil
}

func (f *fakeApplier) ApplyProviderToUpstream(ctx context.Context, resourceID, providerValue string) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.providerCalls = append(f.providerCalls, providerValue)
	return nil
}

func TestClassifyNoDrift(t *testing.T) {
	c := Classify(ThreeWayState{LastKnown: "A", Upstream: "A", Provider: "A"})
	if c.ConflictType != "" || c.UpstreamChanged || c.ProviderChanged {
		t.Fatalf("expected no drift, got %+v", c)
	}
}

func TestClassifyOneSidedUpstream(t *testing.T) {
	c := Classify(ThreeWayState{LastKnown: "A", Upstream: "B", Provider: "A"})
	if c.ConflictType != "" || !c.UpstreamChanged || c.ProviderChanged {
		t.Fatalf("expected one-sided upstream change, got %+v", c)
	}
}

func TestClassifyDualModificationForcesManual(t *testing.T) {
	c := Classify(ThreeWayState{LastKnown: "A", Upstream: "B", Provider: "C"})
	if c.ConflictType != ConflictDualModification || !c.ForceManual {
		t.Fatalf("expected DualModification, got %+v", c)
	}
}

func TestClassifyDeleteModifyConflict(t *testing.T) {
	c := Classify(ThreeWayState{LastKnown: "A", Upstream: "", UpstreamDeleted: true, Provider: "B"})
	if c.ConflictType != ConflictDeleteModify || !c.ForceManual {
		t.Fatalf("expected DeleteModifyConflict, got %+v", c)
	}
}

func TestClassifyUniquenessViolation(t *testing.T) {
	c := Classify(ThreeWayState{UniqueKeyCollision: true})
	if c.ConflictType != ConflictUniquenessViolation || !c.ForceManual {
		t.Fatalf("expected UniquenessViolation, got %+v", c)
	}
}

func TestReconcileDualModificationIgnoresConfiguredStrategy(t *testing.T) {
	r := New()
	applier := &fakeApplier{}

	state := ThreeWayState{ResourceID: "g1", LastKnown: "A", Upstream: "B", Provider: "C"}
	outcome := r.Reconcile(context.Background(), state, StrategyAutoApply, DirectionUpstreamToProvider, false, applier)

	if outcome.Conflict == nil || outcome.Conflict.ConflictType != ConflictDualModification {
		t.Fatalf("expected forced MANUAL_REVIEW conflict despite AUTO_APPLY strategy, got %+v", outcome)
	}
	if len(applier.upstreamCalls) != 0 {
		t.Fatal("expected no adapter call for a forced-manual conflict")
	}
}

func TestReconcileAutoApplyUpstreamToProvider(t *testing.T) {
	r := New()
	applier := &fakeApplier{}

	state := ThreeWayState{ResourceID: "g1", LastKnown: "A", Upstream: "B", Provider: "A"}
	outcome := r.Reconcile(context.Background(), state, StrategyAutoApply, DirectionUpstreamToProvider, false, applier)

	if !outcome.Reconciled || outcome.ReconciliationAction != string(StrategyAutoApply) {
		t.Fatalf("expected reconciled AUTO_APPLY, got %+v", outcome)
	}
	if len(applier.upstreamCalls) != 1 || applier.upstreamCalls[0] != "B" {
		t.Fatalf("expected adapter push of upstream value, got %v", applier.upstreamCalls)
	}
}

func TestReconcileManualReviewNeverAppliesAutomatically(t *testing.T) {
	r := New()
	applier := &fakeApplier{}

	state := ThreeWayState{ResourceID: "g1", LastKnown: "A", Upstream: "B", Provider: "A"}
	outcome := r.Reconcile(context.Background(), state, StrategyManualReview, DirectionUpstreamToProvider, false, applier)

	if outcome.Reconciled || outcome.Conflict == nil {
		t.Fatalf("expected a pending conflict, no reconciliation, got %+v", outcome)
	}
	if len(applier.upstreamCalls) != 0 {
		t.Fatal("expected MANUAL_REVIEW to never call the adapter")
	}
}

func TestReconcileIgnoreLeavesBothSidesUnchanged(t *testing.T) {
	r := New()
	applier := &fakeApplier{}

	state := ThreeWayState{ResourceID: "g1", LastKnown: "A", Upstream: "B", Provider: "A"}
	outcome := r.Reconcile(context.Background(), state, StrategyIgnore, DirectionUpstreamToProvider, false, applier)

	if outcome.Reconciled || outcome.Conflict != nil || outcome.Err != nil {
		t.Fatalf("expected a silent no-op, got %+v", outcome)
	}
	if len(applier.upstreamCalls)+len(applier.providerCalls) != 0 {
		t.Fatal("expected IGNORE to never call the adapter")
	}
}

func TestReconcileBlockedBySuspendedResourceSkipsAutoSync(t *testing.T) {
	r := New()
	applier := &fakeApplier{}

	state := ThreeWayState{ResourceID: "g1", LastKnown: "A", Upstream: "B", Provider: "A"}
	outcome := r.Reconcile(context.Background(), state, StrategyAutoApply, DirectionUpstreamToProvider, true, applier)

	if outcome.Reconciled || len(applier.upstreamCalls) != 0 {
		t.Fatalf("expected blocked resource to skip auto-sync, got %+v", outcome)
	}
}

func TestResolveConflictAppliesUpstreamAndMarksResolved(t *testing.T) {
	applier := &fakeApplier{}
	entry := ConflictLogEntry{ResourceID: "g1", EntraChange: "B", ProviderChange: "C"}

	resolved, err := ResolveConflict(context.Background(), entry, ActionApplyUpstream, "admin@example.com", applier)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Resolved || resolved.Resolution != ActionApplyUpstream || resolved.ResolvedBy != "admin@example.com" {
		t.Fatalf("got %+v", resolved)
	}
	if len(applier.upstreamCalls) != 1 || applier.upstreamCalls[0] != "B" {
		t.Fatalf("expected upstream value applied, got %v", applier.upstreamCalls)
	}
}

func TestResolveConflictIgnoreSkipsSideEffect(t *testing.T) {
	applier := &fakeApplier{}
	entry := ConflictLogEntry{ResourceID: "g1", EntraChange: "B", ProviderChange: "C"}

	resolved, err := ResolveConflict(context.Background(), entry, ActionIgnore, "admin@example.com", applier)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Resolved || resolved.Resolution != ActionIgnore {
		t.Fatalf("got %+v", resolved)
	}
	if len(applier.upstreamCalls)+len(applier.providerCalls) != 0 {
		t.Fatal("expected IGNORE resolution to never call the adapter")
	}
}

func TestResolveConflictCustomActionCarriesPayload(t *testing.T) {
	applier := &fakeApplier{}
	entry := ConflictLogEntry{ResourceID: "g1"}

	resolved, err := ResolveConflict(context.Background(), entry, CustomAction(`{"role":"viewer"}`), "admin@example.com", applier)
	if err != nil {
		t.Fatal(err)
	}
	if applier.upstreamCalls[0] != `{"role":"viewer"}` {
		t.Fatalf("expected payload passed through, got %v", applier.upstreamCalls)
	}
	if resolved.Resolution != CustomAction(`{"role":"viewer"}`) {
		t.Errorf("got %q", resolved.Resolution)
	}
}

func TestResolveConflictPropagatesApplierError(t *testing.T) {
	applier := &fakeApplier{failNext: errors.New("provider unavailable")}
	entry := ConflictLogEntry{ResourceID: "g1"}

	_, err := ResolveConflict(context.Background(), entry, ActionApplyUpstream, "admin@example.com", applier)
	if err == nil {
		t.Fatal("expected applier error to propagate")
	}
}
