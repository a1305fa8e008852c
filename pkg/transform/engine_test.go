package transform

import (
	"errors"
	"testing"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/adapter"
)

func group(displayName string) adapter.Group {
	return adapter.Group{ID: "g1", DisplayName: displayName}
}

func TestExactTransformMatches(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "Sales_Representative", Enabled: true},
	})

	res, err := rs.Evaluate(group("Sales Team"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "Sales_Representative" {
		t.Errorf("got %q", res.TransformedEntitlement)
	}
}

func TestExactTransformIsCaseSensitive(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "Sales_Representative", Enabled: true},
	})

	res, err := rs.Evaluate(group("sales team"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "" || res.MatchedRuleID != "" {
		t.Errorf("expected no match for case mismatch, got %+v", res)
	}
}

func TestRegexTransformExpandsCapture(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeRegex, SourcePattern: "^Sales-(.*)$", TargetMapping: "Sales_${1}_Rep", Enabled: true},
	})

	res, err := rs.Evaluate(group("Sales-EMEA"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "Sales_EMEA_Rep" {
		t.Errorf("got %q", res.TransformedEntitlement)
	}
}

func TestRegexTransformNoMatch(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeRegex, SourcePattern: "^Sales-(.*)$", TargetMapping: "Sales_${1}_Rep", Enabled: true},
	})

	res, err := rs.Evaluate(group("Marketing-EMEA"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedRuleID != "" {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestRegexTransformMissingCaptureDoesNotMatch(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeRegex, SourcePattern: "^Sales-(.*)$", TargetMapping: "Sales_${2}_Rep", Enabled: true},
	})

	res, err := rs.Evaluate(group("Sales-EMEA"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedRuleID != "" {
		t.Errorf("expected no match when referencing a nonexistent capture, got %+v", res)
	}
}

func TestHierarchicalTransformExpandsLevels(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeHierarchical, Delimiter: "/", TargetMapping: "ORG-${level2}", Enabled: true},
	})

	res, err := rs.Evaluate(group("Acme Corp/Sales/EMEA/Field Sales"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "ORG-EMEA" {
		t.Errorf("got %q", res.TransformedEntitlement)
	}
}

func TestHierarchicalTransformBeyondSplitDoesNotMatch(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeHierarchical, Delimiter: "/", TargetMapping: "ORG-${level2}", Enabled: true},
	})

	res, err := rs.Evaluate(group("Acme Corp/Marketing"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedRuleID != "" {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestConditionalTransformFirstTrueWins(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{
			ID:       "r1",
			RuleType: RuleTypeConditional,
			Enabled:  true,
			Conditions: []Condition{
				{Predicate: "Admin", TrueValue: "Admin_Access"},
				{Predicate: "Sales", TrueValue: "Sales_Access"},
			},
			FalseValue: "Default_Access",
		},
	})

	res, _ := rs.Evaluate(group("Sales Admin Team"), nil)
	if res.TransformedEntitlement != "Admin_Access" {
		t.Errorf("expected first matching condition to win, got %q", res.TransformedEntitlement)
	}
}

func TestConditionalTransformFallsBackToFalseValue(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{
			ID:         "r1",
			RuleType:   RuleTypeConditional,
			Enabled:    true,
			Conditions: []Condition{{Predicate: "Admin", TrueValue: "Admin_Access"}},
			FalseValue: "Default_Access",
		},
	})

	res, _ := rs.Evaluate(group("Support Team"), nil)
	if res.TransformedEntitlement != "Default_Access" {
		t.Errorf("got %q", res.TransformedEntitlement)
	}
}

func TestDisabledRulesAreExcluded(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "X", Enabled: false},
	})

	res, _ := rs.Evaluate(group("Sales Team"), nil)
	if res.MatchedRuleID != "" {
		t.Errorf("expected disabled rule to be excluded, got %+v", res)
	}
}

func TestConflictResolutionFirstMatch(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "low-priority", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "B", Priority: 5, Enabled: true, ConflictResolution: ResolutionFirstMatch},
		{ID: "high-priority", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Priority: 1, Enabled: true, ConflictResolution: ResolutionFirstMatch},
	})

	res, err := rs.Evaluate(group("Sales Team"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedRuleID != "high-priority" || res.TransformedEntitlement != "A" {
		t.Errorf("expected lowest-priority-number rule to win, got %+v", res)
	}
}

func TestConflictResolutionHighestPrivilege(t *testing.T) {
	rank := map[string]int{"A": 10, "B": 90}
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Priority: 1, Enabled: true, ConflictResolution: ResolutionHighestPrivilege},
		{ID: "r2", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "B", Priority: 2, Enabled: true, ConflictResolution: ResolutionHighestPrivilege},
	})

	res, err := rs.Evaluate(group("Sales Team"), func(name string) int { return rank[name] })
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "B" {
		t.Errorf("expected higher privilege rank to win, got %+v", res)
	}
}

func TestConflictResolutionManualReviewEmitsConflict(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Priority: 1, Enabled: true, ConflictResolution: ResolutionManualReview},
		{ID: "r2", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "B", Priority: 2, Enabled: true, ConflictResolution: ResolutionManualReview},
	})

	res, err := rs.Evaluate(group("Sales Team"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "" {
		t.Errorf("expected MANUAL_REVIEW to withhold an entitlement, got %q", res.TransformedEntitlement)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].ConflictType != "TransformationConflict" {
		t.Fatalf("expected one TransformationConflict entry, got %+v", res.Conflicts)
	}
}

func TestConflictResolutionErrorFails(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Priority: 1, Enabled: true, ConflictResolution: ResolutionError},
		{ID: "r2", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "B", Priority: 2, Enabled: true, ConflictResolution: ResolutionError},
	})

	_, err := rs.Evaluate(group("Sales Team"), nil)
	var adapterErr *errorsx.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.ScimErrorKind != errorsx.KindInvalidSyntax {
		t.Fatalf("expected InvalidSyntax, got %v", err)
	}
}

func TestUnionAllReturnsEveryMatch(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Priority: 1, Enabled: true, ConflictResolution: ResolutionUnion},
		{ID: "r2", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "B", Priority: 2, Enabled: true, ConflictResolution: ResolutionUnion},
	})

	all := rs.UnionAll(group("Sales Team"))
	if len(all) != 2 {
		t.Fatalf("expected 2 entitlements, got %v", all)
	}
}

func TestPreviewDoesNotSetAppliedAt(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{ID: "r1", RuleType: RuleTypeExact, SourcePattern: "Sales Team", TargetMapping: "A", Enabled: true},
	})

	res, err := rs.Preview(group("Sales Team"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TransformedEntitlement != "A" {
		t.Errorf("got %+v", res)
	}
	if res.AppliedAt != nil {
		t.Errorf("expected AppliedAt unset after Preview, got %v", res.AppliedAt)
	}
}
