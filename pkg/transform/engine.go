package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/adapter"
)

// Match is one rule's successful evaluation against a group.
type Match struct {
	RuleID               string
	TransformedEntitlement string
	Priority             int
	insertionOrder       int
	privilegeRank        int
}

// ConflictLogEntry mirrors the admin-surface record emitted when
// MANUAL_REVIEW conflict resolution fires (spec §3 Conflict Log Entry,
// narrowed to TransformationConflict).
type ConflictLogEntry struct {
	ConflictID   string
	ResourceID   string
	ConflictType string
	Candidates   []Match
}

// Result is the outcome of transforming one group.
type Result struct {
	MatchedRuleID          string
	TransformedEntitlement string
	// TransformedEntitlements holds every matched entitlement name when the
	// governing strategy is UNION (spec §4.4 "return all matches");
	// TransformedEntitlement is set alongside it to the first for callers
	// that only want one representative value. Empty for every other
	// strategy, and when only one rule matched.
	TransformedEntitlements []string
	Conflicts               []ConflictLogEntry
	// AppliedAt is left unset by Evaluate/Preview; set by a caller that
	// actually materializes the entitlement (spec §4.4 "Preview").
	AppliedAt *time.Time
}

// RuleSet holds the transformation rules for one (tenantId, providerId)
// pair and evaluates them against groups (spec §4.4).
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a RuleSet, stamping each rule's insertion order so
// FIRST_MATCH tie-breaking is deterministic regardless of later sorting.
func NewRuleSet(rules []Rule) *RuleSet {
	rs := &RuleSet{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		r.insertionOrder = i
		rs.rules[i] = r
	}
	return rs
}

// orderedEnabled returns enabled rules sorted by priority ascending, ties
// broken by insertion order (spec §4.4 "Evaluation order").
func (rs *RuleSet) orderedEnabled() []Rule {
	out := make([]Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].insertionOrder < out[j].insertionOrder
	})
	return out
}

// Evaluate transforms group against every enabled rule and applies
// conflict resolution when more than one rule matches. entitlementRank
// looks up an entitlement's privilege rank for HIGHEST_PRIVILEGE (spec
// §4.4); it may be nil if no rule set in this engine uses that strategy.
func (rs *RuleSet) Evaluate(group adapter.Group, entitlementRank func(entitlementName string) int) (Result, error) {
	ordered := rs.orderedEnabled()

	var matches []Match
	for _, r := range ordered {
		value, matched := evaluateRule(r, group.DisplayName)
		if !matched {
			continue
		}
		rank := 0
		if entitlementRank != nil {
			rank = entitlementRank(value)
		}
		matches = append(matches, Match{
			RuleID:                 r.ID,
			TransformedEntitlement: value,
			Priority:               r.Priority,
			insertionOrder:         r.insertionOrder,
			privilegeRank:          rank,
		})
	}

	if len(matches) == 0 {
		return Result{}, nil
	}
	if len(matches) == 1 {
		return Result{MatchedRuleID: matches[0].RuleID, TransformedEntitlement: matches[0].TransformedEntitlement}, nil
	}

	// more than one match: resolve using the highest-priority matched
	// rule's conflictResolution, since each Rule carries its own strategy
	// and the first (lowest-priority-number) matched rule governs.
	strategy := ordered[0].ConflictResolution
	for _, r := range ordered {
		if r.ID == matches[0].RuleID {
			strategy = r.ConflictResolution
			break
		}
	}

	return rs.resolveConflict(group, matches, strategy)
}

func (rs *RuleSet) resolveConflict(group adapter.Group, matches []Match, strategy ConflictResolution) (Result, error) {
	switch strategy {
	case ResolutionUnion:
		all := rs.UnionAll(group)
		return Result{
			MatchedRuleID:           matches[0].RuleID,
			TransformedEntitlement:  matches[0].TransformedEntitlement,
			TransformedEntitlements: all,
		}, nil

	case ResolutionFirstMatch:
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Priority < best.Priority || (m.Priority == best.Priority && m.insertionOrder < best.insertionOrder) {
				best = m
			}
		}
		return Result{MatchedRuleID: best.RuleID, TransformedEntitlement: best.TransformedEntitlement}, nil

	case ResolutionHighestPrivilege:
		best := matches[0]
		for _, m := range matches[1:] {
			if m.privilegeRank > best.privilegeRank || (m.privilegeRank == best.privilegeRank && m.Priority < best.Priority) {
				best = m
			}
		}
		return Result{MatchedRuleID: best.RuleID, TransformedEntitlement: best.TransformedEntitlement}, nil

	case ResolutionManualReview:
		return Result{
			Conflicts: []ConflictLogEntry{{
				ResourceID:   group.ID,
				ConflictType: "TransformationConflict",
				Candidates:   matches,
			}},
		}, nil

	case ResolutionError:
		return Result{}, errorsx.New("", "", "transform", errorsx.KindInvalidSyntax,
			fmt.Errorf("transformation rules produced %d conflicting matches for group %q", len(matches), group.DisplayName))

	default:
		return Result{}, errorsx.New("", "", "transform", errorsx.KindInvalidSyntax,
			fmt.Errorf("unknown conflict resolution strategy %q", strategy))
	}
}

// UnionAll returns every matched entitlement name for group, for callers
// that want the UNION strategy's full set rather than Evaluate's single
// representative match.
func (rs *RuleSet) UnionAll(group adapter.Group) []string {
	ordered := rs.orderedEnabled()
	var out []string
	for _, r := range ordered {
		if value, matched := evaluateRule(r, group.DisplayName); matched {
			out = append(out, value)
		}
	}
	return out
}

// evaluateRule dispatches to the rule's flavor and reports whether it
// matched groupName, returning the expanded targetMapping on success.
func evaluateRule(r Rule, groupName string) (string, bool) {
	switch r.RuleType {
	case RuleTypeExact:
		return evaluateExact(r, groupName)
	case RuleTypeRegex:
		return evaluateRegex(r, groupName)
	case RuleTypeHierarchical:
		return evaluateHierarchical(r, groupName)
	case RuleTypeConditional:
		return evaluateConditional(r, groupName)
	default:
		return "", false
	}
}

func evaluateExact(r Rule, groupName string) (string, bool) {
	if groupName == r.SourcePattern {
		return r.TargetMapping, true
	}
	return "", false
}

func evaluateRegex(r Rule, groupName string) (string, bool) {
	re, err := regexp.Compile(r.SourcePattern)
	if err != nil {
		return "", false
	}
	submatches := re.FindStringSubmatch(groupName)
	if submatches == nil {
		return "", false
	}

	expanded := r.TargetMapping
	for i, sub := range submatches {
		expanded = strings.ReplaceAll(expanded, fmt.Sprintf("${%d}", i), sub)
	}
	// a reference to a capture group that does not exist means no match
	// (spec §4.4 edge case "REGEX rule whose target references ${N} with
	// no Nth capture does not match").
	if strings.Contains(expanded, "${") {
		return "", false
	}
	return expanded, true
}

func evaluateHierarchical(r Rule, groupName string) (string, bool) {
	delimiter := r.Delimiter
	if delimiter == "" {
		delimiter = "/"
	}
	levels := strings.Split(groupName, delimiter)

	expanded := r.TargetMapping
	for i := 0; i < len(levels); i++ {
		token := fmt.Sprintf("${level%d}", i)
		expanded = strings.ReplaceAll(expanded, token, levels[i])
	}

	// any remaining ${levelN} token references a level beyond the split.
	if levelRefPattern.MatchString(expanded) {
		return "", false
	}
	return expanded, true
}

var levelRefPattern = regexp.MustCompile(`\$\{level\d+\}`)

func evaluateConditional(r Rule, groupName string) (string, bool) {
	for _, cond := range r.Conditions {
		if conditionMatches(cond, groupName) {
			return cond.TrueValue, true
		}
	}
	if r.FalseValue != "" {
		return r.FalseValue, true
	}
	return "", false
}

func conditionMatches(cond Condition, groupName string) bool {
	if cond.Regex {
		re, err := regexp.Compile(cond.Predicate)
		if err != nil {
			return false
		}
		return re.MatchString(groupName)
	}
	return strings.Contains(groupName, cond.Predicate)
}

// privilegeRankFromMetadata is a small helper adapters' callers can use to
// build the entitlementRank function Evaluate expects, reading the
// conventional "privilegeRank" metadata key as an integer.
func privilegeRankFromMetadata(metadata map[string]string) int {
	rank, err := strconv.Atoi(metadata["privilegeRank"])
	if err != nil {
		return 0
	}
	return rank
}
