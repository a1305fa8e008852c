// Package transform maps upstream groups to provider entitlements through
// a per-(tenant, provider) rule set (spec §4.4), grounded on the shape of
// the teacher's escalation policy evaluation (ordered, priority-ranked
// rules evaluated until one resolves an outcome).
package transform

// RuleType selects how a rule matches a group display name.
type RuleType string

const (
	RuleTypeExact        RuleType = "EXACT"
	RuleTypeRegex        RuleType = "REGEX"
	RuleTypeHierarchical RuleType = "HIERARCHICAL"
	RuleTypeConditional  RuleType = "CONDITIONAL"
)

// ConflictResolution selects how multiple matched outputs for one group are
// collapsed into the entitlement set a caller receives.
type ConflictResolution string

const (
	ResolutionUnion             ConflictResolution = "UNION"
	ResolutionFirstMatch        ConflictResolution = "FIRST_MATCH"
	ResolutionHighestPrivilege  ConflictResolution = "HIGHEST_PRIVILEGE"
	ResolutionManualReview      ConflictResolution = "MANUAL_REVIEW"
	ResolutionError             ConflictResolution = "ERROR"
)

// Condition is one CONDITIONAL rule branch: if Predicate matches (substring
// or, when Regex is set, regex match) the group display name, TrueValue is
// produced, otherwise evaluation proceeds to the next condition.
type Condition struct {
	Predicate string
	Regex     bool
	TrueValue string
}

// Rule is a single transformation rule (spec §3 Transformation Rule).
type Rule struct {
	ID                 string
	TenantID           string
	ProviderID         string
	RuleType            RuleType
	SourcePattern        string
	TargetMapping        string
	Delimiter            string // HIERARCHICAL only; default "/"
	Conditions           []Condition // CONDITIONAL only, evaluated in order
	FalseValue           string      // CONDITIONAL fallback if no condition matches
	Priority             int         // lower runs first
	Enabled              bool
	ConflictResolution   ConflictResolution

	// insertionOrder breaks FIRST_MATCH ties (spec §4.4); set by RuleSet
	// when rules are loaded, not by callers.
	insertionOrder int
}
