package transform

import "github.com/wisbric/scimgateway/pkg/adapter"

// EntitlementMapping is the configuration-side record describing which
// upstream groups map onto a provider entitlement (spec §3 Entitlement
// Mapping), distinct from adapter.Entitlement which is the adapter's
// runtime view of a provider-native entitlement.
type EntitlementMapping struct {
	ProviderID           string
	ProviderEntitlementID string
	Name                 string
	Type                 EntitlementMappingType
	MappedGroups         []string
	Priority             int
	Enabled              bool
	Metadata             map[string]string
}

// EntitlementMappingType enumerates the entitlement categories a mapping
// may describe.
type EntitlementMappingType string

const (
	EntitlementMappingRole              EntitlementMappingType = "ROLE"
	EntitlementMappingPermissionSet     EntitlementMappingType = "PERMISSION_SET"
	EntitlementMappingOrgHierarchyLevel EntitlementMappingType = "ORG_HIERARCHY_LEVEL"
	EntitlementMappingGroup             EntitlementMappingType = "GROUP"
	EntitlementMappingDepartment        EntitlementMappingType = "DEPARTMENT"
	EntitlementMappingCustom            EntitlementMappingType = "CUSTOM"
)

// RankIndex builds the entitlementRank lookup Evaluate needs for
// HIGHEST_PRIVILEGE from a set of mappings, reading each mapping's
// "privilegeRank" metadata entry.
func RankIndex(mappings []EntitlementMapping) func(entitlementName string) int {
	byName := make(map[string]int, len(mappings))
	for _, m := range mappings {
		byName[m.Name] = privilegeRankFromMetadata(m.Metadata)
	}
	return func(entitlementName string) int {
		return byName[entitlementName]
	}
}

// Preview evaluates group against rs without persisting anything and
// without invoking any adapter (spec §4.4 "Preview"): it is exactly
// Evaluate, with AppliedAt left unset by construction since this package
// never sets it; callers MUST NOT emit audit records for a Preview call.
func (rs *RuleSet) Preview(group adapter.Group, entitlementRank func(string) int) (Result, error) {
	return rs.Evaluate(group, entitlementRank)
}
