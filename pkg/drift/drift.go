// Package drift implements the stateless change detector (spec §4.5): a
// two-snapshot diff producing DriftLogEntry values, plus the content-hash
// fast path used to skip a full diff when nothing changed. Grounded on the
// teacher's escalation engine's periodic state comparison, generalized
// from a single incident's tier state to an arbitrary resource snapshot.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// DriftType classifies one DriftLogEntry.
type DriftType string

const (
	DriftAdded               DriftType = "Added"
	DriftDeleted             DriftType = "Deleted"
	DriftModified            DriftType = "Modified"
	DriftMembershipMismatch  DriftType = "MembershipMismatch"
	DriftAttributeMismatch   DriftType = "AttributeMismatch"
)

// AttributeChange carries the old/new value of one changed leaf attribute.
type AttributeChange struct {
	Attribute string
	OldValue  string
	NewValue  string
}

// Entry is a single DriftLogEntry (spec §3).
type Entry struct {
	ResourceID           string
	ResourceType         string
	DriftType            DriftType
	AttributeChanges     []AttributeChange // Modified/AttributeMismatch
	AddedMembers         []string          // MembershipMismatch
	RemovedMembers       []string          // MembershipMismatch
	Reconciled           bool
	ReconciliationAction string
}

// Snapshot is a normalized serialized form of one resource, keyed by leaf
// attribute name, as required for attribute-granular Modified entries
// (spec §4.5 "the entry carries oldValue/newValue at attribute
// granularity for changed leaves only").
type Snapshot struct {
	ResourceType string
	Attributes   map[string]string
	// Members holds the sorted member-id list for a group snapshot; nil
	// for a user snapshot (spec §4.5 "for groups the form includes the
	// sorted member-id list").
	Members []string
}

// Checksum returns a SHA-256 hex digest over s's normalized serialization,
// used as the fast no-change-detection path (spec §4.5).
func (s Snapshot) Checksum() string {
	h := sha256.New()
	h.Write([]byte(s.ResourceType))

	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte("\x00" + k + "\x01" + s.Attributes[k]))
	}

	members := append([]string(nil), s.Members...)
	sort.Strings(members)
	for _, m := range members {
		h.Write([]byte("\x02" + m))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Detect diffs previous against current, both keyed by resourceId, and
// returns the resulting DriftLogEntry values in deterministic resourceId
// order (spec §4.5).
func Detect(previous, current map[string]Snapshot) []Entry {
	var entries []Entry

	ids := make(map[string]bool, len(previous)+len(current))
	for id := range previous {
		ids[id] = true
	}
	for id := range current {
		ids[id] = true
	}
	sortedIDs := make([]string, 0, len(ids))
	for id := range ids {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)

	for _, id := range sortedIDs {
		prev, hadPrev := previous[id]
		cur, hasCur := current[id]

		switch {
		case !hadPrev && hasCur:
			entries = append(entries, Entry{ResourceID: id, ResourceType: cur.ResourceType, DriftType: DriftAdded})

		case hadPrev && !hasCur:
			entries = append(entries, Entry{ResourceID: id, ResourceType: prev.ResourceType, DriftType: DriftDeleted})

		case hadPrev && hasCur:
			if prev.Checksum() == cur.Checksum() {
				continue
			}

			if membershipEntry, changed := membershipDiff(id, prev, cur); changed {
				entries = append(entries, membershipEntry)
			}

			if attrEntry, changed := attributeDiff(id, prev, cur); changed {
				entries = append(entries, attrEntry)
			}
		}
	}

	return entries
}

func attributeDiff(id string, prev, cur Snapshot) (Entry, bool) {
	var changes []AttributeChange

	keys := make(map[string]bool)
	for k := range prev.Attributes {
		keys[k] = true
	}
	for k := range cur.Attributes {
		keys[k] = true
	}

	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	for _, k := range sortedKeys {
		oldVal, newVal := prev.Attributes[k], cur.Attributes[k]
		if oldVal != newVal {
			changes = append(changes, AttributeChange{Attribute: k, OldValue: oldVal, NewValue: newVal})
		}
	}

	if len(changes) == 0 {
		return Entry{}, false
	}
	return Entry{ResourceID: id, ResourceType: cur.ResourceType, DriftType: DriftModified, AttributeChanges: changes}, true
}

func membershipDiff(id string, prev, cur Snapshot) (Entry, bool) {
	if prev.Members == nil && cur.Members == nil {
		return Entry{}, false
	}

	prevSet := toSet(prev.Members)
	curSet := toSet(cur.Members)

	var added, removed []string
	for m := range curSet {
		if !prevSet[m] {
			added = append(added, m)
		}
	}
	for m := range prevSet {
		if !curSet[m] {
			removed = append(removed, m)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	if len(added) == 0 && len(removed) == 0 {
		return Entry{}, false
	}
	return Entry{
		ResourceID: id, ResourceType: cur.ResourceType, DriftType: DriftMembershipMismatch,
		AddedMembers: added, RemovedMembers: removed,
	}, true
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
