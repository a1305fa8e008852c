package drift

import "testing"

func snap(attrs map[string]string, members []string) Snapshot {
	return Snapshot{ResourceType: "Group", Attributes: attrs, Members: members}
}

func TestDetectAdded(t *testing.T) {
	entries := Detect(map[string]Snapshot{}, map[string]Snapshot{"g1": snap(nil, nil)})
	if len(entries) != 1 || entries[0].DriftType != DriftAdded {
		t.Fatalf("got %+v", entries)
	}
}

func TestDetectDeleted(t *testing.T) {
	entries := Detect(map[string]Snapshot{"g1": snap(nil, nil)}, map[string]Snapshot{})
	if len(entries) != 1 || entries[0].DriftType != DriftDeleted {
		t.Fatalf("got %+v", entries)
	}
}

func TestDetectNoChangeIsSilent(t *testing.T) {
	s := snap(map[string]string{"displayName": "Sales"}, []string{"u1", "u2"})
	entries := Detect(map[string]Snapshot{"g1": s}, map[string]Snapshot{"g1": s})
	if len(entries) != 0 {
		t.Fatalf("expected no drift for identical snapshots, got %+v", entries)
	}
}

func TestDetectModifiedCarriesAttributeGranularChanges(t *testing.T) {
	prev := snap(map[string]string{"displayName": "Sales", "department": "Revenue"}, nil)
	cur := snap(map[string]string{"displayName": "Sales Team", "department": "Revenue"}, nil)

	entries := Detect(map[string]Snapshot{"g1": prev}, map[string]Snapshot{"g1": cur})
	if len(entries) != 1 || entries[0].DriftType != DriftModified {
		t.Fatalf("got %+v", entries)
	}
	if len(entries[0].AttributeChanges) != 1 || entries[0].AttributeChanges[0].Attribute != "displayName" {
		t.Fatalf("expected only the changed leaf, got %+v", entries[0].AttributeChanges)
	}
}

func TestDetectMembershipMismatch(t *testing.T) {
	prev := snap(nil, []string{"u1", "u2"})
	cur := snap(nil, []string{"u2", "u3"})

	entries := Detect(map[string]Snapshot{"g1": prev}, map[string]Snapshot{"g1": cur})
	if len(entries) != 1 || entries[0].DriftType != DriftMembershipMismatch {
		t.Fatalf("got %+v", entries)
	}
	if len(entries[0].AddedMembers) != 1 || entries[0].AddedMembers[0] != "u3" {
		t.Errorf("expected u3 added, got %v", entries[0].AddedMembers)
	}
	if len(entries[0].RemovedMembers) != 1 || entries[0].RemovedMembers[0] != "u1" {
		t.Errorf("expected u1 removed, got %v", entries[0].RemovedMembers)
	}
}

func TestDetectBothAttributeAndMembershipChangeEmitsTwoEntries(t *testing.T) {
	prev := snap(map[string]string{"displayName": "Sales"}, []string{"u1"})
	cur := snap(map[string]string{"displayName": "Sales Team"}, []string{"u2"})

	entries := Detect(map[string]Snapshot{"g1": prev}, map[string]Snapshot{"g1": cur})
	if len(entries) != 2 {
		t.Fatalf("expected both a membership and an attribute entry, got %+v", entries)
	}
}

func TestChecksumStableUnderAttributeOrdering(t *testing.T) {
	a := Snapshot{ResourceType: "Group", Attributes: map[string]string{"a": "1", "b": "2"}}
	b := Snapshot{ResourceType: "Group", Attributes: map[string]string{"b": "2", "a": "1"}}
	if a.Checksum() != b.Checksum() {
		t.Error("expected checksum to be independent of map iteration order")
	}
}

func TestChecksumDiffersOnMemberChange(t *testing.T) {
	a := Snapshot{ResourceType: "Group", Members: []string{"u1"}}
	b := Snapshot{ResourceType: "Group", Members: []string{"u2"}}
	if a.Checksum() == b.Checksum() {
		t.Error("expected distinct member sets to produce distinct checksums")
	}
}
