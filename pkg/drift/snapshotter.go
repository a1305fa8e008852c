package drift

import (
	"fmt"

	"github.com/wisbric/scimgateway/pkg/adapter"
)

// AdapterSnapshotter builds Snapshots directly from adapter.User/Group
// values: userName, externalId and the flattened attribute map for users,
// displayName, externalId and members for groups. ID and Meta are not part
// of the snapshot and do not participate in drift detection.
type AdapterSnapshotter struct{}

// SnapshotUser implements polling.Snapshotter.
func (AdapterSnapshotter) SnapshotUser(u adapter.User) Snapshot {
	attrs := make(map[string]string, len(u.Attributes)+2)
	attrs["userName"] = u.UserName
	attrs["externalId"] = u.ExternalID
	for k, v := range u.Attributes {
		attrs[k] = fmt.Sprintf("%v", v)
	}
	return Snapshot{ResourceType: "User", Attributes: attrs}
}

// SnapshotGroup implements polling.Snapshotter.
func (AdapterSnapshotter) SnapshotGroup(g adapter.Group) Snapshot {
	attrs := map[string]string{
		"displayName": g.DisplayName,
		"externalId":  g.ExternalID,
	}
	return Snapshot{ResourceType: "Group", Attributes: attrs, Members: g.Members}
}
