package adapter

import (
	"context"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

// Adapter is the fixed capability surface every provider-specific
// implementation exposes (spec §4.1). get* operations return a
// present/absent result without error when the resource is not found;
// every other operation fails with a typed *errorsx.AdapterError.
type Adapter interface {
	ProviderID() string

	// Users
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, bool, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, filter QueryFilter) (PagedResult[User], error)

	// Groups
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, bool, error)
	UpdateGroup(ctx context.Context, g Group) (Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, filter QueryFilter) (PagedResult[Group], error)

	// Membership
	AddUserToGroup(ctx context.Context, groupID, userID string) error
	RemoveUserFromGroup(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]string, error)

	// Transformation (spec §4.4 consumes these via the transformation engine)
	MapGroupToEntitlement(ctx context.Context, g Group) (Entitlement, error)
	MapEntitlementToGroup(ctx context.Context, e Entitlement) (Group, error)

	// Diagnostics
	CheckHealth(ctx context.Context) (HealthStatus, error)
	GetCapabilities(ctx context.Context) (Capabilities, error)
}

// newAdapterError is a small helper adapters use to build a classified
// *errorsx.AdapterError for their own providerId/operation pair.
func newAdapterError(providerID, operation, resourceType, resourceID string, kind errorsx.Kind) *errorsx.AdapterError {
	err := errorsx.New(providerID, providerID, operation, kind, nil)
	err.ResourceType = resourceType
	err.ResourceID = resourceID
	return err
}
