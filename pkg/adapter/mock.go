package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

// MockAdapter is an in-memory reference Adapter implementation used by
// tests and local development. It must support bidirectional group<->
// entitlement identity (spec §8 round-trip properties).
type MockAdapter struct {
	providerID string

	mu       sync.Mutex
	users    map[string]User
	groups   map[string]Group
	nextSeq  int
	capacity Capabilities
}

// NewMockAdapter constructs an empty MockAdapter for providerID.
func NewMockAdapter(providerID string) *MockAdapter {
	return &MockAdapter{
		providerID: providerID,
		users:      make(map[string]User),
		groups:     make(map[string]Group),
		capacity: Capabilities{
			ProviderName:     providerID,
			MaxPageSize:      200,
			SupportsPatch:    true,
			SupportedFilters: SupportedOperators,
		},
	}
}

func (m *MockAdapter) ProviderID() string { return m.providerID }

func (m *MockAdapter) nextID(prefix string) string {
	m.nextSeq++
	return fmt.Sprintf("%s-%04d", prefix, m.nextSeq)
}

func cloneUser(u User) User {
	attrs := make(map[string]any, len(u.Attributes))
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	u.Attributes = attrs
	return u
}

func cloneGroup(g Group) Group {
	members := make([]string, len(g.Members))
	copy(members, g.Members)
	g.Members = members
	return g
}

func bumpVersion(version string) string {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(version, "W/\""), "\""))
	if err != nil {
		n = 0
	}
	return fmt.Sprintf("W/%q", strconv.Itoa(n+1))
}

func (m *MockAdapter) CreateUser(ctx context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.UserName == u.UserName {
			return User{}, newAdapterError(m.providerID, "create", "User", "", errorsx.KindUniqueness)
		}
	}

	if u.ID == "" {
		u.ID = m.nextID("usr")
	}
	now := time.Now()
	u.Meta = Meta{Created: now, LastModified: now, Version: "W/\"1\""}
	m.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *MockAdapter) GetUser(ctx context.Context, id string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, false, nil
	}
	return cloneUser(u), true, nil
}

func (m *MockAdapter) UpdateUser(ctx context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return User{}, newAdapterError(m.providerID, "update", "User", u.ID, errorsx.KindResourceNotFound)
	}

	u.Meta = Meta{
		Created:      existing.Meta.Created,
		LastModified: time.Now(),
		Version:      bumpVersion(existing.Meta.Version),
	}
	m.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *MockAdapter) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return newAdapterError(m.providerID, "delete", "User", id, errorsx.KindResourceNotFound)
	}
	delete(m.users, id)
	return nil
}

func (m *MockAdapter) ListUsers(ctx context.Context, filter QueryFilter) (PagedResult[User], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !filter.IsValid() {
		return PagedResult[User]{}, newAdapterError(m.providerID, "list", "User", "", errorsx.KindInvalidFilter)
	}

	all := make([]User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return paginate(all, filter, m.capacity.MaxPageSize), nil
}

func (m *MockAdapter) CreateGroup(ctx context.Context, g Group) (Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.groups {
		if existing.DisplayName == g.DisplayName {
			return Group{}, newAdapterError(m.providerID, "create", "Group", "", errorsx.KindUniqueness)
		}
	}

	if g.ID == "" {
		g.ID = m.nextID("grp")
	}
	now := time.Now()
	g.Meta = Meta{Created: now, LastModified: now, Version: "W/\"1\""}
	m.groups[g.ID] = cloneGroup(g)
	return cloneGroup(g), nil
}

func (m *MockAdapter) GetGroup(ctx context.Context, id string) (Group, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return Group{}, false, nil
	}
	return cloneGroup(g), true, nil
}

func (m *MockAdapter) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.groups[g.ID]
	if !ok {
		return Group{}, newAdapterError(m.providerID, "update", "Group", g.ID, errorsx.KindResourceNotFound)
	}

	g.Meta = Meta{
		Created:      existing.Meta.Created,
		LastModified: time.Now(),
		Version:      bumpVersion(existing.Meta.Version),
	}
	m.groups[g.ID] = cloneGroup(g)
	return cloneGroup(g), nil
}

func (m *MockAdapter) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return newAdapterError(m.providerID, "delete", "Group", id, errorsx.KindResourceNotFound)
	}
	delete(m.groups, id)
	return nil
}

func (m *MockAdapter) ListGroups(ctx context.Context, filter QueryFilter) (PagedResult[Group], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !filter.IsValid() {
		return PagedResult[Group]{}, newAdapterError(m.providerID, "list", "Group", "", errorsx.KindInvalidFilter)
	}

	all := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		all = append(all, cloneGroup(g))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return paginate(all, filter, m.capacity.MaxPageSize), nil
}

func (m *MockAdapter) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return newAdapterError(m.providerID, "addUser", "Group", groupID, errorsx.KindResourceNotFound)
	}
	if _, ok := m.users[userID]; !ok {
		return newAdapterError(m.providerID, "addUser", "User", userID, errorsx.KindResourceNotFound)
	}
	for _, existing := range g.Members {
		if existing == userID {
			return nil
		}
	}
	g.Members = append(g.Members, userID)
	g.Meta.Version = bumpVersion(g.Meta.Version)
	m.groups[groupID] = g
	return nil
}

func (m *MockAdapter) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return newAdapterError(m.providerID, "removeUser", "Group", groupID, errorsx.KindResourceNotFound)
	}
	out := g.Members[:0]
	found := false
	for _, existing := range g.Members {
		if existing == userID {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		return newAdapterError(m.providerID, "removeUser", "User", userID, errorsx.KindResourceNotFound)
	}
	g.Members = out
	g.Meta.Version = bumpVersion(g.Meta.Version)
	m.groups[groupID] = g
	return nil
}

func (m *MockAdapter) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, newAdapterError(m.providerID, "listMembers", "Group", groupID, errorsx.KindResourceNotFound)
	}
	out := make([]string, len(g.Members))
	copy(out, g.Members)
	return out, nil
}

// MapGroupToEntitlement and MapEntitlementToGroup implement a trivial
// identity mapping so round-trip tests (spec §8) can verify
// map_entitlement_to_group(map_group_to_entitlement(g)).id == g.id.
func (m *MockAdapter) MapGroupToEntitlement(ctx context.Context, g Group) (Entitlement, error) {
	return Entitlement{
		ProviderID:            m.providerID,
		ProviderEntitlementID: g.ID,
		Name:                  g.DisplayName,
		Type:                  EntitlementGroup,
		Metadata:              map[string]any{"group_id": g.ID},
	}, nil
}

func (m *MockAdapter) MapEntitlementToGroup(ctx context.Context, e Entitlement) (Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[e.ProviderEntitlementID]; ok {
		return cloneGroup(g), nil
	}
	return Group{ID: e.ProviderEntitlementID, DisplayName: e.Name}, nil
}

func (m *MockAdapter) CheckHealth(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{Healthy: true, Message: "ok", CheckedAt: time.Now()}, nil
}

func (m *MockAdapter) GetCapabilities(ctx context.Context) (Capabilities, error) {
	return m.capacity, nil
}

// paginate clamps filter.Count to maxPageSize and applies 1-based startIndex
// (spec §4.1 "core clamps caller requests to [capabilities.maxPageSize]").
func paginate[T any](all []T, filter QueryFilter, maxPageSize int) PagedResult[T] {
	count := filter.Count
	if count > maxPageSize {
		count = maxPageSize
	}

	start := filter.StartIndex - 1
	if start > len(all) {
		start = len(all)
	}
	end := start + count
	if end > len(all) {
		end = len(all)
	}

	page := make([]T, end-start)
	copy(page, all[start:end])

	return PagedResult[T]{
		Resources:    page,
		TotalResults: len(all),
		StartIndex:   filter.StartIndex,
		ItemsPerPage: len(page),
	}
}
