package modulecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modgateway/lifecycle/ports"
)

type fakeManager struct {
	byID map[string]*ports.ModuleDescriptor
}

func (f *fakeManager) Get(_ context.Context, id string) (*ports.ModuleDescriptor, error) {
	md, ok := f.byID[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return md, nil
}

func (f *fakeManager) GetLatest(_ context.Context, _ string) (*ports.ModuleDescriptor, error) {
	return nil, ports.ErrNotFound
}

func (f *fakeManager) GetModulesWithFilter(_ context.Context, _, _ bool, _ string) ([]*ports.ModuleDescriptor, error) {
	return nil, nil
}

func TestRebuildPopulatesModules(t *testing.T) {
	users := &ports.ModuleDescriptor{ID: "users-1.0.0", Name: "users"}
	storage := &ports.ModuleDescriptor{ID: "storage-1.0.0", Name: "storage"}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{
		"users-1.0.0":   users,
		"storage-1.0.0": storage,
	}}
	c := New(mgr)

	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"users-1.0.0", "storage-1.0.0"}))

	modules, ok := c.Modules("tenant-a")
	require.True(t, ok)
	require.ElementsMatch(t, []*ports.ModuleDescriptor{users, storage}, modules)
}

func TestExpansionUnknownWithNoPermissionsModule(t *testing.T) {
	users := &ports.ModuleDescriptor{ID: "users-1.0.0", Name: "users"}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{"users-1.0.0": users}}
	c := New(mgr)
	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"users-1.0.0"}))
	require.Equal(t, PermissionsUnknown, c.Expansion("tenant-a"))
}

func TestExpansionLegacyAt10(t *testing.T) {
	perms := &ports.ModuleDescriptor{
		ID: "perms-1.0.0", Name: "perms",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenantPermissions", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem}},
	}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{"perms-1.0.0": perms}}
	c := New(mgr)
	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"perms-1.0.0"}))
	require.Equal(t, PermissionsLegacy, c.Expansion("tenant-a"))
}

func TestExpansionExpandedAt11(t *testing.T) {
	perms := &ports.ModuleDescriptor{
		ID: "perms-1.1.0", Name: "perms",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenantPermissions", Version: "1.1", InterfaceType: ports.InterfaceTypeSystem}},
	}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{"perms-1.1.0": perms}}
	c := New(mgr)
	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"perms-1.1.0"}))
	require.Equal(t, PermissionsExpanded, c.Expansion("tenant-a"))
}

func TestRebuildFailureLeavesPreviousSnapshot(t *testing.T) {
	users := &ports.ModuleDescriptor{ID: "users-1.0.0", Name: "users"}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{"users-1.0.0": users}}
	c := New(mgr)
	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"users-1.0.0"}))

	err := c.Rebuild(context.Background(), "tenant-a", []string{"missing-1.0.0"})
	require.Error(t, err)

	modules, ok := c.Modules("tenant-a")
	require.True(t, ok)
	require.Equal(t, []*ports.ModuleDescriptor{users}, modules)
}

func TestEvict(t *testing.T) {
	users := &ports.ModuleDescriptor{ID: "users-1.0.0", Name: "users"}
	mgr := &fakeManager{byID: map[string]*ports.ModuleDescriptor{"users-1.0.0": users}}
	c := New(mgr)
	require.NoError(t, c.Rebuild(context.Background(), "tenant-a", []string{"users-1.0.0"}))
	c.Evict("tenant-a")
	_, ok := c.Modules("tenant-a")
	require.False(t, ok)
}
