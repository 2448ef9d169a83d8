// Package modulecache maintains, per tenant, a read-mostly snapshot of the
// full ModuleDescriptors behind the tenant's enabled module ids, plus a
// ternary flag describing what version of _tenantPermissions (if any) is
// enabled. The snapshot is derived state: it is rebuilt from the tenant's
// enabled set and the external ModuleManager, never mutated directly.
package modulecache

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/modgateway/lifecycle/ports"
)

// PermissionsExpansion is a ternary flag: whether the tenant has a
// _tenantPermissions module enabled that understands expandedPermissionSets.
type PermissionsExpansion int

const (
	// PermissionsUnknown means no module providing _tenantPermissions is
	// currently enabled.
	PermissionsUnknown PermissionsExpansion = iota
	// PermissionsLegacy means a _tenantPermissions version 1.0 module is
	// enabled: announce permissionSets, not expandedPermissionSets.
	PermissionsLegacy
	// PermissionsExpanded means a _tenantPermissions version >= 1.1 module
	// is enabled.
	PermissionsExpanded
)

const tenantPermissionsInterfaceID = "_tenantPermissions"

type entry struct {
	modules []*ports.ModuleDescriptor
	expand  PermissionsExpansion
}

// Cache is a per-tenant snapshot cache. The zero value is not usable; build
// one with New.
type Cache struct {
	manager ports.ModuleManager

	mu   sync.RWMutex
	data map[string]entry
}

// New builds an empty Cache that resolves descriptors through manager.
func New(manager ports.ModuleManager) *Cache {
	return &Cache{manager: manager, data: make(map[string]entry)}
}

// Modules returns the cached descriptor list for tenantID, and whether an
// entry exists at all (false means the tenant has never been rebuilt, not
// that it has zero enabled modules).
func (c *Cache) Modules(tenantID string) ([]*ports.ModuleDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[tenantID]
	return e.modules, ok
}

// Expansion returns the cached permissions-expansion flag for tenantID.
// Callers that have never rebuilt the tenant get PermissionsUnknown.
func (c *Cache) Expansion(tenantID string) PermissionsExpansion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[tenantID].expand
}

// Evict drops a tenant's cache entry entirely, called on tenant deletion.
func (c *Cache) Evict(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, tenantID)
}

// Rebuild re-resolves every enabled module id for tenantID via the
// ModuleManager and replaces the cached entry. Resolution is fanned out
// concurrently with an errgroup, since a tenant's enabled set can be wide
// and each lookup is an independent network round trip to the external
// registry; the first lookup error aborts the rebuild and leaves the
// previous snapshot in place.
func (c *Cache) Rebuild(ctx context.Context, tenantID string, enabledModuleIDs []string) error {
	resolved := make([]*ports.ModuleDescriptor, len(enabledModuleIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range enabledModuleIDs {
		i, id := i, id
		g.Go(func() error {
			md, err := c.manager.Get(gctx, id)
			if err != nil {
				return err
			}
			resolved[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[tenantID] = entry{modules: resolved, expand: computeExpansion(resolved)}
	return nil
}

func computeExpansion(modules []*ports.ModuleDescriptor) PermissionsExpansion {
	for _, md := range modules {
		iface := md.SystemInterface(tenantPermissionsInterfaceID)
		if iface == nil {
			continue
		}
		if interfaceVersionAtLeast(iface.Version, "1.1") {
			return PermissionsExpanded
		}
		return PermissionsLegacy
	}
	return PermissionsUnknown
}

func interfaceVersionAtLeast(version, min string) bool {
	vMaj, vMin := splitMajorMinor(version)
	mMaj, mMin := splitMajorMinor(min)
	if vMaj != mMaj {
		return vMaj > mMaj
	}
	return vMin >= mMin
}

func splitMajorMinor(v string) (int, int) {
	maj, min := 0, 0
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			parseInto(v[:i], &maj)
			parseInto(v[i+1:], &min)
			return maj, min
		}
	}
	parseInto(v, &maj)
	return maj, min
}

func parseInto(s string, out *int) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return
		}
		n = n*10 + int(c-'0')
	}
	*out = n
}
