// Package lifecycle is the Tenant Lifecycle Manager: it owns tenant state,
// resolves module inter-dependencies, orchestrates install/upgrade jobs,
// invokes module tenant/permission hooks in order, schedules timer routing
// entries on the cluster leader, and maintains per-tenant caches of the
// enabled module set. It is a pure library — the HTTP data plane, module
// deployment, storage, the module registry, and cluster discovery are all
// reached through the interfaces in package ports.
package lifecycle

import (
	"strings"

	"github.com/modgateway/lifecycle/ports"
)

// TenantID is a stable, opaque tenant identifier.
type TenantID string

// Tenant is the in-memory representation of a tenant: its descriptor and
// its enabled-module set, keyed by module id, valued by an RFC3339
// enablement timestamp. At most one module per Name may be enabled at a
// time — see Tenant.EnabledWithNamePrefix.
type Tenant struct {
	Descriptor ports.TenantDescriptor
	Enabled    map[string]string // moduleID -> enabledAt (RFC3339)
}

// NewTenant creates a Tenant from a descriptor with an empty enabled set.
func NewTenant(td ports.TenantDescriptor) *Tenant {
	return &Tenant{Descriptor: td, Enabled: make(map[string]string)}
}

// ID returns the tenant's identifier.
func (t *Tenant) ID() string { return t.Descriptor.ID }

// IsEnabled reports whether the given module id is currently enabled.
func (t *Tenant) IsEnabled(moduleID string) bool {
	_, ok := t.Enabled[moduleID]
	return ok
}

// ListModules returns the enabled module ids in map-iteration order. Callers
// that need a stable order (e.g. permissions-module bootstrap, which must
// announce permissions "in iteration order of the tenant's enabled map")
// should capture this slice once and reuse it, since Go map iteration order
// is randomized per range.
func (t *Tenant) ListModules() []string {
	ids := make([]string, 0, len(t.Enabled))
	for id := range t.Enabled {
		ids = append(ids, id)
	}
	return ids
}

// clone returns a deep copy of the tenant's enabled map so callers can
// mutate a snapshot without racing the map stored in a ReplicatedMap.
func (t *Tenant) clone() *Tenant {
	enabled := make(map[string]string, len(t.Enabled))
	for k, v := range t.Enabled {
		enabled[k] = v
	}
	return &Tenant{Descriptor: t.Descriptor, Enabled: enabled}
}

// enableModule records moduleID as enabled at enabledAt, unconditionally
// overwriting any previous record for that id.
func (t *Tenant) enableModule(moduleID, enabledAt string) {
	t.Enabled[moduleID] = enabledAt
}

// disableModule removes moduleID from the enabled set, if present.
func (t *Tenant) disableModule(moduleID string) {
	delete(t.Enabled, moduleID)
}

// EnabledWithNamePrefix returns the enabled module id whose name starts with
// prefix, or "" if none is enabled. Used by UpgradeOkapiModule to find
// whichever "okapi-*" module a tenant currently has enabled, mirroring the
// original's linear scan over enabled module ids.
func (t *Tenant) EnabledWithNamePrefix(prefix string) string {
	var found string
	for id := range t.Enabled {
		if strings.HasPrefix(id, prefix) {
			found = id
		}
	}
	return found
}
