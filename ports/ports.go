// Package ports declares the interfaces the tenant lifecycle core uses to
// reach every external collaborator named in the specification: the module
// descriptor registry, the tenant store, the HTTP proxy data plane, cluster
// leader election, and the cross-process event bus. Nothing in this package
// implements those collaborators — the lifecycle core is a pure consumer.
package ports

import (
	"context"
	"errors"
)

// Sentinel errors returned by collaborator implementations. The lifecycle
// core checks for these with errors.Is when deciding how to translate a
// collaborator failure into a lifecycle.Error.
var (
	ErrNotFound = errors.New("ports: not found")
	ErrExists   = errors.New("ports: already exists")
)

// InterfaceType classifies how an InterfaceDescriptor may be invoked.
type InterfaceType string

const (
	InterfaceTypeProxy    InterfaceType = "proxy"
	InterfaceTypeSystem   InterfaceType = "system"
	InterfaceTypeMultiple InterfaceType = "multiple"
)

// HTTPMethod is a minimal method enum, avoiding a dependency on net/http
// purely for a handful of constant strings used in routing entries.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
	MethodPatch  HTTPMethod = "PATCH"
)

// RoutingEntry is one entry of an InterfaceDescriptor's routing table.
type RoutingEntry struct {
	Methods         []HTTPMethod
	StaticPath      string
	DelayMillis     int64
	Unit            string // "seconds", "minutes", ... for _timer entries; informational only here
}

// MatchMethod reports whether this routing entry accepts the given method.
// An entry with no declared methods matches any method, mirroring the
// original descriptor format where an omitted method list means "all".
func (re RoutingEntry) MatchMethod(method HTTPMethod) bool {
	if len(re.Methods) == 0 {
		return true
	}
	for _, m := range re.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// InterfaceDescriptor describes one interface a module provides or requires.
type InterfaceDescriptor struct {
	ID            string
	Version       string // "major.minor"
	InterfaceType InterfaceType
	RoutingEntries []RoutingEntry
}

// RequiredInterface names a minimum-version dependency on an interface id.
type RequiredInterface struct {
	ID         string
	MinVersion string
}

// PermissionSet is an opaque permission bundle name the module announces.
type PermissionSet struct {
	PermissionName string
	Permissions    []string
}

// ModuleDescriptor is the read-only shape this core consumes from the
// external module registry (ModuleManager). Ownership, validation, and
// publication of descriptors lives outside this core's scope.
type ModuleDescriptor struct {
	ID                      string
	Name                    string
	Provides                []InterfaceDescriptor
	Requires                []RequiredInterface
	Optional                []RequiredInterface
	PermissionSets          []PermissionSet
	ExpandedPermissionSets  []PermissionSet
}

// SystemInterface returns the provided interface with the given id and
// InterfaceTypeSystem, or nil if the module does not provide it.
func (md *ModuleDescriptor) SystemInterface(id string) *InterfaceDescriptor {
	if md == nil {
		return nil
	}
	for i := range md.Provides {
		p := &md.Provides[i]
		if p.ID == id && p.InterfaceType == InterfaceTypeSystem {
			return p
		}
	}
	return nil
}

// ModuleInstance aggregates everything a Proxy call needs to reach one
// routing entry of one module: which descriptor, which entry, the resolved
// path, the method to use, whether this is an internal system call, and
// whether the proxy should retry transient failures.
type ModuleInstance struct {
	Module     *ModuleDescriptor
	Entry      *RoutingEntry
	Path       string
	Method     HTTPMethod
	SystemCall bool
	Retry      bool
}

// WithRetry returns a copy of the instance marked for retry, mirroring the
// original's fluent `.withRetry()` builder.
func (mi ModuleInstance) WithRetry() ModuleInstance {
	mi.Retry = true
	return mi
}

// ModuleManager is the external module descriptor registry.
type ModuleManager interface {
	// Get returns the descriptor for an exact module id, or ErrNotFound.
	Get(ctx context.Context, id string) (*ModuleDescriptor, error)

	// GetLatest returns the highest-version descriptor matching a bare
	// module name or a full id; when given a bare name it is equivalent to
	// resolving the latest version of that name.
	GetLatest(ctx context.Context, nameOrID string) (*ModuleDescriptor, error)

	// GetModulesWithFilter lists modules available for install/upgrade
	// planning, filtered by the options an install job was created with.
	GetModulesWithFilter(ctx context.Context, preRelease, npmSnapshot bool, filterID string) ([]*ModuleDescriptor, error)
}

// TenantDescriptor is the display metadata portion of a Tenant, mirroring
// the wire shape the TenantStore persists.
type TenantDescriptor struct {
	ID          string
	Name        string
	Description string
}

// StoredTenant is the shape persisted by TenantStore: descriptor plus the
// enabled-module map, keyed by module id, valued by enablement timestamp
// (RFC3339 string, matching the store's JSON wire format).
type StoredTenant struct {
	Descriptor TenantDescriptor
	Enabled    map[string]string
}

// TenantStore is the external persistence collaborator. The lifecycle core
// treats ReplicatedMap writes as the commit point and a successful store
// write as a precondition to it, per the spec's ownership model.
type TenantStore interface {
	ListTenants(ctx context.Context) ([]StoredTenant, error)
	Insert(ctx context.Context, t StoredTenant) error
	UpdateDescriptor(ctx context.Context, td TenantDescriptor) error
	// UpdateModules reports false if the tenant id was not found.
	UpdateModules(ctx context.Context, tenantID string, enabled map[string]string) (bool, error)
	// Delete reports false if the tenant id was not found.
	Delete(ctx context.Context, tenantID string) (bool, error)
}

// ProxyContext carries end-to-end tracing headers across a chain of hook
// calls, the Go analogue of the original's ProxyContext trace-header carrier
// (explicitly out of scope to implement here; this core only forwards it).
type ProxyContext interface {
	// PassTraceHeaders copies response trace headers into the outgoing
	// context for the next hop, matching ProxyContext.passOkapiTraceHeaders.
	PassTraceHeaders(responseHeaders map[string][]string)
}

// CallResult is the outcome of a Proxy system-interface call.
type CallResult struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Proxy is the external HTTP data-plane collaborator.
type Proxy interface {
	// CallSystemInterface invokes a module's system interface on behalf of
	// a tenant, using the supplied ProxyContext for trace propagation.
	CallSystemInterface(ctx context.Context, tenantID string, instance ModuleInstance, body string, pc ProxyContext) (CallResult, error)

	// DoCallSystemInterface is the header-explicit variant used when no
	// ProxyContext is available (e.g. bootstrap/no-pc permission loads).
	DoCallSystemInterface(ctx context.Context, headers map[string][]string, tenantID, requestID string, instance ModuleInstance, body string) (CallResult, error)

	// AutoDeploy asks the proxy/deployment layer to ensure the module's
	// artifact is running somewhere in the cluster.
	AutoDeploy(ctx context.Context, md *ModuleDescriptor) error

	// AutoUndeploy asks the proxy/deployment layer to stop the module's
	// artifact, if no tenant still uses it.
	AutoUndeploy(ctx context.Context, md *ModuleDescriptor) error
}

// DiscoveryManager is the external cluster discovery/leader-election
// collaborator.
type DiscoveryManager interface {
	IsLeader(ctx context.Context) (bool, error)
}

// EventBus is the external cross-process publish/consume collaborator.
// Topic "timer" carries a tenant id payload, per the spec's data flow.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload string) error
	Consume(ctx context.Context, topic string, handler func(ctx context.Context, payload string)) error
}
