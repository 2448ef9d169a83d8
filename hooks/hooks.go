// Package hooks invokes the two module system interfaces the tenant
// lifecycle core drives directly: _tenant (install/upgrade/disable) and
// _tenantPermissions (permission-set announcement). Every call goes through
// the external ports.Proxy; this package only decides which routing entry,
// method, and body to use.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/modgateway/lifecycle/ports"
)

// Sentinel errors this package returns. Kept local (rather than reusing
// lifecycle's error taxonomy) since the lifecycle facade is this package's
// caller, not its dependency.
var (
	ErrUnsupportedTenantAPI = errors.New("hooks: unsupported _tenant interface version")
	ErrBadTenantRoute       = errors.New("hooks: no _tenant routing entry for module")
	ErrBadPermissionsRoute  = errors.New("hooks: bad _tenantPermissions interface: no routing entry to POST to")
)

const (
	tenantInterfaceID            = "_tenant"
	tenantPermissionsInterfaceID = "_tenantPermissions"
	legacyTenantFallbackPath     = "/_/tenant"
)

// disableGlob recognizes the distinguished "/_/tenant/disable" path. It is
// an equality glob rather than a literal string compare so a routing entry
// whose static path uses a real wildcard template elsewhere in the
// descriptor format is matched by the same code path as this one, fixed,
// case.
var disableGlob = glob.MustCompile("/_/tenant/disable")

// Parameter is one entry of the _tenant hook's "parameters" body field.
type Parameter struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"-"`
}

// ParseParameters splits a comma-separated "k=v,k2=v2,k3" list into
// Parameters. A key with no "=" yields a Parameter with an empty Value and
// HasValue false, matching the original's tolerant kv.length > 0 guard.
func ParseParameters(s string) []Parameter {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	params := make([]Parameter, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i := strings.IndexByte(p, '='); i >= 0 {
			params = append(params, Parameter{Key: p[:i], Value: p[i+1:], HasValue: true})
		} else {
			params = append(params, Parameter{Key: p})
		}
	}
	return params
}

// Invoker invokes module hooks through an external proxy.
type Invoker struct {
	proxy ports.Proxy
}

// New builds an Invoker that delivers hook calls through proxy.
func New(proxy ports.Proxy) *Invoker {
	return &Invoker{proxy: proxy}
}

type tenantHookBody struct {
	ModuleTo   string      `json:"module_to,omitempty"`
	ModuleFrom string      `json:"module_from,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// InvokeTenantHook calls a module's _tenant system interface. target is the
// module whose interface version governs the call (the module being
// enabled/upgraded to, or the module being purged when purge is true and
// moduleTo is empty). moduleTo/moduleFrom are module ids, empty when not
// applicable. parametersCSV is the raw comma-separated parameter list from
// the install options, parsed only for versions that support it.
func (inv *Invoker) InvokeTenantHook(ctx context.Context, tenantID string, target *ports.ModuleDescriptor, moduleTo, moduleFrom string, purge bool, parametersCSV string, pc ports.ProxyContext) error {
	iface := target.SystemInterface(tenantInterfaceID)
	if iface == nil {
		return fmt.Errorf("%w: module %s provides no _tenant interface", ErrUnsupportedTenantAPI, target.ID)
	}

	switch iface.Version {
	case "1.0":
		return inv.invokeTenant10(ctx, tenantID, target, iface, moduleTo, purge, pc)
	case "1.1":
		return inv.invokeTenant11or12(ctx, tenantID, target, iface, moduleTo, moduleFrom, purge, nil, pc)
	case "1.2":
		return inv.invokeTenant11or12(ctx, tenantID, target, iface, moduleTo, moduleFrom, purge, ParseParameters(parametersCSV), pc)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTenantAPI, iface.Version)
	}
}

func (inv *Invoker) invokeTenant10(ctx context.Context, tenantID string, target *ports.ModuleDescriptor, iface *ports.InterfaceDescriptor, moduleTo string, purge bool, pc ports.ProxyContext) error {
	method := ports.MethodPost
	if purge {
		method = ports.MethodDelete
	}
	entry := matchingEntry(iface.RoutingEntries, method)
	if entry == nil {
		if purge || moduleTo == "" {
			return nil // no fallback call for a purge or a pure disable
		}
		// 1.0 fallback for an enable/upgrade: retry a POST to the fixed legacy path.
		fallback := ports.RoutingEntry{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: legacyTenantFallbackPath}
		instance := ports.ModuleInstance{Module: target, Entry: &fallback, Path: fallback.StaticPath, Method: ports.MethodPost, SystemCall: true}
		_, err := inv.proxy.CallSystemInterface(ctx, tenantID, instance.WithRetry(), "{}", pc)
		return err
	}
	instance := ports.ModuleInstance{Module: target, Entry: entry, Path: entry.StaticPath, Method: method, SystemCall: true}
	_, err := inv.proxy.CallSystemInterface(ctx, tenantID, instance, "{}", pc)
	return err
}

func (inv *Invoker) invokeTenant11or12(ctx context.Context, tenantID string, target *ports.ModuleDescriptor, iface *ports.InterfaceDescriptor, moduleTo, moduleFrom string, purge bool, params []Parameter, pc ports.ProxyContext) error {
	entry := selectEntry11(iface.RoutingEntries, moduleTo, purge)
	if entry == nil {
		return fmt.Errorf("%w: no routing entry for module %s", ErrBadTenantRoute, target.ID)
	}
	method := ports.MethodPost
	if purge {
		method = ports.MethodDelete
	}
	body, err := json.Marshal(tenantHookBody{ModuleTo: moduleTo, ModuleFrom: moduleFrom, Parameters: params})
	if err != nil {
		return err
	}
	instance := ports.ModuleInstance{Module: target, Entry: entry, Path: entry.StaticPath, Method: method, SystemCall: true}
	_, err = inv.proxy.CallSystemInterface(ctx, tenantID, instance, string(body), pc)
	return err
}

// selectEntry11 applies the 1.1/1.2 routing rule: a DELETE entry is used
// only when purging, and a purge takes the first entry matching DELETE;
// otherwise, among entries matching POST, the "/_/tenant/disable" entry is
// used only for a pure disable (moduleTo == "") and any other entry is used
// when moduleTo != "".
func selectEntry11(entries []ports.RoutingEntry, moduleTo string, purge bool) *ports.RoutingEntry {
	method := ports.MethodPost
	if purge {
		method = ports.MethodDelete
	}
	for i := range entries {
		e := &entries[i]
		if !e.MatchMethod(method) {
			continue
		}
		if purge || disableGlob.Match(e.StaticPath) == (moduleTo == "") {
			return e
		}
	}
	return nil
}

func matchingEntry(entries []ports.RoutingEntry, method ports.HTTPMethod) *ports.RoutingEntry {
	for i := range entries {
		if entries[i].MatchMethod(method) {
			return &entries[i]
		}
	}
	return nil
}

type permissionsBody struct {
	ModuleID string                `json:"moduleId"`
	Perms    []ports.PermissionSet `json:"perms"`
}

// InvokePermissionsHook POSTs moduleID's permission sets to permsModule's
// _tenantPermissions routing entry. Which permission list it sends depends
// on permsModule's own interface version: permissionSets for 1.0,
// expandedPermissionSets for >= 1.1.
func (inv *Invoker) InvokePermissionsHook(ctx context.Context, tenantID string, permsModule *ports.ModuleDescriptor, targetModuleID string, targetPermissionSets, targetExpandedPermissionSets []ports.PermissionSet, pc ports.ProxyContext) error {
	iface := permsModule.SystemInterface(tenantPermissionsInterfaceID)
	if iface == nil {
		return fmt.Errorf("%w: module %s provides no _tenantPermissions interface", ErrUnsupportedTenantAPI, permsModule.ID)
	}
	entry := matchingEntry(iface.RoutingEntries, ports.MethodPost)
	if entry == nil {
		return ErrBadPermissionsRoute
	}

	perms := targetPermissionSets
	if interfaceAtLeast11(iface.Version) {
		perms = targetExpandedPermissionSets
	}
	body, err := json.Marshal(permissionsBody{ModuleID: targetModuleID, Perms: perms})
	if err != nil {
		return err
	}
	instance := ports.ModuleInstance{Module: permsModule, Entry: entry, Path: entry.StaticPath, Method: ports.MethodPost, SystemCall: true}
	_, err = inv.proxy.CallSystemInterface(ctx, tenantID, instance, string(body), pc)
	return err
}

func interfaceAtLeast11(version string) bool {
	maj, min := 0, 0
	parts := strings.SplitN(version, ".", 2)
	fmt.Sscanf(parts[0], "%d", &maj)
	if len(parts) > 1 {
		fmt.Sscanf(parts[1], "%d", &min)
	}
	return maj > 1 || (maj == 1 && min >= 1)
}
