package hooks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modgateway/lifecycle/ports"
)

type recordedCall struct {
	instance ports.ModuleInstance
	body     string
}

type fakeProxy struct {
	calls []recordedCall
}

func (f *fakeProxy) CallSystemInterface(_ context.Context, _ string, instance ports.ModuleInstance, body string, _ ports.ProxyContext) (ports.CallResult, error) {
	f.calls = append(f.calls, recordedCall{instance: instance, body: body})
	return ports.CallResult{StatusCode: 200}, nil
}

func (f *fakeProxy) DoCallSystemInterface(context.Context, map[string][]string, string, string, ports.ModuleInstance, string) (ports.CallResult, error) {
	return ports.CallResult{}, nil
}
func (f *fakeProxy) AutoDeploy(context.Context, *ports.ModuleDescriptor) error   { return nil }
func (f *fakeProxy) AutoUndeploy(context.Context, *ports.ModuleDescriptor) error { return nil }

func TestParseParameters(t *testing.T) {
	params := ParseParameters("loadSample=true,purge")
	require.Equal(t, []Parameter{
		{Key: "loadSample", Value: "true", HasValue: true},
		{Key: "purge"},
	}, params)
}

func TestParseParametersEmpty(t *testing.T) {
	require.Nil(t, ParseParameters(""))
}

func TestInvokeTenantHook10UsesExistingRoute(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID: "users-1.0.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenant", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/users/tenant"}},
		}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-1.0.0", "", false, "", nil)
	require.NoError(t, err)
	require.Len(t, proxy.calls, 1)
	require.Equal(t, "/users/tenant", proxy.calls[0].instance.Path)
}

func TestInvokeTenantHook10FallsBackWhenNoRoute(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID:       "users-1.0.0",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenant", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-1.0.0", "", false, "", nil)
	require.NoError(t, err)
	require.Len(t, proxy.calls, 1)
	require.Equal(t, legacyTenantFallbackPath, proxy.calls[0].instance.Path)
	require.True(t, proxy.calls[0].instance.Retry)
}

func TestInvokeTenantHook10NoFallbackWhenPurging(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID:       "users-1.0.0",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenant", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "", "users-1.0.0", true, "", nil)
	require.NoError(t, err)
	require.Empty(t, proxy.calls)
}

func TestInvokeTenantHook11RequiresRoute(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID:       "users-1.1.0",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenant", Version: "1.1", InterfaceType: ports.InterfaceTypeSystem}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-1.1.0", "", false, "", nil)
	require.ErrorIs(t, err, ErrBadTenantRoute)
}

func TestInvokeTenantHook11BodyShape(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID: "users-1.1.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenant", Version: "1.1", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/_/tenant"}},
		}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-1.1.0", "users-1.0.0", false, "", nil)
	require.NoError(t, err)
	require.Len(t, proxy.calls, 1)

	var body tenantHookBody
	require.NoError(t, json.Unmarshal([]byte(proxy.calls[0].body), &body))
	require.Equal(t, "users-1.1.0", body.ModuleTo)
	require.Equal(t, "users-1.0.0", body.ModuleFrom)
}

func TestInvokeTenantHook11SelectsDisablePathOnPureDisable(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID: "users-1.1.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenant", Version: "1.1", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{
				{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/_/tenant"},
				{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/_/tenant/disable"},
			},
		}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "", "users-1.1.0", false, "", nil)
	require.NoError(t, err)
	require.Len(t, proxy.calls, 1)
	require.Equal(t, "/_/tenant/disable", proxy.calls[0].instance.Path)
}

func TestInvokeTenantHook12ParsesParameters(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	md := &ports.ModuleDescriptor{
		ID: "users-1.2.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenant", Version: "1.2", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/_/tenant"}},
		}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-1.2.0", "", false, "loadSample=true", nil)
	require.NoError(t, err)

	var body tenantHookBody
	require.NoError(t, json.Unmarshal([]byte(proxy.calls[0].body), &body))
	require.Equal(t, []Parameter{{Key: "loadSample", Value: "true"}}, body.Parameters)
}

func TestInvokeTenantHookUnsupportedVersion(t *testing.T) {
	inv := New(&fakeProxy{})
	md := &ports.ModuleDescriptor{
		ID:       "users-2.0.0",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenant", Version: "2.0", InterfaceType: ports.InterfaceTypeSystem}},
	}
	err := inv.InvokeTenantHook(context.Background(), "tenant-a", md, "users-2.0.0", "", false, "", nil)
	require.ErrorIs(t, err, ErrUnsupportedTenantAPI)
}

func TestInvokePermissionsHookSendsExpandedFor11(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	perms := &ports.ModuleDescriptor{
		ID: "perms-1.1.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenantPermissions", Version: "1.1", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/perms"}},
		}},
	}
	legacy := []ports.PermissionSet{{PermissionName: "legacy"}}
	expanded := []ports.PermissionSet{{PermissionName: "expanded"}}

	err := inv.InvokePermissionsHook(context.Background(), "tenant-a", perms, "users-1.0.0", legacy, expanded, nil)
	require.NoError(t, err)

	var body permissionsBody
	require.NoError(t, json.Unmarshal([]byte(proxy.calls[0].body), &body))
	require.Equal(t, "expanded", body.Perms[0].PermissionName)
}

func TestInvokePermissionsHookSendsLegacyFor10(t *testing.T) {
	proxy := &fakeProxy{}
	inv := New(proxy)
	perms := &ports.ModuleDescriptor{
		ID: "perms-1.0.0",
		Provides: []ports.InterfaceDescriptor{{
			ID: "_tenantPermissions", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem,
			RoutingEntries: []ports.RoutingEntry{{Methods: []ports.HTTPMethod{ports.MethodPost}, StaticPath: "/perms"}},
		}},
	}
	legacy := []ports.PermissionSet{{PermissionName: "legacy"}}
	expanded := []ports.PermissionSet{{PermissionName: "expanded"}}

	err := inv.InvokePermissionsHook(context.Background(), "tenant-a", perms, "users-1.0.0", legacy, expanded, nil)
	require.NoError(t, err)

	var body permissionsBody
	require.NoError(t, json.Unmarshal([]byte(proxy.calls[0].body), &body))
	require.Equal(t, "legacy", body.Perms[0].PermissionName)
}

func TestInvokePermissionsHookNoRoute(t *testing.T) {
	inv := New(&fakeProxy{})
	perms := &ports.ModuleDescriptor{
		ID:       "perms-1.0.0",
		Provides: []ports.InterfaceDescriptor{{ID: "_tenantPermissions", Version: "1.0", InterfaceType: ports.InterfaceTypeSystem}},
	}
	err := inv.InvokePermissionsHook(context.Background(), "tenant-a", perms, "users-1.0.0", nil, nil, nil)
	require.ErrorIs(t, err, ErrBadPermissionsRoute)
}
