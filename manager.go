package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modgateway/lifecycle/config"
	"github.com/modgateway/lifecycle/depresolver"
	"github.com/modgateway/lifecycle/eventbus"
	"github.com/modgateway/lifecycle/hooks"
	"github.com/modgateway/lifecycle/install"
	"github.com/modgateway/lifecycle/jobstore"
	"github.com/modgateway/lifecycle/modulecache"
	"github.com/modgateway/lifecycle/moduleid"
	"github.com/modgateway/lifecycle/obslog"
	"github.com/modgateway/lifecycle/ports"
	"github.com/modgateway/lifecycle/replicatedmap"
	"github.com/modgateway/lifecycle/timer"
)

const tenantPermissionsInterfaceID = "_tenantPermissions"

// Manager is the TenantLifecycleManager facade: it owns tenant state,
// resolves module inter-dependencies, drives install/upgrade jobs, invokes
// module hooks in the order section 4.6 specifies, schedules timer routing
// entries, and maintains the per-tenant enabled-module cache. Build one with
// New.
type Manager struct {
	cfg config.Config
	log obslog.Logger

	modules   ports.ModuleManager
	store     ports.TenantStore
	proxy     ports.Proxy
	discovery ports.DiscoveryManager
	bus       ports.EventBus

	tenants replicatedmap.Map1[Tenant]
	jobs    *jobstore.Store
	cache   *modulecache.Cache
	timers  *timer.Scheduler
	hooks   *hooks.Invoker
	install *install.Engine
}

// New builds a Manager from its external collaborators. cfg.Local selects an
// in-process ReplicatedMap backend; otherwise a Redis client is built from
// cfg.Redis. log may be obslog.Noop{} when the caller does not want log
// output.
func New(cfg config.Config, modules ports.ModuleManager, store ports.TenantStore, proxy ports.Proxy, discovery ports.DiscoveryManager, bus ports.EventBus, log obslog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var tenants replicatedmap.Map1[Tenant]
	var jobsMap replicatedmap.Map2[jobstore.InstallJob]
	if cfg.Local {
		tenants = replicatedmap.NewLocalMap1[Tenant]()
		jobsMap = replicatedmap.NewLocalMap2[jobstore.InstallJob]()
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tenants = replicatedmap.NewRedisMap1[Tenant](client, "tenants")
		jobsMap = replicatedmap.NewRedisMap2[jobstore.InstallJob](client, "installJobs")
	}

	m := &Manager{
		cfg:       cfg,
		log:       log,
		modules:   modules,
		store:     store,
		proxy:     proxy,
		discovery: discovery,
		bus:       bus,
		tenants:   tenants,
		jobs:      jobstore.New(jobsMap),
		cache:     modulecache.New(modules),
		hooks:     hooks.New(proxy),
	}
	m.timers = timer.New(proxy, discovery, tenantModulesAdapter{m})
	m.install = install.New(modules, proxy, m.jobs, tenantViewAdapter{m}, hookApplierAdapter{m}, usageCheckerAdapter{m}, jobNotifierAdapter{m}, log)
	return m, nil
}

// Init populates the tenants map from the Store iff it is empty (first
// instance to start wins; subsequent instances see an already-populated map
// and skip), rebuilds every tenant's module cache and timers, and registers
// the facade as an EventBus consumer on the "timer" topic so a tenant-change
// notification from any instance re-arms this process's timers.
func (m *Manager) Init(ctx context.Context) error {
	keys, err := m.tenants.Keys(ctx)
	if err != nil {
		return NewInternalError("list tenants map", err)
	}
	if len(keys) == 0 {
		stored, err := m.store.ListTenants(ctx)
		if err != nil {
			return NewInternalError("list tenants from store", err)
		}
		for _, st := range stored {
			t := &Tenant{Descriptor: st.Descriptor, Enabled: st.Enabled}
			if t.Enabled == nil {
				t.Enabled = make(map[string]string)
			}
			if err := m.tenants.Put(ctx, t.ID(), *t); err != nil {
				return NewInternalError("populate tenants map from store", err)
			}
		}
		keys, err = m.tenants.Keys(ctx)
		if err != nil {
			return NewInternalError("list tenants map", err)
		}
	}

	for _, id := range keys {
		t, err := m.getTenant(ctx, id)
		if err != nil {
			continue
		}
		if err := m.cache.Rebuild(ctx, id, t.ListModules()); err != nil {
			m.log.Warn("module cache rebuild failed at init", "tenant", id, "err", err)
			continue
		}
		m.timers.RearmTenant(ctx, id)
	}

	go func() {
		_ = m.bus.Consume(context.Background(), eventbus.TopicTimer, func(hctx context.Context, tenantID string) {
			m.timers.RearmTenant(hctx, tenantID)
		})
	}()

	m.log.Info("tenant lifecycle manager initialized", "tenants", len(keys))
	return nil
}

// IsAlive reports whether the external TenantStore is reachable, the same
// liveness check the original TenantManager delegates to.
func (m *Manager) IsAlive(ctx context.Context) error {
	if _, err := m.store.ListTenants(ctx); err != nil {
		return NewInternalError("tenant store liveness check failed", err)
	}
	return nil
}

// Insert creates a new tenant, failing with ErrTenantExists if the id is
// already present. The ReplicatedMap's Add is the cross-process exclusion
// point: two instances racing to insert the same id, only one succeeds.
func (m *Manager) Insert(ctx context.Context, td ports.TenantDescriptor) (string, error) {
	t := NewTenant(td)
	if err := m.tenants.Add(ctx, td.ID, *t); err != nil {
		if errors.Is(err, replicatedmap.ErrExists) {
			return "", NewUserError(fmt.Sprintf("tenant %s already exists", td.ID), ErrTenantExists)
		}
		return "", NewInternalError("insert tenant into replicated map", err)
	}
	if err := m.store.Insert(ctx, ports.StoredTenant{Descriptor: td, Enabled: t.Enabled}); err != nil {
		_ = m.tenants.Remove(ctx, td.ID)
		return "", NewInternalError("insert tenant into store", err)
	}
	if err := m.cache.Rebuild(ctx, td.ID, nil); err != nil {
		m.log.Warn("module cache rebuild failed after insert", "tenant", td.ID, "err", err)
	}
	_ = m.bus.Publish(ctx, eventbus.TopicTenantCreated, td.ID)
	m.log.Info("tenant inserted", "tenant", td.ID)
	return td.ID, nil
}

// UpdateDescriptor overwrites a tenant's display metadata, preserving its
// enabled-module set when the tenant already exists, or creating it with an
// empty enabled set otherwise.
func (m *Manager) UpdateDescriptor(ctx context.Context, td ports.TenantDescriptor) error {
	t := Tenant{Descriptor: td, Enabled: make(map[string]string)}
	if v, ok, err := m.tenants.Get(ctx, td.ID); err != nil {
		return NewInternalError("read tenant before descriptor update", err)
	} else if ok {
		t.Enabled = v.Enabled
	}
	if err := m.tenants.Put(ctx, td.ID, t); err != nil {
		return NewInternalError("update tenant descriptor in replicated map", err)
	}
	if err := m.store.UpdateDescriptor(ctx, td); err != nil {
		return NewInternalError("update tenant descriptor in store", err)
	}
	return nil
}

// Get returns one tenant, or a NOT_FOUND error.
func (m *Manager) Get(ctx context.Context, id string) (*Tenant, error) {
	return m.getTenant(ctx, id)
}

// List returns every tenant, ordered by id ascending.
func (m *Manager) List(ctx context.Context) ([]*Tenant, error) {
	ids, err := m.tenants.Keys(ctx)
	if err != nil {
		return nil, NewInternalError("list tenants", err)
	}
	out := make([]*Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := m.getTenant(ctx, id)
		if err != nil {
			continue // removed concurrently between Keys and Get
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes a tenant: cascades through the Store, then evicts its
// cache and timers, failing NOT_FOUND if the tenant is absent.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.tenants.RemoveNotFound(ctx, id); err != nil {
		if errors.Is(err, replicatedmap.ErrNotFound) {
			return NewNotFoundError(fmt.Sprintf("tenant %s not found", id), ErrTenantNotFound)
		}
		return NewInternalError("remove tenant from replicated map", err)
	}
	if _, err := m.store.Delete(ctx, id); err != nil {
		return NewInternalError("delete tenant from store", err)
	}
	m.cache.Evict(id)
	m.timers.StopTenant(id)
	_ = m.bus.Publish(ctx, eventbus.TopicTenantDeleted, id)
	m.log.Info("tenant deleted", "tenant", id)
	return nil
}

// InstallUpgradeCreate runs an install/upgrade/disable job for a tenant,
// delegating to the InstallEngine; see package install for the full
// contract.
func (m *Manager) InstallUpgradeCreate(ctx context.Context, tenantID, jobID string, opts install.Options, plan []depresolver.PlanItem) (jobstore.InstallJob, error) {
	job, err := m.install.InstallUpgradeCreate(ctx, tenantID, jobID, opts, plan)
	if err != nil {
		return job, translateInstallError(err)
	}
	return job, nil
}

// GetJob returns one install job for a tenant.
func (m *Manager) GetJob(ctx context.Context, tenantID, jobID string) (jobstore.InstallJob, error) {
	job, err := m.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return job, NewNotFoundError(fmt.Sprintf("job %s not found for tenant %s", jobID, tenantID), err)
	}
	return job, nil
}

// ListJobs returns every install job for a tenant.
func (m *Manager) ListJobs(ctx context.Context, tenantID string) ([]jobstore.InstallJob, error) {
	jobs, err := m.jobs.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, NewInternalError("list jobs", err)
	}
	return jobs, nil
}

// DeleteJob removes a completed install job, failing USER if it has not
// reached InstallJob.Complete.
func (m *Manager) DeleteJob(ctx context.Context, tenantID, jobID string) error {
	job, err := m.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return NewNotFoundError(fmt.Sprintf("job %s not found for tenant %s", jobID, tenantID), err)
	}
	if !job.Complete {
		return NewUserError(fmt.Sprintf("job %s is not complete", jobID), ErrJobNotComplete)
	}
	if err := m.jobs.Delete(ctx, tenantID, jobID); err != nil {
		return NewInternalError("delete job", err)
	}
	return nil
}

// EnableAndDisableModule is the single-module convenience path: it resolves
// moduleFrom/moduleTo, checks the resulting dependency/conflict set against
// the tenant's other enabled modules, then drives the same section 4.6
// four-phase hook sequence InstallEngine uses per plan item. Returns the
// target module id, or "" when both moduleFrom and moduleTo are empty.
func (m *Manager) EnableAndDisableModule(ctx context.Context, tenantID string, opts install.Options, moduleFrom, moduleTo string) (string, error) {
	if moduleFrom == "" && moduleTo == "" {
		return "", nil
	}

	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}

	working, err := m.resolveEnabledModules(ctx, tenantID, tenant)
	if err != nil {
		return "", NewInternalError("resolve enabled modules", err)
	}
	trial := map[string]*ports.ModuleDescriptor{}
	for _, md := range working {
		trial[md.ID] = md
	}
	if moduleFrom != "" {
		delete(trial, moduleFrom)
	}
	var item depresolver.PlanItem
	if moduleTo != "" {
		mdTo, err := m.modules.Get(ctx, moduleTo)
		if err != nil {
			return "", NewUserError(fmt.Sprintf("module %s not found", moduleTo), err)
		}
		if moduleFrom == "" {
			// A bare enable (no explicit upgrade-from) must not collide with
			// any module of the same name already enabled, including itself
			// — at most one module per name may be enabled at a time, and
			// re-enabling what is already enabled is "already provided", not
			// a no-op.
			if existing := tenant.EnabledWithNamePrefix(mdTo.Name + "-"); existing != "" {
				return "", NewUserError(fmt.Sprintf("tenant %s already has %s provided", tenantID, existing), ErrModuleAlreadyProvided)
			}
		}
		trial[moduleTo] = mdTo
		item = depresolver.PlanItem{Action: depresolver.ActionEnable, ID: moduleTo, From: moduleFrom}
	} else {
		item = depresolver.PlanItem{Action: depresolver.ActionDisable, ID: moduleFrom}
	}

	if fail := depresolver.CheckAllDependencies(trial); !fail.Empty() {
		return "", NewUserError(fail.String(), ErrMissingDependency)
	}
	if fail := depresolver.CheckAllConflicts(trial); !fail.Empty() {
		return "", NewUserError(fail.String(), ErrConflictingModules)
	}

	ctx = install.ContextWithOptions(ctx, opts)
	message, err := m.applyPlanItem(ctx, tenantID, item)
	if err != nil {
		return "", NewInternalError("apply module change", err)
	}
	if message != "" {
		return "", NewUserError(message, ErrConflictingModules)
	}
	if moduleTo != "" {
		return moduleTo, nil
	}
	return "", nil
}

// ListInterfaces lists every interface the tenant's enabled modules provide,
// optionally filtered by interfaceType (InterfaceType("") matches any type),
// deduplicated by (id, version) unless full is set.
func (m *Manager) ListInterfaces(ctx context.Context, tenantID string, full bool, interfaceType ports.InterfaceType) ([]ports.InterfaceDescriptor, error) {
	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	modules, err := m.resolveEnabledModules(ctx, tenantID, tenant)
	if err != nil {
		return nil, NewInternalError("resolve enabled modules", err)
	}

	seen := map[string]bool{}
	var out []ports.InterfaceDescriptor
	for _, md := range modules {
		for _, p := range md.Provides {
			if interfaceType != "" && p.InterfaceType != interfaceType {
				continue
			}
			if !full {
				key := p.ID + "@" + p.Version
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// ListModulesFromInterface returns the ids of the tenant's enabled modules
// that provide interfaceName, optionally filtered by interfaceType.
func (m *Manager) ListModulesFromInterface(ctx context.Context, tenantID, interfaceName string, interfaceType ports.InterfaceType) ([]string, error) {
	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	modules, err := m.resolveEnabledModules(ctx, tenantID, tenant)
	if err != nil {
		return nil, NewInternalError("resolve enabled modules", err)
	}
	var ids []string
	for _, md := range modules {
		for _, p := range md.Provides {
			if p.ID != interfaceName {
				continue
			}
			if interfaceType != "" && p.InterfaceType != interfaceType {
				continue
			}
			ids = append(ids, md.ID)
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetModuleUser returns the ids of every tenant that currently has moduleID
// enabled.
func (m *Manager) GetModuleUser(ctx context.Context, moduleID string) ([]string, error) {
	ids, err := m.tenants.Keys(ctx)
	if err != nil {
		return nil, NewInternalError("list tenants", err)
	}
	var users []string
	for _, id := range ids {
		t, err := m.getTenant(ctx, id)
		if err != nil {
			continue
		}
		if t.IsEnabled(moduleID) {
			users = append(users, id)
		}
	}
	return users, nil
}

// UpgradeOkapiModule promotes each tenant's enabled "okapi-*" module to
// ownModuleID, the running gateway's own module id, but only when ownModuleID
// is strictly newer per moduleid.Compare; it never downgrades. This is a
// direct enabled-set swap, not a hook-driven install: it runs once at
// startup to migrate tenants forward across a gateway binary upgrade, before
// any tenant traffic or timer has a chance to observe the old id.
func (m *Manager) UpgradeOkapiModule(ctx context.Context, ownModuleID string) error {
	ids, err := m.tenants.Keys(ctx)
	if err != nil {
		return NewInternalError("list tenants", err)
	}
	const okapiPrefix = "okapi-"
	for _, id := range ids {
		t, err := m.getTenant(ctx, id)
		if err != nil {
			continue
		}
		current := t.EnabledWithNamePrefix(okapiPrefix)
		if current == "" {
			continue
		}
		if moduleid.Compare(ownModuleID, current) != moduleid.Greater {
			continue
		}
		if err := m.commitSwap(ctx, id, current, ownModuleID); err != nil {
			m.log.Warn("okapi module upgrade failed", "tenant", id, "from", current, "to", ownModuleID, "err", err)
			continue
		}
		m.log.Info("okapi module upgraded", "tenant", id, "from", current, "to", ownModuleID)
	}
	return nil
}

// --- internal helpers --------------------------------------------------

func (m *Manager) getTenant(ctx context.Context, id string) (*Tenant, error) {
	v, err := m.tenants.GetNotFound(ctx, id)
	if err != nil {
		if errors.Is(err, replicatedmap.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("tenant %s not found", id), ErrTenantNotFound)
		}
		return nil, NewInternalError("read tenant", err)
	}
	return v.clone(), nil
}

// resolveEnabledModules returns the tenant's enabled module descriptors,
// rebuilding the cache first if it has never been built for this tenant.
func (m *Manager) resolveEnabledModules(ctx context.Context, tenantID string, tenant *Tenant) ([]*ports.ModuleDescriptor, error) {
	if modules, ok := m.cache.Modules(tenantID); ok {
		return modules, nil
	}
	if err := m.cache.Rebuild(ctx, tenantID, tenant.ListModules()); err != nil {
		return nil, err
	}
	modules, _ := m.cache.Modules(tenantID)
	return modules, nil
}

func findPermissionsModule(modules []*ports.ModuleDescriptor) *ports.ModuleDescriptor {
	for _, md := range modules {
		if md.SystemInterface(tenantPermissionsInterfaceID) != nil {
			return md
		}
	}
	return nil
}

// noopProxyContext is used for hook calls the facade originates itself
// (install jobs, startup migrations) rather than ones made on behalf of an
// inbound tenant request, so there is no response trace header to forward.
type noopProxyContext struct{}

func (noopProxyContext) PassTraceHeaders(map[string][]string) {}

// tenantViewAdapter implements install.TenantView over the facade.
type tenantViewAdapter struct{ m *Manager }

func (a tenantViewAdapter) EnabledModuleIDs(ctx context.Context, tenantID string) ([]string, bool, error) {
	t, err := a.m.getTenant(ctx, tenantID)
	if err != nil {
		if lerr, ok := err.(*Error); ok && lerr.Type == ErrorTypeNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return t.ListModules(), true, nil
}

// usageCheckerAdapter implements install.UsageChecker over the facade.
type usageCheckerAdapter struct{ m *Manager }

func (a usageCheckerAdapter) ModuleInUse(ctx context.Context, moduleID string) (bool, error) {
	users, err := a.m.GetModuleUser(ctx, moduleID)
	if err != nil {
		return false, err
	}
	return len(users) > 0, nil
}

// tenantModulesAdapter implements timer.TenantModules over the facade's
// module cache. It deliberately never rebuilds: the timer scheduler fires
// far more often than the cache changes, and a rebuild here would put a
// ModuleManager round trip on the timer hot path.
type tenantModulesAdapter struct{ m *Manager }

func (a tenantModulesAdapter) EnabledModules(tenantID string) ([]*ports.ModuleDescriptor, bool) {
	return a.m.cache.Modules(tenantID)
}

// jobNotifierAdapter implements install.JobNotifier by publishing a
// module-change-shaped "tenantID jobID" payload to TopicInstallCompleted.
type jobNotifierAdapter struct{ m *Manager }

func (a jobNotifierAdapter) NotifyJobComplete(ctx context.Context, tenantID, jobID string) {
	_ = a.m.bus.Publish(ctx, eventbus.TopicInstallCompleted, tenantID+" "+jobID)
}

// hookApplierAdapter implements install.HookApplier by delegating to the
// facade's own section-4.6 ordering logic, so the job-driven path and the
// single-module EnableAndDisableModule path share one implementation.
type hookApplierAdapter struct{ m *Manager }

func (a hookApplierAdapter) Apply(ctx context.Context, tenantID string, item depresolver.PlanItem) (string, error) {
	return a.m.applyPlanItem(ctx, tenantID, item)
}

// applyPlanItem drives one plan item through section 4.6's hook ordering and
// commits the resulting enabled-set change. It reads Parameters/Purge off
// ctx via install.OptionsFromContext, since HookApplier.Apply's signature is
// shared with InstallEngine and does not carry job options directly.
func (m *Manager) applyPlanItem(ctx context.Context, tenantID string, item depresolver.PlanItem) (string, error) {
	opts := install.OptionsFromContext(ctx)

	switch item.Action {
	case depresolver.ActionUptodate:
		return "", nil
	case depresolver.ActionConflict:
		return item.Message, nil
	case depresolver.ActionEnable:
		return "", m.applyEnable(ctx, tenantID, item, opts)
	case depresolver.ActionDisable:
		return "", m.applyDisable(ctx, tenantID, item, opts)
	default:
		return fmt.Sprintf("unknown plan action %q for module %s", item.Action, item.ID), nil
	}
}

func (m *Manager) applyEnable(ctx context.Context, tenantID string, item depresolver.PlanItem, opts install.Options) error {
	target, err := m.modules.Get(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("resolve target module %s: %w", item.ID, err)
	}
	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	enabledBefore := tenant.ListModules()
	current, err := m.resolveEnabledModules(ctx, tenantID, tenant)
	if err != nil {
		return fmt.Errorf("resolve currently enabled modules: %w", err)
	}

	pc := noopProxyContext{}
	if target.SystemInterface(tenantPermissionsInterfaceID) != nil {
		if err := m.hooks.InvokeTenantHook(ctx, tenantID, target, target.ID, item.From, false, opts.Parameters, pc); err != nil {
			return fmt.Errorf("invoke _tenant hook on %s: %w", target.ID, err)
		}
		for _, otherID := range enabledBefore {
			if otherID == item.From {
				continue
			}
			other := findModuleByID(current, otherID)
			if other == nil {
				continue
			}
			if err := m.hooks.InvokePermissionsHook(ctx, tenantID, target, other.ID, other.PermissionSets, other.ExpandedPermissionSets, pc); err != nil {
				return fmt.Errorf("announce %s permissions to %s: %w", other.ID, target.ID, err)
			}
		}
		if err := m.hooks.InvokePermissionsHook(ctx, tenantID, target, target.ID, target.PermissionSets, target.ExpandedPermissionSets, pc); err != nil {
			return fmt.Errorf("announce %s's own permissions: %w", target.ID, err)
		}
	} else {
		if permsModule := findPermissionsModule(current); permsModule != nil {
			if err := m.hooks.InvokePermissionsHook(ctx, tenantID, permsModule, target.ID, target.PermissionSets, target.ExpandedPermissionSets, pc); err != nil {
				return fmt.Errorf("announce %s permissions to %s: %w", target.ID, permsModule.ID, err)
			}
		}
		if err := m.hooks.InvokeTenantHook(ctx, tenantID, target, target.ID, item.From, false, opts.Parameters, pc); err != nil {
			return fmt.Errorf("invoke _tenant hook on %s: %w", target.ID, err)
		}
	}

	return m.commitSwap(ctx, tenantID, item.From, item.ID)
}

func (m *Manager) applyDisable(ctx context.Context, tenantID string, item depresolver.PlanItem, opts install.Options) error {
	target, err := m.modules.Get(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("resolve target module %s: %w", item.ID, err)
	}
	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	current, err := m.resolveEnabledModules(ctx, tenantID, tenant)
	if err != nil {
		return fmt.Errorf("resolve currently enabled modules: %w", err)
	}

	pc := noopProxyContext{}
	if target.SystemInterface(tenantPermissionsInterfaceID) == nil {
		if permsModule := findPermissionsModule(current); permsModule != nil {
			if err := m.hooks.InvokePermissionsHook(ctx, tenantID, permsModule, target.ID, target.PermissionSets, target.ExpandedPermissionSets, pc); err != nil {
				return fmt.Errorf("announce %s permissions to %s: %w", target.ID, permsModule.ID, err)
			}
		}
	}
	if err := m.hooks.InvokeTenantHook(ctx, tenantID, target, "", item.ID, opts.Purge, opts.Parameters, pc); err != nil {
		return fmt.Errorf("invoke _tenant hook on %s: %w", target.ID, err)
	}

	return m.commitSwap(ctx, tenantID, item.ID, "")
}

func findModuleByID(modules []*ports.ModuleDescriptor, id string) *ports.ModuleDescriptor {
	for _, md := range modules {
		if md.ID == id {
			return md
		}
	}
	return nil
}

// commitSwap is the shared enabled-set commit for enable/disable/swap: it
// disables oldID (if set), enables newID (if set), persists to the Store and
// the ReplicatedMap, rebuilds the module cache, rearms timers, and publishes
// a module-change notification.
func (m *Manager) commitSwap(ctx context.Context, tenantID, oldID, newID string) error {
	tenant, err := m.getTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if oldID != "" {
		tenant.disableModule(oldID)
	}
	if newID != "" {
		tenant.enableModule(newID, nowRFC3339())
	}

	if ok, err := m.store.UpdateModules(ctx, tenantID, tenant.Enabled); err != nil {
		return fmt.Errorf("persist enabled-module change to store: %w", err)
	} else if !ok {
		return NewNotFoundError(fmt.Sprintf("tenant %s not found", tenantID), ErrTenantNotFound)
	}
	if err := m.tenants.Put(ctx, tenantID, *tenant); err != nil {
		return fmt.Errorf("persist enabled-module change to replicated map: %w", err)
	}
	if err := m.cache.Rebuild(ctx, tenantID, tenant.ListModules()); err != nil {
		m.log.Warn("module cache rebuild failed after commit", "tenant", tenantID, "err", err)
	}
	if oldID != "" && newID == "" {
		m.timers.StopModule(tenantID, oldID)
	}
	m.timers.RearmTenant(ctx, tenantID)

	if newID != "" {
		_ = m.bus.Publish(ctx, eventbus.TopicModuleEnabled, tenantID+" "+newID)
	} else {
		_ = m.bus.Publish(ctx, eventbus.TopicModuleDisabled, tenantID+" "+oldID)
	}
	return nil
}

func translateInstallError(err error) error {
	switch {
	case errors.Is(err, install.ErrTenantNotFound):
		return NewNotFoundError(err.Error(), ErrTenantNotFound)
	case errors.Is(err, install.ErrPlanItemMissingAction):
		return NewUserError(err.Error(), ErrPlanItemMissingAction)
	default:
		return NewInternalError("install/upgrade job failed", err)
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
