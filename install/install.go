// Package install drives an install/upgrade job's plan items through their
// stages: pending, deploy, invoke, and finally done or undeploy. It owns job
// staging and persistence; it delegates the actual per-module hook
// invocation and tenant-state commit (the four-phase order of the _tenant
// and _tenantPermissions hooks) to a HookApplier the caller supplies, since
// that step needs tenant and permissions-module knowledge this package does
// not carry.
package install

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/modgateway/lifecycle/depresolver"
	"github.com/modgateway/lifecycle/jobstore"
	"github.com/modgateway/lifecycle/moduleid"
	"github.com/modgateway/lifecycle/obslog"
	"github.com/modgateway/lifecycle/ports"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ErrTenantNotFound is returned by InstallUpgradeCreate when tenantID does
// not exist.
var ErrTenantNotFound = errors.New("install: tenant not found")

// ErrPlanItemMissingAction is returned when a caller-supplied plan item has
// no action set.
var ErrPlanItemMissingAction = errors.New("install: plan item is missing an action")

// Options configures one installUpgradeCreate call.
type Options struct {
	Deploy       bool   // auto-deploy/undeploy module artifacts via the proxy
	Async        bool   // return the job immediately rather than at completion
	Simulate     bool   // return the simulated plan without persisting a job
	IgnoreErrors bool   // record per-item failures and continue instead of aborting
	PreRelease   bool   // include pre-release modules when computing `available`
	NpmSnapshot  bool   // include npm-snapshot modules when computing `available`
	Parameters   string // comma-separated k=v tenant parameters for the _tenant 1.2 hook
	Purge        bool   // DELETE instead of POST the _tenant hook for disabled modules
}

// TenantView resolves the minimal tenant state InstallEngine needs: whether
// a tenant exists, and which module ids it currently has enabled.
type TenantView interface {
	EnabledModuleIDs(ctx context.Context, tenantID string) ([]string, bool, error)
}

type optionsContextKey struct{}

// ContextWithOptions attaches opts to ctx so a HookApplier can recover
// per-job settings (Parameters, Purge) that Apply's signature does not carry
// directly, without widening the HookApplier interface for two fields only
// the facade's hook ordering logic needs.
func ContextWithOptions(ctx context.Context, opts Options) context.Context {
	return context.WithValue(ctx, optionsContextKey{}, opts)
}

// OptionsFromContext recovers Options attached by ContextWithOptions, or the
// zero value if none was attached.
func OptionsFromContext(ctx context.Context) Options {
	opts, _ := ctx.Value(optionsContextKey{}).(Options)
	return opts
}

// HookApplier performs step 6's "invoke" sub-step for one plan item: the
// §4.6 hook call ordering plus the tenant enabled-set commit. It returns a
// non-empty message describing a failure of the item instead of an error;
// the engine records the message on the plan item and aborts the job
// unless Options.IgnoreErrors is set.
type HookApplier interface {
	Apply(ctx context.Context, tenantID string, item depresolver.PlanItem) (message string, err error)
}

// UsageChecker reports whether any tenant still has moduleID enabled, used
// to decide whether step 7 should auto-undeploy it.
type UsageChecker interface {
	ModuleInUse(ctx context.Context, moduleID string) (bool, error)
}

// JobNotifier is told when an install/upgrade job reaches its terminal
// stage, letting the caller fan that out (e.g. onto an event bus) without
// this package needing to know what an event bus is.
type JobNotifier interface {
	NotifyJobComplete(ctx context.Context, tenantID, jobID string)
}

// Engine drives install/upgrade jobs through InstallUpgradeCreate.
type Engine struct {
	manager ports.ModuleManager
	proxy   ports.Proxy
	jobs    *jobstore.Store
	tenants TenantView
	hooks   HookApplier
	usage   UsageChecker
	notify  JobNotifier
	log     obslog.Logger
}

// New builds an Engine from its collaborators. notify may be nil when the
// caller has no use for job-completion notifications. log may be
// obslog.Noop{} when the caller does not want engine-level log output.
func New(manager ports.ModuleManager, proxy ports.Proxy, jobs *jobstore.Store, tenants TenantView, hooks HookApplier, usage UsageChecker, notify JobNotifier, log obslog.Logger) *Engine {
	return &Engine{manager: manager, proxy: proxy, jobs: jobs, tenants: tenants, hooks: hooks, usage: usage, notify: notify, log: log}
}

// InstallUpgradeCreate runs the full install/upgrade/disable job for one
// tenant: it validates the request, computes the available and enabled
// module sets, expands or validates the plan, then (unless Options.Simulate)
// persists a job and drives every item through deploy/invoke/done.
func (e *Engine) InstallUpgradeCreate(ctx context.Context, tenantID, jobID string, opts Options, plan []depresolver.PlanItem) (jobstore.InstallJob, error) {
	for _, item := range plan {
		if item.Action == "" {
			return jobstore.InstallJob{}, ErrPlanItemMissingAction
		}
	}

	enabledIDs, exists, err := e.tenants.EnabledModuleIDs(ctx, tenantID)
	if err != nil {
		return jobstore.InstallJob{}, err
	}
	if !exists {
		return jobstore.InstallJob{}, ErrTenantNotFound
	}

	availableList, err := e.manager.GetModulesWithFilter(ctx, opts.PreRelease, opts.NpmSnapshot, "")
	if err != nil {
		return jobstore.InstallJob{}, err
	}
	available := make(map[string]*ports.ModuleDescriptor, len(availableList))
	for _, md := range availableList {
		available[md.ID] = md
	}

	enabled := map[string]*ports.ModuleDescriptor{}
	for _, id := range enabledIDs {
		if md, ok := available[id]; ok {
			enabled[id] = md
		}
	}

	if plan == nil {
		plan = synthesizeUpgradeAll(available, enabled)
	}

	simulated := depresolver.InstallSimulate(available, enabled, plan)
	if opts.Simulate {
		return jobstore.InstallJob{TenantID: tenantID, ID: jobID, Modules: toJobModules(simulated)}, nil
	}

	job := jobstore.InstallJob{
		ID:       jobID,
		TenantID: tenantID,
		Modules:  toJobModules(simulated),
	}
	for i := range job.Modules {
		job.Modules[i].Stage = jobstore.StagePending
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return jobstore.InstallJob{}, err
	}

	runJob := func() {
		e.runJob(context.WithoutCancel(ctx), &job, available, opts)
	}
	if opts.Async {
		go runJob()
		return job, nil
	}
	runJob()
	return job, nil
}

func synthesizeUpgradeAll(available, enabled map[string]*ports.ModuleDescriptor) []depresolver.PlanItem {
	byName := map[string][]string{}
	for id, md := range available {
		byName[md.Name] = append(byName[md.Name], id)
	}

	var plan []depresolver.PlanItem
	for id, md := range enabled {
		latest := moduleid.Latest(byName[md.Name])
		if latest == id {
			plan = append(plan, depresolver.PlanItem{Action: depresolver.ActionUptodate, ID: id})
			continue
		}
		plan = append(plan, depresolver.PlanItem{Action: depresolver.ActionEnable, ID: latest, From: id})
	}
	return plan
}

func toJobModules(plan []depresolver.PlanItem) []jobstore.TenantModuleDescriptor {
	mods := make([]jobstore.TenantModuleDescriptor, len(plan))
	for i, item := range plan {
		mods[i] = jobstore.TenantModuleDescriptor{
			ID: item.ID, From: item.From, Action: item.Action, Message: item.Message,
		}
	}
	return mods
}

// runJob drives job.Modules through deploy/invoke/done, persisting after
// every stage transition so progress is visible to any other instance
// polling the job.
func (e *Engine) runJob(ctx context.Context, job *jobstore.InstallJob, available map[string]*ports.ModuleDescriptor, opts Options) {
	ctx = ContextWithOptions(ctx, opts)
	var ignored *multierror.Error

	for i := range job.Modules {
		item := &job.Modules[i]
		if item.Action == depresolver.ActionConflict {
			item.Stage = jobstore.StageDone
			continue
		}

		if opts.Deploy && (item.Action == depresolver.ActionEnable || item.Action == depresolver.ActionUptodate) {
			item.Stage = jobstore.StageDeploy
			_ = e.jobs.Update(ctx, *job)
			if md, ok := available[item.ID]; ok {
				if err := e.proxy.AutoDeploy(ctx, md); err != nil {
					item.Message = fmt.Sprintf("deploy failed: %v", err)
					ignored = multierror.Append(ignored, fmt.Errorf("%s: %w", item.ID, err))
					if !opts.IgnoreErrors {
						break
					}
					continue
				}
			}
		}

		item.Stage = jobstore.StageInvoke
		_ = e.jobs.Update(ctx, *job)
		planItem := depresolver.PlanItem{Action: item.Action, ID: item.ID, From: item.From}
		message, err := e.hooks.Apply(ctx, job.TenantID, planItem)
		if err != nil {
			item.Message = fmt.Sprintf("hook invocation failed: %v", err)
			ignored = multierror.Append(ignored, fmt.Errorf("%s: %w", item.ID, err))
			if !opts.IgnoreErrors {
				break
			}
			continue
		}
		if message != "" {
			item.Message = message
			ignored = multierror.Append(ignored, fmt.Errorf("%s: %s", item.ID, message))
			if !opts.IgnoreErrors {
				break
			}
			continue
		}
		item.Stage = jobstore.StageDone
	}

	if opts.Deploy {
		e.autoUndeployUnused(ctx, job, available)
	}

	job.EndDate = nowRFC3339()
	job.Complete = true
	_ = e.jobs.Update(ctx, *job)
	if e.notify != nil {
		e.notify.NotifyJobComplete(ctx, job.TenantID, job.ID)
	}

	if ignored != nil {
		e.log.Warn("job completed with ignored errors", "tenant", job.TenantID, "job", job.ID, "ignored", len(ignored.Errors), "err", ignored)
	} else {
		e.log.Info("job completed", "tenant", job.TenantID, "job", job.ID)
	}
}

// autoUndeployUnused asks the proxy to undeploy every disabled module in
// this job's plan that no tenant still has enabled, concurrently across
// items via an errgroup, and awaits the whole batch before the engine
// advances the job to its terminal stage.
func (e *Engine) autoUndeployUnused(ctx context.Context, job *jobstore.InstallJob, available map[string]*ports.ModuleDescriptor) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range job.Modules {
		item := &job.Modules[i]
		if item.Action != depresolver.ActionDisable {
			continue
		}
		md, ok := available[item.ID]
		if !ok {
			continue
		}
		item.Stage = jobstore.StageUndeploy
		g.Go(func() error {
			inUse, err := e.usage.ModuleInUse(gctx, md.ID)
			if err != nil || inUse {
				return err
			}
			return e.proxy.AutoUndeploy(gctx, md)
		})
	}
	_ = g.Wait() // undeploy failures never fail the job; the module stays deployed but disabled for this tenant

	for i := range job.Modules {
		if job.Modules[i].Stage == jobstore.StageUndeploy {
			job.Modules[i].Stage = jobstore.StageDone
		}
	}
}
