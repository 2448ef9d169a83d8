// Package timer arms and fires the periodic routing entries a module
// declares on its _timer system interface. Firing happens on at most one
// gateway instance cluster-wide per interval, gated by a leader check taken
// at fire time, not at arm time — a non-leader instance still re-arms so it
// is ready to take over the moment it becomes leader.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/modgateway/lifecycle/ports"
)

// Key identifies one armed timer: a tenant's module's routing entry,
// numbered from 1 within that module's _timer interface.
type Key struct {
	TenantID string
	ModuleID string
	Seq      int
}

// TenantModules resolves, for a tenant, the set of enabled module
// descriptors the Scheduler should derive timers from. It is the
// Scheduler's only dependency on tenant/module state, kept narrow so this
// package never needs to import the facade.
type TenantModules interface {
	// EnabledModules returns the currently enabled module descriptors for
	// tenantID, or (nil, false) if the tenant no longer exists.
	EnabledModules(tenantID string) ([]*ports.ModuleDescriptor, bool)
}

const timerInterfaceID = "_timer"

// Scheduler arms, fires, and re-arms per-(tenant,module,seq) timers. The
// zero value is not usable; build one with New.
type Scheduler struct {
	proxy     ports.Proxy
	discovery ports.DiscoveryManager
	modules   TenantModules

	mu     sync.Mutex
	timers map[Key]context.CancelFunc
}

// New builds a Scheduler. modules resolves live tenant/module state at fire
// time; proxy delivers the synthesized request; discovery answers the
// leader check.
func New(proxy ports.Proxy, discovery ports.DiscoveryManager, modules TenantModules) *Scheduler {
	return &Scheduler{
		proxy:     proxy,
		discovery: discovery,
		modules:   modules,
		timers:    make(map[Key]context.CancelFunc),
	}
}

// RearmTenant enumerates tenantID's enabled modules' _timer routing entries
// and arms every one not already in the timers set. Called on tenant
// rebuild (module enable/disable commit, bootstrap) and on every "timer"
// event bus message carrying this tenant id.
func (s *Scheduler) RearmTenant(ctx context.Context, tenantID string) {
	modules, ok := s.modules.EnabledModules(tenantID)
	if !ok {
		return
	}
	for _, md := range modules {
		iface := md.SystemInterface(timerInterfaceID)
		if iface == nil {
			continue
		}
		for i, entry := range iface.RoutingEntries {
			seq := i + 1
			if entry.DelayMillis <= 0 || entry.StaticPath == "" {
				continue
			}
			key := Key{TenantID: tenantID, ModuleID: md.ID, Seq: seq}
			s.arm(ctx, key, time.Duration(entry.DelayMillis)*time.Millisecond)
		}
	}
}

// arm inserts key into the timers set and starts its goroutine, unless it
// is already present — at most one outstanding delay per (tenant,module,seq)
// per process.
func (s *Scheduler) arm(ctx context.Context, key Key, delay time.Duration) {
	s.mu.Lock()
	if _, armed := s.timers[key]; armed {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.timers[key] = cancel
	s.mu.Unlock()

	go s.run(runCtx, key, delay)
}

func (s *Scheduler) run(ctx context.Context, key Key, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	s.fire(ctx, key)
}

// fire re-resolves the tenant and module; if either is gone, or the routing
// entry no longer exists at that seq, it de-registers the key and stops.
// Otherwise, only when this process is the cluster leader, it sends the
// synthesized request, then unconditionally re-arms for another interval —
// a stale non-leader process re-arms too, so it is ready the moment
// leadership changes.
func (s *Scheduler) fire(ctx context.Context, key Key) {
	modules, ok := s.modules.EnabledModules(key.TenantID)
	if !ok {
		s.deregister(key)
		return
	}
	var target *ports.ModuleDescriptor
	for _, md := range modules {
		if md.ID == key.ModuleID {
			target = md
			break
		}
	}
	if target == nil {
		s.deregister(key)
		return
	}
	iface := target.SystemInterface(timerInterfaceID)
	if iface == nil || key.Seq < 1 || key.Seq > len(iface.RoutingEntries) {
		s.deregister(key)
		return
	}
	entry := iface.RoutingEntries[key.Seq-1]
	if entry.DelayMillis <= 0 || entry.StaticPath == "" {
		s.deregister(key)
		return
	}

	if leader, err := s.discovery.IsLeader(ctx); err == nil && leader {
		s.sendTick(ctx, key, target, entry)
	}

	s.rearm(ctx, key, time.Duration(entry.DelayMillis)*time.Millisecond)
}

func (s *Scheduler) sendTick(ctx context.Context, key Key, md *ports.ModuleDescriptor, entry ports.RoutingEntry) {
	method := ports.MethodPost
	if entry.MatchMethod(ports.MethodGet) && !entry.MatchMethod(ports.MethodPost) {
		method = ports.MethodGet
	}
	instance := ports.ModuleInstance{
		Module:     md,
		Entry:      &entry,
		Path:       entry.StaticPath,
		Method:     method,
		SystemCall: true,
	}
	_, _ = s.proxy.DoCallSystemInterface(ctx, nil, key.TenantID, "", instance, "")
}

// rearm replaces the outstanding goroutine for key with a fresh one,
// carrying the cancellation forward so Stop still works after re-arming.
func (s *Scheduler) rearm(ctx context.Context, key Key, delay time.Duration) {
	s.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	s.timers[key] = cancel
	s.mu.Unlock()

	go s.run(runCtx, key, delay)
}

func (s *Scheduler) deregister(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.timers[key]; ok {
		cancel()
		delete(s.timers, key)
	}
}

// StopTenant cancels and de-registers every armed key for tenantID, called
// on tenant deletion.
func (s *Scheduler) StopTenant(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cancel := range s.timers {
		if key.TenantID == tenantID {
			cancel()
			delete(s.timers, key)
		}
	}
}

// StopModule cancels and de-registers every armed key for (tenantID,
// moduleID), called when that module is disabled for the tenant.
func (s *Scheduler) StopModule(tenantID, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cancel := range s.timers {
		if key.TenantID == tenantID && key.ModuleID == moduleID {
			cancel()
			delete(s.timers, key)
		}
	}
}

// Armed reports whether a given key currently has an outstanding delay in
// this process. Exposed for tests; the scheduler itself never needs to ask.
func (s *Scheduler) Armed(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}
