// Package depresolver implements the pure dependency-checking and
// install-plan expansion functions the tenant lifecycle core uses before it
// commits any change to a tenant's enabled-module set. Every function here
// is a pure computation over a module id -> descriptor map; none of them
// touch a store, a proxy, or the clock.
package depresolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modgateway/lifecycle/moduleid"
	"github.com/modgateway/lifecycle/ports"
)

// Action names a single plan item's intent, mirroring the original's
// TenantModuleDescriptor.action values.
type Action string

const (
	ActionEnable   Action = "enable"
	ActionDisable  Action = "disable"
	ActionUptodate Action = "uptodate"
	ActionConflict Action = "conflict"
)

// PlanItem is one entry of an install plan: enable id (optionally upgrading
// from), disable id, or a conflict the resolver could not satisfy.
type PlanItem struct {
	Action  Action
	ID      string
	From    string // previous module id, set for enable-as-upgrade
	Message string // set only when Action == ActionConflict
}

// DependencyFailure is the structured form of checkAllDependencies /
// checkAllConflicts's result, kept internal to this package and stringified
// once at Error()'s call site. The original core returns a concatenated
// string directly; this core keeps the structure until the boundary per the
// REDESIGN note that calls for a typed failure instead of ad hoc
// concatenation.
type DependencyFailure struct {
	Unmet       []string // "<module> requires <iface> <op> <version>, provided <actual|none>"
	Conflicting []string // "<iface> is provided by <a> and <b>"
}

// Empty reports whether the failure carries no messages, i.e. the check
// passed.
func (f DependencyFailure) Empty() bool {
	return len(f.Unmet) == 0 && len(f.Conflicting) == 0
}

// String concatenates all messages with ". " the way the original's
// checkDependencies/checkConflicts build their return string, so callers
// that want the legacy single-string shape still get it verbatim.
func (f DependencyFailure) String() string {
	all := make([]string, 0, len(f.Unmet)+len(f.Conflicting))
	all = append(all, f.Unmet...)
	all = append(all, f.Conflicting...)
	return strings.Join(all, ". ")
}

// CheckAllDependencies verifies that every required interface declared by
// any module in mods is provided, at a satisfying version, by some module in
// mods. Optional requirements are never a source of failure: they are not
// checked here, and InstallSimulate does not read them either.
func CheckAllDependencies(mods map[string]*ports.ModuleDescriptor) DependencyFailure {
	var fail DependencyFailure
	provided := indexProvided(mods)
	for _, mod := range sortedModules(mods) {
		for _, req := range mod.Requires {
			if !satisfiedBy(provided, req) {
				fail.Unmet = append(fail.Unmet, unmetMessage(mod, req, provided))
			}
		}
	}
	return fail
}

// CheckAllConflicts verifies that no two modules in mods provide the same
// non-multiple interface id.
func CheckAllConflicts(mods map[string]*ports.ModuleDescriptor) DependencyFailure {
	var fail DependencyFailure
	providers := map[string][]string{} // interface id -> module ids providing it non-multiply
	for _, mod := range sortedModules(mods) {
		for _, p := range mod.Provides {
			// Multiple-type interfaces are explicitly shareable. System
			// interfaces (_tenant, _tenantPermissions, _timer, ...) are each
			// implemented privately per module for that module's own
			// lifecycle hooks; they are never a capability one module
			// "owns" on a tenant's behalf, so two modules both providing
			// _tenant is normal, not a conflict.
			if p.InterfaceType == ports.InterfaceTypeMultiple || p.InterfaceType == ports.InterfaceTypeSystem {
				continue
			}
			providers[p.ID] = append(providers[p.ID], mod.ID)
		}
	}
	for ifaceID, owners := range providers {
		if len(owners) < 2 {
			continue
		}
		sort.Strings(owners)
		fail.Conflicting = append(fail.Conflicting,
			fmt.Sprintf("interface %s is provided by both %s and %s", ifaceID, owners[0], owners[1]))
	}
	sort.Strings(fail.Conflicting)
	return fail
}

func indexProvided(mods map[string]*ports.ModuleDescriptor) map[string][]*ports.InterfaceDescriptor {
	idx := map[string][]*ports.InterfaceDescriptor{}
	for _, mod := range mods {
		for i := range mod.Provides {
			p := &mod.Provides[i]
			idx[p.ID] = append(idx[p.ID], p)
		}
	}
	return idx
}

func satisfiedBy(provided map[string][]*ports.InterfaceDescriptor, req ports.RequiredInterface) bool {
	for _, p := range provided[req.ID] {
		if interfaceVersionSatisfies(p.Version, req.MinVersion) {
			return true
		}
	}
	return false
}

// interfaceVersionSatisfies reports whether actual satisfies a minimum
// "major.minor" requirement: same major, actual >= min. Interface versions
// are not full module ids, so this is a lighter check than moduleid.Compare
// over module ids — it only ever looks at the major.minor pair.
func interfaceVersionSatisfies(actual, min string) bool {
	aMaj, aMin := splitMajorMinor(actual)
	mMaj, mMin := splitMajorMinor(min)
	if aMaj != mMaj {
		return false
	}
	return aMin >= mMin
}

func splitMajorMinor(v string) (int, int) {
	parts := strings.SplitN(v, ".", 2)
	maj, min := 0, 0
	fmt.Sscanf(parts[0], "%d", &maj)
	if len(parts) > 1 {
		fmt.Sscanf(parts[1], "%d", &min)
	}
	return maj, min
}

func unmetMessage(mod *ports.ModuleDescriptor, req ports.RequiredInterface, provided map[string][]*ports.InterfaceDescriptor) string {
	actual := "none"
	if ps := provided[req.ID]; len(ps) > 0 {
		versions := make([]string, 0, len(ps))
		for _, p := range ps {
			versions = append(versions, p.Version)
		}
		sort.Strings(versions)
		actual = strings.Join(versions, ",")
	}
	return fmt.Sprintf("module %s requires interface %s version %s, provided %s",
		mod.ID, req.ID, req.MinVersion, actual)
}

func sortedModules(mods map[string]*ports.ModuleDescriptor) []*ports.ModuleDescriptor {
	out := make([]*ports.ModuleDescriptor, 0, len(mods))
	for _, m := range mods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstallSimulate expands a possibly-incomplete enable/disable plan into a
// self-consistent one: every enable pulls in its unsatisfied required
// dependencies (latest acceptable provider, tie broken by moduleid.Latest's
// semver-then-id rule), and every disable cascades to whatever else in the
// resulting enabled set would no longer have its requirements met. Items
// that cannot be satisfied are rewritten to ActionConflict with a message
// instead of being dropped. The result lists enables first, in topological
// order (an enabled module appears after every module its Requires closure
// pulled in), then the plan's own uptodate and disable items in plan order,
// then cascaded disables, then conflicts.
//
// InstallSimulate is idempotent: re-running it over its own output changes
// nothing, since the enabled set it starts from already contains every
// dependency the plan would otherwise add.
func InstallSimulate(available, enabled map[string]*ports.ModuleDescriptor, plan []PlanItem) []PlanItem {
	working := cloneSet(enabled)
	var conflicts []PlanItem

	// Apply explicit disables first so a subsequent enable in the same plan
	// can replace a module being disabled without tripping a false conflict.
	for _, item := range plan {
		if item.Action != ActionDisable {
			continue
		}
		if _, ok := working[item.ID]; ok {
			delete(working, item.ID)
		}
	}

	// Apply explicit enables, pulling in their dependency closure.
	var order []string // insertion order of ids newly present in `working`, for topological output
	seen := map[string]bool{}
	for id := range enabled {
		seen[id] = true
	}

	var addErr []PlanItem
	for _, item := range plan {
		if item.Action != ActionEnable {
			continue
		}
		// An enable with From set is an upgrade-in-place. If some other
		// already-working module depends on an interface only the old
		// version provides, and the new version does not provide a
		// satisfying replacement, the upgrade itself is the thing that
		// cannot be satisfied — mark it conflict rather than silently
		// cascading a disable onto the dependant.
		if item.From != "" {
			if msg := breaksReplacement(available, working, item.From, item.ID); msg != "" {
				addErr = append(addErr, PlanItem{Action: ActionConflict, ID: item.ID, From: item.From, Message: msg})
				continue
			}
			delete(working, item.From)
		}
		added, err := addWithDependencies(available, working, item.ID, seen, &order)
		if err != "" {
			addErr = append(addErr, PlanItem{Action: ActionConflict, ID: item.ID, Message: err})
			continue
		}
		_ = added
	}
	conflicts = append(conflicts, addErr...)

	// Cascade-disable anything in `working` whose requirements are no longer
	// met now that the explicit disables above have run.
	cascaded := cascadeDisable(working)

	result := make([]PlanItem, 0, len(plan)+len(order)+len(cascaded)+len(conflicts))
	for _, id := range order {
		from := ""
		for _, item := range plan {
			if item.Action == ActionEnable && moduleid.Parse(item.ID).Name == moduleid.Parse(id).Name && item.ID == id {
				from = item.From
			}
		}
		result = append(result, PlanItem{Action: ActionEnable, ID: id, From: from})
	}
	for _, item := range plan {
		if item.Action == ActionUptodate || item.Action == ActionDisable {
			result = append(result, PlanItem{Action: item.Action, ID: item.ID, From: item.From})
		}
	}
	for _, id := range cascaded {
		result = append(result, PlanItem{Action: ActionDisable, ID: id})
	}
	for _, item := range plan {
		if item.Action == ActionConflict {
			result = append(result, item)
		}
	}
	result = append(result, conflicts...)
	return result
}

// addWithDependencies enables id in working (if not already) and recursively
// enables every Requires dependency it needs but does not yet have, using
// the latest acceptable provider when more than one candidate satisfies a
// requirement. Returns a non-empty error message if id is unknown or a
// requirement cannot be satisfied by anything in available.
func addWithDependencies(available, working map[string]*ports.ModuleDescriptor, id string, seen map[string]bool, order *[]string) (bool, string) {
	mod, ok := available[id]
	if !ok {
		return false, fmt.Sprintf("module %s is not available", id)
	}
	if _, already := working[id]; already {
		return true, ""
	}
	for _, req := range mod.Requires {
		if satisfiedByWorking(working, req) {
			continue
		}
		candidate := bestCandidate(available, req)
		if candidate == "" {
			return false, fmt.Sprintf("module %s requires interface %s version %s which no available module provides",
				id, req.ID, req.MinVersion)
		}
		if ok, err := addWithDependencies(available, working, candidate, seen, order); !ok {
			return false, err
		}
	}
	working[id] = mod
	if !seen[id] {
		seen[id] = true
		*order = append(*order, id)
	}
	return true, ""
}

// breaksReplacement reports whether swapping fromID for toID within working
// would leave some other module already in working unable to satisfy one of
// its own Requires, returning a human-readable message naming the first one
// found (in id order), or "" if the swap is safe or toID is unavailable
// (handled by the caller's subsequent addWithDependencies call instead).
func breaksReplacement(available, working map[string]*ports.ModuleDescriptor, fromID, toID string) string {
	newMod, ok := available[toID]
	if !ok {
		return ""
	}
	trial := make(map[string]*ports.ModuleDescriptor, len(working))
	for id, mod := range working {
		if id == fromID {
			continue
		}
		trial[id] = mod
	}
	trial[toID] = newMod

	for _, id := range sortedIDs(working) {
		if id == fromID {
			continue
		}
		for _, req := range working[id].Requires {
			if !satisfiedByWorking(trial, req) {
				return fmt.Sprintf("upgrading %s to %s would leave %s with an unmet dependency on interface %s version %s",
					fromID, toID, id, req.ID, req.MinVersion)
			}
		}
	}
	return ""
}

func satisfiedByWorking(working map[string]*ports.ModuleDescriptor, req ports.RequiredInterface) bool {
	for _, mod := range working {
		for _, p := range mod.Provides {
			if p.ID == req.ID && interfaceVersionSatisfies(p.Version, req.MinVersion) {
				return true
			}
		}
	}
	return false
}

// bestCandidate returns the id of the available module best satisfying req,
// breaking ties across candidate ids with moduleid.Latest's semver-then-id
// rule.
func bestCandidate(available map[string]*ports.ModuleDescriptor, req ports.RequiredInterface) string {
	var candidates []string
	for id, mod := range available {
		for _, p := range mod.Provides {
			if p.ID == req.ID && interfaceVersionSatisfies(p.Version, req.MinVersion) {
				candidates = append(candidates, id)
				break
			}
		}
	}
	return moduleid.Latest(candidates)
}

// cascadeDisable removes from working, in repeated passes, any module whose
// Requires are no longer fully satisfied, returning the ids removed in the
// order removed: a module whose own requirement broke is removed before the
// modules that depend on it, which only lose their provider in a later pass.
func cascadeDisable(working map[string]*ports.ModuleDescriptor) []string {
	var removed []string
	for {
		drop := ""
		for _, id := range sortedIDs(working) {
			mod := working[id]
			needsDrop := false
			for _, req := range mod.Requires {
				if !satisfiedByWorking(working, req) {
					needsDrop = true
					break
				}
			}
			if needsDrop {
				drop = id
				break
			}
		}
		if drop == "" {
			return removed
		}
		delete(working, drop)
		removed = append(removed, drop)
	}
}

func sortedIDs(mods map[string]*ports.ModuleDescriptor) []string {
	ids := make([]string, 0, len(mods))
	for id := range mods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneSet(mods map[string]*ports.ModuleDescriptor) map[string]*ports.ModuleDescriptor {
	out := make(map[string]*ports.ModuleDescriptor, len(mods))
	for k, v := range mods {
		out[k] = v
	}
	return out
}
