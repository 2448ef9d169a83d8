package depresolver

import (
	"testing"

	"github.com/modgateway/lifecycle/ports"
)

func mod(id string, requires []ports.RequiredInterface, provides ...ports.InterfaceDescriptor) *ports.ModuleDescriptor {
	return &ports.ModuleDescriptor{ID: id, Name: id, Requires: requires, Provides: provides}
}

func iface(id, version string, kind ports.InterfaceType) ports.InterfaceDescriptor {
	return ports.InterfaceDescriptor{ID: id, Version: version, InterfaceType: kind}
}

func TestCheckAllDependenciesSatisfied(t *testing.T) {
	mods := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "1.0"}}),
		"storage-1.0.0": mod("storage-1.0.0", nil, iface("storage", "1.0", ports.InterfaceTypeSystem)),
	}
	fail := CheckAllDependencies(mods)
	if !fail.Empty() {
		t.Errorf("expected no failures, got %v", fail)
	}
}

func TestCheckAllDependenciesUnmet(t *testing.T) {
	mods := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "2.0"}}),
		"storage-1.0.0": mod("storage-1.0.0", nil, iface("storage", "1.0", ports.InterfaceTypeSystem)),
	}
	fail := CheckAllDependencies(mods)
	if fail.Empty() {
		t.Fatal("expected an unmet dependency")
	}
	if len(fail.Unmet) != 1 {
		t.Errorf("expected exactly 1 unmet message, got %d: %v", len(fail.Unmet), fail.Unmet)
	}
}

func TestCheckAllDependenciesIgnoresOptional(t *testing.T) {
	d := mod("users-1.0.0", nil)
	d.Optional = []ports.RequiredInterface{{ID: "reporting", MinVersion: "9.0"}}
	mods := map[string]*ports.ModuleDescriptor{"users-1.0.0": d}
	fail := CheckAllDependencies(mods)
	if !fail.Empty() {
		t.Errorf("optional requirements must never fail the check, got %v", fail)
	}
}

func TestCheckAllConflicts(t *testing.T) {
	mods := map[string]*ports.ModuleDescriptor{
		"a-1.0.0": mod("a-1.0.0", nil, iface("users", "1.0", ports.InterfaceTypeProxy)),
		"b-1.0.0": mod("b-1.0.0", nil, iface("users", "1.0", ports.InterfaceTypeProxy)),
	}
	fail := CheckAllConflicts(mods)
	if fail.Empty() {
		t.Fatal("expected a conflict between a-1.0.0 and b-1.0.0 over interface users")
	}
}

func TestCheckAllConflictsIgnoresMultiple(t *testing.T) {
	mods := map[string]*ports.ModuleDescriptor{
		"a-1.0.0": mod("a-1.0.0", nil, iface("events", "1.0", ports.InterfaceTypeMultiple)),
		"b-1.0.0": mod("b-1.0.0", nil, iface("events", "1.0", ports.InterfaceTypeMultiple)),
	}
	fail := CheckAllConflicts(mods)
	if !fail.Empty() {
		t.Errorf("multiple-type interfaces must never conflict, got %v", fail)
	}
}

func TestCheckAllConflictsIgnoresSystemInterfaces(t *testing.T) {
	mods := map[string]*ports.ModuleDescriptor{
		"a-1.0.0": mod("a-1.0.0", nil, iface("_tenant", "1.0", ports.InterfaceTypeSystem)),
		"b-1.0.0": mod("b-1.0.0", nil, iface("_tenant", "1.0", ports.InterfaceTypeSystem)),
	}
	fail := CheckAllConflicts(mods)
	if !fail.Empty() {
		t.Errorf("two modules each providing their own _tenant hook must never conflict, got %v", fail)
	}
}

func TestInstallSimulatePullsInDependencyClosure(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0":   mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "1.0"}}),
		"storage-1.0.0": mod("storage-1.0.0", nil, iface("storage", "1.0", ports.InterfaceTypeSystem)),
	}
	enabled := map[string]*ports.ModuleDescriptor{}
	plan := []PlanItem{{Action: ActionEnable, ID: "users-1.0.0"}}

	result := InstallSimulate(available, enabled, plan)

	byID := map[string]PlanItem{}
	for _, item := range result {
		byID[item.ID] = item
	}
	if _, ok := byID["storage-1.0.0"]; !ok {
		t.Fatalf("expected storage-1.0.0 to be pulled in as a dependency, got %v", result)
	}
	if _, ok := byID["users-1.0.0"]; !ok {
		t.Fatalf("expected users-1.0.0 in result, got %v", result)
	}
	storageIdx, usersIdx := indexOf(result, "storage-1.0.0"), indexOf(result, "users-1.0.0")
	if storageIdx > usersIdx {
		t.Errorf("expected storage-1.0.0 (a dependency) before users-1.0.0 in topological order, got %v", result)
	}
}

func TestInstallSimulateConflictWhenUnsatisfiable(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "1.0"}}),
	}
	plan := []PlanItem{{Action: ActionEnable, ID: "users-1.0.0"}}

	result := InstallSimulate(available, map[string]*ports.ModuleDescriptor{}, plan)

	if len(result) != 1 || result[0].Action != ActionConflict {
		t.Fatalf("expected a single conflict item, got %v", result)
	}
}

func TestInstallSimulateCascadesDisable(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0":   mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "1.0"}}),
		"storage-1.0.0": mod("storage-1.0.0", nil, iface("storage", "1.0", ports.InterfaceTypeSystem)),
	}
	enabled := map[string]*ports.ModuleDescriptor{
		"users-1.0.0":   available["users-1.0.0"],
		"storage-1.0.0": available["storage-1.0.0"],
	}
	plan := []PlanItem{{Action: ActionDisable, ID: "storage-1.0.0"}}

	result := InstallSimulate(available, enabled, plan)

	found := false
	for _, item := range result {
		if item.ID == "users-1.0.0" && item.Action == ActionDisable {
			found = true
		}
	}
	if !found {
		t.Errorf("expected users-1.0.0 to be cascade-disabled, got %v", result)
	}
}

func TestInstallSimulateConflictsWhenUpgradeBreaksADependant(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": mod("users-1.0.0", nil, iface("users", "1.0", ports.InterfaceTypeProxy)),
		"users-1.1.0": mod("users-1.1.0", nil, iface("users", "2.0", ports.InterfaceTypeProxy)),
		"mod-A-1.0.0": mod("mod-A-1.0.0", []ports.RequiredInterface{{ID: "users", MinVersion: "1.0"}}),
	}
	enabled := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": available["users-1.0.0"],
		"mod-A-1.0.0": available["mod-A-1.0.0"],
	}
	plan := []PlanItem{{Action: ActionEnable, ID: "users-1.1.0", From: "users-1.0.0"}}

	result := InstallSimulate(available, enabled, plan)

	if len(result) != 1 || result[0].Action != ActionConflict || result[0].ID != "users-1.1.0" {
		t.Fatalf("expected the upgrade item itself marked conflict, got %v", result)
	}
}

func TestInstallSimulateAllowsCompatibleUpgrade(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": mod("users-1.0.0", nil, iface("users", "1.0", ports.InterfaceTypeProxy)),
		"users-1.1.0": mod("users-1.1.0", nil, iface("users", "1.1", ports.InterfaceTypeProxy)),
		"mod-A-1.0.0": mod("mod-A-1.0.0", []ports.RequiredInterface{{ID: "users", MinVersion: "1.0"}}),
	}
	enabled := map[string]*ports.ModuleDescriptor{
		"users-1.0.0": available["users-1.0.0"],
		"mod-A-1.0.0": available["mod-A-1.0.0"],
	}
	plan := []PlanItem{{Action: ActionEnable, ID: "users-1.1.0", From: "users-1.0.0"}}

	result := InstallSimulate(available, enabled, plan)

	for _, item := range result {
		if item.Action == ActionConflict {
			t.Fatalf("upgrade that still satisfies mod-A-1.0.0 must not conflict, got %v", result)
		}
	}
}

func TestInstallSimulateIsIdempotent(t *testing.T) {
	available := map[string]*ports.ModuleDescriptor{
		"users-1.0.0":   mod("users-1.0.0", []ports.RequiredInterface{{ID: "storage", MinVersion: "1.0"}}),
		"storage-1.0.0": mod("storage-1.0.0", nil, iface("storage", "1.0", ports.InterfaceTypeSystem)),
	}
	enabled := map[string]*ports.ModuleDescriptor{}
	plan := []PlanItem{{Action: ActionEnable, ID: "users-1.0.0"}}

	once := InstallSimulate(available, enabled, plan)

	enabledAfterOnce := map[string]*ports.ModuleDescriptor{}
	for _, item := range once {
		if item.Action == ActionEnable {
			enabledAfterOnce[item.ID] = available[item.ID]
		}
	}
	twice := InstallSimulate(available, enabledAfterOnce, nil)

	if len(twice) != 0 {
		t.Errorf("expected re-simulating over an already-consistent enabled set to be a no-op, got %v", twice)
	}
}

func indexOf(items []PlanItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
