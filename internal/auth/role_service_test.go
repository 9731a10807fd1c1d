package auth

import (
	"context"
	"strings"
	"testing"
)

func TestRoleService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.roleSvc.Create(ctx, CreateRoleInput{
		Name:        "DISPATCHER",
		Permissions: []string{PermDeliveriesRead, PermDeliveriesRead, PermTrucksAssign},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !role.Active || role.IsSystem {
		t.Errorf("Create() = active %v system %v, want active non-system", role.Active, role.IsSystem)
	}
	if len(role.Permissions) != 2 {
		t.Errorf("Permissions = %v, want duplicates collapsed", role.Permissions)
	}

	_, err = env.roleSvc.Create(ctx, CreateRoleInput{Name: "DISPATCHER"})
	if KindOf(err) != KindConflict || MessageOf(err) != "Role with this name already exists" {
		t.Errorf("Create() duplicate = %v", err)
	}

	_, err = env.roleSvc.Create(ctx, CreateRoleInput{Name: "BAD", Permissions: []string{PermUsersRead, "trucks.fly", "nope"}})
	if KindOf(err) != KindInvalidInput || MessageOf(err) != "Invalid permissions" {
		t.Fatalf("Create() bad permissions = %v", err)
	}
	details := DetailsOf(err)
	if len(details) != 2 || details[0] != `Permission "trucks.fly" does not exist` {
		t.Errorf("details = %v", details)
	}

	if _, err := env.roleSvc.Create(ctx, CreateRoleInput{Name: "  "}); KindOf(err) != KindInvalidInput {
		t.Errorf("Create() blank name kind = %v, want %v", KindOf(err), KindInvalidInput)
	}
}

func TestRoleService_SystemRolesAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	system := seedRole(t, env.db, RoleManager, true, GroupManager...)
	name := "RENAMED"

	_, err := env.roleSvc.Update(ctx, system.ID, UpdateRoleInput{Name: &name})
	if KindOf(err) != KindForbidden || MessageOf(err) != "Cannot modify system roles" {
		t.Errorf("Update() = %v", err)
	}
	err = env.roleSvc.SoftDelete(ctx, system.ID, 1)
	if KindOf(err) != KindForbidden || MessageOf(err) != "Cannot delete system roles" {
		t.Errorf("SoftDelete() = %v", err)
	}
	_, err = env.roleSvc.AssignPermissions(ctx, system.ID, []string{PermUsersRead})
	if KindOf(err) != KindForbidden || MessageOf(err) != "Cannot modify permissions of system roles" {
		t.Errorf("AssignPermissions() = %v", err)
	}

	got, _ := env.roleSvc.Get(ctx, system.ID)
	if got.Name != RoleManager || len(got.Permissions) != len(GroupManager) {
		t.Errorf("system role changed: %+v", got)
	}
}

func TestRoleService_Update(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role := seedRole(t, env.db, "CLERK", false, PermDeliveriesRead)
	seedRole(t, env.db, "TAKEN", false)

	taken := "TAKEN"
	if _, err := env.roleSvc.Update(ctx, role.ID, UpdateRoleInput{Name: &taken}); KindOf(err) != KindConflict {
		t.Errorf("Update() to taken name kind = %v, want %v", KindOf(err), KindConflict)
	}

	name, desc, inactive := "SENIOR_CLERK", "Handles more", false
	got, err := env.roleSvc.Update(ctx, role.ID, UpdateRoleInput{
		Name:        &name,
		Description: &desc,
		Permissions: []string{PermDeliveriesRead, PermDeliveriesUpdate},
		Active:      &inactive,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != name || got.Description != desc || got.Active || len(got.Permissions) != 2 {
		t.Errorf("Update() = %+v", got)
	}

	if _, err := env.roleSvc.Update(ctx, 999, UpdateRoleInput{}); KindOf(err) != KindNotFound {
		t.Errorf("Update(unknown) kind = %v, want %v", KindOf(err), KindNotFound)
	}
}

func TestRoleService_SoftDeleteRefusedWhileAssigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role := seedRole(t, env.db, "CLERK", false)
	office := seedOffice(t, env.db, "HQ")
	seedUser(t, env.db, "+993-11-111111", role.ID, &office.ID, nil)
	seedUser(t, env.db, "+993-11-222222", role.ID, &office.ID, nil)

	err := env.roleSvc.SoftDelete(ctx, role.ID, 1)
	if KindOf(err) != KindForbidden {
		t.Fatalf("SoftDelete() kind = %v, want %v", KindOf(err), KindForbidden)
	}
	if want := "Cannot delete role. 2 user(s) are assigned to this role"; MessageOf(err) != want {
		t.Errorf("SoftDelete() message = %q, want %q", MessageOf(err), want)
	}

	empty := seedRole(t, env.db, "EMPTY", false)
	if err := env.roleSvc.SoftDelete(ctx, empty.ID, 1); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if _, err := env.roleSvc.Get(ctx, empty.ID); KindOf(err) != KindNotFound {
		t.Errorf("Get() after delete kind = %v, want %v", KindOf(err), KindNotFound)
	}
}

func TestRoleService_MutationInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role := seedRole(t, env.db, "CLERK", false, PermDeliveriesRead)
	office := seedOffice(t, env.db, "HQ")
	user := seedUser(t, env.db, "+993-11-111111", role.ID, &office.ID, nil)
	p := &Principal{Claims: ClaimsFor(user)}

	if err := env.gate.Authorize(ctx, p, AnyOf(PermDeliveriesDelete), ScopeRequest{}); KindOf(err) != KindForbidden {
		t.Fatalf("Authorize() before grant kind = %v, want %v", KindOf(err), KindForbidden)
	}

	if _, err := env.roleSvc.AssignPermissions(ctx, role.ID, []string{PermDeliveriesRead, PermDeliveriesDelete}); err != nil {
		t.Fatalf("AssignPermissions() error = %v", err)
	}

	// Takes effect on the next request, well within the cache TTL.
	if err := env.gate.Authorize(ctx, p, AnyOf(PermDeliveriesDelete), ScopeRequest{}); err != nil {
		t.Errorf("Authorize() after grant error = %v", err)
	}

	inactive := false
	if _, err := env.roleSvc.Update(ctx, role.ID, UpdateRoleInput{Active: &inactive}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := env.gate.Authorize(ctx, p, AnyOf(PermDeliveriesRead), ScopeRequest{}); KindOf(err) != KindForbidden {
		t.Errorf("Authorize() with inactive role kind = %v, want %v", KindOf(err), KindForbidden)
	}
}

func TestRoleService_AssignPermissionsValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role := seedRole(t, env.db, "CLERK", false)

	if _, err := env.roleSvc.AssignPermissions(ctx, role.ID, nil); KindOf(err) != KindInvalidInput {
		t.Errorf("AssignPermissions(nil) kind = %v, want %v", KindOf(err), KindInvalidInput)
	}
	if _, err := env.roleSvc.AssignPermissions(ctx, role.ID, []string{"bogus"}); KindOf(err) != KindInvalidInput {
		t.Errorf("AssignPermissions(bogus) kind = %v, want %v", KindOf(err), KindInvalidInput)
	}
	got, err := env.roleSvc.AssignPermissions(ctx, role.ID, []string{})
	if err != nil {
		t.Fatalf("AssignPermissions(empty) error = %v", err)
	}
	if len(got.Permissions) != 0 {
		t.Errorf("Permissions = %v, want empty", got.Permissions)
	}
}

func TestRoleService_ListAndAvailablePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedRole(t, env.db, "A", false)
	inactive := false
	if _, err := env.roleSvc.Create(ctx, CreateRoleInput{Name: "B", Active: &inactive}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	all, err := env.roleSvc.List(ctx, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	active, _ := env.roleSvc.List(ctx, true)
	if len(all) != 2 || len(active) != 1 {
		t.Errorf("List() = %d all, %d active, want 2 and 1", len(all), len(active))
	}

	opts := env.roleSvc.AvailablePermissions()
	if len(opts) != len(AllPermissions()) {
		t.Fatalf("AvailablePermissions() = %d entries, want %d", len(opts), len(AllPermissions()))
	}
	for _, o := range opts {
		if o.Value == PermDeliveryPlacesCreate && o.Key != "DELIVERY_PLACES_CREATE" {
			t.Errorf("key for %s = %q, want DELIVERY_PLACES_CREATE", o.Value, o.Key)
		}
		if strings.ToUpper(o.Key) != o.Key {
			t.Errorf("key %q should be upper case", o.Key)
		}
	}
}
