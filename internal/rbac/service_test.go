package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"auditcore.org/internal/rbac"
	"auditcore.org/internal/store/memory"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *rbac.Service
	store *memory.Store
	now   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := baseTime
	store := memory.NewStore()
	svc, err := rbac.NewService(store, rbac.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, store: store, now: &now}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *fixture) user(t *testing.T, email string, role rbac.PrimaryRole, dept string) rbac.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), email, "Test User", "s3cret-pw", string(role), dept)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *fixture) role(t *testing.T, def rbac.RoleDefinition) rbac.Role {
	t.Helper()
	role, err := f.svc.CreateRole(context.Background(), def)
	if err != nil {
		t.Fatalf("create role %s: %v", def.Name, err)
	}
	return role
}

func TestAssignmentActiveAtExpiryBoundary(t *testing.T) {
	expiry := baseTime
	a := rbac.UserRoleAssignment{
		IsActive:      true,
		EffectiveDate: baseTime.AddDate(0, 0, -30),
		ExpiryDate:    &expiry,
	}
	if a.ActiveAt(baseTime) {
		t.Fatal("assignment whose expiry equals now must already be expired")
	}
	if !a.ActiveAt(baseTime.Add(-time.Second)) {
		t.Fatal("assignment must be active one second before expiry")
	}
}

func TestAssignmentActiveAtPendingApproval(t *testing.T) {
	a := rbac.UserRoleAssignment{
		IsActive:         true,
		EffectiveDate:    baseTime.AddDate(0, 0, -1),
		RequiresApproval: true,
	}
	if a.ActiveAt(baseTime) {
		t.Fatal("pending dual-approval assignment must not be active")
	}
	a.ApprovedBy = "approver-1"
	if !a.ActiveAt(baseTime) {
		t.Fatal("approved assignment must be active")
	}
}

func TestCreateRoleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRole(ctx, rbac.RoleDefinition{
		Name: "Bad Scope", IsGlobal: true, DepartmentID: "dept-1",
		Capabilities: []rbac.Capability{rbac.CapCreateAudits},
	})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("global+department role: got %v, want ErrInvalidInput", err)
	}

	_, err = f.svc.CreateRole(ctx, rbac.RoleDefinition{Name: "Empty"})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("role without capabilities: got %v, want ErrInvalidInput", err)
	}

	_, err = f.svc.CreateRole(ctx, rbac.RoleDefinition{
		Name:         "Unknown Cap",
		Capabilities: []rbac.Capability{"launch_rockets"},
	})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("unknown capability: got %v, want ErrInvalidInput", err)
	}

	role := f.role(t, rbac.RoleDefinition{
		Name:         "Lead Auditor",
		FromTemplate: "lead_auditor",
		Capabilities: []rbac.Capability{rbac.CapExportData},
	})
	if !role.Capabilities.Has(rbac.CapConductAssessments) {
		t.Fatal("template expansion missing conduct_assessments")
	}
	if !role.Capabilities.Has(rbac.CapExportData) {
		t.Fatal("explicit capability must union with the template")
	}

	_, err = f.svc.CreateRole(ctx, rbac.RoleDefinition{
		Name:         "lead auditor",
		Capabilities: []rbac.Capability{rbac.CapCreateAudits},
	})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("duplicate role name: got %v, want ErrConflict", err)
	}
}

func TestAssignTemporaryDefaultsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")
	role := f.role(t, rbac.RoleDefinition{
		Name:              "Temp Reviewer",
		Capabilities:      []rbac.Capability{rbac.CapViewAssignedAudits},
		MaxAssignmentDays: 90,
	})

	a, err := f.svc.Assign(ctx, rbac.AssignmentRequest{
		UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID, IsTemporary: true,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.ExpiryDate == nil {
		t.Fatal("temporary assignment must get a default expiry")
	}
	want := baseTime.AddDate(0, 0, 90)
	if !a.ExpiryDate.Equal(want) {
		t.Fatalf("expiry = %v, want %v", a.ExpiryDate, want)
	}
}

func TestAssignRejectsExpiryBeyondRoleMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")
	role := f.role(t, rbac.RoleDefinition{
		Name:              "Short Lived",
		Capabilities:      []rbac.Capability{rbac.CapViewAssignedAudits},
		MaxAssignmentDays: 30,
	})

	tooLate := baseTime.AddDate(0, 0, 31)
	_, err := f.svc.Assign(ctx, rbac.AssignmentRequest{
		UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID, ExpiryDate: &tooLate,
	})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("over-max expiry: got %v, want ErrInvalidInput", err)
	}

	backwards := baseTime.AddDate(0, 0, -1)
	_, err = f.svc.Assign(ctx, rbac.AssignmentRequest{
		UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID, ExpiryDate: &backwards,
	})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("expiry before effective: got %v, want ErrInvalidInput", err)
	}
}

func TestAssignSegregationOfDuties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")

	requester := f.role(t, rbac.RoleDefinition{
		Name:         "Purchase Requester",
		Capabilities: []rbac.Capability{rbac.CapCreateCAPA},
	})
	approver := f.role(t, rbac.RoleDefinition{
		Name:              "Purchase Approver",
		Capabilities:      []rbac.Capability{rbac.CapCloseCAPA},
		IncompatibleRoles: []string{requester.ID},
	})

	if _, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: requester.ID, AssignedBy: admin.ID}); err != nil {
		t.Fatalf("assign requester: %v", err)
	}

	// the new role declares the held role incompatible
	_, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: approver.ID, AssignedBy: admin.ID})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("incompatible assignment: got %v, want ErrConflict", err)
	}

	// duplicate active role also conflicts
	_, err = f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: requester.ID, AssignedBy: admin.ID})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("duplicate active role: got %v, want ErrConflict", err)
	}

	// the held role declaring the new role incompatible blocks the reverse
	// direction too
	other := f.user(t, "other@acme.test", rbac.RoleAuditor, "dept-1")
	if _, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: other.ID, RoleID: approver.ID, AssignedBy: admin.ID}); err != nil {
		t.Fatalf("assign approver: %v", err)
	}
	_, err = f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: other.ID, RoleID: requester.ID, AssignedBy: admin.ID})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("reverse incompatibility: got %v, want ErrConflict", err)
	}
}

func TestDualApprovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	second := f.user(t, "second@acme.test", rbac.RoleAuditManager, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")
	role := f.role(t, rbac.RoleDefinition{
		Name:                 "Privileged Reviewer",
		Capabilities:         []rbac.Capability{rbac.CapApproveReports},
		RequiresDualApproval: true,
	})

	a, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !a.RequiresApproval {
		t.Fatal("dual-approval role must yield a pending assignment")
	}
	if a.ActiveAt(baseTime) {
		t.Fatal("pending assignment must not confer capabilities")
	}

	// Rejecting approver == assigner is a deliberate policy choice
	// (segregation of duties), not a compatibility constraint.
	if _, err := f.svc.Approve(ctx, a.ID, admin.ID); !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("self-approval: got %v, want ErrInvalidInput", err)
	}

	approved, err := f.svc.Approve(ctx, a.ID, second.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.ApprovedBy != second.ID || approved.ApprovalDate == nil {
		t.Fatalf("approval trail not stamped: %+v", approved)
	}
	if !approved.ActiveAt(baseTime) {
		t.Fatal("approved assignment must be active")
	}

	// approving twice is a no-op that keeps the original approver
	again, err := f.svc.Approve(ctx, a.ID, admin.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if again.ApprovedBy != second.ID {
		t.Fatalf("second approve rewrote the approver: %s", again.ApprovedBy)
	}
}

func TestDeactivateAssignmentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")
	role := f.role(t, rbac.RoleDefinition{
		Name:         "Reviewer",
		Capabilities: []rbac.Capability{rbac.CapViewAssignedAudits},
	})
	a, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	first, err := f.svc.Deactivate(ctx, a.ID, admin.ID, "offboarding")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if first.IsActive || first.DeactivationDate == nil {
		t.Fatalf("deactivation trail not stamped: %+v", first)
	}

	f.advance(time.Hour)
	second, err := f.svc.Deactivate(ctx, a.ID, "someone-else", "again")
	if err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if second.DeactivatedBy != admin.ID {
		t.Fatalf("repeat deactivation rewrote the trail: %+v", second)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")

	if err := f.svc.DeleteUser(ctx, admin.ID, admin.ID, "cleanup"); !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("self-deletion: got %v, want ErrInvalidInput", err)
	}

	if err := f.svc.DeleteUser(ctx, user.ID, admin.ID, "left the company"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := f.svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("deleted user must stay resolvable: %v", err)
	}
	if !got.IsDeleted || got.DeletedBy != admin.ID {
		t.Fatalf("deletion trail not stamped: %+v", got)
	}

	// repeat delete is a no-op
	if err := f.svc.DeleteUser(ctx, user.ID, admin.ID, "again"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	users, err := f.svc.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, u := range users {
		if u.ID == user.ID {
			t.Fatal("default listing must exclude soft-deleted users")
		}
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "aud@acme.test", rbac.RoleAuditor, "dept-1")

	if _, err := f.svc.Authenticate(ctx, "AUD@acme.test", "s3cret-pw"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, user.Email, "wrong"); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("wrong password: got %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Authenticate(ctx, "nobody@acme.test", "s3cret-pw"); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("unknown email: got %v, want ErrForbidden", err)
	}

	if err := f.svc.DeleteUser(ctx, user.ID, admin.ID, "offboarded"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, user.Email, "s3cret-pw"); !errors.Is(err, rbac.ErrAccountDeactivated) {
		t.Fatalf("deleted user login: got %v, want ErrAccountDeactivated", err)
	}
	// the fixed error wins even when the credential check would fail first
	if _, err := f.svc.Authenticate(ctx, user.Email, ""); !errors.Is(err, rbac.ErrAccountDeactivated) {
		t.Fatalf("deleted user with empty password: got %v, want ErrAccountDeactivated", err)
	}
	if _, err := f.svc.Authenticate(ctx, user.Email, "wrong"); !errors.Is(err, rbac.ErrAccountDeactivated) {
		t.Fatalf("deleted user with wrong password: got %v, want ErrAccountDeactivated", err)
	}
}

func TestEffectiveCapabilitiesFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	user := f.user(t, "mgr@acme.test", rbac.RoleAuditManager, "dept-1")

	// no matrix assignments: static primary-role capabilities apply
	caps, global, err := f.svc.EffectiveCapabilities(ctx, user)
	if err != nil {
		t.Fatalf("effective capabilities: %v", err)
	}
	if !caps.Has(rbac.CapViewAllAudits) {
		t.Fatal("audit_manager fallback must include view_all_audits")
	}
	if global {
		t.Fatal("fallback scope is global only for system_admin")
	}

	// an active matrix assignment replaces the fallback entirely
	role := f.role(t, rbac.RoleDefinition{
		Name:              "Doc Only",
		Capabilities:      []rbac.Capability{rbac.CapUploadDocuments},
		MaxAssignmentDays: 30,
	})
	if _, err := f.svc.Assign(ctx, rbac.AssignmentRequest{UserID: user.ID, RoleID: role.ID, AssignedBy: admin.ID, IsTemporary: true}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	caps, _, err = f.svc.EffectiveCapabilities(ctx, user)
	if err != nil {
		t.Fatalf("effective capabilities: %v", err)
	}
	if caps.Has(rbac.CapViewAllAudits) {
		t.Fatal("matrix assignment must supersede the primary-role fallback")
	}
	if !caps.Has(rbac.CapUploadDocuments) {
		t.Fatal("assigned role capability missing")
	}

	// expiry flips the user back to the fallback lazily, no sweep involved
	f.advance(31 * 24 * time.Hour)
	caps, _, err = f.svc.EffectiveCapabilities(ctx, user)
	if err != nil {
		t.Fatalf("effective capabilities: %v", err)
	}
	if !caps.Has(rbac.CapViewAllAudits) {
		t.Fatal("fallback must apply again once assignments lapse")
	}
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin@acme.test", rbac.RoleSystemAdmin, "")
	viewer := f.user(t, "viewer@acme.test", rbac.RoleViewer, "dept-1")

	if err := f.svc.Authorize(ctx, admin.ID, rbac.CapManageRoles); err != nil {
		t.Fatalf("system_admin must hold every capability: %v", err)
	}
	if err := f.svc.Authorize(ctx, viewer.ID, rbac.CapManageRoles); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("viewer manage_roles: got %v, want ErrForbidden", err)
	}
	if err := f.svc.DeleteUser(ctx, viewer.ID, admin.ID, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Authorize(ctx, viewer.ID, rbac.CapViewAssignedAudits); !errors.Is(err, rbac.ErrAccountDeactivated) {
		t.Fatalf("deleted user authorize: got %v, want ErrAccountDeactivated", err)
	}
}
