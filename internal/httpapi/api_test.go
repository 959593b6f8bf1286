package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auditcore.org/internal/rbac"
	"auditcore.org/internal/store/memory"
)

type testEnv struct {
	api     *API
	handler http.Handler
	svc     *rbac.Service
	admin   rbac.User
}

const testPassword = "s3cret-pw"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("AUDITCORE_AUTH_SECRET", "test-secret")
	rbac.ResetSecretForTests()
	t.Cleanup(rbac.ResetSecretForTests)

	svc, err := rbac.NewService(memory.NewStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	admin, err := svc.CreateUser(context.Background(), "admin@acme.test", "Root Admin", testPassword, "system_admin", "")
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc)
	return &testEnv{api: api, handler: api.Handler(), svc: svc, admin: admin}
}

func (e *testEnv) user(t *testing.T, email, primaryRole, dept string) rbac.User {
	t.Helper()
	u, err := e.svc.CreateUser(context.Background(), email, "Test User", testPassword, primaryRole, dept)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func (e *testEnv) token(t *testing.T, u rbac.User) string {
	t.Helper()
	token, err := rbac.GenerateToken(rbac.Identity{
		UserID: u.ID, PrimaryRole: u.PrimaryRole, DepartmentID: u.DepartmentID,
	}, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := e.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthTokenEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email": "admin@acme.test", "password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}

	// the issued token must be accepted by protected routes
	if rec := e.do(t, http.MethodGet, "/v1/roles", resp.AccessToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("issued token rejected: %d", rec.Code)
	}

	if rec := e.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email": "admin@acme.test", "password": "wrong",
	}); rec.Code != http.StatusForbidden {
		t.Fatalf("bad password = %d, want 403", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/auth/token", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET token = %d, want 405", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/roles", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/v1/roles", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", rec.Code)
	}
}

func TestRoleLifecycle(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.token(t, e.admin)
	viewer := e.user(t, "viewer@acme.test", "viewer", "dept-1")

	body := map[string]any{
		"name":          "Lead Auditor",
		"from_template": "lead_auditor",
	}
	rec := e.do(t, http.MethodPost, "/v1/roles", adminToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create role = %d: %s", rec.Code, rec.Body.String())
	}
	var role rbac.Role
	decodeBody(t, rec, &role)
	if !role.Capabilities.Has(rbac.CapConductAssessments) {
		t.Fatalf("template not expanded: %v", role.Capabilities.Keys())
	}

	if rec := e.do(t, http.MethodPost, "/v1/roles", adminToken, body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate role = %d, want 409", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/v1/roles", e.token(t, viewer), body); rec.Code != http.StatusForbidden {
		t.Fatalf("viewer create role = %d, want 403", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/roles/"+role.ID+"/deactivate", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate role = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/v1/roles?active_only=true", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list roles = %d", rec.Code)
	}
	var listing struct {
		Roles []rbac.Role `json:"roles"`
	}
	decodeBody(t, rec, &listing)
	for _, r := range listing.Roles {
		if r.ID == role.ID {
			t.Fatal("deactivated role must not appear in active_only listing")
		}
	}
}

func TestCatalogEndpoints(t *testing.T) {
	e := newTestEnv(t)
	token := e.token(t, e.user(t, "viewer@acme.test", "viewer", "dept-1"))

	rec := e.do(t, http.MethodGet, "/v1/permission-groups", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("permission groups = %d", rec.Code)
	}
	var groups struct {
		PermissionGroups map[string]rbac.PermissionGroup `json:"permission_groups"`
	}
	decodeBody(t, rec, &groups)
	if _, ok := groups.PermissionGroups["audit_execution"]; !ok {
		t.Fatal("audit_execution group missing from catalog")
	}

	rec = e.do(t, http.MethodGet, "/v1/role-templates", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("role templates = %d", rec.Code)
	}
}

func TestAssignmentFlow(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.token(t, e.admin)
	second := e.user(t, "second@acme.test", "system_admin", "")
	target := e.user(t, "aud@acme.test", "auditor", "dept-1")

	rec := e.do(t, http.MethodPost, "/v1/roles", adminToken, map[string]any{
		"name":                   "Privileged Reviewer",
		"capabilities":           []string{"approve_reports"},
		"requires_dual_approval": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create role = %d: %s", rec.Code, rec.Body.String())
	}
	var role rbac.Role
	decodeBody(t, rec, &role)

	rec = e.do(t, http.MethodPost, "/v1/assignments", adminToken, map[string]any{
		"user_id": target.ID, "role_id": role.ID, "reason": "audit season",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create assignment = %d: %s", rec.Code, rec.Body.String())
	}
	var assignment rbac.UserRoleAssignment
	decodeBody(t, rec, &assignment)
	if !assignment.RequiresApproval || assignment.AssignedBy != e.admin.ID {
		t.Fatalf("assignment = %+v", assignment)
	}

	// the assigner is taken from the token, so approving with the same token
	// is self-approval
	rec = e.do(t, http.MethodPost, "/v1/assignments/"+assignment.ID+"/approve", adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self-approval = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/assignments/"+assignment.ID+"/approve", e.token(t, second), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/v1/assignments/"+assignment.ID+"/deactivate", adminToken, map[string]string{
		"reason": "rotation over",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s/assignments?include_inactive=true", target.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list assignments = %d", rec.Code)
	}
	var listing struct {
		Assignments []rbac.UserRoleAssignment `json:"assignments"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Assignments) != 1 || listing.Assignments[0].IsActive {
		t.Fatalf("assignments = %+v", listing.Assignments)
	}
}

func TestUserSelfReadAndDelete(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.token(t, e.admin)
	user := e.user(t, "aud@acme.test", "auditor", "dept-1")
	userToken := e.token(t, user)

	// users read themselves without manage_users
	if rec := e.do(t, http.MethodGet, "/v1/users/"+user.ID, userToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("self read = %d", rec.Code)
	}
	// but not each other
	if rec := e.do(t, http.MethodGet, "/v1/users/"+e.admin.ID, userToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("cross read = %d, want 403", rec.Code)
	}

	rec := e.do(t, http.MethodDelete, "/v1/users/"+user.ID, adminToken, map[string]string{
		"reason": "left the company",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}

	// soft-deleted: record stays resolvable, credentials stop working
	if rec := e.do(t, http.MethodGet, "/v1/users/"+user.ID, adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("read deleted = %d, want 200", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email": user.Email, "password": testPassword,
	}); rec.Code != http.StatusForbidden {
		t.Fatalf("deleted login = %d, want 403", rec.Code)
	}
}

func TestAccessCheckEndpoint(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.token(t, e.admin)
	insider := e.user(t, "insider@acme.test", "department_officer", "dept-1")
	outsider := e.user(t, "outsider@acme.test", "viewer", "dept-9")

	rec := e.do(t, http.MethodPut, "/v1/resources", adminToken, map[string]any{
		"resource_type": "audit",
		"resource_id":   "a-1",
		"department_id": "dept-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register resource = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/v1/access/check?resource_type=audit&resource_id=a-1", e.token(t, insider), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("insider check = %d: %s", rec.Code, rec.Body.String())
	}
	var decision rbac.Decision
	decodeBody(t, rec, &decision)
	if !decision.Allowed || decision.Reason != rbac.ReasonDepartmentMatch {
		t.Fatalf("insider decision = %+v", decision)
	}

	// denial is a 403 carrying the decision, not an error payload
	rec = e.do(t, http.MethodGet, "/v1/access/check?resource_type=audit&resource_id=a-1", e.token(t, outsider), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider check = %d, want 403", rec.Code)
	}
	decodeBody(t, rec, &decision)
	if decision.Allowed || decision.Reason != rbac.ReasonNoMatchingRule {
		t.Fatalf("outsider decision = %+v", decision)
	}

	// unknown resources are a 404, distinct from policy denial
	rec = e.do(t, http.MethodGet, "/v1/access/check?resource_type=audit&resource_id=missing", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown resource = %d, want 404", rec.Code)
	}
}

func TestOverrideEndpoints(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.token(t, e.admin)
	target := e.user(t, "target@acme.test", "viewer", "dept-9")

	rec := e.do(t, http.MethodPut, "/v1/resources", adminToken, map[string]any{
		"resource_type": "audit",
		"resource_id":   "a-1",
		"department_id": "dept-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register resource = %d", rec.Code)
	}

	// reason is mandatory
	rec = e.do(t, http.MethodPost, "/v1/overrides", adminToken, map[string]any{
		"resource_type": "audit", "resource_id": "a-1", "target_user_id": target.ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing reason = %d, want 400", rec.Code)
	}

	// non-admin callers cannot grant
	rec = e.do(t, http.MethodPost, "/v1/overrides", e.token(t, target), map[string]any{
		"resource_type": "audit", "resource_id": "a-1", "target_user_id": target.ID,
		"reason": "trying my luck",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin grant = %d, want 403", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/overrides", adminToken, map[string]any{
		"resource_type": "audit", "resource_id": "a-1", "target_user_id": target.ID,
		"reason": "incident INV-114 investigation",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant = %d: %s", rec.Code, rec.Body.String())
	}
	var rec1 rbac.OverrideRecord
	decodeBody(t, rec, &rec1)
	if rec1.GrantingAdminID != e.admin.ID {
		t.Fatalf("granting admin = %s, want %s", rec1.GrantingAdminID, e.admin.ID)
	}

	// elevated access takes effect immediately
	resp := e.do(t, http.MethodGet, "/v1/access/check?resource_type=audit&resource_id=a-1", e.token(t, target), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("override check = %d: %s", resp.Code, resp.Body.String())
	}
	var decision rbac.Decision
	decodeBody(t, resp, &decision)
	if decision.Reason != rbac.ReasonAdminOverride {
		t.Fatalf("decision = %+v", decision)
	}

	resp = e.do(t, http.MethodGet, "/v1/overrides?resource_type=audit&resource_id=a-1", adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list overrides = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "incident INV-114 investigation") {
		t.Fatalf("override trail missing reason: %s", resp.Body.String())
	}
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email": "admin@acme.test", "password": testPassword, "extra": "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", rec.Code)
	}
}
