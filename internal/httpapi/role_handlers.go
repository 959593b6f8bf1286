package httpapi

import (
	"net/http"
	"strings"

	"auditcore.org/internal/rbac"
)

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRole(w, r)
	case http.MethodGet:
		a.listRoles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.ensureCapability(w, r, rbac.CapManageRoles)
	if !ok {
		return
	}
	var def rbac.RoleDefinition
	if err := decodeJSON(w, r, &def); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), def)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "role.created", map[string]any{
		"role_id":    role.ID,
		"role_name":  role.Name,
		"created_by": identity.UserID,
	})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := rbac.IdentityFromContext(r.Context()); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	q := r.URL.Query()
	roles, err := a.rbac.ListRoles(r.Context(), q.Get("department_id"), q.Get("active_only") == "true")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// handleRoleResource serves /v1/roles/{id} and /v1/roles/{id}/deactivate.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "role id is required")
		return
	}
	roleID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "deactivate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		identity, ok := a.ensureCapability(w, r, rbac.CapManageRoles)
		if !ok {
			return
		}
		if err := a.rbac.DeactivateRole(r.Context(), roleID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, "role.deactivated", map[string]any{
			"role_id":        roleID,
			"deactivated_by": identity.UserID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"role_id": roleID, "is_active": false})
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) handlePermissionGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permission_groups": rbac.PermissionGroups()})
}

func (a *API) handleRoleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_templates": rbac.RoleTemplates()})
}
