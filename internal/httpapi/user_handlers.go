package httpapi

import (
	"net/http"
	"strings"

	"auditcore.org/internal/rbac"
)

type createUserRequest struct {
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Password     string `json:"password"`
	PrimaryRole  string `json:"primary_role"`
	DepartmentID string `json:"department_id"`
}

type deleteUserRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.ensureCapability(w, r, rbac.CapManageUsers)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), req.Email, req.FullName, req.Password, req.PrimaryRole, req.DepartmentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "user.created", map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"created_by": identity.UserID,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensureCapability(w, r, rbac.CapManageUsers); !ok {
		return
	}
	users, err := a.rbac.ListUsers(r.Context(), r.URL.Query().Get("include_deleted") == "true")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleUserResource serves /v1/users/{id} and /v1/users/{id}/assignments.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "user id is required")
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, userID)
		case http.MethodDelete:
			a.deleteUser(w, r, userID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "assignments":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listUserAssignments(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	identity, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	// users may read themselves; anyone else needs manage_users
	if identity.UserID != userID {
		if _, ok := a.ensureCapability(w, r, rbac.CapManageUsers); !ok {
			return
		}
	}
	user, err := a.rbac.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	identity, ok := a.ensureCapability(w, r, rbac.CapManageUsers)
	if !ok {
		return
	}
	var req deleteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.DeleteUser(r.Context(), userID, identity.UserID, req.Reason); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "user.soft_deleted", map[string]any{
		"user_id":    userID,
		"deleted_by": identity.UserID,
		"reason":     req.Reason,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "is_deleted": true})
}

func (a *API) listUserAssignments(w http.ResponseWriter, r *http.Request, userID string) {
	identity, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if identity.UserID != userID {
		if _, ok := a.ensureCapability(w, r, rbac.CapManageUsers); !ok {
			return
		}
	}
	assignments, err := a.rbac.ListAssignments(r.Context(), userID, r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}
