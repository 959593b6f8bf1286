package httpapi

import (
	"net/http"
	"strings"
	"time"

	"auditcore.org/internal/rbac"
)

type assignmentRequest struct {
	UserID        string     `json:"user_id"`
	RoleID        string     `json:"role_id"`
	Reason        string     `json:"reason"`
	IsTemporary   bool       `json:"is_temporary"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
}

type deactivateAssignmentRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleAssignmentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.ensureCapability(w, r, rbac.CapManageUsers)
	if !ok {
		return
	}
	var req assignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.rbac.Assign(r.Context(), rbac.AssignmentRequest{
		UserID:        req.UserID,
		RoleID:        req.RoleID,
		AssignedBy:    identity.UserID,
		Reason:        req.Reason,
		IsTemporary:   req.IsTemporary,
		EffectiveDate: req.EffectiveDate,
		ExpiryDate:    req.ExpiryDate,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "assignment.created", map[string]any{
		"assignment_id":     assignment.ID,
		"user_id":           assignment.UserID,
		"role_id":           assignment.RoleID,
		"assigned_by":       identity.UserID,
		"requires_approval": assignment.RequiresApproval,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

// handleAssignmentResource serves /v1/assignments/{id}/approve and
// /v1/assignments/{id}/deactivate.
func (a *API) handleAssignmentResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	assignmentID := parts[0]

	switch parts[1] {
	case "approve":
		identity, ok := a.ensureCapability(w, r, rbac.CapManageUsers)
		if !ok {
			return
		}
		assignment, err := a.rbac.Approve(r.Context(), assignmentID, identity.UserID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, "assignment.approved", map[string]any{
			"assignment_id": assignment.ID,
			"approved_by":   identity.UserID,
		})
		writeJSON(w, http.StatusOK, assignment)
	case "deactivate":
		identity, ok := a.ensureCapability(w, r, rbac.CapManageUsers)
		if !ok {
			return
		}
		var req deactivateAssignmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		assignment, err := a.rbac.Deactivate(r.Context(), assignmentID, identity.UserID, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, "assignment.deactivated", map[string]any{
			"assignment_id":  assignment.ID,
			"deactivated_by": identity.UserID,
			"reason":         req.Reason,
		})
		writeJSON(w, http.StatusOK, assignment)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}
