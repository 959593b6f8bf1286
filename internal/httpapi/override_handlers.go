package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"auditcore.org/internal/rbac"
)

type overrideRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	TargetUserID string `json:"target_user_id"`
	Reason       string `json:"reason"`
	TTLSeconds   int64  `json:"ttl_seconds,omitempty"`
}

// handleOverrides grants (POST) and lists (GET) emergency-access records. The
// system_admin requirement is enforced in the core so that a forged capability
// assignment can never reach it.
func (a *API) handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.grantOverride(w, r)
	case http.MethodGet:
		a.listOverrides(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) grantOverride(w http.ResponseWriter, r *http.Request) {
	identity, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("ttl_seconds must be >= 0, got %d", req.TTLSeconds))
		return
	}
	rec, err := a.rbac.GrantOverride(r.Context(), rbac.OverrideRequest{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		TargetUserID:    req.TargetUserID,
		GrantingAdminID: identity.UserID,
		Reason:          req.Reason,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "override.granted", map[string]any{
		"override_id":    rec.ID,
		"resource_type":  rec.ResourceType,
		"resource_id":    rec.ResourceID,
		"target_user_id": rec.TargetUserID,
		"granted_by":     rec.GrantingAdminID,
		"reason":         rec.Reason,
		"expires_at":     rec.ExpiresAt,
	})
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) listOverrides(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ensureCapability(w, r, rbac.CapViewAllAudits); !ok {
		return
	}
	q := r.URL.Query()
	records, err := a.rbac.ListOverrides(r.Context(), q.Get("resource_type"), q.Get("resource_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": records})
}
