package httpapi

import (
	"net/http"

	"auditcore.org/internal/obs"
	"auditcore.org/internal/rbac"
)

// handleAccessCheck resolves the caller's visibility on a registered resource.
// A policy denial is a 403 carrying the access reason, not an error payload.
func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	q := r.URL.Query()
	decision, err := a.rbac.CheckAccess(r.Context(), identity.UserID, q.Get("resource_type"), q.Get("resource_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.ObserveDecision(string(decision.Level), decision.Reason)
	a.audit(r, "access.checked", map[string]any{
		"resource_type": q.Get("resource_type"),
		"resource_id":   q.Get("resource_id"),
		"allowed":       decision.Allowed,
		"access_level":  string(decision.Level),
		"access_reason": decision.Reason,
	})

	code := http.StatusOK
	if !decision.Allowed {
		code = http.StatusForbidden
	}
	writeJSON(w, code, decision)
}

// handleResources lets owning services sync resource ownership metadata in.
func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.ensureCapability(w, r, rbac.CapEditAudits); !ok {
		return
	}
	var res rbac.Resource
	if err := decodeJSON(w, r, &res); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := a.rbac.RegisterResource(r.Context(), res)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}
