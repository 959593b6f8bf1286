package httpapi

import (
	"net/http"
	"time"

	"auditcore.org/internal/rbac"
)

const tokenTTL = 15 * time.Minute

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        rbac.User `json:"user"`
}

// handleAuthToken exchanges credentials for a short-lived bearer token.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.rbac.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity := rbac.Identity{
		UserID:       user.ID,
		PrimaryRole:  user.PrimaryRole,
		DepartmentID: user.DepartmentID,
	}
	token, err := rbac.GenerateToken(identity, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r, "auth.token_issued", map[string]any{
		"user_id":      user.ID,
		"primary_role": string(user.PrimaryRole),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().UTC().Add(tokenTTL),
		User:        user,
	})
}
