// Package httpapi is the HTTP transport for the access-control service. It
// maps resolver decisions onto status codes: allowed -> 200, policy denial ->
// 403 with the access reason, missing user/resource -> 404.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"auditcore.org/internal/obs"
	"auditcore.org/internal/rbac"
)

// ReadyProbe reports backing-store readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	rbac       *rbac.Service
}

func New(rp ReadyProbe, version string, svc *rbac.Service) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		rbac:       svc,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// role matrix + static catalogs
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permission-groups", a.handlePermissionGroups)
	a.mux.HandleFunc("/v1/role-templates", a.handleRoleTemplates)

	// users + assignment ledger
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/assignments", a.handleAssignmentsCollection)
	a.mux.HandleFunc("/v1/assignments/", a.handleAssignmentResource)

	// visibility resolver + override escape hatch
	a.mux.HandleFunc("/v1/access/check", a.handleAccessCheck)
	a.mux.HandleFunc("/v1/resources", a.handleResources)
	a.mux.HandleFunc("/v1/overrides", a.handleOverrides)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}
