package api

import (
	"net/http"
	"time"

	"github.com/pankaj28843/docs-mcp-server/pkg/health"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
	"github.com/pankaj28843/docs-mcp-server/pkg/middleware"
)

// NewRouter builds the HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /api/v1/tenants                   → list tenants
//	POST   /api/v1/tenants                   → register tenant
//	DELETE /api/v1/tenants/{tenant}          → deregister tenant
//	GET    /api/v1/tenants/{tenant}/index    → describe index
//	GET    /api/v1/tenants/{tenant}/search   → search
//	POST   /api/v1/tenants/{tenant}/sync     → submit sync
//	GET    /api/v1/tenants/{tenant}/sync     → sync history
//	GET    /api/v1/sync/{job}                → sync status
//	DELETE /api/v1/sync/{job}                → cancel sync
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → AccessLog → Timeout → Metrics → mux
//
// m may be nil.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /api/v1/tenants", h.ListTenants)
	mux.HandleFunc("POST /api/v1/tenants", h.RegisterTenant)
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}", h.DeregisterTenant)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/index", h.DescribeIndex)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/search", h.Search)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/sync", h.SubmitSync)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/sync", h.SyncHistory)
	mux.HandleFunc("GET /api/v1/sync/{job}", h.SyncStatus)
	mux.HandleFunc("DELETE /api/v1/sync/{job}", h.CancelSync)

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	if timeout > 0 {
		chain = middleware.Timeout(timeout)(chain)
	}
	chain = middleware.AccessLog(chain)
	chain = middleware.RequestID(chain)
	return chain
}
