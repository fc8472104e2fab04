package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/creditdispatch/inference-broker/internal/adapter/httpserver"
	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/config"
)

// BuildRouter constructs the HTTP handler with all middleware and routes.
// Routing detail stays out of scope; this is the thinnest possible home for
// submitAsync/submitRPC, replenishmentRequest, and the admin surface.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// Wallet-mutating endpoints sit behind a per-IP rate limit, protecting
	// the wallet path from a burst of debits the way httprate guards the
	// teacher's mutating endpoints.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/dispatch/async", srv.SubmitAsyncHandler())
		wr.Post("/v1/dispatch/rpc", srv.SubmitRPCHandler())
		wr.Post("/v1/replenish", srv.ReplenishHandler())
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminEnabled() {
		r.Group(func(ar chi.Router) {
			ar.Use(httpserver.AdminBasicAuth(cfg))
			ar.Post("/admin/users/{userID}/credit", srv.AdminDirectCreditHandler())
			ar.Post("/admin/transactions/{txID}/approve", srv.AdminApprovePendingHandler())
			ar.Post("/admin/transactions/{txID}/reject", srv.AdminRejectPendingHandler())
			ar.Get("/admin/users/{userID}", srv.AdminGetUserHandler())
			ar.Get("/admin/users/{userID}/journal", srv.AdminListJournalHandler())
			ar.Get("/admin/jobs/{jobID}", srv.AdminGetJobHandler())
		})
	}

	return httpserver.SecurityHeaders(r)
}
