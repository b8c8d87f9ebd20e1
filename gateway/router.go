// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"kaizenstudio/platform/approval"
	"kaizenstudio/platform/audit"
	"kaizenstudio/platform/budget"
	"kaizenstudio/platform/identity"
	"kaizenstudio/platform/invocation"
	"kaizenstudio/platform/policy"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/webhook"
)

// Deps are the wired services the router mounts.
type Deps struct {
	Config *Config
	Log    *logger.Logger
	DB     *sql.DB
	Redis  *redis.Client

	Identity    *identity.Service
	Checker     *rbac.Checker
	Policies    *policy.Service
	Budgets     *budget.Service
	Approvals   *approval.Service
	Invocations *invocation.Service
	Webhooks    *webhook.Service
	AuditWriter *audit.Writer
	AuditStore  *audit.Store
}

// NewRouter assembles the middleware chain and mounts every handler.
// Chain order: error boundary, request id, metrics, CSRF, authenticator,
// external identity, rate limiter, audit tap, RBAC, ABAC, handler.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"service": "kaizen-studio", "status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/health", healthHandler(d)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	identity.NewHandler(d.Identity).RegisterRoutes(r)
	policy.NewHandler(d.Policies).RegisterRoutes(r)
	budget.NewHandler(d.Budgets).RegisterRoutes(r)
	approval.NewHandler(d.Approvals).RegisterRoutes(r)
	invocation.NewHandler(d.Invocations).RegisterRoutes(r)
	webhook.NewHandler(d.Webhooks).RegisterRoutes(r)
	audit.NewHandler(d.AuditStore).RegisterRoutes(r)

	limiter := NewRateLimiter(d.Redis, d.Config.DefaultUserRateLimit, d.Log)
	authenticator := NewAuthenticator(d.Identity, d.Config, d.Log)

	var h http.Handler = r
	h = ABACGate(d.Policies.Engine())(h)
	h = RBACGate(d.Checker)(h)
	h = AuditTap(d.AuditWriter)(h)
	h = limiter.Middleware(h)
	h = ExtractExternalIdentity(h)
	h = authenticator.Middleware(h)
	h = CSRF(d.Config)(h)
	h = Metrics(h)
	h = RequestID(h)
	h = ErrorBoundary(d.Log)(h)

	c := cors.New(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

// healthHandler reports db and redis reachability.
func healthHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": "healthy",
			"redis":    "healthy",
		}
		healthy := true

		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				checks["database"] = "unhealthy"
				healthy = false
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				healthy = false
			}
		}

		status := http.StatusOK
		overall := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		httpapi.WriteJSON(w, status, map[string]interface{}{
			"status": overall,
			"checks": checks,
		})
	}
}
