// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/audit"
	"kaizenstudio/platform/policy"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// excludedPaths always pass through authentication, rate limiting, audit
// and authorization.
var excludedPaths = map[string]bool{
	"/":             true,
	"/health":       true,
	"/docs":         true,
	"/redoc":        true,
	"/openapi.json": true,
	"/metrics":      true,

	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/refresh":  true,
}

func isExcluded(path string) bool {
	if excludedPaths[path] {
		return true
	}
	// Invitation acceptance is credentialed by the single-use token.
	return strings.HasPrefix(path, "/api/v1/invitations/") && strings.HasSuffix(path, "/accept")
}

// statusRecorder captures the response status for middleware that runs
// after the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestID assigns a correlation id to every request and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(httpapi.RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(httpapi.RequestIDHeader, id)
		}
		w.Header().Set(httpapi.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(principal.WithRequestID(r.Context(), id)))
	})
}

// ErrorBoundary converts handler panics into the 500 envelope so one
// request never takes the process down.
func ErrorBoundary(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("", r.Header.Get(httpapi.RequestIDHeader), "panic recovered", map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
					})
					httpapi.WriteError(w, r, httpapi.CodeInternalError, "Internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractExternalIdentity captures the X-External-* headers into the
// request context for lineage (Layers 1 and 2).
func ExtractExternalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := &principal.ExternalIdentity{
			UserID:    r.Header.Get("X-External-User-ID"),
			UserEmail: r.Header.Get("X-External-User-Email"),
			UserName:  r.Header.Get("X-External-User-Name"),
			System:    r.Header.Get("X-External-System"),
			SessionID: r.Header.Get("X-External-Session-ID"),
			TraceID:   r.Header.Get("X-External-Trace-ID"),
			Context:   r.Header.Get("X-External-Context"),
		}
		if id.UserID != "" || id.System != "" {
			r = r.WithContext(principal.WithExternalIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// auditActions maps HTTP methods to audit actions.
var auditActions = map[string]string{
	http.MethodPost:   "create",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

// AuditTap records state-changing requests after the handler runs. It
// fires only for authenticated principals on non-excluded paths; the
// write is queued and can never fail the request.
func AuditTap(writer *audit.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, ok := auditActions[r.Method]
			if !ok || isExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			caller := principal.FromContext(r.Context())
			if caller.Anonymous {
				return
			}

			resourceType, resourceID := resourceFromPath(r.URL.Path)
			status := audit.StatusSuccess
			if rec.status >= 400 {
				status = audit.StatusFailure
			}

			writer.Record(&audit.Entry{
				OrgID:        caller.OrgID,
				UserID:       caller.UserID,
				Action:       action,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Details: map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"query":       r.URL.RawQuery,
					"duration_ms": time.Since(start).Milliseconds(),
					"status_code": rec.status,
				},
				IPAddress: ClientIP(r),
				UserAgent: r.UserAgent(),
				Status:    status,
				RequestID: r.Header.Get(httpapi.RequestIDHeader),
			})
		})
	}
}

// resourceFromPath splits /api/v1/<resource>/<id>/... into its audit
// resource type and id. The id segment is dropped when it is a verb.
func resourceFromPath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	if trimmed == path {
		return "", ""
	}
	segments := strings.Split(trimmed, "/")
	resourceType := segments[0]
	if len(segments) > 1 {
		return resourceType, segments[1]
	}
	return resourceType, ""
}

// permissionFor maps a request to the RBAC permission it requires.
func permissionFor(r *http.Request) string {
	resourceType, _ := resourceFromPath(r.URL.Path)
	if resourceType == "" {
		return ""
	}
	resource := strings.ReplaceAll(resourceType, "-", "_")

	if resource == "external_agents" && strings.HasSuffix(r.URL.Path, "/invoke") {
		return "external_agents:invoke"
	}
	if resource == "approvals" && r.Method == http.MethodPost {
		return "approvals:decide"
	}
	if resource == "webhook_deliveries" {
		return "webhooks:read"
	}
	if resource == "audit" {
		return "audit:read"
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return resource + ":read"
	case http.MethodPost:
		return resource + ":create"
	case http.MethodPut, http.MethodPatch:
		return resource + ":update"
	case http.MethodDelete:
		return resource + ":delete"
	default:
		return resource + ":read"
	}
}

// RBACGate rejects anonymous callers with 401 and callers whose role
// lacks the route permission with 403. API-key principals additionally
// need a matching scope.
func RBACGate(checker *rbac.Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			caller := principal.FromContext(r.Context())
			if caller.Anonymous {
				httpapi.WriteError(w, r, httpapi.CodeUnauthorized, "Authentication required", nil)
				return
			}

			perm := permissionFor(r)
			if perm == "" {
				next.ServeHTTP(w, r)
				return
			}

			if caller.IsAPIKey() {
				if !caller.HasScope(perm) {
					httpapi.WriteError(w, r, httpapi.CodeForbidden, "API key scope does not permit this operation", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if !checker.Has(caller.Role, perm) {
				httpapi.WriteError(w, r, httpapi.CodeForbidden, "Permission denied", map[string]interface{}{
					"required_permission": perm,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ABACGate evaluates tenant policies on top of RBAC. A deny returns 403
// with by_policy detail; an evaluation failure fails closed with 500 so
// audit can tell the two apart.
func ABACGate(engine *policy.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			caller := principal.FromContext(r.Context())
			if caller.Anonymous || caller.OrgID == "" {
				next.ServeHTTP(w, r)
				return
			}

			perm := permissionFor(r)
			resourceType, resourceID := resourceFromPath(r.URL.Path)
			action := perm
			if idx := strings.IndexByte(perm, ':'); idx >= 0 {
				action = perm[idx+1:]
			}
			resource := strings.ReplaceAll(resourceType, "-", "_")
			// Invoking targets one agent, and policies address it in the
			// singular: (external_agent, invoke).
			if resource == "external_agents" && action == "invoke" {
				resource = "external_agent"
			}

			input := policy.Input{
				Subject: map[string]interface{}{
					"id":     caller.UserID,
					"role":   caller.Role,
					"org_id": caller.OrgID,
				},
				Action:       action,
				ResourceType: resource,
				Resource: map[string]interface{}{
					"id": resourceID,
				},
				Environment: map[string]interface{}{
					"ip":     ClientIP(r),
					"method": r.Method,
					"path":   r.URL.Path,
					"time":   time.Now().UTC().Format(time.RFC3339),
				},
			}

			decision, err := engine.Evaluate(r.Context(), caller.OrgID, policy.PrincipalRef{
				UserID: caller.UserID,
				Role:   caller.Role,
			}, input)
			if err != nil {
				httpapi.WriteError(w, r, httpapi.CodeInternalError, "Policy evaluation failed", nil)
				return
			}
			if decision.Outcome == policy.DecisionDeny {
				httpapi.WriteError(w, r, httpapi.CodeForbidden, "Denied by policy", map[string]interface{}{
					"by_policy": true,
					"policy_id": decision.PolicyID,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
