// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"kaizenstudio/platform/identity"
)

// csrfExemptPaths are state-changing paths that legitimately arrive
// without a browser origin: auth bootstrap and OAuth callbacks.
var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/refresh":  true,
}

func csrfExempt(path string) bool {
	return csrfExemptPaths[path] || strings.HasPrefix(path, "/api/v1/auth/sso/") && strings.HasSuffix(path, "/callback")
}

// CSRF enforces that state-changing browser requests carry an Origin or
// Referer from the allow-list. Enforcement applies in production only;
// API-key requests are exempt since keys never live in a browser.
func CSRF(cfg *Config) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.IsProduction() || !stateChanging(r.Method) || csrfExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.Header.Get("X-API-Key"), identity.APIKeyPrefixLive) ||
				strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "+identity.APIKeyPrefixLive) {
				next.ServeHTTP(w, r)
				return
			}

			if origin := r.Header.Get("Origin"); origin != "" {
				if !allowed[strings.TrimSuffix(origin, "/")] {
					writeCSRFError(w, "Origin not allowed", "CSRF_INVALID_ORIGIN")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if referer := r.Header.Get("Referer"); referer != "" {
				u, err := url.Parse(referer)
				if err != nil || !allowed[u.Scheme+"://"+u.Host] {
					writeCSRFError(w, "Referer not allowed", "CSRF_INVALID_REFERER")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			writeCSRFError(w, "Missing Origin and Referer on state-changing request", "CSRF_INVALID_ORIGIN")
		})
	}
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func writeCSRFError(w http.ResponseWriter, detail, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"detail": detail,
		"code":   code,
	})
}
