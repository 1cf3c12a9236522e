// Package server wires the licensing core behind the public HTTP surface.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/config"
	"github.com/vigilohq/vigilo/internal/licensing/guard"
	"github.com/vigilohq/vigilo/internal/licensing/resolver"
	"github.com/vigilohq/vigilo/internal/licensing/store"
	"github.com/vigilohq/vigilo/internal/licensing/webhook"
	"github.com/vigilohq/vigilo/internal/usage"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Usage    *usage.Store
	Resolver *resolver.Resolver
	Guard    *guard.Guard
	Webhook  *webhook.Handler // nil in self-hosted mode
	Version  string

	// Now is the clock handlers read for time-dependent responses such as
	// grace days remaining. Tests pin it to a fixed instant.
	Now func() time.Time
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", handleHealthz(deps.Version))
	mux.HandleFunc("/readyz", handleReadyz(deps.Store))

	// Metrics are loopback-only unless explicitly made public.
	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", requireLoopback(metricsHandler))
	}

	// Vendor webhook (signature-authenticated, rate-limited).
	if deps.Webhook != nil {
		limiter := NewRateLimiter(deps.Config.WebhookRateLimit, time.Minute)
		mux.Handle("POST /webhooks/"+deps.Config.VendorName, limiter.Middleware(deps.Webhook))
	}

	// License and entitlement read surface.
	mux.HandleFunc("GET /v1/license", handleGetLicense(deps))

	// Entitlement-enforced resource creation.
	mux.Handle("POST /v1/monitors",
		handleCreateResource(deps, guard.OpCreateMonitor, entitlements.ResourceMonitors))
	mux.Handle("POST /v1/status-pages",
		handleCreateResource(deps, guard.OpCreateStatusPage, entitlements.ResourceStatusPages))
	mux.Handle("POST /v1/members",
		handleCreateResource(deps, guard.OpInviteMember, entitlements.ResourceTeamMembers))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}

// organizationID extracts the acting organization from the request.
func organizationID(r *http.Request) string {
	if v := r.URL.Query().Get("organization_id"); v != "" {
		return v
	}
	return r.Header.Get("X-Organization-ID")
}

// requireLoopback restricts a handler to loopback clients.
func requireLoopback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := net.ParseIP(clientIP(r))
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
