package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/guard"
	"github.com/vigilohq/vigilo/pkg/entitlements"
)

func handleHealthz(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
}

func handleReadyz(pinger interface{ Ping() error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type licenseResponse struct {
	OrganizationID string             `json:"organization_id"`
	License        *licensing.License `json:"license"`

	// Entitlements is the effective bundle the resolver grants right now,
	// which can differ from the license snapshot (free tier fallback,
	// self-hosted override).
	Entitlements entitlements.Bundle `json:"entitlements"`

	GracePeriodDaysRemaining int `json:"grace_period_days_remaining"`
}

func handleGetLicense(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := organizationID(r)
		if orgID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "organization_id is required"})
			return
		}

		lic, err := deps.Store.GetByOrganization(r.Context(), orgID)
		if err != nil {
			log.Error().Err(err).Str("organization_id", orgID).Msg("Failed to load license")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load license"})
			return
		}
		bundle, err := deps.Resolver.Resolve(r.Context(), orgID)
		if err != nil {
			log.Error().Err(err).Str("organization_id", orgID).Msg("Failed to resolve entitlements")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to resolve entitlements"})
			return
		}

		writeJSON(w, http.StatusOK, licenseResponse{
			OrganizationID:           orgID,
			License:                  lic,
			Entitlements:             bundle,
			GracePeriodDaysRemaining: lic.GraceDaysRemaining(deps.Now()),
		})
	}
}

type createResourceRequest struct {
	Name string `json:"name"`
}

type deniedResponse struct {
	Error  string        `json:"error"`
	Denial *guard.Denial `json:"denial"`
}

// handleCreateResource is the shared shape of every entitlement-enforced
// create endpoint. The count, the guard check, and the insert run inside
// one usage-store transaction so concurrent creates for the same
// organization cannot slip past the limit between the count and the
// insert.
func handleCreateResource(deps *Deps, op guard.Operation, kind entitlements.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := organizationID(r)
		if orgID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "organization_id is required"})
			return
		}

		// An empty body is fine; the name is optional.
		var req createResourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		var decision guard.Decision
		resource, err := deps.Usage.CreateGuarded(r.Context(), orgID, kind, req.Name, func(current int64) (bool, error) {
			d, err := deps.Guard.Authorize(r.Context(), orgID, op, current)
			if err != nil {
				return false, err
			}
			decision = d
			return d.Allowed, nil
		})
		if err != nil {
			log.Error().Err(err).
				Str("organization_id", orgID).
				Str("operation", string(op)).
				Msg("Failed to create resource")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create resource"})
			return
		}
		if resource == nil {
			writeJSON(w, http.StatusForbidden, deniedResponse{
				Error:  decision.Denial.String(),
				Denial: decision.Denial,
			})
			return
		}
		writeJSON(w, http.StatusCreated, resource)
	}
}
