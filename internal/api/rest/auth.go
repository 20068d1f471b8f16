package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/policy"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/version"
)

type moduleSummary struct {
	Module     string `json:"module"`
	Version    string `json:"version"`
	MountPoint string `json:"mount_point"`
}

type loginResponse struct {
	JWT       string                `json:"jwt"`
	ExpiresAt time.Time             `json:"expires_at"`
	Version   string                `json:"version"`
	Modules   []moduleSummary       `json:"modules"`
	Meta      []registry.ModuleMeta `json:"meta,omitempty"`
	Warnings  []string              `json:"warnings,omitempty"`
}

// Login exchanges basic credentials for a bearer token and the caller's
// visible catalog. `?meta=true` adds the full command tree so a client can
// build its command surface from one response.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		h.respondError(w, r, apierr.New(apierr.KindAuthenticationFailed, "basic credentials required"))
		return
	}
	signed, record, user, err := h.tokens.Login(r.Context(), username, password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	decide, warnings, err := h.decideForUser(r.Context(), user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	visible := h.registry.Catalog().Meta(decide)

	resp := loginResponse{
		JWT:       signed,
		ExpiresAt: record.ExpiresAt,
		Version:   version.Server,
		Modules:   make([]moduleSummary, 0, len(visible)),
		Warnings:  warnings,
	}
	for _, m := range visible {
		resp.Modules = append(resp.Modules, moduleSummary{
			Module:     m.Module,
			Version:    m.Version,
			MountPoint: m.MountPoint,
		})
	}
	if r.URL.Query().Get("meta") == "true" {
		resp.Meta = visible
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout revokes every live session of the caller.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, err := bearerToken(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.tokens.Logout(r.Context(), raw); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "all sessions revoked"})
}

// decideForUser returns a per-command allow function backed by the caller's
// effective statements, evaluated without touching the denial metrics. A
// compromised record sees an empty catalog.
func (h *Handler) decideForUser(ctx context.Context, user *models.User) (func(string, []string) bool, []string, error) {
	statements, warnings, err := h.permissions.EffectiveStatements(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	if user.ConsistencyStatus == models.ConsistencyCompromised {
		return func(string, []string) bool { return false }, warnings, nil
	}
	return func(module string, commandPath []string) bool {
		return policy.Evaluate(statements, module, commandPath).Allowed
	}, warnings, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || raw == "" {
		return "", apierr.New(apierr.KindAuthenticationFailed, "bearer token required")
	}
	return raw, nil
}
