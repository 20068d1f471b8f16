package rest

import (
	"net/http"

	"github.com/epam/modular-api/internal/version"
)

// Swagger serves the catalog as an OpenAPI v3 document. In private mode the
// caller must present a live bearer token and receives only the routes their
// policies allow; otherwise the full document is public.
func (h *Handler) Swagger(w http.ResponseWriter, r *http.Request) {
	if !h.privateMode {
		respondJSON(w, http.StatusOK, h.registry.Catalog().OpenAPI(version.Server, nil))
		return
	}

	raw, err := bearerToken(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	user, _, err := h.tokens.ValidateBearer(r.Context(), raw)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	decide, _, err := h.decideForUser(r.Context(), user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.registry.Catalog().OpenAPI(version.Server, decide))
}
