package rest

import (
	"encoding/json"
	"net/http"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/pkg/logger"
)

// APIError is the JSON error body. Error carries the stable kind identifier;
// Message is client-safe; Details name offending fields and retry hints.
type APIError struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError translates a typed error to its HTTP shape. This is the only
// place kinds turn into statuses on the wire. The cause chain stays in the
// server log; InternalError is the only kind logged with its stack position,
// and no cause ever reaches the client.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	typed := apierr.AsError(err)
	reqID := logger.FromContext(r.Context())
	status := apierr.HTTPStatus(typed.Kind)

	if typed.Kind == apierr.KindInternalError {
		h.log.Error("internal error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", reqID,
		)
	}
	if retry, ok := typed.Details["retry_after_seconds"]; ok {
		w.Header().Set("Retry-After", retry)
	}

	respondJSON(w, status, APIError{
		Error:     string(typed.Kind),
		Message:   typed.Message,
		RequestID: reqID,
		Details:   typed.Details,
	})
}
