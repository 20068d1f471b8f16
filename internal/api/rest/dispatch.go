package rest

import (
	"io"
	"net/http"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/dispatcher"
	"github.com/epam/modular-api/internal/pkg/logger"
	"github.com/epam/modular-api/internal/version"
)

// Dispatch feeds a mounted module route through the pipeline and writes the
// backend's response back unmodified.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBytesReader turns an oversized body into a read error.
		h.respondError(w, r, apierr.Wrap(apierr.KindInvalidPayload, err, "cannot read request body"))
		return
	}

	resp, err := h.dispatcher.Handle(r.Context(), &dispatcher.Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Body:          body,
		Authorization: r.Header.Get("Authorization"),
		CLIVersion:    r.Header.Get(version.CLIHeader),
		RequestID:     logger.FromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// Replace, not append: the request id is already on the response writer
	// and must not double up. Content-Length is recomputed from the body we
	// actually hold, which may be capped shorter than the upstream's.
	for key, values := range resp.Header {
		if key == "Content-Length" {
			continue
		}
		w.Header()[key] = values
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
