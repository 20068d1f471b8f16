// Package rest exposes the facade's own endpoints (login, logout, health,
// metrics, swagger) and the catch-all that hands mounted module routes to the
// dispatch pipeline.
package rest

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epam/modular-api/internal/api/middleware"
	"github.com/epam/modular-api/internal/config"
	"github.com/epam/modular-api/internal/dispatcher"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/repository"
	"github.com/epam/modular-api/internal/service"
)

// maxRequestBody caps inbound bodies; dispatch payloads are JSON parameter
// objects and never legitimately approach this.
const maxRequestBody = 1 << 20

// Handler carries the service dependencies of the facade endpoints.
type Handler struct {
	store       repository.Store
	registry    *registry.Registry
	tokens      service.TokenService
	permissions service.PermissionService
	dispatcher  *dispatcher.Dispatcher
	privateMode bool
	log         *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(store repository.Store, reg *registry.Registry, tokens service.TokenService,
	permissions service.PermissionService, disp *dispatcher.Dispatcher, privateMode bool, log *slog.Logger) *Handler {
	return &Handler{
		store:       store,
		registry:    reg,
		tokens:      tokens,
		permissions: permissions,
		dispatcher:  disp,
		privateMode: privateMode,
		log:         log.With("component", "rest"),
	}
}

// SetupRoutes mounts the facade endpoints and the module catch-all. The
// catch-all must be registered last; everything it matches belongs to the
// dispatch pipeline.
func SetupRoutes(router *mux.Router, h *Handler, logins *middleware.LoginLimiter) {
	router.Handle("/login", logins.Middleware(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	router.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	router.HandleFunc("/health_check", h.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/swagger.json", h.Swagger).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(h.Dispatch)
}

// BuildHandler assembles the full middleware chain around the routes.
func BuildHandler(cfg *config.Config, h *Handler, log *slog.Logger) http.Handler {
	router := mux.NewRouter()
	logins := middleware.NewLoginLimiter(cfg.LoginRatePerMin, cfg.LoginRateBurst)
	SetupRoutes(router, h, logins)

	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.SecureHeaders)
	router.Use(middleware.MaxBodySize(maxRequestBody))

	handler := middleware.Tracing(router)
	return middleware.CORS(cfg.AllowedOrigins)(handler)
}
