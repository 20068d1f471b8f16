// Package dispatcher runs the ordered request pipeline that turns an
// authenticated HTTP call into a backend invocation: version gate,
// authentication, rate check, route lookup, authorization, parameter
// validation, backend call, audit, response.
package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/backend"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
	"github.com/epam/modular-api/internal/policy"
	"github.com/epam/modular-api/internal/ratelimit"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/service"
	"github.com/epam/modular-api/internal/usermeta"
	"github.com/epam/modular-api/internal/version"
)

// Request is one inbound module call, already stripped of transport concerns
// by the REST layer.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Body          []byte
	Authorization string
	CLIVersion    string
	RequestID     string
}

// Response carries the backend's answer plus server-added headers.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Dispatcher struct {
	registry    *registry.Registry
	tokens      service.TokenService
	permissions service.PermissionService
	audit       service.AuditService
	stats       service.StatsService
	limiter     *ratelimit.Limiter
	backend     *backend.Client
	minCLI      string
	log         *slog.Logger
}

// New wires the pipeline. minCLI empty disables the version gate.
func New(reg *registry.Registry, tokens service.TokenService, permissions service.PermissionService, audit service.AuditService, stats service.StatsService, limiter *ratelimit.Limiter, client *backend.Client, minCLI string, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:    reg,
		tokens:      tokens,
		permissions: permissions,
		audit:       audit,
		stats:       stats,
		limiter:     limiter,
		backend:     client,
		minCLI:      minCLI,
		log:         log.With("component", "dispatcher"),
	}
}

// Handle runs the nine pipeline steps for one request. Any typed error
// short-circuits; the REST layer translates it. The backend's status and
// body are forwarded as they came, whatever the status was.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (*Response, error) {
	if err := version.CheckCLI(d.minCLI, req.CLIVersion); err != nil {
		return nil, err
	}
	user, err := d.Authenticate(ctx, req.Authorization)
	if err != nil {
		return nil, err
	}
	// The rate check runs on the raw path so unresolvable routes still
	// spend budget; a flood of 404s is still a flood.
	if err := d.limiter.Allow(ctx, user.Username, req.Method+" "+req.Path); err != nil {
		return nil, err
	}
	cmd, err := d.registry.Lookup(req.Method, req.Path)
	if err != nil {
		return nil, err
	}
	decision, warnings, err := d.permissions.Authorize(ctx, user, cmd.Module, cmd.PathSegments())
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		d.count(cmd, apierr.KindDenied)
		return nil, deniedError(decision.Matched, user.Username, cmd)
	}

	params, err := parseParams(cmd, req.Query, req.Body)
	if err != nil {
		d.count(cmd, apierr.KindOf(err))
		return nil, err
	}
	params = usermeta.Inject(user.Meta, cmd, params)
	if err := finalizeParams(cmd, params); err != nil {
		d.count(cmd, apierr.KindOf(err))
		return nil, err
	}
	if err := usermeta.CheckAllowed(user.Meta, params); err != nil {
		d.count(cmd, apierr.KindOf(err))
		return nil, err
	}

	upstream, err := d.backend.Invoke(ctx, cmd, user.Username, req.RequestID, params)
	if err != nil {
		// The call did not complete; nothing is audited.
		d.count(cmd, apierr.KindOf(err))
		return nil, err
	}

	result := fmt.Sprintf("%d %s", upstream.StatusCode, http.StatusText(upstream.StatusCode))
	if !cmd.Describer {
		if err := d.audit.Record(ctx, user.Username, cmd.Module, cmd.Path, params, result, warnings); err != nil {
			// The backend side effect already happened; hiding the
			// response now would not undo it.
			d.log.Error("audit append failed", "module", cmd.Module, "command", cmd.Path, "error", err)
		}
		d.stats.Record(ctx, cmd.Module, cmd.Path)
	}
	d.count(cmd, "")

	header := make(http.Header, len(upstream.Header)+2)
	for k, v := range upstream.Header {
		header[k] = v
	}
	header.Set("X-Request-ID", req.RequestID)
	header.Set(version.ServerHeader, version.Server)
	return &Response{Status: upstream.StatusCode, Header: header, Body: upstream.Body}, nil
}

// Authenticate resolves the Authorization header to a user via basic
// credentials or a bearer token.
func (d *Dispatcher) Authenticate(ctx context.Context, header string) (*models.User, error) {
	if header == "" {
		return nil, apierr.New(apierr.KindAuthenticationFailed, "authorization required")
	}
	scheme, credentials, found := strings.Cut(header, " ")
	if !found {
		return nil, apierr.New(apierr.KindAuthenticationFailed, "malformed authorization header")
	}
	switch {
	case strings.EqualFold(scheme, "basic"):
		raw, err := base64.StdEncoding.DecodeString(credentials)
		if err != nil {
			return nil, apierr.New(apierr.KindAuthenticationFailed, "malformed basic credentials")
		}
		username, password, ok := strings.Cut(string(raw), ":")
		if !ok {
			return nil, apierr.New(apierr.KindAuthenticationFailed, "malformed basic credentials")
		}
		return d.tokens.AuthenticateBasic(ctx, username, password)
	case strings.EqualFold(scheme, "bearer"):
		user, _, err := d.tokens.ValidateBearer(ctx, strings.TrimSpace(credentials))
		return user, err
	default:
		return nil, apierr.Newf(apierr.KindAuthenticationFailed, "unsupported authorization scheme %q", scheme)
	}
}

func (d *Dispatcher) count(cmd *models.CommandMeta, kind apierr.Kind) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	metrics.DispatchTotal.WithLabelValues(cmd.Module, cmd.Path, outcome).Inc()
}

func deniedError(matched *policy.Statement, username string, cmd *models.CommandMeta) error {
	if matched != nil {
		return apierr.Newf(apierr.KindDenied,
			"denied by policy %q", matched.Policy).
			WithDetail("policy", matched.Policy).
			WithDetail("effect", matched.Effect)
	}
	return apierr.Newf(apierr.KindDenied,
		"user %q is not allowed to run %s/%s", username, cmd.Module, cmd.Path)
}
