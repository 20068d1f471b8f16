package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/auth"
	"github.com/epam/modular-api/internal/backend"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/ratelimit"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/repository"
	"github.com/epam/modular-api/internal/service"
)

const testSecret = "dispatch-test-secret"

const testDescriptor = `
module_name: m3admin
cli_path: m3admin.yaml
mount_point: /m3admin
`

const testTree = `
version: "3.1.0"
description: test module
items:
  - kind: command
    name: aws
    route: {method: POST, path: /integrations/aws}
  - kind: command
    name: azure
    route: {method: POST, path: /integrations/azure}
  - kind: command
    name: boom
    route: {method: POST, path: /boom}
  - kind: command
    name: slow
    route: {method: POST, path: /slow}
  - kind: command
    name: deploy
    parameters:
      - {name: name, type: string, required: true}
      - {name: replicas, type: integer, default: 2}
      - {name: tenant, type: string}
      - {name: regions, type: list}
      - {name: dry_run, type: boolean}
    route: {method: POST, path: /deploy}
  - kind: group
    name: tenant
    items:
      - kind: command
        name: describe
        describe: true
        parameters:
          - {name: region, type: string}
          - {name: limit, type: integer, default: 10}
        route: {method: POST, path: /tenant/describe}
`

type recordedCall struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]interface{}
	Header http.Header
}

type upstreamRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (u *upstreamRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		}
		if raw, err := io.ReadAll(r.Body); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &call.Body)
		}
		u.mu.Lock()
		u.calls = append(u.calls, call)
		u.mu.Unlock()

		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"backend exploded"}`))
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	})
}

func (u *upstreamRecorder) last(t *testing.T) recordedCall {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	require.NotEmpty(t, u.calls, "no backend call recorded")
	return u.calls[len(u.calls)-1]
}

func (u *upstreamRecorder) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

type dispatchEnv struct {
	store    repository.Store
	users    service.UserService
	groups   service.GroupService
	policies service.PolicyService
	tokens   service.TokenService
	audit    service.AuditService
	reg      *registry.Registry
	disp     *Dispatcher
	upstream *upstreamRecorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDispatchEnv wires a dispatcher over a real on-disk store, an installed
// module, and a recording backend. Ceiling 0 disables rate limiting.
func newDispatchEnv(t *testing.T, ceiling int) *dispatchEnv {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	hasher := integrity.New(testSecret)
	log := discardLogger()
	limiter := ratelimit.Disabled()
	if ceiling > 0 {
		limiter = ratelimit.New(store, ceiling, time.Second, log)
	}

	upstream := &upstreamRecorder{}
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	root := filepath.Join(t.TempDir(), "modules")
	reg := registry.New(root, srv.URL, log)
	require.NoError(t, reg.Load())

	src := filepath.Join(t.TempDir(), "m3admin-src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, registry.DescriptorFile), []byte(testDescriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "m3admin.yaml"), []byte(testTree), 0o644))
	_, err = reg.Install(src)
	require.NoError(t, err)

	env := &dispatchEnv{
		store:    store,
		users:    service.NewUserService(store, store, store, hasher, log),
		groups:   service.NewGroupService(store, store, store, hasher, log),
		policies: service.NewPolicyService(store, store, hasher, log),
		tokens:   service.NewTokenService(store, store, hasher, testSecret, time.Hour, log),
		audit:    service.NewAuditService(store, hasher, log),
		reg:      reg,
		upstream: upstream,
	}
	permissions := service.NewPermissionService(store, store, store, hasher, log)
	stats := service.NewStatsService(store, log)
	client := backend.NewClient(testSecret, 2*time.Second, log)
	env.disp = New(reg, env.tokens, permissions, env.audit, stats, limiter, client, "", log)
	return env
}

// seedActor creates a policy/group/user chain granting the statements.
func (e *dispatchEnv) seedActor(t *testing.T, username, password string, statements []models.PolicyStatement) {
	t.Helper()
	ctx := context.Background()
	_, err := e.policies.Add(ctx, username+"-policy", statements)
	require.NoError(t, err)
	_, err = e.groups.Add(ctx, username+"-group", []string{username + "-policy"})
	require.NoError(t, err)
	_, _, err = e.users.Add(ctx, username, password, []string{username + "-group"})
	require.NoError(t, err)
}

func allowAll() []models.PolicyStatement {
	return []models.PolicyStatement{{Effect: models.EffectAllow, Module: "m3admin", Resources: []string{"*"}}}
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func (e *dispatchEnv) call(req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = "test-request-id"
	}
	return e.disp.Handle(context.Background(), req)
}

func TestDispatchAllowAndDefaultDeny(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "alice", "alice-pass-1", []models.PolicyStatement{
		{Effect: models.EffectAllow, Module: "m3admin", Resources: []string{"aws"}},
	})

	resp, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "test-request-id", resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("Modular-Api-Version"))

	upstreamCall := e.upstream.last(t)
	assert.Equal(t, "/integrations/aws", upstreamCall.Path)
	assert.NotEmpty(t, upstreamCall.Header.Get("Meta-Authorization"), "inter-service token missing")

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/azure",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	assert.Equal(t, apierr.KindDenied, apierr.KindOf(err))
}

func TestDispatchDenyPrecedence(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "alice", "alice-pass-1", []models.PolicyStatement{
		{Effect: models.EffectAllow, Module: "m3admin", Resources: []string{"aws"}},
	})
	ctx := context.Background()

	p, err := e.policies.Describe(ctx, "alice-policy")
	require.NoError(t, err)
	_, err = e.policies.Update(ctx, "alice-policy", append(p.Statements, models.PolicyStatement{
		Effect: models.EffectDeny, Module: "m3admin", Resources: []string{"aws"},
	}))
	require.NoError(t, err)

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	assert.Equal(t, apierr.KindDenied, apierr.KindOf(err))
	typed := apierr.AsError(err)
	assert.Equal(t, "alice-policy", typed.Details["policy"])
}

func TestDispatchRestrictedValue(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())
	ctx := context.Background()
	_, err := e.users.SetMetaAttribute(ctx, "bob", "region", []string{"eu-central-1", "eu-west-1"})
	require.NoError(t, err)

	resp, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/tenant/describe",
		Query:         url.Values{"region": {"eu-central-1"}},
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/tenant/describe",
		Query:         url.Values{"region": {"us-east-1"}},
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	assert.Equal(t, apierr.KindRestrictedValue, apierr.KindOf(err))
	typed := apierr.AsError(err)
	assert.Equal(t, "region", typed.Details["option"])
	assert.Equal(t, "us-east-1", typed.Details["value"])
}

func TestDispatchRateLimited(t *testing.T) {
	e := newDispatchEnv(t, 2)
	e.seedActor(t, "carol", "carol-pass-1", allowAll())

	var ok, limited int
	for i := 0; i < 5; i++ {
		_, err := e.call(&Request{
			Method:        "POST",
			Path:          "/m3admin/aws",
			Authorization: basicAuth("carol", "carol-pass-1"),
		})
		switch {
		case err == nil:
			ok++
		case apierr.Is(err, apierr.KindRateLimited):
			limited++
			assert.NotEmpty(t, apierr.AsError(err).Details["retry_after_seconds"])
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Two per window; a window boundary mid-loop can admit a second batch.
	assert.GreaterOrEqual(t, ok, 2)
	assert.LessOrEqual(t, ok, 4)
	assert.Equal(t, 5-ok, limited)
	assert.GreaterOrEqual(t, limited, 1)
}

func TestDispatchRevokedTokenAfterBlock(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "dave", "dave-pass-12", allowAll())
	ctx := context.Background()

	signed, _, _, err := e.tokens.Login(ctx, "dave", "dave-pass-12")
	require.NoError(t, err)

	resp, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: "Bearer " + signed,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	require.NoError(t, e.users.Block(ctx, "dave", "incident response"))

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: "Bearer " + signed,
	})
	assert.Equal(t, apierr.KindTokenRevoked, apierr.KindOf(err))
}

func TestDispatchPipelineOrderAndRouteLookup(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "alice", "alice-pass-1", allowAll())

	// Unknown route resolves only after authentication.
	_, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/gcp",
		Authorization: "Bearer garbage",
	})
	assert.Equal(t, apierr.KindAuthenticationFailed, apierr.KindOf(err))

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/gcp",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	assert.Equal(t, apierr.KindNoSuchRoute, apierr.KindOf(err))

	// Method is part of the route identity.
	_, err = e.call(&Request{
		Method:        "DELETE",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	assert.Equal(t, apierr.KindNoSuchRoute, apierr.KindOf(err))

	_, err = e.call(&Request{Method: "POST", Path: "/m3admin/aws"})
	assert.Equal(t, apierr.KindAuthenticationFailed, apierr.KindOf(err))

	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: "Digest abc",
	})
	assert.Equal(t, apierr.KindAuthenticationFailed, apierr.KindOf(err))
}

func TestDispatchVersionGate(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "alice", "alice-pass-1", allowAll())

	gated := *e.disp
	gated.minCLI = "2.0.0"

	_, err := gated.Handle(context.Background(), &Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
		CLIVersion:    "1.4.0",
		RequestID:     "test-request-id",
	})
	assert.Equal(t, apierr.KindUnsupportedClientVersion, apierr.KindOf(err))

	resp, err := gated.Handle(context.Background(), &Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
		CLIVersion:    "2.3.1",
		RequestID:     "test-request-id",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestDispatchParamsDefaultsAuxAndRequired(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())
	ctx := context.Background()
	_, err := e.users.SetAuxAttribute(ctx, "bob", "tenant", "acme")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"name": "api", "regions": []string{"eu-central-1"}})
	resp, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          body,
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	sent := e.upstream.last(t)
	assert.Equal(t, "api", sent.Body["name"])
	assert.Equal(t, "acme", sent.Body["tenant"], "aux data not injected")
	assert.Equal(t, float64(2), sent.Body["replicas"], "default not applied")

	// Explicit override beats aux data.
	body, _ = json.Marshal(map[string]interface{}{"name": "api", "tenant": "globex"})
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          body,
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, "globex", e.upstream.last(t).Body["tenant"])

	// Missing required option.
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          []byte(`{}`),
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	assert.Equal(t, apierr.KindInvalidPayload, apierr.KindOf(err))

	// Unknown option.
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          []byte(`{"name":"api","color":"red"}`),
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	assert.Equal(t, apierr.KindInvalidPayload, apierr.KindOf(err))

	// Wrong type.
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          []byte(`{"name":"api","replicas":"many"}`),
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	assert.Equal(t, apierr.KindInvalidPayload, apierr.KindOf(err))
}

func TestDispatchAuditTrail(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())
	ctx := context.Background()

	// Success is audited.
	_, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)

	records, err := e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m3admin", records[0].Group)
	assert.Equal(t, "aws", records[0].Command)
	assert.Equal(t, "bob", records[0].Username)
	assert.Equal(t, "200 OK", records[0].Result)
	assert.Equal(t, models.ConsistencyOK, records[0].ConsistencyStatus)

	// A backend 500 is still a completed call: forwarded and audited.
	resp, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/boom",
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.JSONEq(t, `{"error":"backend exploded"}`, string(resp.Body))

	records, err = e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "500 Internal Server Error", records[0].Result)

	// Describe-class commands skip audit.
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/tenant/describe",
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)
	records, err = e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 2, "describe call must not be audited")

	// A denied call never reaches the audit step.
	e.seedActor(t, "alice", "alice-pass-1", []models.PolicyStatement{
		{Effect: models.EffectAllow, Module: "m3admin", Resources: []string{"azure"}},
	})
	_, err = e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("alice", "alice-pass-1"),
	})
	require.Error(t, err)
	records, err = e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDispatchAuditMasksSecrets(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())
	ctx := context.Background()

	body, _ := json.Marshal(map[string]interface{}{"name": "api", "tenant": "acme"})
	_, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/deploy",
		Body:          body,
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)

	records, err := e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "acme", records[0].Params["tenant"])
	assert.Equal(t, "api", records[0].Params["name"])
}

func TestDispatchUpstreamTimeoutSkipsAudit(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())
	ctx := context.Background()

	// A client with a timeout shorter than the /slow handler.
	quick := backend.NewClient(testSecret, 100*time.Millisecond, discardLogger())
	impatient := *e.disp
	impatient.backend = quick

	_, err := impatient.Handle(ctx, &Request{
		Method:        "POST",
		Path:          "/m3admin/slow",
		Authorization: basicAuth("bob", "bob-pass-12"),
		RequestID:     "test-request-id",
	})
	assert.Equal(t, apierr.KindUpstreamTimeout, apierr.KindOf(err))
	assert.Equal(t, 1, e.upstream.count(), "request never reached the backend")

	records, err := e.audit.Query(ctx, models.AuditQuery{})
	require.NoError(t, err)
	assert.Empty(t, records, "aborted backend call must not be audited")
}

func TestDispatchMetaTokenRoundTrip(t *testing.T) {
	e := newDispatchEnv(t, 0)
	e.seedActor(t, "bob", "bob-pass-12", allowAll())

	_, err := e.call(&Request{
		Method:        "POST",
		Path:          "/m3admin/aws",
		Authorization: basicAuth("bob", "bob-pass-12"),
	})
	require.NoError(t, err)

	sent := e.upstream.last(t)
	raw := sent.Header.Get("Meta-Authorization")
	claims, err := auth.Validate(testSecret, raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Username)
	assert.Equal(t, "test-request-id", sent.Header.Get("X-Request-ID"))
}
