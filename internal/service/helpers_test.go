package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
)

const (
	testSecret   = "service-test-secret"
	testTokenTTL = time.Hour
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env bundles every service over one shared in-memory store so tests can mix
// identity operations freely.
type env struct {
	store       *memStore
	hasher      *integrity.Service
	policies    PolicyService
	groups      GroupService
	users       UserService
	tokens      TokenService
	permissions PermissionService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newMemStore()
	hasher := integrity.New(testSecret)
	log := testLogger()
	return &env{
		store:       store,
		hasher:      hasher,
		policies:    NewPolicyService(store, store, hasher, log),
		groups:      NewGroupService(store, store, store, hasher, log),
		users:       NewUserService(store, store, store, hasher, log),
		tokens:      NewTokenService(store, store, hasher, testSecret, testTokenTTL, log),
		permissions: NewPermissionService(store, store, store, hasher, log),
	}
}

// seedChain creates policy p1 (Allow m3admin aws), group g1 holding it, and
// user alice in g1 with the given password.
func (e *env) seedChain(t *testing.T, password string) {
	t.Helper()
	ctx := context.Background()
	statements := []models.PolicyStatement{{
		Effect:    models.EffectAllow,
		Module:    "m3admin",
		Resources: []string{"aws"},
	}}
	if _, err := e.policies.Add(ctx, "p1", statements); err != nil {
		t.Fatalf("seed policy: %v", err)
	}
	if _, err := e.groups.Add(ctx, "g1", []string{"p1"}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, _, err := e.users.Add(ctx, "alice", password, []string{"g1"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func wantKind(t *testing.T, err error, kind apierr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apierr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}
