package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate())
}

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := models.Now()
	user := &models.User{
		Username:     "jdoe",
		PasswordHash: "$2a$12$abcdefghijklmnopqrstuv",
		State:        models.StateActivated,
		Groups:       []string{"admins", "operators"},
		Meta: models.UserMeta{
			AllowedValues: map[string][]string{"region": {"eu-west-1"}},
		},
		CreationDate:         now,
		LastModificationDate: now,
		Hash:                 "deadbeef",
	}
	require.NoError(t, store.CreateUser(ctx, user))

	err := store.CreateUser(ctx, user)
	require.Error(t, err)
	assert.Equal(t, apierr.KindAlreadyExists, apierr.KindOf(err))

	got, err := store.GetUser(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)
	assert.Equal(t, []string{"admins", "operators"}, got.Groups)
	assert.Equal(t, []string{"eu-west-1"}, got.Meta.AllowedValues["region"])
	assert.True(t, got.CreationDate.Equal(now))
	assert.Equal(t, "deadbeef", got.Hash)

	got.State = models.StateBlocked
	got.StateReason = "left the company"
	got.LastModificationDate = models.Now()
	require.NoError(t, store.UpdateUser(ctx, got))

	got, err = store.GetUser(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, models.StateBlocked, got.State)
	assert.Equal(t, "left the company", got.StateReason)

	require.NoError(t, store.DeleteUser(ctx, "jdoe"))
	_, err = store.GetUser(ctx, "jdoe")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(store.DeleteUser(ctx, "jdoe")))
}

func TestGroupAndPolicyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := models.Now()

	policy := &models.Policy{
		PolicyName: "admin-policy",
		Statements: []models.PolicyStatement{
			{Effect: models.EffectAllow, Module: "m3sa", Resources: []string{"*"}},
			{Effect: models.EffectDeny, Module: "m3sa", Resources: []string{"report:push"}},
		},
		State:                models.StateActivated,
		CreationDate:         now,
		LastModificationDate: now,
	}
	require.NoError(t, store.CreatePolicy(ctx, policy))

	gotPolicy, err := store.GetPolicy(ctx, "admin-policy")
	require.NoError(t, err)
	require.Len(t, gotPolicy.Statements, 2)
	assert.Equal(t, models.EffectDeny, gotPolicy.Statements[1].Effect)
	assert.Equal(t, []string{"report:push"}, gotPolicy.Statements[1].Resources)

	group := &models.Group{
		GroupName:            "admins",
		Policies:             []string{"admin-policy"},
		State:                models.StateActivated,
		CreationDate:         now,
		LastModificationDate: now,
	}
	require.NoError(t, store.CreateGroup(ctx, group))

	gotGroup, err := store.GetGroup(ctx, "admins")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-policy"}, gotGroup.Policies)

	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	policies, err := store.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	require.NoError(t, store.DeleteGroup(ctx, "admins"))
	require.NoError(t, store.DeletePolicy(ctx, "admin-policy"))
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(store.DeletePolicy(ctx, "admin-policy")))
}

func TestAuditQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	records := []*models.AuditRecord{
		{ID: "a", Timestamp: base, Username: "jdoe", Group: "m3sa", Command: "report push", Result: "succeeded"},
		{ID: "b", Timestamp: base.Add(time.Minute), Username: "jdoe", Group: "m3sa", Command: "job submit", Result: "failed"},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), Username: "ops", Group: "billing", Command: "invoice close", Result: "succeeded"},
	}
	for _, rec := range records {
		require.NoError(t, store.AppendAudit(ctx, rec))
	}

	all, err := store.QueryAudit(ctx, models.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest record comes first")

	byGroup, err := store.QueryAudit(ctx, models.AuditQuery{Group: "m3sa"})
	require.NoError(t, err)
	require.Len(t, byGroup, 2)

	byCommand, err := store.QueryAudit(ctx, models.AuditQuery{Command: "job submit"})
	require.NoError(t, err)
	require.Len(t, byCommand, 1)
	assert.Equal(t, "b", byCommand[0].ID)

	window, err := store.QueryAudit(ctx, models.AuditQuery{
		From: base.Add(30 * time.Second),
		To:   base.Add(90 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].ID)

	limited, err := store.QueryAudit(ctx, models.AuditQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTokenAllowlist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := models.Now()
	expiries := []time.Duration{-time.Hour, time.Hour, 2 * time.Hour}
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.PutToken(ctx, &models.Token{
			TokenID:   id,
			Username:  "jdoe",
			IssuedAt:  now,
			ExpiresAt: now.Add(expiries[i]),
		}))
	}

	got, err := store.GetToken(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", got.Username)

	removed, err := store.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetToken(ctx, "t1")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	removed, err = store.DeleteUserTokens(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(store.DeleteToken(ctx, "t3")))
}

func TestUsageCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	window := int64(1700000000)
	for i := int64(1); i <= 5; i++ {
		count, err := store.IncrementCounter(ctx, models.CounterScopeRate, "jdoe:/m3sa/report", window)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, err := store.IncrementCounter(ctx, models.CounterScopeRate, "jdoe:/m3sa/report", window+60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "a new window starts counting from scratch")

	counters, err := store.ListCounters(ctx, models.CounterScopeRate, window)
	require.NoError(t, err)
	require.Len(t, counters, 2)
	assert.Equal(t, window+60, counters[0].WindowStart)
	assert.Equal(t, int64(5), counters[1].Count)

	pruned, err := store.PruneCounters(ctx, models.CounterScopeRate, window+60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
