package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

// memStore implements repository.Store in memory with the same typed error
// contract as the real backends.
type memStore struct {
	mu       sync.Mutex
	users    map[string]models.User
	groups   map[string]models.Group
	policies map[string]models.Policy
	audit    []models.AuditRecord
	tokens   map[string]models.Token
	counters map[string]*models.UsageCounter

	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]models.User),
		groups:   make(map[string]models.Group),
		policies: make(map[string]models.Policy),
		tokens:   make(map[string]models.Token),
		counters: make(map[string]*models.UsageCounter),
	}
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.users[u.Username]; ok {
		return apierr.Newf(apierr.KindAlreadyExists, "user %q already exists", u.Username)
	}
	m.users[u.Username] = *u
	return nil
}

func (m *memStore) GetUser(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	u, ok := m.users[username]
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "user %q not found", username)
	}
	cp := u
	return &cp, nil
}

func (m *memStore) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		cp := u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; !ok {
		return apierr.Newf(apierr.KindNotFound, "user %q not found", u.Username)
	}
	m.users[u.Username] = *u
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return apierr.Newf(apierr.KindNotFound, "user %q not found", username)
	}
	delete(m.users, username)
	return nil
}

func (m *memStore) CreateGroup(_ context.Context, g *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.GroupName]; ok {
		return apierr.Newf(apierr.KindAlreadyExists, "group %q already exists", g.GroupName)
	}
	m.groups[g.GroupName] = *g
	return nil
}

func (m *memStore) GetGroup(_ context.Context, name string) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "group %q not found", name)
	}
	cp := g
	return &cp, nil
}

func (m *memStore) ListGroups(_ context.Context) ([]*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupName < out[j].GroupName })
	return out, nil
}

func (m *memStore) UpdateGroup(_ context.Context, g *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.GroupName]; !ok {
		return apierr.Newf(apierr.KindNotFound, "group %q not found", g.GroupName)
	}
	m.groups[g.GroupName] = *g
	return nil
}

func (m *memStore) DeleteGroup(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; !ok {
		return apierr.Newf(apierr.KindNotFound, "group %q not found", name)
	}
	delete(m.groups, name)
	return nil
}

func (m *memStore) CreatePolicy(_ context.Context, p *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.PolicyName]; ok {
		return apierr.Newf(apierr.KindAlreadyExists, "policy %q already exists", p.PolicyName)
	}
	m.policies[p.PolicyName] = *p
	return nil
}

func (m *memStore) GetPolicy(_ context.Context, name string) (*models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[name]
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "policy %q not found", name)
	}
	cp := p
	return &cp, nil
}

func (m *memStore) ListPolicies(_ context.Context) ([]*models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyName < out[j].PolicyName })
	return out, nil
}

func (m *memStore) UpdatePolicy(_ context.Context, p *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.PolicyName]; !ok {
		return apierr.Newf(apierr.KindNotFound, "policy %q not found", p.PolicyName)
	}
	m.policies[p.PolicyName] = *p
	return nil
}

func (m *memStore) DeletePolicy(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[name]; !ok {
		return apierr.Newf(apierr.KindNotFound, "policy %q not found", name)
	}
	delete(m.policies, name)
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.audit = append(m.audit, *rec)
	return nil
}

func (m *memStore) QueryAudit(_ context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(m.audit) - 1; i >= 0; i-- {
		rec := m.audit[i]
		if !q.From.IsZero() && rec.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && rec.Timestamp.After(q.To) {
			continue
		}
		if q.Group != "" && rec.Group != q.Group {
			continue
		}
		if q.Command != "" && rec.Command != q.Command {
			continue
		}
		cp := rec
		out = append(out, &cp)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) PutToken(_ context.Context, t *models.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.TokenID] = *t
	return nil
}

func (m *memStore) GetToken(_ context.Context, tokenID string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "token %q not found", tokenID)
	}
	cp := t
	return &cp, nil
}

func (m *memStore) DeleteToken(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tokenID]; !ok {
		return apierr.Newf(apierr.KindNotFound, "token %q not found", tokenID)
	}
	delete(m.tokens, tokenID)
	return nil
}

func (m *memStore) DeleteUserTokens(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.Username == username {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func counterID(scope, key string, windowStart int64) string {
	return scope + "\x00" + key + "\x00" + time.Unix(windowStart, 0).UTC().Format(time.RFC3339)
}

func (m *memStore) IncrementCounter(_ context.Context, scope, key string, windowStart int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	id := counterID(scope, key, windowStart)
	c, ok := m.counters[id]
	if !ok {
		c = &models.UsageCounter{Scope: scope, CounterKey: key, WindowStart: windowStart}
		m.counters[id] = c
	}
	c.Count++
	c.UpdatedAt = time.Now().UTC()
	return c.Count, nil
}

func (m *memStore) ListCounters(_ context.Context, scope string, since int64) ([]*models.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UsageCounter
	for _, c := range m.counters {
		if c.Scope == scope && c.WindowStart >= since {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowStart != out[j].WindowStart {
			return out[i].WindowStart < out[j].WindowStart
		}
		return strings.Compare(out[i].CounterKey, out[j].CounterKey) < 0
	})
	return out, nil
}

func (m *memStore) PruneCounters(_ context.Context, scope string, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.counters {
		if c.Scope == scope && c.WindowStart < before {
			delete(m.counters, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Migrate() error             { return nil }
func (m *memStore) Close() error               { return nil }
