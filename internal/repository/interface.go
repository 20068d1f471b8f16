package repository

import (
	"context"
	"time"

	"github.com/epam/modular-api/internal/models"
)

// Users defines user-collection access. Get/Update/Delete return a NotFound
// typed error for missing records; Create returns AlreadyExists.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, username string) error
}

// Groups defines group-collection access.
type Groups interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, name string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	UpdateGroup(ctx context.Context, g *models.Group) error
	DeleteGroup(ctx context.Context, name string) error
}

// Policies defines policy-collection access.
type Policies interface {
	CreatePolicy(ctx context.Context, p *models.Policy) error
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)
	ListPolicies(ctx context.Context) ([]*models.Policy, error)
	UpdatePolicy(ctx context.Context, p *models.Policy) error
	DeletePolicy(ctx context.Context, name string) error
}

// Audit is append-only: no update or delete method exists on purpose.
type Audit interface {
	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
	QueryAudit(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error)
}

// Tokens is the allowlist of live bearer tokens keyed by jti.
type Tokens interface {
	PutToken(ctx context.Context, t *models.Token) error
	GetToken(ctx context.Context, tokenID string) (*models.Token, error)
	DeleteToken(ctx context.Context, tokenID string) error
	DeleteUserTokens(ctx context.Context, username string) (int64, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// UsageCounters holds the shared fixed-window counters for rate limiting and
// command usage stats. Increment is atomic per (scope, key, window) row.
type UsageCounters interface {
	IncrementCounter(ctx context.Context, scope, key string, windowStart int64) (int64, error)
	ListCounters(ctx context.Context, scope string, since int64) ([]*models.UsageCounter, error)
	PruneCounters(ctx context.Context, scope string, before int64) (int64, error)
}

// Store aggregates the six collections plus lifecycle operations. Both
// backends implement it; services depend on the narrow interfaces above.
type Store interface {
	Users
	Groups
	Policies
	Audit
	Tokens
	UsageCounters

	Ping(ctx context.Context) error
	Migrate() error
	Close() error
}
