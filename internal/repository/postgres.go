package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/migrations"
)

// pgUniqueViolation is the class 23 code PostgreSQL reports for duplicate keys.
const pgUniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL (hosted mode).
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects with a pool sized for the dispatcher's worker
// concurrency.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Migrate() error {
	ddl, err := migrations.SQL(migrations.DialectPostgres)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to run postgres migrations: %w", err)
	}
	return nil
}

func pgIsDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	row, err := newUserRow(u)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO modular_users (username, password_hash, state, state_reason, groups_json, meta_json, creation_date, last_modification_date, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	err = timed("create_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			row.Username, row.PasswordHash, row.State, row.StateReason,
			row.GroupsJSON, row.MetaJSON, row.CreationDate, row.LastModificationDate, row.Hash)
		return err
	})
	if pgIsDuplicate(err) {
		return apierr.Newf(apierr.KindAlreadyExists, "user %q already exists", u.Username)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	var row userRow
	err := timed("get_user", func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM modular_users WHERE username = $1`, username)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.Newf(apierr.KindNotFound, "user %q not found", username)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	var rows []userRow
	err := timed("list_users", func() error {
		return s.db.SelectContext(ctx, &rows, `SELECT * FROM modular_users ORDER BY username`)
	})
	if err != nil {
		return nil, err
	}
	users := make([]*models.User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	row, err := newUserRow(u)
	if err != nil {
		return err
	}
	query := `
		UPDATE modular_users
		SET password_hash = $1, state = $2, state_reason = $3, groups_json = $4,
		    meta_json = $5, last_modification_date = $6, hash = $7
		WHERE username = $8
	`
	var res sql.Result
	err = timed("update_user", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query,
			row.PasswordHash, row.State, row.StateReason, row.GroupsJSON,
			row.MetaJSON, row.LastModificationDate, row.Hash, row.Username)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "user", u.Username)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, username string) error {
	var res sql.Result
	err := timed("delete_user", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM modular_users WHERE username = $1`, username)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "user", username)
}

// Groups

func (s *PostgresStore) CreateGroup(ctx context.Context, g *models.Group) error {
	row, err := newGroupRow(g)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO modular_groups (group_name, policies_json, state, creation_date, last_modification_date, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	err = timed("create_group", func() error {
		_, err := s.db.ExecContext(ctx, query,
			row.GroupName, row.PoliciesJSON, row.State, row.CreationDate, row.LastModificationDate, row.Hash)
		return err
	})
	if pgIsDuplicate(err) {
		return apierr.Newf(apierr.KindAlreadyExists, "group %q already exists", g.GroupName)
	}
	return err
}

func (s *PostgresStore) GetGroup(ctx context.Context, name string) (*models.Group, error) {
	var row groupRow
	err := timed("get_group", func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM modular_groups WHERE group_name = $1`, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.Newf(apierr.KindNotFound, "group %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	var rows []groupRow
	err := timed("list_groups", func() error {
		return s.db.SelectContext(ctx, &rows, `SELECT * FROM modular_groups ORDER BY group_name`)
	})
	if err != nil {
		return nil, err
	}
	groups := make([]*models.Group, 0, len(rows))
	for i := range rows {
		g, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, g *models.Group) error {
	row, err := newGroupRow(g)
	if err != nil {
		return err
	}
	query := `
		UPDATE modular_groups
		SET policies_json = $1, state = $2, last_modification_date = $3, hash = $4
		WHERE group_name = $5
	`
	var res sql.Result
	err = timed("update_group", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query,
			row.PoliciesJSON, row.State, row.LastModificationDate, row.Hash, row.GroupName)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "group", g.GroupName)
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, name string) error {
	var res sql.Result
	err := timed("delete_group", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM modular_groups WHERE group_name = $1`, name)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "group", name)
}

// Policies

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *models.Policy) error {
	row, err := newPolicyRow(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO modular_policies (policy_name, statements_json, state, creation_date, last_modification_date, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	err = timed("create_policy", func() error {
		_, err := s.db.ExecContext(ctx, query,
			row.PolicyName, row.StatementsJSON, row.State, row.CreationDate, row.LastModificationDate, row.Hash)
		return err
	})
	if pgIsDuplicate(err) {
		return apierr.Newf(apierr.KindAlreadyExists, "policy %q already exists", p.PolicyName)
	}
	return err
}

func (s *PostgresStore) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	var row policyRow
	err := timed("get_policy", func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM modular_policies WHERE policy_name = $1`, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.Newf(apierr.KindNotFound, "policy %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]*models.Policy, error) {
	var rows []policyRow
	err := timed("list_policies", func() error {
		return s.db.SelectContext(ctx, &rows, `SELECT * FROM modular_policies ORDER BY policy_name`)
	})
	if err != nil {
		return nil, err
	}
	policies := make([]*models.Policy, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p *models.Policy) error {
	row, err := newPolicyRow(p)
	if err != nil {
		return err
	}
	query := `
		UPDATE modular_policies
		SET statements_json = $1, state = $2, last_modification_date = $3, hash = $4
		WHERE policy_name = $5
	`
	var res sql.Result
	err = timed("update_policy", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query,
			row.StatementsJSON, row.State, row.LastModificationDate, row.Hash, row.PolicyName)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "policy", p.PolicyName)
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, name string) error {
	var res sql.Result
	err := timed("delete_policy", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM modular_policies WHERE policy_name = $1`, name)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "policy", name)
}

// Audit (append-only)

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	row, err := newAuditRow(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO modular_audit (id, timestamp, username, module_group, command, params_json, result, warnings_json, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	return timed("append_audit", func() error {
		_, err := s.db.ExecContext(ctx, query,
			row.ID, row.Timestamp, row.Username, row.ModuleGroup, row.Command,
			row.ParamsJSON, row.Result, row.WarningsJSON, row.Hash)
		return err
	})
}

func (s *PostgresStore) QueryAudit(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	query, args := buildAuditQuery(q, nextPlaceholderPostgres)
	var rows []auditRow
	err := timed("query_audit", func() error {
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, err
	}
	records := make([]*models.AuditRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Tokens

func (s *PostgresStore) PutToken(ctx context.Context, t *models.Token) error {
	row := newTokenRow(t)
	query := `
		INSERT INTO modular_tokens (token_id, username, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	err := timed("put_token", func() error {
		_, err := s.db.ExecContext(ctx, query, row.TokenID, row.Username, row.IssuedAt, row.ExpiresAt)
		return err
	})
	if pgIsDuplicate(err) {
		return apierr.Newf(apierr.KindAlreadyExists, "token %q already exists", t.TokenID)
	}
	return err
}

func (s *PostgresStore) GetToken(ctx context.Context, tokenID string) (*models.Token, error) {
	var row tokenRow
	err := timed("get_token", func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM modular_tokens WHERE token_id = $1`, tokenID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.KindNotFound, "token not found")
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PostgresStore) DeleteToken(ctx context.Context, tokenID string) error {
	var res sql.Result
	err := timed("delete_token", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM modular_tokens WHERE token_id = $1`, tokenID)
		return execErr
	})
	if err != nil {
		return err
	}
	return requireAffected(res, "token", tokenID)
}

func (s *PostgresStore) DeleteUserTokens(ctx context.Context, username string) (int64, error) {
	var res sql.Result
	err := timed("delete_user_tokens", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM modular_tokens WHERE username = $1`, username)
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	var res sql.Result
	err := timed("delete_expired_tokens", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`DELETE FROM modular_tokens WHERE expires_at < $1`, models.CanonicalTime(before))
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UsageCounters

func (s *PostgresStore) IncrementCounter(ctx context.Context, scope, key string, windowStart int64) (int64, error) {
	query := `
		INSERT INTO modular_usage_counters (scope, counter_key, window_start, count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (scope, counter_key, window_start)
		DO UPDATE SET count = modular_usage_counters.count + 1, updated_at = EXCLUDED.updated_at
		RETURNING count
	`
	var count int64
	err := timed("increment_counter", func() error {
		return s.db.QueryRowContext(ctx, query,
			scope, key, windowStart, models.CanonicalTime(time.Now())).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) ListCounters(ctx context.Context, scope string, since int64) ([]*models.UsageCounter, error) {
	var rows []counterRow
	query := `
		SELECT * FROM modular_usage_counters
		WHERE scope = $1 AND window_start >= $2
		ORDER BY window_start DESC, counter_key
	`
	err := timed("list_counters", func() error {
		return s.db.SelectContext(ctx, &rows, query, scope, since)
	})
	if err != nil {
		return nil, err
	}
	counters := make([]*models.UsageCounter, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, nil
}

func (s *PostgresStore) PruneCounters(ctx context.Context, scope string, before int64) (int64, error) {
	var res sql.Result
	err := timed("prune_counters", func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`DELETE FROM modular_usage_counters WHERE scope = $1 AND window_start < $2`, scope, before)
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
