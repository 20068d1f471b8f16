package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/epam/modular-api/internal/models"
)

// Row types shared by both backends. Dates are stored as RFC3339 UTC text and
// nested documents as JSON text, so records round-trip bit-identically and
// the integrity hashes stay stable across backends.

type userRow struct {
	Username             string `db:"username"`
	PasswordHash         string `db:"password_hash"`
	State                string `db:"state"`
	StateReason          string `db:"state_reason"`
	GroupsJSON           string `db:"groups_json"`
	MetaJSON             string `db:"meta_json"`
	CreationDate         string `db:"creation_date"`
	LastModificationDate string `db:"last_modification_date"`
	Hash                 string `db:"hash"`
}

func newUserRow(u *models.User) (*userRow, error) {
	groups, err := marshalJSON(u.Groups, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode user groups: %w", err)
	}
	meta, err := marshalJSON(u.Meta, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode user meta: %w", err)
	}
	return &userRow{
		Username:             u.Username,
		PasswordHash:         u.PasswordHash,
		State:                u.State,
		StateReason:          u.StateReason,
		GroupsJSON:           groups,
		MetaJSON:             meta,
		CreationDate:         models.CanonicalTime(u.CreationDate),
		LastModificationDate: models.CanonicalTime(u.LastModificationDate),
		Hash:                 u.Hash,
	}, nil
}

func (r *userRow) toModel() (*models.User, error) {
	u := &models.User{
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		State:        r.State,
		StateReason:  r.StateReason,
		Hash:         r.Hash,
	}
	if err := json.Unmarshal([]byte(r.GroupsJSON), &u.Groups); err != nil {
		return nil, fmt.Errorf("decode user groups: %w", err)
	}
	if err := json.Unmarshal([]byte(r.MetaJSON), &u.Meta); err != nil {
		return nil, fmt.Errorf("decode user meta: %w", err)
	}
	var err error
	if u.CreationDate, err = parseTime(r.CreationDate); err != nil {
		return nil, err
	}
	if u.LastModificationDate, err = parseTime(r.LastModificationDate); err != nil {
		return nil, err
	}
	return u, nil
}

type groupRow struct {
	GroupName            string `db:"group_name"`
	PoliciesJSON         string `db:"policies_json"`
	State                string `db:"state"`
	CreationDate         string `db:"creation_date"`
	LastModificationDate string `db:"last_modification_date"`
	Hash                 string `db:"hash"`
}

func newGroupRow(g *models.Group) (*groupRow, error) {
	policies, err := marshalJSON(g.Policies, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode group policies: %w", err)
	}
	return &groupRow{
		GroupName:            g.GroupName,
		PoliciesJSON:         policies,
		State:                g.State,
		CreationDate:         models.CanonicalTime(g.CreationDate),
		LastModificationDate: models.CanonicalTime(g.LastModificationDate),
		Hash:                 g.Hash,
	}, nil
}

func (r *groupRow) toModel() (*models.Group, error) {
	g := &models.Group{
		GroupName: r.GroupName,
		State:     r.State,
		Hash:      r.Hash,
	}
	if err := json.Unmarshal([]byte(r.PoliciesJSON), &g.Policies); err != nil {
		return nil, fmt.Errorf("decode group policies: %w", err)
	}
	var err error
	if g.CreationDate, err = parseTime(r.CreationDate); err != nil {
		return nil, err
	}
	if g.LastModificationDate, err = parseTime(r.LastModificationDate); err != nil {
		return nil, err
	}
	return g, nil
}

type policyRow struct {
	PolicyName           string `db:"policy_name"`
	StatementsJSON       string `db:"statements_json"`
	State                string `db:"state"`
	CreationDate         string `db:"creation_date"`
	LastModificationDate string `db:"last_modification_date"`
	Hash                 string `db:"hash"`
}

func newPolicyRow(p *models.Policy) (*policyRow, error) {
	statements, err := marshalJSON(p.Statements, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode policy statements: %w", err)
	}
	return &policyRow{
		PolicyName:           p.PolicyName,
		StatementsJSON:       statements,
		State:                p.State,
		CreationDate:         models.CanonicalTime(p.CreationDate),
		LastModificationDate: models.CanonicalTime(p.LastModificationDate),
		Hash:                 p.Hash,
	}, nil
}

func (r *policyRow) toModel() (*models.Policy, error) {
	p := &models.Policy{
		PolicyName: r.PolicyName,
		State:      r.State,
		Hash:       r.Hash,
	}
	if err := json.Unmarshal([]byte(r.StatementsJSON), &p.Statements); err != nil {
		return nil, fmt.Errorf("decode policy statements: %w", err)
	}
	var err error
	if p.CreationDate, err = parseTime(r.CreationDate); err != nil {
		return nil, err
	}
	if p.LastModificationDate, err = parseTime(r.LastModificationDate); err != nil {
		return nil, err
	}
	return p, nil
}

type auditRow struct {
	ID           string `db:"id"`
	Timestamp    string `db:"timestamp"`
	Username     string `db:"username"`
	ModuleGroup  string `db:"module_group"`
	Command      string `db:"command"`
	ParamsJSON   string `db:"params_json"`
	Result       string `db:"result"`
	WarningsJSON string `db:"warnings_json"`
	Hash         string `db:"hash"`
}

func newAuditRow(a *models.AuditRecord) (*auditRow, error) {
	params, err := marshalJSON(a.Params, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode audit params: %w", err)
	}
	warnings, err := marshalJSON(a.Warnings, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode audit warnings: %w", err)
	}
	return &auditRow{
		ID:           a.ID,
		Timestamp:    models.CanonicalTime(a.Timestamp),
		Username:     a.Username,
		ModuleGroup:  a.Group,
		Command:      a.Command,
		ParamsJSON:   params,
		Result:       a.Result,
		WarningsJSON: warnings,
		Hash:         a.Hash,
	}, nil
}

func (r *auditRow) toModel() (*models.AuditRecord, error) {
	a := &models.AuditRecord{
		ID:       r.ID,
		Username: r.Username,
		Group:    r.ModuleGroup,
		Command:  r.Command,
		Result:   r.Result,
		Hash:     r.Hash,
	}
	if err := json.Unmarshal([]byte(r.ParamsJSON), &a.Params); err != nil {
		return nil, fmt.Errorf("decode audit params: %w", err)
	}
	if err := json.Unmarshal([]byte(r.WarningsJSON), &a.Warnings); err != nil {
		return nil, fmt.Errorf("decode audit warnings: %w", err)
	}
	var err error
	if a.Timestamp, err = parseTime(r.Timestamp); err != nil {
		return nil, err
	}
	return a, nil
}

type tokenRow struct {
	TokenID   string `db:"token_id"`
	Username  string `db:"username"`
	IssuedAt  string `db:"issued_at"`
	ExpiresAt string `db:"expires_at"`
}

func newTokenRow(t *models.Token) *tokenRow {
	return &tokenRow{
		TokenID:   t.TokenID,
		Username:  t.Username,
		IssuedAt:  models.CanonicalTime(t.IssuedAt),
		ExpiresAt: models.CanonicalTime(t.ExpiresAt),
	}
}

func (r *tokenRow) toModel() (*models.Token, error) {
	t := &models.Token{
		TokenID:  r.TokenID,
		Username: r.Username,
	}
	var err error
	if t.IssuedAt, err = parseTime(r.IssuedAt); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(r.ExpiresAt); err != nil {
		return nil, err
	}
	return t, nil
}

type counterRow struct {
	Scope       string `db:"scope"`
	CounterKey  string `db:"counter_key"`
	WindowStart int64  `db:"window_start"`
	Count       int64  `db:"count"`
	UpdatedAt   string `db:"updated_at"`
}

func (r *counterRow) toModel() (*models.UsageCounter, error) {
	c := &models.UsageCounter{
		Scope:       r.Scope,
		CounterKey:  r.CounterKey,
		WindowStart: r.WindowStart,
		Count:       r.Count,
	}
	var err error
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(b)
	if s == "null" {
		return empty, nil
	}
	return s, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
