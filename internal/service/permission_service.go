package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
	"github.com/epam/modular-api/internal/pkg/validate"
	"github.com/epam/modular-api/internal/policy"
	"github.com/epam/modular-api/internal/repository"
)

// Simulation subject kinds.
const (
	SubjectUser   = "user"
	SubjectGroup  = "group"
	SubjectPolicy = "policy"
)

// SimulationResult explains what the policy engine would decide for a subject
// and command without dispatching anything.
type SimulationResult struct {
	SubjectKind string                  `json:"subject_kind"`
	Subject     string                  `json:"subject"`
	Module      string                  `json:"module"`
	Command     string                  `json:"command"`
	Allowed     bool                    `json:"allowed"`
	Effect      string                  `json:"effect"`
	Policy      string                  `json:"policy,omitempty"`
	Statement   *models.PolicyStatement `json:"statement,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// PermissionService assembles effective statements for a caller and answers
// allow/deny questions. Missing, blocked, or tampered links in the
// user -> group -> policy chain grant nothing and surface as warnings.
type PermissionService interface {
	EffectiveStatements(ctx context.Context, u *models.User) ([]policy.Statement, []string, error)
	Authorize(ctx context.Context, u *models.User, module string, commandPath []string) (policy.Decision, []string, error)
	Simulate(ctx context.Context, subjectKind, subject, module string, commandPath []string) (*SimulationResult, error)
}

type permissionService struct {
	users    repository.Users
	groups   repository.Groups
	policies repository.Policies
	hasher   *integrity.Service
	log      *slog.Logger
}

// NewPermissionService creates a new permission service.
func NewPermissionService(users repository.Users, groups repository.Groups, policies repository.Policies, hasher *integrity.Service, log *slog.Logger) PermissionService {
	return &permissionService{
		users:    users,
		groups:   groups,
		policies: policies,
		hasher:   hasher,
		log:      log.With("component", "permission_service"),
	}
}

// EffectiveStatements walks the user's groups and their policies, returning
// every statement that may participate in evaluation. A policy shared by two
// groups contributes once.
func (s *permissionService) EffectiveStatements(ctx context.Context, u *models.User) ([]policy.Statement, []string, error) {
	var statements []policy.Statement
	var warnings []string
	seen := make(map[string]bool)
	for _, groupName := range u.Groups {
		g, err := s.groups.GetGroup(ctx, groupName)
		if err != nil {
			if apierr.Is(err, apierr.KindNotFound) {
				warnings = append(warnings, fmt.Sprintf("group %q no longer exists", groupName))
				continue
			}
			return nil, nil, err
		}
		if g.State != models.StateActivated {
			warnings = append(warnings, fmt.Sprintf("group %q is %s", groupName, g.State))
			continue
		}
		if !s.hasher.Verify(g, g.Hash) {
			warnings = append(warnings, fmt.Sprintf("group %q failed its integrity check", groupName))
			continue
		}
		for _, policyName := range g.Policies {
			if seen[policyName] {
				continue
			}
			seen[policyName] = true
			fromPolicy, warning, err := s.policyStatements(ctx, policyName)
			if err != nil {
				return nil, nil, err
			}
			if warning != "" {
				warnings = append(warnings, warning)
				continue
			}
			statements = append(statements, fromPolicy...)
		}
	}
	return statements, warnings, nil
}

// Authorize evaluates the user's effective statements against one command. A
// user record failing its integrity check is denied outright.
func (s *permissionService) Authorize(ctx context.Context, u *models.User, module string, commandPath []string) (policy.Decision, []string, error) {
	if u.ConsistencyStatus == "" {
		u.ConsistencyStatus = integrity.Status(s.hasher.Verify(u, u.Hash))
	}
	if u.ConsistencyStatus == models.ConsistencyCompromised {
		metrics.PolicyDenialsTotal.Inc()
		return policy.Decision{}, []string{fmt.Sprintf("user %q failed its integrity check", u.Username)}, nil
	}
	statements, warnings, err := s.EffectiveStatements(ctx, u)
	if err != nil {
		return policy.Decision{}, nil, err
	}
	decision := policy.Evaluate(statements, module, commandPath)
	if !decision.Allowed {
		metrics.PolicyDenialsTotal.Inc()
	}
	return decision, warnings, nil
}

// Simulate answers "would this subject be allowed to run this command" for a
// user, a group, or a single policy.
func (s *permissionService) Simulate(ctx context.Context, subjectKind, subject, module string, commandPath []string) (*SimulationResult, error) {
	if !validate.Name(module) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid module name %q", module)
	}
	if joined := strings.Join(commandPath, "/"); joined != "" && !validate.CommandPath(joined) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid command path %q", joined)
	}
	var statements []policy.Statement
	var warnings []string
	switch subjectKind {
	case SubjectUser:
		u, err := s.users.GetUser(ctx, subject)
		if err != nil {
			return nil, err
		}
		if !s.hasher.Verify(u, u.Hash) {
			warnings = append(warnings, fmt.Sprintf("user %q failed its integrity check", subject))
			break
		}
		statements, warnings, err = s.EffectiveStatements(ctx, u)
		if err != nil {
			return nil, err
		}
	case SubjectGroup:
		g, err := s.groups.GetGroup(ctx, subject)
		if err != nil {
			return nil, err
		}
		for _, policyName := range g.Policies {
			fromPolicy, warning, err := s.policyStatements(ctx, policyName)
			if err != nil {
				return nil, err
			}
			if warning != "" {
				warnings = append(warnings, warning)
				continue
			}
			statements = append(statements, fromPolicy...)
		}
	case SubjectPolicy:
		fromPolicy, warning, err := s.policyStatements(ctx, subject)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
		statements = fromPolicy
	default:
		return nil, apierr.Newf(apierr.KindInvalidPayload,
			"unknown subject kind %q, expected user, group, or policy", subjectKind)
	}

	decision := policy.Evaluate(statements, module, commandPath)
	result := &SimulationResult{
		SubjectKind: subjectKind,
		Subject:     subject,
		Module:      module,
		Command:     strings.Join(commandPath, "/"),
		Allowed:     decision.Allowed,
		Effect:      models.EffectDeny,
		Warnings:    warnings,
	}
	if decision.Matched != nil {
		result.Effect = decision.Matched.Effect
		result.Policy = decision.Matched.Policy
		result.Statement = &decision.Matched.PolicyStatement
	}
	return result, nil
}

// policyStatements loads one policy for evaluation. The returned warning is
// non-empty when the policy must be skipped.
func (s *permissionService) policyStatements(ctx context.Context, policyName string) ([]policy.Statement, string, error) {
	p, err := s.policies.GetPolicy(ctx, policyName)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil, fmt.Sprintf("policy %q no longer exists", policyName), nil
		}
		return nil, "", err
	}
	if p.State != models.StateActivated {
		return nil, fmt.Sprintf("policy %q is %s", policyName, p.State), nil
	}
	if !s.hasher.Verify(p, p.Hash) {
		return nil, fmt.Sprintf("policy %q failed its integrity check", policyName), nil
	}
	statements := make([]policy.Statement, 0, len(p.Statements))
	for _, st := range p.Statements {
		statements = append(statements, policy.Statement{PolicyStatement: st, Policy: policyName})
	}
	return statements, "", nil
}
