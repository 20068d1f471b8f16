package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/validate"
	"github.com/epam/modular-api/internal/policy"
	"github.com/epam/modular-api/internal/repository"
)

// PolicyService manages the named statement lists the policy engine evaluates.
type PolicyService interface {
	Add(ctx context.Context, name string, statements []models.PolicyStatement) (*models.Policy, error)
	Update(ctx context.Context, name string, statements []models.PolicyStatement) (*models.Policy, error)
	Describe(ctx context.Context, name string) (*models.Policy, error)
	List(ctx context.Context) ([]*models.Policy, error)
	Delete(ctx context.Context, name string, force bool) error
	ReferencingGroups(ctx context.Context, name string) ([]string, error)
}

type policyService struct {
	policies repository.Policies
	groups   repository.Groups
	hasher   *integrity.Service
	log      *slog.Logger
}

// NewPolicyService creates a new policy service.
func NewPolicyService(policies repository.Policies, groups repository.Groups, hasher *integrity.Service, log *slog.Logger) PolicyService {
	return &policyService{
		policies: policies,
		groups:   groups,
		hasher:   hasher,
		log:      log.With("component", "policy_service"),
	}
}

func (s *policyService) Add(ctx context.Context, name string, statements []models.PolicyStatement) (*models.Policy, error) {
	if !validate.Name(name) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid policy name %q", name)
	}
	if err := policy.ValidateStatements(statements); err != nil {
		return nil, err
	}
	now := models.Now()
	p := &models.Policy{
		PolicyName:           name,
		Statements:           statements,
		State:                models.StateActivated,
		CreationDate:         now,
		LastModificationDate: now,
	}
	if err := s.seal(p); err != nil {
		return nil, err
	}
	if err := s.policies.CreatePolicy(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("policy created", "policy", name, "statements", len(statements))
	return p, nil
}

func (s *policyService) Update(ctx context.Context, name string, statements []models.PolicyStatement) (*models.Policy, error) {
	if err := policy.ValidateStatements(statements); err != nil {
		return nil, err
	}
	p, err := s.policies.GetPolicy(ctx, name)
	if err != nil {
		return nil, err
	}
	p.Statements = statements
	p.LastModificationDate = models.Now()
	if err := s.seal(p); err != nil {
		return nil, err
	}
	if err := s.policies.UpdatePolicy(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("policy updated", "policy", name, "statements", len(statements))
	p.ConsistencyStatus = models.ConsistencyOK
	return p, nil
}

func (s *policyService) Describe(ctx context.Context, name string) (*models.Policy, error) {
	p, err := s.policies.GetPolicy(ctx, name)
	if err != nil {
		return nil, err
	}
	p.ConsistencyStatus = integrity.Status(s.hasher.Verify(p, p.Hash))
	return p, nil
}

func (s *policyService) List(ctx context.Context) ([]*models.Policy, error) {
	items, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range items {
		p.ConsistencyStatus = integrity.Status(s.hasher.Verify(p, p.Hash))
	}
	return items, nil
}

// Delete removes a policy. While groups still reference it the delete is
// refused unless force is set, in which case the policy is detached from
// every referencing group first.
func (s *policyService) Delete(ctx context.Context, name string, force bool) error {
	refs, err := s.ReferencingGroups(ctx, name)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		if !force {
			return apierr.Newf(apierr.KindInvalidState,
				"policy %q is attached to groups: %s", name, strings.Join(refs, ", "))
		}
		for _, groupName := range refs {
			if err := s.detachFromGroup(ctx, groupName, name); err != nil {
				return err
			}
		}
	}
	if err := s.policies.DeletePolicy(ctx, name); err != nil {
		return err
	}
	s.log.Info("policy deleted", "policy", name, "detached_groups", len(refs))
	return nil
}

// ReferencingGroups returns the names of the groups that currently attach the
// policy, sorted the way the store lists them.
func (s *policyService) ReferencingGroups(ctx context.Context, name string) ([]string, error) {
	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, g := range groups {
		if g.HasPolicy(name) {
			refs = append(refs, g.GroupName)
		}
	}
	return refs, nil
}

func (s *policyService) detachFromGroup(ctx context.Context, groupName, policyName string) error {
	g, err := s.groups.GetGroup(ctx, groupName)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	kept := make([]string, 0, len(g.Policies))
	for _, p := range g.Policies {
		if p != policyName {
			kept = append(kept, p)
		}
	}
	g.Policies = kept
	g.LastModificationDate = models.Now()
	hash, err := s.hasher.SumRecord(g)
	if err != nil {
		return apierr.Internal(err)
	}
	g.Hash = hash
	return s.groups.UpdateGroup(ctx, g)
}

func (s *policyService) seal(p *models.Policy) error {
	hash, err := s.hasher.SumRecord(p)
	if err != nil {
		return apierr.Internal(err)
	}
	p.Hash = hash
	return nil
}
