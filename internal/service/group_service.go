package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/validate"
	"github.com/epam/modular-api/internal/repository"
)

// GroupService manages groups, the binding layer between users and policies.
type GroupService interface {
	Add(ctx context.Context, name string, policies []string) (*models.Group, error)
	AddPolicy(ctx context.Context, groupName, policyName string) (*models.Group, error)
	DeletePolicy(ctx context.Context, groupName, policyName string) (*models.Group, error)
	Describe(ctx context.Context, name string) (*models.Group, error)
	List(ctx context.Context) ([]*models.Group, error)
	Delete(ctx context.Context, name string, force bool) error
	ReferencingUsers(ctx context.Context, name string) ([]string, error)
}

type groupService struct {
	groups   repository.Groups
	policies repository.Policies
	users    repository.Users
	hasher   *integrity.Service
	log      *slog.Logger
}

// NewGroupService creates a new group service.
func NewGroupService(groups repository.Groups, policies repository.Policies, users repository.Users, hasher *integrity.Service, log *slog.Logger) GroupService {
	return &groupService{
		groups:   groups,
		policies: policies,
		users:    users,
		hasher:   hasher,
		log:      log.With("component", "group_service"),
	}
}

func (s *groupService) Add(ctx context.Context, name string, policies []string) (*models.Group, error) {
	if !validate.Name(name) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid group name %q", name)
	}
	seen := make(map[string]bool, len(policies))
	for _, policyName := range policies {
		if seen[policyName] {
			return nil, apierr.Newf(apierr.KindInvalidPayload, "policy %q listed twice", policyName)
		}
		seen[policyName] = true
		if err := s.requireAttachable(ctx, policyName); err != nil {
			return nil, err
		}
	}
	now := models.Now()
	g := &models.Group{
		GroupName:            name,
		Policies:             policies,
		State:                models.StateActivated,
		CreationDate:         now,
		LastModificationDate: now,
	}
	if err := s.seal(g); err != nil {
		return nil, err
	}
	if err := s.groups.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info("group created", "group", name, "policies", len(policies))
	return g, nil
}

func (s *groupService) AddPolicy(ctx context.Context, groupName, policyName string) (*models.Group, error) {
	g, err := s.groups.GetGroup(ctx, groupName)
	if err != nil {
		return nil, err
	}
	if g.HasPolicy(policyName) {
		return nil, apierr.Newf(apierr.KindAlreadyExists,
			"policy %q is already attached to group %q", policyName, groupName)
	}
	if err := s.requireAttachable(ctx, policyName); err != nil {
		return nil, err
	}
	g.Policies = append(g.Policies, policyName)
	if err := s.saveGroup(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info("policy attached", "group", groupName, "policy", policyName)
	return g, nil
}

func (s *groupService) DeletePolicy(ctx context.Context, groupName, policyName string) (*models.Group, error) {
	g, err := s.groups.GetGroup(ctx, groupName)
	if err != nil {
		return nil, err
	}
	if !g.HasPolicy(policyName) {
		return nil, apierr.Newf(apierr.KindNotFound,
			"policy %q is not attached to group %q", policyName, groupName)
	}
	kept := make([]string, 0, len(g.Policies)-1)
	for _, p := range g.Policies {
		if p != policyName {
			kept = append(kept, p)
		}
	}
	g.Policies = kept
	if err := s.saveGroup(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info("policy detached", "group", groupName, "policy", policyName)
	return g, nil
}

func (s *groupService) Describe(ctx context.Context, name string) (*models.Group, error) {
	g, err := s.groups.GetGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	g.ConsistencyStatus = integrity.Status(s.hasher.Verify(g, g.Hash))
	return g, nil
}

func (s *groupService) List(ctx context.Context) ([]*models.Group, error) {
	items, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range items {
		g.ConsistencyStatus = integrity.Status(s.hasher.Verify(g, g.Hash))
	}
	return items, nil
}

// Delete removes a group. While users still reference it the delete is
// refused unless force is set, in which case the group is removed from every
// referencing user first.
func (s *groupService) Delete(ctx context.Context, name string, force bool) error {
	refs, err := s.ReferencingUsers(ctx, name)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		if !force {
			return apierr.Newf(apierr.KindInvalidState,
				"group %q is referenced by users: %s", name, strings.Join(refs, ", "))
		}
		for _, username := range refs {
			if err := s.detachFromUser(ctx, username, name); err != nil {
				return err
			}
		}
	}
	if err := s.groups.DeleteGroup(ctx, name); err != nil {
		return err
	}
	s.log.Info("group deleted", "group", name, "detached_users", len(refs))
	return nil
}

// ReferencingUsers returns the usernames that currently hold the group.
func (s *groupService) ReferencingUsers(ctx context.Context, name string) ([]string, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, u := range users {
		if u.InGroup(name) {
			refs = append(refs, u.Username)
		}
	}
	return refs, nil
}

// requireAttachable checks that a policy can be attached: it must exist, be
// activated, and pass its integrity check.
func (s *groupService) requireAttachable(ctx context.Context, policyName string) error {
	p, err := s.policies.GetPolicy(ctx, policyName)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return apierr.Newf(apierr.KindReferencedEntityMissing, "policy %q does not exist", policyName)
		}
		return err
	}
	if p.State != models.StateActivated {
		return apierr.Newf(apierr.KindInvalidState, "policy %q is %s", policyName, p.State)
	}
	if !s.hasher.Verify(p, p.Hash) {
		return apierr.Newf(apierr.KindInvalidState, "policy %q failed its integrity check", policyName)
	}
	return nil
}

func (s *groupService) detachFromUser(ctx context.Context, username, groupName string) error {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil
		}
		return err
	}
	kept := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		if g != groupName {
			kept = append(kept, g)
		}
	}
	u.Groups = kept
	u.LastModificationDate = models.Now()
	hash, err := s.hasher.SumRecord(u)
	if err != nil {
		return apierr.Internal(err)
	}
	u.Hash = hash
	return s.users.UpdateUser(ctx, u)
}

func (s *groupService) saveGroup(ctx context.Context, g *models.Group) error {
	g.LastModificationDate = models.Now()
	if err := s.seal(g); err != nil {
		return err
	}
	if err := s.groups.UpdateGroup(ctx, g); err != nil {
		return err
	}
	g.ConsistencyStatus = models.ConsistencyOK
	return nil
}

func (s *groupService) seal(g *models.Group) error {
	hash, err := s.hasher.SumRecord(g)
	if err != nil {
		return apierr.Internal(err)
	}
	g.Hash = hash
	return nil
}
