package service

import (
	"context"
	"log/slog"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/auth"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/validate"
	"github.com/epam/modular-api/internal/repository"
)

// UserService manages local accounts, their group memberships, and their
// per-user parameter restrictions.
type UserService interface {
	// Add creates a user. With an empty password one is generated and
	// returned in clear exactly once; it is never recoverable afterwards.
	Add(ctx context.Context, username, password string, groups []string) (*models.User, string, error)
	Describe(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Delete(ctx context.Context, username string) error
	Block(ctx context.Context, username, reason string) error
	Unblock(ctx context.Context, username string) error
	ChangePassword(ctx context.Context, username, newPassword string) error
	ChangeUsername(ctx context.Context, oldName, newName string) error
	AddToGroup(ctx context.Context, username, groupName string) (*models.User, error)
	RemoveFromGroup(ctx context.Context, username, groupName string) (*models.User, error)
	SetMetaAttribute(ctx context.Context, username, option string, values []string) (*models.User, error)
	UpdateMetaAttribute(ctx context.Context, username, option string, values []string) (*models.User, error)
	SetAuxAttribute(ctx context.Context, username, option string, value interface{}) (*models.User, error)
	DeleteMetaAttribute(ctx context.Context, username, option string) (*models.User, error)
	ResetMeta(ctx context.Context, username string) (*models.User, error)
	GetMeta(ctx context.Context, username string) (*models.UserMeta, error)
}

type userService struct {
	users  repository.Users
	groups repository.Groups
	tokens repository.Tokens
	hasher *integrity.Service
	log    *slog.Logger
}

// NewUserService creates a new user service.
func NewUserService(users repository.Users, groups repository.Groups, tokens repository.Tokens, hasher *integrity.Service, log *slog.Logger) UserService {
	return &userService{
		users:  users,
		groups: groups,
		tokens: tokens,
		hasher: hasher,
		log:    log.With("component", "user_service"),
	}
}

func (s *userService) Add(ctx context.Context, username, password string, groups []string) (*models.User, string, error) {
	if !validate.Name(username) {
		return nil, "", apierr.Newf(apierr.KindInvalidPayload, "invalid username %q", username)
	}
	for _, groupName := range groups {
		if err := s.requireGroup(ctx, groupName); err != nil {
			return nil, "", err
		}
	}
	generated := ""
	if password == "" {
		var err error
		password, err = auth.GeneratePassword()
		if err != nil {
			return nil, "", apierr.Internal(err)
		}
		generated = password
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", apierr.Internal(err)
	}
	now := models.Now()
	u := &models.User{
		Username:             username,
		PasswordHash:         hash,
		State:                models.StateActivated,
		Groups:               groups,
		CreationDate:         now,
		LastModificationDate: now,
	}
	if err := s.seal(u); err != nil {
		return nil, "", err
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, "", err
	}
	s.log.Info("user created", "username", username, "groups", len(groups))
	return u, generated, nil
}

func (s *userService) Describe(ctx context.Context, username string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	u.ConsistencyStatus = integrity.Status(s.hasher.Verify(u, u.Hash))
	return u, nil
}

func (s *userService) List(ctx context.Context) ([]*models.User, error) {
	items, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range items {
		u.ConsistencyStatus = integrity.Status(s.hasher.Verify(u, u.Hash))
	}
	return items, nil
}

func (s *userService) Delete(ctx context.Context, username string) error {
	if err := s.users.DeleteUser(ctx, username); err != nil {
		return err
	}
	revoked, err := s.tokens.DeleteUserTokens(ctx, username)
	if err != nil {
		s.log.Warn("failed to revoke tokens of deleted user", "username", username, "error", err)
	}
	s.log.Info("user deleted", "username", username, "tokens_revoked", revoked)
	return nil
}

func (s *userService) Block(ctx context.Context, username, reason string) error {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if u.IsBlocked() {
		return apierr.Newf(apierr.KindInvalidState, "user %q is already blocked", username)
	}
	u.State = models.StateBlocked
	u.StateReason = reason
	if err := s.saveUser(ctx, u); err != nil {
		return err
	}
	revoked, err := s.tokens.DeleteUserTokens(ctx, username)
	if err != nil {
		s.log.Warn("failed to revoke tokens of blocked user", "username", username, "error", err)
	}
	s.log.Info("user blocked", "username", username, "reason", reason, "tokens_revoked", revoked)
	return nil
}

func (s *userService) Unblock(ctx context.Context, username string) error {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if !u.IsBlocked() {
		return apierr.Newf(apierr.KindInvalidState, "user %q is not blocked", username)
	}
	u.State = models.StateActivated
	u.StateReason = ""
	if err := s.saveUser(ctx, u); err != nil {
		return err
	}
	s.log.Info("user unblocked", "username", username)
	return nil
}

func (s *userService) ChangePassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return apierr.New(apierr.KindInvalidPayload, "password must not be empty")
	}
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apierr.Internal(err)
	}
	u.PasswordHash = hash
	if err := s.saveUser(ctx, u); err != nil {
		return err
	}
	revoked, err := s.tokens.DeleteUserTokens(ctx, username)
	if err != nil {
		s.log.Warn("failed to revoke tokens after password change", "username", username, "error", err)
	}
	s.log.Info("password changed", "username", username, "tokens_revoked", revoked)
	return nil
}

// ChangeUsername renames an account by writing the new record before removing
// the old one, so a crash in between leaves both rather than neither. All of
// the user's tokens are revoked since they carry the old name.
func (s *userService) ChangeUsername(ctx context.Context, oldName, newName string) error {
	if !validate.Name(newName) {
		return apierr.Newf(apierr.KindInvalidPayload, "invalid username %q", newName)
	}
	if oldName == newName {
		return apierr.New(apierr.KindInvalidPayload, "new username matches the current one")
	}
	u, err := s.users.GetUser(ctx, oldName)
	if err != nil {
		return err
	}
	if _, err := s.users.GetUser(ctx, newName); err == nil {
		return apierr.Newf(apierr.KindAlreadyExists, "user %q already exists", newName)
	} else if !apierr.Is(err, apierr.KindNotFound) {
		return err
	}
	u.Username = newName
	u.LastModificationDate = models.Now()
	if err := s.seal(u); err != nil {
		return err
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, oldName); err != nil {
		return err
	}
	if _, err := s.tokens.DeleteUserTokens(ctx, oldName); err != nil {
		s.log.Warn("failed to revoke tokens of renamed user", "username", oldName, "error", err)
	}
	s.log.Info("user renamed", "old_username", oldName, "new_username", newName)
	return nil
}

func (s *userService) AddToGroup(ctx context.Context, username, groupName string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.InGroup(groupName) {
		return nil, apierr.Newf(apierr.KindAlreadyExists,
			"user %q is already in group %q", username, groupName)
	}
	if err := s.requireGroup(ctx, groupName); err != nil {
		return nil, err
	}
	u.Groups = append(u.Groups, groupName)
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user added to group", "username", username, "group", groupName)
	return u, nil
}

func (s *userService) RemoveFromGroup(ctx context.Context, username, groupName string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if !u.InGroup(groupName) {
		return nil, apierr.Newf(apierr.KindNotFound,
			"user %q is not in group %q", username, groupName)
	}
	kept := make([]string, 0, len(u.Groups)-1)
	for _, g := range u.Groups {
		if g != groupName {
			kept = append(kept, g)
		}
	}
	u.Groups = kept
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user removed from group", "username", username, "group", groupName)
	return u, nil
}

func (s *userService) SetMetaAttribute(ctx context.Context, username, option string, values []string) (*models.User, error) {
	if !validate.OptionName(option) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid option name %q", option)
	}
	if len(values) == 0 {
		return nil, apierr.New(apierr.KindInvalidPayload, "at least one allowed value is required")
	}
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, ok := u.Meta.AllowedValues[option]; ok {
		return nil, apierr.Newf(apierr.KindAlreadyExists,
			"option %q is already restricted for user %q, use update", option, username)
	}
	if u.Meta.AllowedValues == nil {
		u.Meta.AllowedValues = make(map[string][]string)
	}
	u.Meta.AllowedValues[option] = values
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("meta attribute set", "username", username, "option", option, "values", len(values))
	return u, nil
}

func (s *userService) UpdateMetaAttribute(ctx context.Context, username, option string, values []string) (*models.User, error) {
	if len(values) == 0 {
		return nil, apierr.New(apierr.KindInvalidPayload, "at least one allowed value is required")
	}
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, ok := u.Meta.AllowedValues[option]; !ok {
		return nil, apierr.Newf(apierr.KindNotFound,
			"option %q is not restricted for user %q", option, username)
	}
	u.Meta.AllowedValues[option] = values
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("meta attribute updated", "username", username, "option", option, "values", len(values))
	return u, nil
}

func (s *userService) SetAuxAttribute(ctx context.Context, username, option string, value interface{}) (*models.User, error) {
	if !validate.OptionName(option) {
		return nil, apierr.Newf(apierr.KindInvalidPayload, "invalid option name %q", option)
	}
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.Meta.AuxData == nil {
		u.Meta.AuxData = make(map[string]interface{})
	}
	u.Meta.AuxData[option] = value
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("aux attribute set", "username", username, "option", option)
	return u, nil
}

// DeleteMetaAttribute removes the option from allowed_values and aux_data,
// whichever hold it.
func (s *userService) DeleteMetaAttribute(ctx context.Context, username, option string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	_, restricted := u.Meta.AllowedValues[option]
	_, injected := u.Meta.AuxData[option]
	if !restricted && !injected {
		return nil, apierr.Newf(apierr.KindNotFound,
			"option %q has no meta for user %q", option, username)
	}
	delete(u.Meta.AllowedValues, option)
	delete(u.Meta.AuxData, option)
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("meta attribute deleted", "username", username, "option", option)
	return u, nil
}

func (s *userService) ResetMeta(ctx context.Context, username string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	u.Meta = models.UserMeta{}
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("meta reset", "username", username)
	return u, nil
}

func (s *userService) GetMeta(ctx context.Context, username string) (*models.UserMeta, error) {
	u, err := s.Describe(ctx, username)
	if err != nil {
		return nil, err
	}
	return &u.Meta, nil
}

// requireGroup checks that a group can be referenced: it must exist and pass
// its integrity check.
func (s *userService) requireGroup(ctx context.Context, groupName string) error {
	g, err := s.groups.GetGroup(ctx, groupName)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return apierr.Newf(apierr.KindReferencedEntityMissing, "group %q does not exist", groupName)
		}
		return err
	}
	if g.State != models.StateActivated {
		return apierr.Newf(apierr.KindInvalidState, "group %q is %s", groupName, g.State)
	}
	if !s.hasher.Verify(g, g.Hash) {
		return apierr.Newf(apierr.KindInvalidState, "group %q failed its integrity check", groupName)
	}
	return nil
}

func (s *userService) saveUser(ctx context.Context, u *models.User) error {
	u.LastModificationDate = models.Now()
	if err := s.seal(u); err != nil {
		return err
	}
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return err
	}
	u.ConsistencyStatus = models.ConsistencyOK
	return nil
}

func (s *userService) seal(u *models.User) error {
	hash, err := s.hasher.SumRecord(u)
	if err != nil {
		return apierr.Internal(err)
	}
	u.Hash = hash
	return nil
}
