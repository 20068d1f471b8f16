package service

import (
	"context"
	"log/slog"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

// Names seeded by Initialize.
const (
	AdminPolicyName = "admin_policy"
	AdminGroupName  = "admin_group"
	AdminUsername   = "admin"
)

// Initialize seeds the admin policy, group, and user for a fresh deployment.
// Existing policy and group records are kept as they are; an existing admin
// user fails with AlreadyExists so a re-run never silently resets the
// password. The returned password is non-empty only when it was generated
// here, and it is printed exactly once.
func Initialize(ctx context.Context, policies PolicyService, groups GroupService, users UserService, password string, log *slog.Logger) (string, error) {
	statements := []models.PolicyStatement{{
		Effect:      models.EffectAllow,
		Module:      "*",
		Resources:   []string{"*"},
		Description: "full access to every mounted module",
	}}
	if _, err := policies.Add(ctx, AdminPolicyName, statements); err != nil {
		if !apierr.Is(err, apierr.KindAlreadyExists) {
			return "", err
		}
		log.Info("admin policy already present", "policy", AdminPolicyName)
	}
	if _, err := groups.Add(ctx, AdminGroupName, []string{AdminPolicyName}); err != nil {
		if !apierr.Is(err, apierr.KindAlreadyExists) {
			return "", err
		}
		log.Info("admin group already present", "group", AdminGroupName)
	}
	_, generated, err := users.Add(ctx, AdminUsername, password, []string{AdminGroupName})
	if err != nil {
		if apierr.Is(err, apierr.KindAlreadyExists) {
			return "", apierr.Newf(apierr.KindAlreadyExists,
				"user %q already exists, deployment is initialized", AdminUsername)
		}
		return "", err
	}
	log.Info("admin user seeded", "username", AdminUsername)
	return generated, nil
}
