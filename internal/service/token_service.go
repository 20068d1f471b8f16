package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/auth"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
	"github.com/epam/modular-api/internal/repository"
)

// TokenService authenticates callers and manages the bearer token allowlist.
// A token is live only while its jti has a record in the store; the record is
// removed by logout, block, password change, user deletion, or the janitor.
type TokenService interface {
	// Login verifies basic credentials and issues a bearer token.
	Login(ctx context.Context, username, password string) (string, *models.Token, *models.User, error)
	// AuthenticateBasic verifies credentials without issuing a token.
	AuthenticateBasic(ctx context.Context, username, password string) (*models.User, error)
	// ValidateBearer checks signature, allowlist presence, and user state.
	ValidateBearer(ctx context.Context, token string) (*models.User, *auth.Claims, error)
	// Logout revokes every live token of the user the presented token names.
	Logout(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, username string) (int64, error)
}

type tokenService struct {
	users  repository.Users
	tokens repository.Tokens
	hasher *integrity.Service
	secret string
	ttl    time.Duration
	log    *slog.Logger
}

// NewTokenService creates a new token service. ttl bounds every issued token.
func NewTokenService(users repository.Users, tokens repository.Tokens, hasher *integrity.Service, secret string, ttl time.Duration, log *slog.Logger) TokenService {
	return &tokenService{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		secret: secret,
		ttl:    ttl,
		log:    log.With("component", "token_service"),
	}
}

func (s *tokenService) Login(ctx context.Context, username, password string) (string, *models.Token, *models.User, error) {
	u, err := s.AuthenticateBasic(ctx, username, password)
	if err != nil {
		return "", nil, nil, err
	}
	signed, record, err := auth.Issue(s.secret, username, s.ttl)
	if err != nil {
		return "", nil, nil, apierr.Internal(err)
	}
	if err := s.tokens.PutToken(ctx, record); err != nil {
		return "", nil, nil, err
	}
	s.log.Info("token issued", "username", username, "token_id", record.TokenID, "expires_at", record.ExpiresAt)
	return signed, record, u, nil
}

func (s *tokenService) AuthenticateBasic(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			metrics.AuthFailuresTotal.WithLabelValues("bad_credentials").Inc()
			return nil, apierr.New(apierr.KindAuthenticationFailed, "invalid credentials")
		}
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_credentials").Inc()
		return nil, apierr.New(apierr.KindAuthenticationFailed, "invalid credentials")
	}
	return s.admit(u)
}

func (s *tokenService) ValidateBearer(ctx context.Context, token string) (*models.User, *auth.Claims, error) {
	claims, err := auth.Validate(s.secret, token)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_token").Inc()
		return nil, nil, apierr.New(apierr.KindAuthenticationFailed, "invalid or expired token")
	}
	record, err := s.tokens.GetToken(ctx, claims.ID)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			metrics.AuthFailuresTotal.WithLabelValues("revoked").Inc()
			return nil, nil, apierr.New(apierr.KindTokenRevoked, "token has been revoked")
		}
		return nil, nil, err
	}
	// The signature already bounds exp; the allowlist record is the
	// authority when the two disagree.
	if record.Username != claims.Username || record.Expired(models.Now()) {
		metrics.AuthFailuresTotal.WithLabelValues("revoked").Inc()
		return nil, nil, apierr.New(apierr.KindTokenRevoked, "token has been revoked")
	}
	u, err := s.users.GetUser(ctx, claims.Username)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			metrics.AuthFailuresTotal.WithLabelValues("bad_token").Inc()
			return nil, nil, apierr.New(apierr.KindAuthenticationFailed, "user no longer exists")
		}
		return nil, nil, err
	}
	admitted, err := s.admit(u)
	if err != nil {
		return nil, nil, err
	}
	return admitted, claims, nil
}

func (s *tokenService) Logout(ctx context.Context, token string) error {
	claims, err := auth.Validate(s.secret, token)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_token").Inc()
		return apierr.New(apierr.KindAuthenticationFailed, "invalid or expired token")
	}
	if _, err := s.tokens.GetToken(ctx, claims.ID); err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			metrics.AuthFailuresTotal.WithLabelValues("revoked").Inc()
			return apierr.New(apierr.KindTokenRevoked, "token has been revoked")
		}
		return err
	}
	revoked, err := s.tokens.DeleteUserTokens(ctx, claims.Username)
	if err != nil {
		return err
	}
	s.log.Info("user logged out", "username", claims.Username, "tokens_revoked", revoked)
	return nil
}

func (s *tokenService) RevokeAll(ctx context.Context, username string) (int64, error) {
	revoked, err := s.tokens.DeleteUserTokens(ctx, username)
	if err != nil {
		return 0, err
	}
	s.log.Info("tokens revoked", "username", username, "tokens_revoked", revoked)
	return revoked, nil
}

// admit applies the state checks shared by both authentication modes. A
// blocked user is refused outright; a record failing its integrity check is
// admitted with the compromised status set so authorization can refuse it
// while describe and audit surfaces still see the account.
func (s *tokenService) admit(u *models.User) (*models.User, error) {
	if u.IsBlocked() {
		metrics.AuthFailuresTotal.WithLabelValues("blocked").Inc()
		err := apierr.Newf(apierr.KindBlockedUser, "user %q is blocked", u.Username)
		if u.StateReason != "" {
			err = err.WithDetail("reason", u.StateReason)
		}
		return nil, err
	}
	u.ConsistencyStatus = integrity.Status(s.hasher.Verify(u, u.Hash))
	if u.ConsistencyStatus == models.ConsistencyCompromised {
		s.log.Warn("user record failed integrity check", "username", u.Username)
	}
	return u, nil
}
