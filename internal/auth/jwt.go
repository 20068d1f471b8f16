package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/epam/modular-api/internal/models"
)

// MetaTokenExpiry bounds the tokens the facade mints for its own calls to
// backend modules. They live just long enough to cover one dispatch.
const MetaTokenExpiry = 2 * time.Minute

type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Issue returns a signed bearer token together with the allowlist record the
// caller must persist. A token whose jti is absent from the allowlist is
// treated as revoked no matter how valid its signature is.
func Issue(secret, username string, ttl time.Duration) (string, *models.Token, error) {
	if secret == "" {
		return "", nil, fmt.Errorf("jwt secret is required")
	}
	now := time.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		Username: username,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	record := &models.Token{
		TokenID:   claims.ID,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	return signed, record, nil
}

// IssueMetaToken signs the short-lived token the facade presents to backend
// modules on the Meta-Authorization header.
func IssueMetaToken(secret, username string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(MetaTokenExpiry)),
			ID:        uuid.New().String(),
		},
		Username: username,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// Validate parses and verifies the token string; returns claims or error.
func Validate(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
