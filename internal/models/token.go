package models

import "time"

// Token is a server-side allowlist record for one issued bearer token. A JWT
// whose jti has no matching record is rejected regardless of its signature.
type Token struct {
	TokenID   string    `json:"token_id" db:"token_id"`
	Username  string    `json:"username" db:"username"`
	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the allowlist record has outlived its TTL.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
