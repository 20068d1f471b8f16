package models

import "time"

// Entity states. A blocked entity is excluded from authorization and, for
// users, fails authentication with its state_reason.
const (
	StateActivated = "activated"
	StateBlocked   = "blocked"
)

// Consistency status values computed from the integrity hash on read.
const (
	ConsistencyOK          = "ok"
	ConsistencyCompromised = "compromised"
)

// UserMeta carries per-user parameter restrictions. allowed_values limits the
// values a user may pass for an option; aux_data is injected into backend
// calls under the declared option names unless the caller overrides it.
type UserMeta struct {
	AllowedValues map[string][]string    `json:"allowed_values,omitempty"`
	AuxData       map[string]interface{} `json:"aux_data,omitempty"`
}

// User is a local account of the facade. PasswordHash is covered by the
// integrity hash but never serialized to JSON.
type User struct {
	Username             string    `json:"username" db:"username"`
	PasswordHash         string    `json:"-" db:"password_hash"`
	State                string    `json:"state" db:"state"`
	StateReason          string    `json:"state_reason,omitempty" db:"state_reason"`
	Groups               []string  `json:"groups"`
	Meta                 UserMeta  `json:"meta"`
	CreationDate         time.Time `json:"creation_date" db:"creation_date"`
	LastModificationDate time.Time `json:"last_modification_date" db:"last_modification_date"`
	Hash                 string    `json:"hash,omitempty" db:"hash"`
	ConsistencyStatus    string    `json:"consistency_status,omitempty"`
}

// IsBlocked reports whether authentication must refuse the user.
func (u *User) IsBlocked() bool { return u.State == StateBlocked }

// InGroup reports whether the user is a member of the named group.
func (u *User) InGroup(name string) bool {
	for _, g := range u.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// IntegrityFields returns the canonical field set covered by the record hash.
// The hash itself and the computed consistency status are excluded.
func (u *User) IntegrityFields() map[string]interface{} {
	return map[string]interface{}{
		"username":               u.Username,
		"password_hash":          u.PasswordHash,
		"state":                  u.State,
		"state_reason":           u.StateReason,
		"groups":                 canonicalStrings(u.Groups),
		"meta":                   u.Meta,
		"creation_date":          CanonicalTime(u.CreationDate),
		"last_modification_date": CanonicalTime(u.LastModificationDate),
	}
}
