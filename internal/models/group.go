package models

import "time"

// Group binds a set of policies to the users that reference it. Deleting a
// group removes the granted permissions transitively on the next evaluation.
type Group struct {
	GroupName            string    `json:"group_name" db:"group_name"`
	Policies             []string  `json:"policies"`
	State                string    `json:"state" db:"state"`
	CreationDate         time.Time `json:"creation_date" db:"creation_date"`
	LastModificationDate time.Time `json:"last_modification_date" db:"last_modification_date"`
	Hash                 string    `json:"hash,omitempty" db:"hash"`
	ConsistencyStatus    string    `json:"consistency_status,omitempty"`
}

// HasPolicy reports whether the group references the named policy.
func (g *Group) HasPolicy(name string) bool {
	for _, p := range g.Policies {
		if p == name {
			return true
		}
	}
	return false
}

// IntegrityFields returns the canonical field set covered by the record hash.
func (g *Group) IntegrityFields() map[string]interface{} {
	return map[string]interface{}{
		"group_name":             g.GroupName,
		"policies":               canonicalStrings(g.Policies),
		"state":                  g.State,
		"creation_date":          CanonicalTime(g.CreationDate),
		"last_modification_date": CanonicalTime(g.LastModificationDate),
	}
}
