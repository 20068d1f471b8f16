package models

import "time"

// AuditRecord is one append-only entry of the audit trail. Records are never
// updated or deleted; Params are stored with sensitive values already masked.
type AuditRecord struct {
	ID                string                 `json:"id" db:"id"`
	Timestamp         time.Time              `json:"timestamp" db:"timestamp"`
	Username          string                 `json:"username" db:"username"`
	Group             string                 `json:"group" db:"module_group"`
	Command           string                 `json:"command" db:"command"`
	Params            map[string]interface{} `json:"params,omitempty"`
	Result            string                 `json:"result" db:"result"`
	Warnings          []string               `json:"warnings,omitempty"`
	Hash              string                 `json:"hash,omitempty" db:"hash"`
	ConsistencyStatus string                 `json:"consistency_status,omitempty"`
}

// IntegrityFields returns the canonical field set covered by the record hash.
func (a *AuditRecord) IntegrityFields() map[string]interface{} {
	return map[string]interface{}{
		"id":        a.ID,
		"timestamp": CanonicalTime(a.Timestamp),
		"username":  a.Username,
		"group":     a.Group,
		"command":   a.Command,
		"params":    canonicalMap(a.Params),
		"result":    a.Result,
		"warnings":  canonicalStrings(a.Warnings),
	}
}

// AuditQuery is the predicate set for audit reads: a closed timestamp range
// with optional equality filters. InvalidOnly keeps only records whose
// recomputed hash does not match the stored one.
type AuditQuery struct {
	From        time.Time
	To          time.Time
	Group       string
	Command     string
	InvalidOnly bool
	Limit       int
}
