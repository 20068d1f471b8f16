package models

import "time"

// Statement effects. Deny always wins over Allow.
const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// PolicyStatement is one ABAC statement. The capitalized JSON keys are part
// of the stored document contract.
type PolicyStatement struct {
	Effect      string   `json:"Effect" yaml:"Effect"`
	Module      string   `json:"Module" yaml:"Module"`
	Resources   []string `json:"Resources" yaml:"Resources"`
	Description string   `json:"Description,omitempty" yaml:"Description,omitempty"`
}

// Policy is a named, ordered list of statements. Statement order is preserved
// verbatim on persistence and describe; evaluation treats the list as a set.
type Policy struct {
	PolicyName           string            `json:"policy_name" db:"policy_name"`
	Statements           []PolicyStatement `json:"statements"`
	State                string            `json:"state" db:"state"`
	CreationDate         time.Time         `json:"creation_date" db:"creation_date"`
	LastModificationDate time.Time         `json:"last_modification_date" db:"last_modification_date"`
	Hash                 string            `json:"hash,omitempty" db:"hash"`
	ConsistencyStatus    string            `json:"consistency_status,omitempty"`
}

// IntegrityFields returns the canonical field set covered by the record hash.
func (p *Policy) IntegrityFields() map[string]interface{} {
	statements := p.Statements
	if statements == nil {
		statements = []PolicyStatement{}
	}
	return map[string]interface{}{
		"policy_name":            p.PolicyName,
		"statements":             statements,
		"state":                  p.State,
		"creation_date":          CanonicalTime(p.CreationDate),
		"last_modification_date": CanonicalTime(p.LastModificationDate),
	}
}
