package models

import "time"

// Now returns the current time normalized for persistence: UTC, truncated to
// seconds, so stored timestamps round-trip bit-identically through both store
// backends and the integrity hash stays stable.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// CanonicalTime renders a timestamp the way the stores and hashes expect it.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// canonicalStrings normalizes a nil slice to empty so a record hashes the
// same before first persistence and after a store round-trip.
func canonicalStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// canonicalMap normalizes a nil map to empty for the same reason.
func canonicalMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
