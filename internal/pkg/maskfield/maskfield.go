// Package maskfield hides secret values in audit records and logs. Key names
// are kept so operators can see which options a call carried; values are
// replaced before anything is persisted or written to a log line.
package maskfield

import "strings"

const maskedValue = "***REDACTED***"

var sensitiveFragments = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"authorization",
	"credential",
}

// Sensitive reports whether an option name holds a secret value.
func Sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// Params returns a copy of params with sensitive values masked. Nested maps
// and lists are walked so secrets inside structured options are covered too.
func Params(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if Sensitive(k) {
			out[k] = maskedValue
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return Params(t)
	case []interface{}:
		masked := make([]interface{}, len(t))
		for i, e := range t {
			masked[i] = maskValue(e)
		}
		return masked
	default:
		return v
	}
}
