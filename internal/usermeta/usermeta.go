// Package usermeta enforces per-user parameter restrictions: allow-lists on
// option values and auxiliary data injected into outgoing backend requests.
package usermeta

import (
	"fmt"
	"strconv"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

// Inject merges the user's aux_data into the outgoing parameters. Explicit
// caller values always win, and only options the command declares are
// injected so backends never see undeclared fields.
func Inject(meta models.UserMeta, cmd *models.CommandMeta, params map[string]interface{}) map[string]interface{} {
	if len(meta.AuxData) == 0 {
		return params
	}
	out := params
	if out == nil {
		out = make(map[string]interface{}, len(meta.AuxData))
	}
	for name, value := range meta.AuxData {
		if _, declared := cmd.Param(name); !declared {
			continue
		}
		if _, explicit := out[name]; explicit {
			continue
		}
		out[name] = value
	}
	return out
}

// CheckAllowed verifies every outgoing option against the user's
// allowed-value lists. It runs after defaults and injection, so a default or
// injected value that lands outside the list fails exactly like an explicit
// one. Options without a list pass untouched.
func CheckAllowed(meta models.UserMeta, params map[string]interface{}) error {
	if len(meta.AllowedValues) == 0 {
		return nil
	}
	for name, value := range params {
		list, restricted := meta.AllowedValues[name]
		if !restricted {
			continue
		}
		if err := checkValue(name, value, list); err != nil {
			return err
		}
	}
	return nil
}

// checkValue checks a single value, element by element for list params.
func checkValue(option string, value interface{}, list []string) error {
	switch seq := value.(type) {
	case []interface{}:
		for _, e := range seq {
			if err := checkValue(option, e, list); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, s := range seq {
			if err := checkValue(option, s, list); err != nil {
				return err
			}
		}
		return nil
	}
	rendered := renderValue(value)
	for _, allowed := range list {
		if rendered == allowed {
			return nil
		}
	}
	return apierr.Newf(apierr.KindRestrictedValue,
		"value %q is not allowed for option %q", rendered, option).
		WithDetail("option", option).
		WithDetail("value", rendered)
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
