package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

// parseParams merges the JSON body and the query string into one parameter
// map typed per the command declaration. Query values overlay body values for
// the same option. Undeclared options are rejected.
func parseParams(cmd *models.CommandMeta, query url.Values, body []byte) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidPayload, err, "request body is not a JSON object")
		}
		// A literal null body unmarshals to a nil map.
		if params == nil {
			params = make(map[string]interface{})
		}
	}
	for name, spec := range declared(cmd) {
		raw, ok := query[name]
		if !ok {
			continue
		}
		value, err := coerceQuery(spec, raw)
		if err != nil {
			return nil, err
		}
		params[name] = value
	}
	for name, value := range params {
		spec, ok := cmd.Param(name)
		if !ok {
			return nil, apierr.Newf(apierr.KindInvalidPayload,
				"unknown option %q for command %s", name, cmd.Path).
				WithDetail("option", name)
		}
		checked, err := checkType(spec, value)
		if err != nil {
			return nil, err
		}
		params[name] = checked
	}
	for name := range query {
		if _, ok := cmd.Param(name); !ok {
			return nil, apierr.Newf(apierr.KindInvalidPayload,
				"unknown option %q for command %s", name, cmd.Path).
				WithDetail("option", name)
		}
	}
	return params, nil
}

// finalizeParams applies declared defaults and enforces required options.
// Runs after aux-data injection so injected values count as supplied.
func finalizeParams(cmd *models.CommandMeta, params map[string]interface{}) error {
	for _, spec := range cmd.Params {
		if _, ok := params[spec.Name]; ok {
			continue
		}
		if spec.Default != nil {
			params[spec.Name] = spec.Default
			continue
		}
		if spec.Required {
			return apierr.Newf(apierr.KindInvalidPayload,
				"option %q is required for command %s", spec.Name, cmd.Path).
				WithDetail("option", spec.Name)
		}
	}
	return nil
}

func declared(cmd *models.CommandMeta) map[string]models.ParamSpec {
	specs := make(map[string]models.ParamSpec, len(cmd.Params))
	for _, p := range cmd.Params {
		specs[p.Name] = p
	}
	return specs
}

// coerceQuery turns query-string values into the declared type. Lists accept
// both repeated parameters and comma-separated values.
func coerceQuery(spec models.ParamSpec, raw []string) (interface{}, error) {
	if len(raw) > 1 && spec.Type != models.ParamList {
		return nil, apierr.Newf(apierr.KindInvalidPayload,
			"option %q supplied more than once", spec.Name).
			WithDetail("option", spec.Name)
	}
	switch spec.Type {
	case models.ParamInteger:
		n, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, typeError(spec, raw[0])
		}
		return n, nil
	case models.ParamBoolean:
		b, err := strconv.ParseBool(raw[0])
		if err != nil {
			return nil, typeError(spec, raw[0])
		}
		return b, nil
	case models.ParamList:
		var items []interface{}
		for _, chunk := range raw {
			for _, item := range strings.Split(chunk, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
		}
		return items, nil
	default:
		return raw[0], nil
	}
}

// checkType validates a JSON-sourced value against the declared type. Values
// already coerced from the query satisfy these checks by construction.
func checkType(spec models.ParamSpec, value interface{}) (interface{}, error) {
	switch spec.Type {
	case models.ParamString:
		if _, ok := value.(string); !ok {
			return nil, typeError(spec, value)
		}
	case models.ParamInteger:
		switch n := value.(type) {
		case int64:
		case float64:
			if n != float64(int64(n)) {
				return nil, typeError(spec, value)
			}
			return int64(n), nil
		default:
			return nil, typeError(spec, value)
		}
	case models.ParamBoolean:
		if _, ok := value.(bool); !ok {
			return nil, typeError(spec, value)
		}
	case models.ParamList:
		switch v := value.(type) {
		case []interface{}:
		case []string:
			items := make([]interface{}, len(v))
			for i, s := range v {
				items[i] = s
			}
			return items, nil
		default:
			return nil, typeError(spec, value)
		}
	}
	return value, nil
}

func typeError(spec models.ParamSpec, value interface{}) error {
	return apierr.Newf(apierr.KindInvalidPayload,
		"option %q expects a %s value, got %v", spec.Name, spec.Type, value).
		WithDetail("option", spec.Name).
		WithDetail("expected_type", spec.Type)
}
