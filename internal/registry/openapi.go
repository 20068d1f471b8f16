package registry

import (
	"net/http"
	"strings"

	"github.com/epam/modular-api/internal/models"
)

// OpenAPI renders the current catalog as an OpenAPI v3 document. Query
// parameters for GET/DELETE routes, a JSON request body for everything else,
// mirroring how the dispatcher reads them. A non-nil decide function drops
// the routes it rejects, which is how private mode renders per-caller docs.
func (c *Catalog) OpenAPI(serverVersion string, decide func(module string, commandPath []string) bool) map[string]interface{} {
	paths := map[string]interface{}{}
	for _, cmd := range c.commands {
		if decide != nil && !decide(cmd.Module, cmd.PathSegments()) {
			continue
		}
		mounted := cmd.MountPoint + "/" + cmd.Path
		item, _ := paths[mounted].(map[string]interface{})
		if item == nil {
			item = map[string]interface{}{}
			paths[mounted] = item
		}
		item[strings.ToLower(cmd.Route.Method)] = operation(cmd)
	}
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "Modular API",
			"version": serverVersion,
		},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
		"paths":    paths,
	}
}

func operation(cmd *models.CommandMeta) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": cmd.Module + "." + strings.ReplaceAll(cmd.Path, "/", "."),
		"tags":        []string{cmd.Module},
		"responses": map[string]interface{}{
			"200":     map[string]interface{}{"description": "backend response forwarded unmodified"},
			"default": map[string]interface{}{"description": "typed error body"},
		},
	}
	if cmd.Description != "" {
		op["summary"] = cmd.Description
	}

	switch strings.ToUpper(cmd.Route.Method) {
	case http.MethodGet, http.MethodDelete:
		var params []interface{}
		for _, p := range cmd.Params {
			param := map[string]interface{}{
				"name":     p.Name,
				"in":       "query",
				"required": p.Required,
				"schema":   schemaFor(p),
			}
			if p.Help != "" {
				param["description"] = p.Help
			}
			params = append(params, param)
		}
		if len(params) > 0 {
			op["parameters"] = params
		}
	default:
		props := map[string]interface{}{}
		var required []string
		for _, p := range cmd.Params {
			props[p.Name] = schemaFor(p)
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]interface{}{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		op["requestBody"] = map[string]interface{}{
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": schema},
			},
		}
	}
	return op
}

func schemaFor(p models.ParamSpec) map[string]interface{} {
	s := map[string]interface{}{}
	switch p.Type {
	case models.ParamInteger:
		s["type"] = "integer"
	case models.ParamBoolean:
		s["type"] = "boolean"
	case models.ParamList:
		s["type"] = "array"
		s["items"] = map[string]interface{}{"type": "string"}
	default:
		s["type"] = "string"
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if p.Help != "" {
		s["description"] = p.Help
	}
	return s
}
