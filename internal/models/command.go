package models

import "strings"

// Parameter types accepted in command trees.
const (
	ParamString  = "string"
	ParamInteger = "integer"
	ParamBoolean = "boolean"
	ParamList    = "list"
)

// ParamSpec declares one command parameter.
type ParamSpec struct {
	Name     string      `json:"name" yaml:"name"`
	Type     string      `json:"type" yaml:"type"`
	Required bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default  interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Help     string      `json:"help,omitempty" yaml:"help,omitempty"`
}

// RouteAuthNone marks backend routes called without the inter-service token.
const RouteAuthNone = "none"

// Route is the backend route a command forwards to. Auth "none" marks routes
// the backend accepts without the inter-service token.
type Route struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
	Auth   string `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// CommandMeta is one resolvable command of the catalog: its position in the
// module's command tree, its parameters, and the backend route it forwards to.
type CommandMeta struct {
	Module      string      `json:"module"`
	MountPoint  string      `json:"mount_point"`
	Path        string      `json:"path"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"parameters,omitempty"`
	Route       Route       `json:"route"`
	Describer   bool        `json:"describer,omitempty"`
	BaseURL     string      `json:"-"`
}

// PathSegments returns the command path split for policy matching.
func (c *CommandMeta) PathSegments() []string {
	return strings.Split(c.Path, "/")
}

// Param returns the declared spec for an option name, if any.
func (c *CommandMeta) Param(name string) (ParamSpec, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
