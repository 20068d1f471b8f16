package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/validate"
)

// DescriptorFile is the fixed name of the module descriptor inside a module
// directory.
const DescriptorFile = "api_module.yaml"

const (
	kindGroup   = "group"
	kindCommand = "command"
)

// treeNode is one node of the command-tree schema. Kind is sealed to
// "group" | "command"; groups nest items, commands carry parameters and the
// backend route. Commands flagged describe are read-only lookups that skip
// the audit step.
type treeNode struct {
	Kind        string             `yaml:"kind"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Params      []models.ParamSpec `yaml:"parameters,omitempty"`
	Route       *models.Route      `yaml:"route,omitempty"`
	Describe    bool               `yaml:"describe,omitempty"`
	Items       []treeNode         `yaml:"items,omitempty"`
}

// commandTree is the document cli_path points at. The root declares the
// module's own version and the backend address its routes forward to.
type commandTree struct {
	Version     string     `yaml:"version"`
	BaseURL     string     `yaml:"base_url,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Items       []treeNode `yaml:"items"`
}

// readDescriptor loads and validates api_module.yaml from a module directory.
// Unknown fields in the file are ignored.
func readDescriptor(dir string) (*models.ModuleDescriptor, error) {
	raw, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("cannot read %s", DescriptorFile))
	}
	var d models.ModuleDescriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("cannot parse %s", DescriptorFile))
	}
	if err := validateDescriptor(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func validateDescriptor(d *models.ModuleDescriptor) error {
	if !validate.Name(d.ModuleName) {
		return apierr.Newf(apierr.KindInvalidDescriptor, "invalid module_name %q", d.ModuleName)
	}
	if d.CLIPath == "" {
		return apierr.New(apierr.KindInvalidDescriptor, "cli_path is required")
	}
	if filepath.IsAbs(d.CLIPath) || strings.Contains(d.CLIPath, "..") {
		return apierr.Newf(apierr.KindInvalidDescriptor, "cli_path %q must stay inside the module directory", d.CLIPath)
	}
	if !validate.MountPoint(d.MountPoint) {
		return apierr.Newf(apierr.KindInvalidDescriptor, "invalid mount_point %q", d.MountPoint)
	}
	for i, dep := range d.Dependencies {
		if !validate.Name(dep.ModuleName) {
			return apierr.Newf(apierr.KindInvalidDescriptor, "dependencies[%d]: invalid module_name %q", i, dep.ModuleName)
		}
		if dep.MinVersion == "" {
			return apierr.Newf(apierr.KindInvalidDescriptor, "dependencies[%d].min_version is required", i)
		}
		if _, err := semver.NewVersion(dep.MinVersion); err != nil {
			return apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("dependencies[%d].min_version", i))
		}
	}
	return nil
}

// readTree loads the command tree referenced by the descriptor's cli_path.
func readTree(dir string, d *models.ModuleDescriptor) (*commandTree, error) {
	raw, err := os.ReadFile(filepath.Join(dir, d.CLIPath))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("cannot read command tree %s", d.CLIPath))
	}
	var tree commandTree
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("cannot parse command tree %s", d.CLIPath))
	}
	if tree.Version == "" {
		return nil, apierr.Newf(apierr.KindInvalidDescriptor, "command tree %s: version is required", d.CLIPath)
	}
	if _, err := semver.NewVersion(tree.Version); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("command tree %s: version", d.CLIPath))
	}
	if len(tree.Items) == 0 {
		return nil, apierr.Newf(apierr.KindInvalidDescriptor, "command tree %s declares no commands", d.CLIPath)
	}
	if err := validateNodes(tree.Items, ""); err != nil {
		return nil, err
	}
	return &tree, nil
}

func validateNodes(nodes []treeNode, prefix string) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		where := n.Name
		if prefix != "" {
			where = prefix + "/" + n.Name
		}
		if !validate.Name(n.Name) {
			return apierr.Newf(apierr.KindInvalidDescriptor, "invalid node name %q", where)
		}
		if _, dup := seen[n.Name]; dup {
			return apierr.Newf(apierr.KindInvalidDescriptor, "duplicate node %q", where)
		}
		seen[n.Name] = struct{}{}

		switch n.Kind {
		case kindGroup:
			if n.Route != nil {
				return apierr.Newf(apierr.KindInvalidDescriptor, "group %q must not declare a route", where)
			}
			if len(n.Items) == 0 {
				return apierr.Newf(apierr.KindInvalidDescriptor, "group %q is empty", where)
			}
			if err := validateNodes(n.Items, where); err != nil {
				return err
			}
		case kindCommand:
			if len(n.Items) > 0 {
				return apierr.Newf(apierr.KindInvalidDescriptor, "command %q must not nest items", where)
			}
			if n.Route == nil || n.Route.Method == "" || n.Route.Path == "" {
				return apierr.Newf(apierr.KindInvalidDescriptor, "command %q: route method and path are required", where)
			}
			if err := validateParams(n.Params); err != nil {
				return apierr.Wrap(apierr.KindInvalidDescriptor, err, fmt.Sprintf("command %q", where))
			}
		default:
			return apierr.Newf(apierr.KindInvalidDescriptor, "node %q: kind must be %q or %q", where, kindGroup, kindCommand)
		}
	}
	return nil
}

func validateParams(params []models.ParamSpec) error {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if !validate.OptionName(p.Name) {
			return fmt.Errorf("invalid parameter name %q", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case models.ParamString, models.ParamInteger, models.ParamBoolean, models.ParamList:
		default:
			return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}
