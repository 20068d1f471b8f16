package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

// Catalog is an immutable snapshot of every installed module and its
// resolvable commands. The registry swaps whole catalogs atomically, so a
// reader never observes a route without its command meta.
type Catalog struct {
	modules  map[string]*models.Module
	routes   map[string]*models.CommandMeta
	commands []*models.CommandMeta
	meta     []ModuleMeta
}

// ModuleMeta is the client-visible catalog entry for one module. Terminal
// commands come before sub-groups, both sorted by name.
type ModuleMeta struct {
	Module      string        `json:"module"`
	Version     string        `json:"version"`
	MountPoint  string        `json:"mount_point"`
	Description string        `json:"description,omitempty"`
	Commands    []MetaCommand `json:"commands,omitempty"`
	Groups      []MetaGroup   `json:"groups,omitempty"`
}

type MetaGroup struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Commands    []MetaCommand `json:"commands,omitempty"`
	Groups      []MetaGroup   `json:"groups,omitempty"`
}

// MetaCommand describes one invokable command: the path clients call, not the
// backend route it forwards to.
type MetaCommand struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Method      string             `json:"method"`
	Path        string             `json:"path"`
	Params      []models.ParamSpec `json:"parameters,omitempty"`
}

type loadedModule struct {
	dir        string
	descriptor *models.ModuleDescriptor
	tree       *commandTree
}

func emptyCatalog() *Catalog {
	return &Catalog{
		modules: map[string]*models.Module{},
		routes:  map[string]*models.CommandMeta{},
	}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Lookup resolves (method, path) to a command. Route paths are exact, never
// pattern-based.
func (c *Catalog) Lookup(method, path string) (*models.CommandMeta, error) {
	meta, ok := c.routes[routeKey(method, path)]
	if !ok {
		return nil, apierr.Newf(apierr.KindNoSuchRoute, "no route for %s %s", strings.ToUpper(method), path)
	}
	return meta, nil
}

// Module returns the installed module by name.
func (c *Catalog) Module(name string) (*models.Module, bool) {
	m, ok := c.modules[name]
	return m, ok
}

// Modules lists installed modules sorted by name.
func (c *Catalog) Modules() []*models.Module {
	out := make([]*models.Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleName < out[j].ModuleName })
	return out
}

// Commands lists every resolvable command.
func (c *Catalog) Commands() []*models.CommandMeta {
	return c.commands
}

// Meta returns the client catalog with every command the decision function
// rejects omitted. Groups left with no visible content disappear with them.
func (c *Catalog) Meta(decide func(module string, commandPath []string) bool) []ModuleMeta {
	out := make([]ModuleMeta, 0, len(c.meta))
	for _, mod := range c.meta {
		filtered := ModuleMeta{
			Module:      mod.Module,
			Version:     mod.Version,
			MountPoint:  mod.MountPoint,
			Description: mod.Description,
			Commands:    filterCommands(mod.Module, nil, mod.Commands, decide),
			Groups:      filterGroups(mod.Module, nil, mod.Groups, decide),
		}
		if len(filtered.Commands) == 0 && len(filtered.Groups) == 0 {
			continue
		}
		out = append(out, filtered)
	}
	return out
}

func filterCommands(module string, segs []string, commands []MetaCommand, decide func(string, []string) bool) []MetaCommand {
	var out []MetaCommand
	for _, cmd := range commands {
		path := make([]string, 0, len(segs)+1)
		path = append(path, segs...)
		path = append(path, cmd.Name)
		if decide == nil || decide(module, path) {
			out = append(out, cmd)
		}
	}
	return out
}

func filterGroups(module string, segs []string, groups []MetaGroup, decide func(string, []string) bool) []MetaGroup {
	var out []MetaGroup
	for _, g := range groups {
		inner := make([]string, 0, len(segs)+1)
		inner = append(inner, segs...)
		inner = append(inner, g.Name)
		filtered := MetaGroup{
			Name:        g.Name,
			Description: g.Description,
			Commands:    filterCommands(module, inner, g.Commands, decide),
			Groups:      filterGroups(module, inner, g.Groups, decide),
		}
		if len(filtered.Commands) == 0 && len(filtered.Groups) == 0 {
			continue
		}
		out = append(out, filtered)
	}
	return out
}

// buildCatalog assembles and verifies a candidate catalog from loaded
// modules. Any error leaves the currently served catalog untouched.
func buildCatalog(mods []loadedModule, defaultBaseURL string) (*Catalog, error) {
	c := emptyCatalog()
	mountOwner := map[string]string{}

	for _, m := range mods {
		d := m.descriptor
		if _, dup := c.modules[d.ModuleName]; dup {
			return nil, apierr.Newf(apierr.KindInvalidDescriptor, "module %q is declared twice", d.ModuleName)
		}
		if owner, taken := mountOwner[d.MountPoint]; taken {
			return nil, apierr.Newf(apierr.KindMountPointConflict,
				"mount point %q of module %q is already taken by %q", d.MountPoint, d.ModuleName, owner)
		}
		mountOwner[d.MountPoint] = d.ModuleName

		baseURL := m.tree.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}

		commands, err := collectCommands(d, m.tree, baseURL)
		if err != nil {
			return nil, err
		}
		for _, meta := range commands {
			key := routeKey(meta.Route.Method, d.MountPoint+"/"+meta.Path)
			if prev, dup := c.routes[key]; dup {
				return nil, apierr.Newf(apierr.KindMountPointConflict,
					"route %q of module %q is already registered by %q", key, d.ModuleName, prev.Module)
			}
			c.routes[key] = meta
			c.commands = append(c.commands, meta)
		}

		c.modules[d.ModuleName] = &models.Module{
			ModuleDescriptor: *d,
			Version:          m.tree.Version,
			BaseURL:          baseURL,
			Commands:         len(commands),
		}
		c.meta = append(c.meta, moduleMeta(d, m.tree))
	}

	if err := checkDependencies(c.modules); err != nil {
		return nil, err
	}

	sort.Slice(c.commands, func(i, j int) bool {
		if c.commands[i].Module != c.commands[j].Module {
			return c.commands[i].Module < c.commands[j].Module
		}
		return c.commands[i].Path < c.commands[j].Path
	})
	sort.Slice(c.meta, func(i, j int) bool { return c.meta[i].Module < c.meta[j].Module })
	return c, nil
}

func collectCommands(d *models.ModuleDescriptor, tree *commandTree, baseURL string) ([]*models.CommandMeta, error) {
	var out []*models.CommandMeta
	var walk func(nodes []treeNode, prefix string) error
	walk = func(nodes []treeNode, prefix string) error {
		for _, n := range nodes {
			path := n.Name
			if prefix != "" {
				path = prefix + "/" + n.Name
			}
			switch n.Kind {
			case kindGroup:
				if err := walk(n.Items, path); err != nil {
					return err
				}
			case kindCommand:
				out = append(out, &models.CommandMeta{
					Module:      d.ModuleName,
					MountPoint:  d.MountPoint,
					Path:        path,
					Name:        n.Name,
					Description: n.Description,
					Params:      n.Params,
					Route:       *n.Route,
					Describer:   n.Describe,
					BaseURL:     baseURL,
				})
			default:
				return apierr.Newf(apierr.KindInvalidDescriptor, "node %q: unknown kind %q", path, n.Kind)
			}
		}
		return nil
	}
	if err := walk(tree.Items, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// moduleMeta renders the unfiltered client view of one module with the
// catalog sort order applied: terminal commands first, then sub-groups, each
// set ordered by name.
func moduleMeta(d *models.ModuleDescriptor, tree *commandTree) ModuleMeta {
	commands, groups := metaChildren(d.MountPoint, "", tree.Items)
	return ModuleMeta{
		Module:      d.ModuleName,
		Version:     tree.Version,
		MountPoint:  d.MountPoint,
		Description: tree.Description,
		Commands:    commands,
		Groups:      groups,
	}
}

func metaChildren(mount, prefix string, nodes []treeNode) ([]MetaCommand, []MetaGroup) {
	var commands []MetaCommand
	var groups []MetaGroup
	for _, n := range nodes {
		path := n.Name
		if prefix != "" {
			path = prefix + "/" + n.Name
		}
		switch n.Kind {
		case kindCommand:
			commands = append(commands, MetaCommand{
				Name:        n.Name,
				Description: n.Description,
				Method:      strings.ToUpper(n.Route.Method),
				Path:        mount + "/" + path,
				Params:      n.Params,
			})
		case kindGroup:
			innerCommands, innerGroups := metaChildren(mount, path, n.Items)
			groups = append(groups, MetaGroup{
				Name:        n.Name,
				Description: n.Description,
				Commands:    innerCommands,
				Groups:      innerGroups,
			})
		}
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return commands, groups
}

func checkDependencies(modules map[string]*models.Module) error {
	for _, m := range modules {
		for _, dep := range m.Dependencies {
			target, ok := modules[dep.ModuleName]
			if !ok {
				return apierr.Newf(apierr.KindDependencyMissing,
					"module %q requires %q >= %s which is not installed", m.ModuleName, dep.ModuleName, dep.MinVersion)
			}
			installed, err := semver.NewVersion(target.Version)
			if err != nil {
				return apierr.Wrap(apierr.KindDependencyMissing, err,
					fmt.Sprintf("module %q has unparseable version", dep.ModuleName))
			}
			constraint, err := semver.NewConstraint(">= " + dep.MinVersion)
			if err != nil {
				return apierr.Wrap(apierr.KindDependencyMissing, err,
					fmt.Sprintf("module %q dependency on %q", m.ModuleName, dep.ModuleName))
			}
			if !constraint.Check(installed) {
				return apierr.Newf(apierr.KindDependencyMissing,
					"module %q requires %q >= %s, installed version is %s",
					m.ModuleName, dep.ModuleName, dep.MinVersion, target.Version)
			}
		}
	}
	return nil
}
