// Package registry discovers installed modules, validates their descriptors
// and command trees, and serves an immutable command catalog that install and
// uninstall swap atomically.
package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
)

type Registry struct {
	root           string
	defaultBaseURL string
	log            *slog.Logger

	// mu serializes install/uninstall/reload; readers go through the
	// atomic pointer and never block.
	mu      sync.Mutex
	catalog atomic.Pointer[Catalog]
}

func New(root, defaultBaseURL string, log *slog.Logger) *Registry {
	r := &Registry{
		root:           root,
		defaultBaseURL: defaultBaseURL,
		log:            log.With("component", "registry"),
	}
	r.catalog.Store(emptyCatalog())
	return r
}

// Catalog returns the currently served snapshot.
func (r *Registry) Catalog() *Catalog {
	return r.catalog.Load()
}

// Lookup resolves (method, path) against the current catalog.
func (r *Registry) Lookup(method, path string) (*models.CommandMeta, error) {
	return r.catalog.Load().Lookup(method, path)
}

// Load scans the modules root and swaps in the resulting catalog. A broken
// module fails the whole load; a facade must not start with part of its
// command surface silently missing.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuild()
}

func (r *Registry) rebuild() error {
	mods, err := scanModules(r.root)
	if err != nil {
		return err
	}
	cat, err := buildCatalog(mods, r.defaultBaseURL)
	if err != nil {
		return err
	}
	r.catalog.Store(cat)
	metrics.CatalogCommands.Set(float64(len(cat.commands)))
	r.log.Info("catalog swapped", "modules", len(cat.modules), "commands", len(cat.commands))
	return nil
}

func scanModules(root string) ([]loadedModule, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Internal(err)
	}

	var mods []loadedModule
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); os.IsNotExist(err) {
			continue
		}
		d, err := readDescriptor(dir)
		if err != nil {
			return nil, apierr.AsError(err).WithDetail("module_dir", e.Name())
		}
		tree, err := readTree(dir, d)
		if err != nil {
			return nil, apierr.AsError(err).WithDetail("module_dir", e.Name())
		}
		mods = append(mods, loadedModule{dir: dir, descriptor: d, tree: tree})
	}
	return mods, nil
}

// Install validates the module at sourceDir, proves the candidate catalog
// builds with it, then copies the module under the modules root and swaps.
// Installing a module that is already present replaces it, which is how
// upgrades happen.
func (r *Registry) Install(sourceDir string) (*models.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := readDescriptor(sourceDir)
	if err != nil {
		return nil, err
	}
	tree, err := readTree(sourceDir, d)
	if err != nil {
		return nil, err
	}

	current, err := scanModules(r.root)
	if err != nil {
		return nil, err
	}
	candidate := make([]loadedModule, 0, len(current)+1)
	for _, m := range current {
		if m.descriptor.ModuleName == d.ModuleName {
			continue
		}
		candidate = append(candidate, m)
	}
	candidate = append(candidate, loadedModule{dir: sourceDir, descriptor: d, tree: tree})
	if _, err := buildCatalog(candidate, r.defaultBaseURL); err != nil {
		return nil, err
	}

	dest := filepath.Join(r.root, d.ModuleName)
	if filepath.Clean(sourceDir) != filepath.Clean(dest) {
		if err := os.RemoveAll(dest); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := copyFS(dest, os.DirFS(sourceDir)); err != nil {
			return nil, apierr.Internal(err)
		}
	}

	if err := r.rebuild(); err != nil {
		return nil, err
	}
	mod, _ := r.catalog.Load().Module(d.ModuleName)
	r.log.Info("module installed", "module", d.ModuleName, "version", mod.Version, "mount_point", d.MountPoint)
	return mod, nil
}

// Uninstall removes an installed module and swaps the rebuilt catalog.
// Refused while other installed modules depend on the target, otherwise the
// rebuilt catalog could never verify.
func (r *Registry) Uninstall(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cat := r.catalog.Load()
	if _, ok := cat.Module(name); !ok {
		return apierr.Newf(apierr.KindNotInstalled, "module %q is not installed", name)
	}
	var dependents []string
	for _, m := range cat.modules {
		for _, dep := range m.Dependencies {
			if dep.ModuleName == name {
				dependents = append(dependents, m.ModuleName)
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return apierr.Newf(apierr.KindInvalidState,
			"module %q is required by %s", name, strings.Join(dependents, ", "))
	}

	if err := os.RemoveAll(filepath.Join(r.root, name)); err != nil {
		return apierr.Internal(err)
	}
	if err := r.rebuild(); err != nil {
		return err
	}
	r.log.Info("module uninstalled", "module", name)
	return nil
}
