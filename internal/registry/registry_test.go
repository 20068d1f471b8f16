package registry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epam/modular-api/internal/apierr"
)

const m3adminDescriptor = `
module_name: m3admin
cli_path: m3admin.yaml
mount_point: /m3admin
`

const m3adminTree = `
version: "3.1.0"
base_url: http://backend.local:8001
description: Maestro administration commands
items:
  - kind: command
    name: aws
    description: enable the aws integration
    route: {method: POST, path: /integrations/aws}
  - kind: command
    name: azure
    description: enable the azure integration
    route: {method: POST, path: /integrations/azure}
  - kind: group
    name: tenant
    description: tenant management
    items:
      - kind: command
        name: describe
        describe: true
        parameters:
          - {name: region, type: string, help: cloud region}
          - {name: limit, type: integer, default: 10}
        route: {method: GET, path: /tenant}
`

const billingDescriptor = `
module_name: billing
cli_path: billing.yaml
mount_point: /billing
dependencies:
  - {module_name: m3admin, min_version: "3.0.0"}
`

const billingTree = `
version: "1.0.0"
items:
  - kind: command
    name: invoice
    route: {method: POST, path: /invoice}
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModule(t *testing.T, root, name, descriptor, treeFile, tree string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(descriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, treeFile), []byte(tree), 0o644))
	return dir
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "modules")
	reg := New(root, "http://fallback.local:9000", testLogger())
	require.NoError(t, reg.Load())
	return reg, root
}

func TestInstallAndLookup(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)

	mod, err := reg.Install(src)
	require.NoError(t, err)
	assert.Equal(t, "m3admin", mod.ModuleName)
	assert.Equal(t, "3.1.0", mod.Version)
	assert.Equal(t, "http://backend.local:8001", mod.BaseURL)
	assert.Equal(t, 3, mod.Commands)

	meta, err := reg.Lookup("POST", "/m3admin/aws")
	require.NoError(t, err)
	assert.Equal(t, "aws", meta.Name)
	assert.Equal(t, "/integrations/aws", meta.Route.Path)

	meta, err = reg.Lookup("GET", "/m3admin/tenant/describe")
	require.NoError(t, err)
	assert.Equal(t, "tenant/describe", meta.Path)
	assert.True(t, meta.Describer)

	_, err = reg.Lookup("POST", "/m3admin/gcp")
	assert.Equal(t, apierr.KindNoSuchRoute, apierr.KindOf(err))

	_, err = reg.Lookup("DELETE", "/m3admin/aws")
	assert.Equal(t, apierr.KindNoSuchRoute, apierr.KindOf(err), "method is part of the route identity")
}

func TestLoadScansModulesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "modules")
	writeModule(t, root, "m3admin", m3adminDescriptor, "m3admin.yaml", m3adminTree)

	reg := New(root, "", testLogger())
	require.NoError(t, reg.Load())

	_, err := reg.Lookup("POST", "/m3admin/azure")
	require.NoError(t, err)
}

func TestInstallRejectsBadDescriptor(t *testing.T) {
	reg, _ := newTestRegistry(t)

	src := writeModule(t, t.TempDir(), "broken", "module_name: broken\ncli_path: broken.yaml\n", "broken.yaml", billingTree)
	_, err := reg.Install(src)
	assert.Equal(t, apierr.KindInvalidDescriptor, apierr.KindOf(err), "missing mount_point")

	src = writeModule(t, t.TempDir(), "badtree", "module_name: badtree\ncli_path: tree.yaml\nmount_point: /badtree\n", "tree.yaml", `
version: "1.0.0"
items:
  - kind: command
    name: orphan
`)
	_, err = reg.Install(src)
	assert.Equal(t, apierr.KindInvalidDescriptor, apierr.KindOf(err), "command without a route")
}

func TestInstallMountPointConflict(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(src)
	require.NoError(t, err)

	clash := writeModule(t, t.TempDir(), "clash",
		"module_name: clash\ncli_path: clash.yaml\nmount_point: /m3admin\n", "clash.yaml", billingTree)
	_, err = reg.Install(clash)
	assert.Equal(t, apierr.KindMountPointConflict, apierr.KindOf(err))
}

func TestInstallDependencyGate(t *testing.T) {
	reg, _ := newTestRegistry(t)

	old := `
version: "2.9.0"
items:
  - kind: command
    name: aws
    route: {method: POST, path: /integrations/aws}
`
	oldSrc := writeModule(t, t.TempDir(), "m3admin-29", m3adminDescriptor, "m3admin.yaml", old)
	_, err := reg.Install(oldSrc)
	require.NoError(t, err)

	billingSrc := writeModule(t, t.TempDir(), "billing-src", billingDescriptor, "billing.yaml", billingTree)
	_, err = reg.Install(billingSrc)
	assert.Equal(t, apierr.KindDependencyMissing, apierr.KindOf(err), "m3admin at 2.9 is too old")

	newSrc := writeModule(t, t.TempDir(), "m3admin-31", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err = reg.Install(newSrc)
	require.NoError(t, err, "same-name install upgrades in place")

	_, err = reg.Install(billingSrc)
	require.NoError(t, err)
	_, err = reg.Lookup("POST", "/billing/invoice")
	require.NoError(t, err)
}

func TestUninstall(t *testing.T) {
	reg, root := newTestRegistry(t)

	assert.Equal(t, apierr.KindNotInstalled, apierr.KindOf(reg.Uninstall("ghost")))

	src := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(src)
	require.NoError(t, err)

	require.NoError(t, reg.Uninstall("m3admin"))
	_, err = reg.Lookup("POST", "/m3admin/aws")
	assert.Equal(t, apierr.KindNoSuchRoute, apierr.KindOf(err))
	_, statErr := os.Stat(filepath.Join(root, "m3admin"))
	assert.True(t, os.IsNotExist(statErr))

	// install X, uninstall X, install X returns the catalog to the same state
	_, err = reg.Install(src)
	require.NoError(t, err)
	meta, err := reg.Lookup("POST", "/m3admin/aws")
	require.NoError(t, err)
	assert.Equal(t, "aws", meta.Name)
}

func TestUninstallRefusedWhileDependedOn(t *testing.T) {
	reg, _ := newTestRegistry(t)

	m3adminSrc := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(m3adminSrc)
	require.NoError(t, err)
	billingSrc := writeModule(t, t.TempDir(), "billing-src", billingDescriptor, "billing.yaml", billingTree)
	_, err = reg.Install(billingSrc)
	require.NoError(t, err)

	err = reg.Uninstall("m3admin")
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidState, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "billing")

	require.NoError(t, reg.Uninstall("billing"))
	require.NoError(t, reg.Uninstall("m3admin"))
}

func TestMetaSortAndFilter(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(src)
	require.NoError(t, err)

	full := reg.Catalog().Meta(nil)
	require.Len(t, full, 1)
	require.Len(t, full[0].Commands, 2, "terminal commands listed before groups")
	assert.Equal(t, "aws", full[0].Commands[0].Name)
	assert.Equal(t, "azure", full[0].Commands[1].Name)
	require.Len(t, full[0].Groups, 1)
	assert.Equal(t, "tenant", full[0].Groups[0].Name)
	assert.Equal(t, "/m3admin/tenant/describe", full[0].Groups[0].Commands[0].Path)

	onlyAWS := reg.Catalog().Meta(func(module string, path []string) bool {
		return len(path) == 1 && path[0] == "aws"
	})
	require.Len(t, onlyAWS, 1)
	require.Len(t, onlyAWS[0].Commands, 1)
	assert.Equal(t, "aws", onlyAWS[0].Commands[0].Name)
	assert.Empty(t, onlyAWS[0].Groups, "groups with nothing visible disappear")

	nothing := reg.Catalog().Meta(func(string, []string) bool { return false })
	assert.Empty(t, nothing)
}

func TestOpenAPIDocument(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(src)
	require.NoError(t, err)

	doc := reg.Catalog().OpenAPI("1.0.0", nil)
	assert.Equal(t, "3.0.3", doc["openapi"])

	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, paths, "/m3admin/aws")
	require.Contains(t, paths, "/m3admin/tenant/describe")

	describe := paths["/m3admin/tenant/describe"].(map[string]interface{})
	op, ok := describe["get"].(map[string]interface{})
	require.True(t, ok)
	params := op["parameters"].([]interface{})
	assert.Len(t, params, 2, "GET parameters surface as query parameters")

	filtered := reg.Catalog().OpenAPI("1.0.0", func(module string, path []string) bool {
		return len(path) == 1 && path[0] == "aws"
	})
	paths = filtered["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/m3admin/aws")
	assert.NotContains(t, paths, "/m3admin/tenant/describe")
}

func TestCatalogSwapIsAtomic(t *testing.T) {
	reg, _ := newTestRegistry(t)
	m3adminSrc := writeModule(t, t.TempDir(), "m3admin-src", m3adminDescriptor, "m3admin.yaml", m3adminTree)
	_, err := reg.Install(m3adminSrc)
	require.NoError(t, err)

	billingSrc := writeModule(t, t.TempDir(), "billing-src", billingDescriptor, "billing.yaml", billingTree)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			meta, err := reg.Lookup("POST", "/m3admin/aws")
			if err != nil || meta == nil || meta.Route.Path == "" {
				t.Error("reader observed a partial catalog")
				return
			}
		}
	}()

	for i := 0; i < 25; i++ {
		_, err := reg.Install(billingSrc)
		require.NoError(t, err)
		require.NoError(t, reg.Uninstall("billing"))
	}
	close(done)
	wg.Wait()
}
