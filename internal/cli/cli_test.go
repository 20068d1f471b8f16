package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epam/modular-api/internal/version"
)

// setupCLIEnv points the CLI at a throwaway store and modules root. Every
// runCLI call builds a fresh root command, so config is re-read per command
// the same way separate process invocations would.
func setupCLIEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MODULAR_API_DATABASE_PATH", filepath.Join(dir, "api.db"))
	t.Setenv("MODULAR_API_MODULES_PATH", filepath.Join(dir, "modules"))
	t.Setenv("MODULAR_API_SECRET_KEY", "cli-test-secret")
	t.Setenv("MODULAR_API_MODE", "self-hosted")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommandWithIO(strings.NewReader(""), &out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitSeedsAdminChain(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "init", "--password", "admin-pass-1")
	require.NoError(t, err)
	assert.Contains(t, out, `user "admin" seeded`)
	assert.NotContains(t, out, "admin-pass-1")

	out, err = runCLI(t, "user", "describe", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_group")
	assert.Contains(t, out, "activated")

	out, err = runCLI(t, "policy", "describe", "admin_policy")
	require.NoError(t, err)
	assert.Contains(t, out, "Allow")

	// A second init must not silently reset the admin password.
	_, err = runCLI(t, "init", "--password", "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialized")
}

func TestInitGeneratesPasswordOnce(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "init")
	require.NoError(t, err)
	require.Contains(t, out, "admin password: ")

	var password string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "admin password: "); ok {
			password = rest
		}
	}
	require.NotEmpty(t, password)
	assert.Contains(t, out, "not recoverable")

	// The password shows up nowhere else.
	out, err = runCLI(t, "user", "describe", "admin")
	require.NoError(t, err)
	assert.NotContains(t, out, password)
}

func TestInitJSONOutput(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "--json", "init")
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "admin", resp["username"])
	assert.NotEmpty(t, resp["password"])
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Server)

	out, err = runCLI(t, "--json", "version")
	require.NoError(t, err)
	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, version.Server, resp["version"])
}

func TestAuditCommand(t *testing.T) {
	setupCLIEnv(t)

	// Empty trail renders headers only.
	out, err := runCLI(t, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "TIMESTAMP")

	out, err = runCLI(t, "audit", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "COUNT")

	_, err = runCLI(t, "audit", "--from", "whenever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid time")

	_, err = runCLI(t, "audit", "--from", "2026-08-01", "--to", "2026-08-25T12:00:00Z")
	require.NoError(t, err)
}
