// Package migrations embeds the schema files per store dialect so the binary
// is self-contained and can bootstrap its own store on first start.
package migrations

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialects accepted by SQL.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQL returns the concatenated migration statements for a dialect, applied in
// filename order.
func SQL(dialect string) (string, error) {
	entries, err := FS.ReadDir(dialect)
	if err != nil {
		return "", fmt.Errorf("unknown migration dialect %q: %w", dialect, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		data, err := FS.ReadFile(dialect + "/" + name)
		if err != nil {
			return "", fmt.Errorf("read migration %s/%s: %w", dialect, name, err)
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}
