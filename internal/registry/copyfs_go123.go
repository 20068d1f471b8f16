//go:build go1.23

package registry

import (
	"io/fs"
	"os"
)

// copyFS copies the content of fsys into the directory dir.
func copyFS(dir string, fsys fs.FS) error {
	return os.CopyFS(dir, fsys)
}
