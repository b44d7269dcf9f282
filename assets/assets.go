// Package assets provides access to embedded files such as per-dialect SQL migrations.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var embedFS embed.FS

// ReadFile returns the content of a specific file from the embedded assets by its name.
func ReadFile(name string) ([]byte, error) {
	return embedFS.ReadFile(name)
}

// ReadDir returns the directory entries for a specific path.
func ReadDir(name string) ([]fs.DirEntry, error) {
	return embedFS.ReadDir(name)
}
