// Package state owns the on-disk layout under the configured db path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Paths struct {
	DB        string
	Store     string
	State     string
	Retention string
	Backups   string
	Tmp       string
}

// PathsFor derives the layout for dbPath; an empty path means ./database.
func PathsFor(dbPath string) Paths {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = "./database"
	}
	path = filepath.Clean(path)
	statePath := filepath.Join(path, "state")
	return Paths{
		DB:        path,
		Store:     filepath.Join(path, "store"),
		State:     statePath,
		Retention: filepath.Join(statePath, "retention"),
		Backups:   filepath.Join(statePath, "backups"),
		Tmp:       filepath.Join(statePath, "tmp"),
	}
}

func (p Paths) all() []string {
	return []string{p.Store, p.Retention, p.Backups, p.Tmp}
}

// Prepare creates the layout for dbPath and checks each directory is a
// real, writable directory.
func Prepare(dbPath string) (Paths, error) {
	p := PathsFor(dbPath)
	if err := EnsureDirs(p); err != nil {
		return p, err
	}
	return p, nil
}

// EnsureDirs creates every directory in p with restrictive permissions.
func EnsureDirs(p Paths) error {
	for _, dir := range p.all() {
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}

		// writable check
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}
