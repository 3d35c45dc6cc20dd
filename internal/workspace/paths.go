// Package workspace tracks loaded workspaces and the documents they own.
// The registry is the single writer for document stage fields and active
// workflow sets; the pipeline engine mutates them only through it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DotDirName is the per-workspace runtime directory.
const DotDirName = ".loom"

// DotDir returns the workspace runtime directory under root.
func DotDir(root string) string {
	return filepath.Join(root, DotDirName)
}

// LogsDir holds the journal.
func LogsDir(root string) string {
	return filepath.Join(DotDir(root), "logs")
}

// JournalPath is the journal file location.
func JournalPath(root string) string {
	return filepath.Join(LogsDir(root), "loom.log")
}

// StateDir holds persisted runtime records.
func StateDir(root string) string {
	return filepath.Join(DotDir(root), "state")
}

// ExportsDir holds exported snapshots.
func ExportsDir(root string) string {
	return filepath.Join(DotDir(root), "exports")
}

// IndexDir holds documentation index snapshots.
func IndexDir(root string) string {
	return filepath.Join(DotDir(root), "index")
}

// PluginsDir holds refinement methodology definitions.
func PluginsDir(root string) string {
	return filepath.Join(DotDir(root), "plugins")
}

// EnsureTree creates the .loom directory tree under root.
func EnsureTree(root string) error {
	for _, dir := range []string{
		DotDir(root),
		LogsDir(root),
		StateDir(root),
		ExportsDir(root),
		IndexDir(root),
		PluginsDir(root),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workspace: ensure %s: %w", dir, err)
		}
	}
	return nil
}
