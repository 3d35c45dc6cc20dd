package workspace

import (
	"os"
	"path/filepath"
)

// rootMarkers identify a directory as a workspace root, checked in order.
var rootMarkers = []string{DotDirName, ".git", "go.mod"}

// DetectRoot walks upward from start until it finds a directory carrying a
// workspace marker. Files start from their parent directory. When no marker
// exists anywhere on the path the starting directory is returned unchanged.
func DetectRoot(start string) string {
	dir := start
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	origin := filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(origin); err == nil {
		origin = resolved
	}

	for cur := origin; ; {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return origin
		}
		cur = parent
	}
}
