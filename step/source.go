package step

import (
	"os"
	"path/filepath"
	"runtime"
)

// callerSource captures the file and line skip frames up the stack,
// rewritten relative to the enclosing repository root when one can be
// found. Capture is best-effort: an unidentifiable caller is reported
// unknown, never an error.
func callerSource(skip int) (file string, line int, ok bool) {
	_, file, line, ok = runtime.Caller(skip)
	if !ok || file == "" {
		return "", 0, false
	}
	if rel, found := repoRelative(file); found {
		file = rel
	}
	return file, line, true
}

// repoRelative walks up from the file looking for the nearest directory
// holding a go.mod or .git, and rewrites the path relative to it. Paths
// use forward slashes regardless of platform.
func repoRelative(file string) (string, bool) {
	dir := filepath.Dir(file)
	for {
		if isRepoRoot(dir) {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return "", false
			}
			return filepath.ToSlash(rel), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func isRepoRoot(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
