package util

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the docsync home directory.
const HomeEnv = "DOCSYNC_HOME"

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// DocsyncHome returns the directory holding docsync's config and state.
// It is $DOCSYNC_HOME when set, ~/.docsync otherwise.
func DocsyncHome() string {
	if v := strings.TrimSpace(os.Getenv(HomeEnv)); v != "" {
		return ExpandPath(v)
	}
	return filepath.Join(HomeDir(), ".docsync")
}

// ExpandPath replaces a leading ~ with the home directory.
func ExpandPath(p string) string {
	switch {
	case p == "~":
		return HomeDir()
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(HomeDir(), p[2:])
	default:
		return p
	}
}

// ProjectWorkDir returns the per-project working directory under workDir.
func ProjectWorkDir(workDir, project string) string {
	return filepath.Join(ExpandPath(workDir), project)
}
