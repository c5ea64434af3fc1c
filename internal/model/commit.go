package model

import "time"

// FileChange is a file-level change inside one source commit.
type FileChange struct {
	Operation Operation
	Path      string
	// OldPath is set for moves.
	OldPath string
}

// Commit describes one source version. It doubles as the per-unit
// summary a parse filter emits after copying that version into the mirror.
type Commit struct {
	Version      string
	Author       string
	Email        string
	Date         time.Time
	Message      string
	ChangedFiles []FileChange
}

// ShortVersion returns the first 8 characters of the version.
func (c Commit) ShortVersion() string {
	if len(c.Version) > 8 {
		return c.Version[:8]
	}
	return c.Version
}

// Paths returns every path touched by the commit, including old paths of moves.
func (c Commit) Paths() []string {
	paths := make([]string, 0, len(c.ChangedFiles))
	for _, fc := range c.ChangedFiles {
		paths = append(paths, fc.Path)
		if fc.OldPath != "" {
			paths = append(paths, fc.OldPath)
		}
	}
	return paths
}
