package e2e

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/klauern/docsync/internal/config"
	"github.com/klauern/docsync/internal/util"
)

// Fixture provides helpers for creating files under a base directory.
type Fixture struct {
	t       *testing.T
	baseDir string
}

// NewFixture creates a new fixture helper rooted at the given directory.
func NewFixture(t *testing.T, baseDir string) *Fixture {
	t.Helper()
	return &Fixture{t: t, baseDir: baseDir}
}

// WriteFile writes content to a file relative to the fixture base directory.
// It creates parent directories as needed.
func (f *Fixture) WriteFile(relPath, content string) string {
	f.t.Helper()
	fullPath := filepath.Join(f.baseDir, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		f.t.Fatalf("failed to create directory for %s: %v", fullPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o600); err != nil {
		f.t.Fatalf("failed to write file %s: %v", fullPath, err)
	}
	return fullPath
}

// Path returns the full path for a relative path.
func (f *Fixture) Path(relPath string) string {
	return filepath.Join(f.baseDir, filepath.FromSlash(relPath))
}

// Exists returns true if the file or directory exists.
func (f *Fixture) Exists(relPath string) bool {
	_, err := os.Stat(f.Path(relPath))
	return err == nil
}

// SourceRepo is a git repository acting as a project's remote.
type SourceRepo struct {
	*Fixture
	repo *git.Repository
	when time.Time
}

// SourceRepo initializes a repository in a temp dir. Tests are skipped
// when the git binary, which the source client shells out to, is missing.
func (h *Harness) SourceRepo() *SourceRepo {
	h.t.Helper()
	util.RequireGit(h.t)

	dir := h.t.TempDir()
	r, err := git.PlainInit(dir, false)
	if err != nil {
		h.t.Fatalf("failed to init repository: %v", err)
	}
	return &SourceRepo{
		Fixture: NewFixture(h.t, dir),
		repo:    r,
		when:    time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

// Commit stages every change and commits it, returning the version.
func (s *SourceRepo) Commit(msg string) string {
	s.t.Helper()
	wt, err := s.repo.Worktree()
	if err != nil {
		s.t.Fatalf("failed to open worktree: %v", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		s.t.Fatalf("failed to stage changes: %v", err)
	}
	s.when = s.when.Add(time.Hour)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		All:    true,
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: s.when},
	})
	if err != nil {
		s.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// DocsProject returns a project that publishes s/docs to the in-memory
// destination.
func (s *SourceRepo) DocsProject(id string) config.ProjectConfig {
	return config.ProjectConfig{
		ID:          id,
		Source:      config.SourceConfig{Type: "git", URL: s.baseDir, Branch: "master"},
		Parse:       config.ParseConfig{Type: "html", DocsRoot: "docs", TriggerPattern: "docs/"},
		Inflate:     config.InflateConfig{Type: "wiki", Strict: true},
		Destination: config.DestinationConfig{Type: "memory", Space: "DOC"},
	}
}

// WriteConfig writes the default configuration file with projects.
func (h *Harness) WriteConfig(projects ...config.ProjectConfig) string {
	h.t.Helper()
	cfg := config.Default()
	cfg.Projects = projects
	if err := cfg.SaveToPath(config.FilePath()); err != nil {
		h.t.Fatalf("failed to write config: %v", err)
	}
	return config.FilePath()
}
