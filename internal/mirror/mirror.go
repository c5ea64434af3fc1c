// Package mirror manages the local git repository that holds the last
// published state of a project's documentation. Diffing the staged
// mirror against its HEAD yields the changes to apply to the wiki.
//
// The git directory and the work tree live side by side so that a parse
// filter can empty and refill the work tree without touching history.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	gitDirName   = "mirror.git"
	workTreeName = "mirror"

	defaultAuthor = "docsync"
	defaultEmail  = "docsync@localhost"
)

// Mirror is a git repository with a detached work tree.
type Mirror struct {
	gitDir   string
	workTree string
}

// Signature identifies the source commit a mirror commit reproduces.
type Signature struct {
	Author  string
	Email   string
	Date    time.Time
	Message string
}

// Open returns the mirror under dir, initializing it on first use.
func Open(ctx context.Context, dir string) (*Mirror, error) {
	m := &Mirror{
		gitDir:   filepath.Join(dir, gitDirName),
		workTree: filepath.Join(dir, workTreeName),
	}
	if err := os.MkdirAll(m.workTree, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror work tree: %w", err)
	}
	if _, err := os.Stat(filepath.Join(m.gitDir, "HEAD")); err == nil {
		return m, nil
	}
	if _, err := m.run(ctx, "init", "--quiet"); err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{
		{"user.name", defaultAuthor},
		{"user.email", defaultEmail},
		{"commit.gpgsign", "false"},
		{"core.autocrlf", "false"},
	} {
		if _, err := m.run(ctx, "config", kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WorkTree returns the directory parse filters write into.
func (m *Mirror) WorkTree() string {
	return m.workTree
}

// GitDir returns the repository directory.
func (m *Mirror) GitDir() string {
	return m.gitDir
}

// ManifestPath returns the location of the outline manifest.
func (m *Mirror) ManifestPath(name string) string {
	return filepath.Join(m.workTree, name)
}

// StageAll stages every addition, modification and removal in the work tree.
func (m *Mirror) StageAll(ctx context.Context) error {
	_, err := m.run(ctx, "add", "--all", ".")
	return err
}

// DiffStaged returns the name-status diff between HEAD and the index,
// with rename detection. Paths are emitted unquoted.
func (m *Mirror) DiffStaged(ctx context.Context) (string, error) {
	return m.run(ctx, "-c", "core.quotepath=off", "diff", "--cached", "--name-status", "-M")
}

// Commit records the staged state. Empty commits are allowed so every
// processed source version leaves a trace.
func (m *Mirror) Commit(ctx context.Context, sig Signature) error {
	author := strings.TrimSpace(sig.Author)
	if author == "" {
		author = defaultAuthor
	}
	email := strings.TrimSpace(sig.Email)
	if email == "" {
		email = defaultEmail
	}
	date := sig.Date
	if date.IsZero() {
		date = time.Now()
	}
	message := sig.Message
	if strings.TrimSpace(message) == "" {
		message = "docsync"
	}
	_, err := m.run(ctx, "commit", "--quiet", "--allow-empty", "--no-verify",
		"--author", fmt.Sprintf("%s <%s>", author, email),
		"--date", date.Format(time.RFC3339),
		"-m", message)
	return err
}

// Head returns the current mirror commit, or "" before the first commit.
func (m *Mirror) Head(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Remove deletes the repository and its work tree.
func (m *Mirror) Remove() error {
	return errors.Join(os.RemoveAll(m.workTree), os.RemoveAll(m.gitDir))
}

func (m *Mirror) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"--git-dir", m.gitDir, "--work-tree", m.workTree}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Dir = m.workTree
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), m.workTree, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
