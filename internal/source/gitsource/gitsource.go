// Package gitsource reads documentation sources from a git remote. The
// remote is kept as a bare, single-branch clone; versions are checked out
// into a separate directory on demand.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/pipeline"
)

// DefaultBranch is tracked when no branch is configured.
const DefaultBranch = "master"

// Options configures a Client.
type Options struct {
	URL      string
	Branch   string
	Username string
	Password string
}

// Client is a pipeline.SourceClient over go-git.
type Client struct {
	url    string
	branch string
	auth   transport.AuthMethod

	path string
	repo *git.Repository
}

var _ pipeline.SourceClient = (*Client)(nil)

// New returns an unopened client.
func New(opts Options) (*Client, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, apperr.New(apperr.ErrInvalidConfig, "source url is required")
	}
	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		branch = DefaultBranch
	}
	c := &Client{url: url, branch: branch}
	if opts.Username != "" || opts.Password != "" {
		c.auth = &githttp.BasicAuth{Username: opts.Username, Password: opts.Password}
	}
	return c, nil
}

// Branch returns the tracked branch.
func (c *Client) Branch() string {
	return c.branch
}

func (c *Client) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(c.branch)
}

// Open binds the client to the bare clone at path, cloning the remote
// the first time.
func (c *Client) Open(ctx context.Context, path string) error {
	if _, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return fmt.Errorf("open source clone %s: %w", path, err)
		}
		c.path, c.repo = path, repo
		return nil
	}

	logging.WithContext(ctx).Info("cloning source", "url", c.url, "branch", c.branch)
	repo, err := git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
		URL:           c.url,
		Auth:          c.auth,
		ReferenceName: c.branchRef(),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		_ = os.RemoveAll(path)
		return apperr.Wrap(apperr.ErrRemoteUnavailable, "clone "+c.url, err)
	}
	c.path, c.repo = path, repo
	return nil
}

func (c *Client) opened() error {
	if c.repo == nil {
		return errors.New("source client is not open")
	}
	return nil
}

// Update fetches the tracked branch.
func (c *Client) Update(ctx context.Context) error {
	if err := c.opened(); err != nil {
		return err
	}
	spec := config.RefSpec(fmt.Sprintf("+%s:%s", c.branchRef(), c.branchRef()))
	err := c.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       c.auth,
		Tags:       git.NoTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return apperr.Wrap(apperr.ErrRemoteUnavailable, "fetch "+c.url, err)
	}
	return nil
}

// CurrentVersion returns the hash at the tip of the tracked branch.
func (c *Client) CurrentVersion(_ context.Context) (string, error) {
	if err := c.opened(); err != nil {
		return "", err
	}
	ref, err := c.repo.Reference(c.branchRef(), true)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", c.branch, err)
	}
	return ref.Hash().String(), nil
}

// ChangeLog returns up to maxCount of the newest commits after since.
func (c *Client) ChangeLog(ctx context.Context, since string, maxCount int, reverse bool) ([]model.Commit, error) {
	hashes, err := c.pending(ctx, since)
	if err != nil {
		return nil, err
	}
	if maxCount > 0 && len(hashes) > maxCount {
		hashes = hashes[len(hashes)-maxCount:]
	}
	commits := make([]model.Commit, 0, len(hashes))
	for commit, err := range c.summaries(ctx, hashes) {
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
	}
	if !reverse {
		slices.Reverse(commits)
	}
	return commits, nil
}

// LazyChangeLog yields the commits reachable from the branch tip but not
// from since, oldest first. Changed files are computed per commit as the
// sequence is consumed.
func (c *Client) LazyChangeLog(ctx context.Context, since string) iter.Seq2[model.Commit, error] {
	return func(yield func(model.Commit, error) bool) {
		hashes, err := c.pending(ctx, since)
		if err != nil {
			yield(model.Commit{}, err)
			return
		}
		for commit, err := range c.summaries(ctx, hashes) {
			if !yield(commit, err) || err != nil {
				return
			}
		}
	}
}

func (c *Client) summaries(ctx context.Context, hashes []plumbing.Hash) iter.Seq2[model.Commit, error] {
	return func(yield func(model.Commit, error) bool) {
		for _, h := range hashes {
			if err := ctx.Err(); err != nil {
				yield(model.Commit{}, err)
				return
			}
			commit, err := c.repo.CommitObject(h)
			if err != nil {
				yield(model.Commit{}, fmt.Errorf("load commit %s: %w", h, err))
				return
			}
			summary, err := c.summarize(ctx, commit)
			if !yield(summary, err) || err != nil {
				return
			}
		}
	}
}

// pending lists the hashes in since..tip, oldest first.
func (c *Client) pending(ctx context.Context, since string) ([]plumbing.Hash, error) {
	if err := c.opened(); err != nil {
		return nil, err
	}
	tip, err := c.repo.Reference(c.branchRef(), true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.branch, err)
	}

	seen := make(map[plumbing.Hash]bool)
	if since != "" {
		base := plumbing.NewHash(since)
		if _, err := c.repo.CommitObject(base); err != nil {
			logging.WithContext(ctx).Warn("last synced version is not in the source history, replaying from the start",
				logging.Version(since), logging.Err(err))
		} else if err := c.walk(base, func(h plumbing.Hash) { seen[h] = true }); err != nil {
			return nil, err
		}
	}

	var hashes []plumbing.Hash
	err = c.walk(tip.Hash(), func(h plumbing.Hash) {
		if !seen[h] {
			hashes = append(hashes, h)
		}
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(hashes)
	return hashes, nil
}

func (c *Client) walk(from plumbing.Hash, fn func(plumbing.Hash)) error {
	commits, err := c.repo.Log(&git.LogOptions{From: from, Order: git.LogOrderCommitterTime})
	if err != nil {
		return fmt.Errorf("log from %s: %w", from, err)
	}
	defer commits.Close()
	return commits.ForEach(func(commit *object.Commit) error {
		fn(commit.Hash)
		return nil
	})
}

func (c *Client) summarize(ctx context.Context, commit *object.Commit) (model.Commit, error) {
	files, err := changedFiles(ctx, commit)
	if err != nil {
		return model.Commit{}, err
	}
	return model.Commit{
		Version:      commit.Hash.String(),
		Author:       commit.Author.Name,
		Email:        commit.Author.Email,
		Date:         commit.Author.When,
		Message:      strings.TrimSpace(commit.Message),
		ChangedFiles: files,
	}, nil
}

// changedFiles diffs a commit against its first parent with rename detection.
func changedFiles(ctx context.Context, commit *object.Commit) ([]model.FileChange, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", commit.Hash, err)
	}
	var parentTree *object.Tree
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("parent of %s: %w", commit.Hash, err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("tree of %s: %w", parent.Hash, err)
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", commit.Hash, err)
	}

	files := make([]model.FileChange, 0, len(changes))
	for _, ch := range changes {
		from, to := ch.From.Name, ch.To.Name
		if from != "" && to != "" && from != to {
			files = append(files, model.FileChange{Operation: model.OpMove, Path: to, OldPath: from})
			continue
		}
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("classify change in %s: %w", commit.Hash, err)
		}
		switch action {
		case merkletrie.Insert:
			files = append(files, model.FileChange{Operation: model.OpAdd, Path: to})
		case merkletrie.Delete:
			files = append(files, model.FileChange{Operation: model.OpDelete, Path: from})
		case merkletrie.Modify:
			files = append(files, model.FileChange{Operation: model.OpModify, Path: to})
		}
	}
	return files, nil
}

// Materialize checks version out into targetDir. The clone's object
// store is shared; only targetDir and the clone's index are written.
func (c *Client) Materialize(_ context.Context, targetDir, version string, clean bool) error {
	if err := c.opened(); err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create checkout dir: %w", err)
	}
	storage := filesystem.NewStorage(osfs.New(c.path), cache.NewObjectLRUDefault())
	repo, err := git.Open(storage, osfs.New(targetDir))
	if err != nil {
		return fmt.Errorf("open checkout %s: %w", targetDir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree %s: %w", targetDir, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(version), Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", version, err)
	}
	if clean {
		if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
			return fmt.Errorf("clean checkout: %w", err)
		}
	}
	return nil
}
