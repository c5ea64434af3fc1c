package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/util"
)

// fixture is a non-bare repository acting as the remote.
type fixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	when time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	util.RequireGit(t)
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &fixture{t: t, dir: dir, repo: repo, when: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0o644))
}

func (f *fixture) commit(msg string) string {
	f.t.Helper()
	wt, err := f.repo.Worktree()
	require.NoError(f.t, err)
	require.NoError(f.t, wt.AddWithOptions(&git.AddOptions{All: true}))
	f.when = f.when.Add(time.Minute)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		All:    true,
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: f.when},
	})
	require.NoError(f.t, err)
	return hash.String()
}

func (f *fixture) rename(from, to string) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(filepath.Join(f.dir, to)), 0o755))
	require.NoError(f.t, os.Rename(filepath.Join(f.dir, from), filepath.Join(f.dir, to)))
}

func openClient(t *testing.T, f *fixture) *Client {
	t.Helper()
	c, err := New(Options{URL: f.dir, Branch: "master"})
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background(), filepath.Join(t.TempDir(), "source")))
	return c
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))

	c, err := New(Options{URL: "https://example.com/docs.git"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, c.Branch())
	assert.Nil(t, c.auth)
}

func TestOpenClonesAndReportsHead(t *testing.T) {
	f := newFixture(t)
	f.write("docs/index.html", "<html></html>")
	head := f.commit("initial")

	c := openClient(t, f)
	version, err := c.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, head, version)

	// reopening an existing clone does not clone again
	again, err := New(Options{URL: "/nonexistent", Branch: "master"})
	require.NoError(t, err)
	require.NoError(t, again.Open(context.Background(), c.path))
	version, err = again.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, head, version)
}

func TestUpdateFetchesNewCommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("README", "hello")
	f.commit("initial")

	c := openClient(t, f)
	f.write("README", "hello again")
	next := f.commit("second")

	require.NoError(t, c.Update(ctx))
	version, err := c.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, version)

	require.NoError(t, c.Update(ctx), "an up to date fetch is not an error")
}

func TestLazyChangeLogOldestFirstAfterSince(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("docs/index.html", "<html>index</html>")
	first := f.commit("initial")
	f.write("docs/guide/intro.html", "<html>a fairly long introduction page body</html>")
	second := f.commit("add intro")
	f.rename("docs/guide/intro.html", "docs/start/intro.html")
	third := f.commit("move intro")

	c := openClient(t, f)

	var got []model.Commit
	for commit, err := range c.LazyChangeLog(ctx, first) {
		require.NoError(t, err)
		got = append(got, commit)
	}
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].Version)
	assert.Equal(t, third, got[1].Version)
	assert.Equal(t, "Ada", got[0].Author)
	assert.Equal(t, "ada@example.com", got[0].Email)
	assert.Equal(t, "add intro", got[0].Message)

	assert.Equal(t, []model.FileChange{
		{Operation: model.OpAdd, Path: "docs/guide/intro.html"},
	}, got[0].ChangedFiles)
	assert.Equal(t, []model.FileChange{
		{Operation: model.OpMove, Path: "docs/start/intro.html", OldPath: "docs/guide/intro.html"},
	}, got[1].ChangedFiles)

	var all int
	for _, err := range c.LazyChangeLog(ctx, "") {
		require.NoError(t, err)
		all++
	}
	assert.Equal(t, 3, all)
}

func TestLazyChangeLogStopsEarly(t *testing.T) {
	f := newFixture(t)
	f.write("a", "1")
	f.commit("one")
	f.write("a", "2")
	f.commit("two")

	c := openClient(t, f)
	n := 0
	for range c.LazyChangeLog(context.Background(), "") {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestChangeLogNewestFirst(t *testing.T) {
	f := newFixture(t)
	var hashes []string
	for _, content := range []string{"1", "2", "3", "4"} {
		f.write("file.txt", content)
		hashes = append(hashes, f.commit("commit "+content))
	}

	c := openClient(t, f)
	commits, err := c.ChangeLog(context.Background(), hashes[0], 2, false)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, hashes[3], commits[0].Version)
	assert.Equal(t, hashes[2], commits[1].Version)

	commits, err = c.ChangeLog(context.Background(), "", 0, true)
	require.NoError(t, err)
	require.Len(t, commits, 4)
	assert.Equal(t, hashes[0], commits[0].Version)
}

func TestMaterializeChecksOutVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("docs/index.html", "v1")
	first := f.commit("initial")
	f.write("docs/index.html", "v2")
	f.write("docs/extra.html", "extra")
	second := f.commit("second")

	c := openClient(t, f)
	target := filepath.Join(t.TempDir(), "checkout")

	require.NoError(t, c.Materialize(ctx, target, second, true))
	data, err := os.ReadFile(filepath.Join(target, "docs", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.FileExists(t, filepath.Join(target, "docs", "extra.html"))

	require.NoError(t, os.WriteFile(filepath.Join(target, "build-output.txt"), []byte("x"), 0o644))

	require.NoError(t, c.Materialize(ctx, target, first, true))
	data, err = os.ReadFile(filepath.Join(target, "docs", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.NoFileExists(t, filepath.Join(target, "docs", "extra.html"))
	assert.NoFileExists(t, filepath.Join(target, "build-output.txt"))

	version, err := c.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, version, "materializing must not move the tracked branch")
}

func TestUnopenedClientFails(t *testing.T) {
	c, err := New(Options{URL: "x"})
	require.NoError(t, err)
	_, err = c.CurrentVersion(context.Background())
	assert.Error(t, err)
	assert.Error(t, c.Update(context.Background()))
}
