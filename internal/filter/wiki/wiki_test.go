package wiki

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/docsync/internal/destination/memory"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/outline"
	"github.com/klauern/docsync/internal/pipeline"
	"github.com/klauern/docsync/internal/store"
	"github.com/klauern/docsync/internal/util"
)

const project = "docs"

type env struct {
	t      *testing.T
	ctx    context.Context
	dir    string
	store  *store.Store
	wiki   *memory.Wiki
	filter *Filter
}

func newEnv(t *testing.T, strict bool) *env {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	w := memory.New("DOC")
	f, err := New(Options{Project: project, Destination: w, Strict: strict})
	require.NoError(t, err)
	return &env{t: t, ctx: ctx, dir: t.TempDir(), store: s, wiki: w, filter: f}
}

func (e *env) write(rel, content string) {
	e.t.Helper()
	util.WriteFile(e.t, filepath.Join(e.dir, filepath.FromSlash(rel)), content)
}

func (e *env) page(rel, title, body string) {
	e.t.Helper()
	e.write(rel, fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", title, body))
}

func (e *env) apply(m outline.Manifest, changes ...model.ChangeRecord) (pipeline.ApplyStats, error) {
	e.t.Helper()
	o, err := outline.Resolve(m, true)
	require.NoError(e.t, err)
	var stats pipeline.ApplyStats
	err = e.store.WithTx(e.ctx, func(l *store.Ledger) error {
		var err error
		stats, err = e.filter.Apply(e.ctx, l, e.dir, o, changes)
		return err
	})
	return stats, err
}

func (e *env) ledgerPage(p string) store.PageEntry {
	e.t.Helper()
	entry, found, err := e.store.Ledger().PageByPath(e.ctx, project, p)
	require.NoError(e.t, err)
	require.True(e.t, found, "no ledger page for %s", p)
	return entry
}

func (e *env) remote(p string) memory.Page {
	e.t.Helper()
	page, ok := e.wiki.Page(e.ledgerPage(p).Page.RemoteID)
	require.True(e.t, ok, "no remote page for %s", p)
	return page
}

func change(op model.Operation, p string) model.ChangeRecord {
	return model.ChangeRecord{Operation: op, ContentType: model.ContentTypeOf(p), Path: p}
}

func move(from, to string) model.ChangeRecord {
	return model.ChangeRecord{Operation: model.OpMove, ContentType: model.ContentTypeOf(from), Path: from, SecondPath: to}
}

func tree(root string, children ...outline.Node) outline.Manifest {
	return outline.Manifest{{Path: root, Children: children}}
}

func leaf(p string, children ...outline.Node) outline.Node {
	return outline.Node{Path: p, Children: children}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Destination: memory.New("X")})
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))
	_, err = New(Options{Project: "p"})
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))
}

func TestApplyCreatesParentsFirst(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	e.page("guide/intro.html", "Intro", "<p>intro</p>")
	e.page("guide/deep.html", "Deep", "<p>deep</p>")
	m := tree("index.html", leaf("guide/intro.html", leaf("guide/deep.html")))

	stats, err := e.apply(m,
		change(model.OpAdd, "guide/deep.html"),
		change(model.OpAdd, "index.html"),
		change(model.OpAdd, "guide/intro.html"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Created)

	home := e.remote("index.html")
	intro := e.remote("guide/intro.html")
	deep := e.remote("guide/deep.html")
	assert.Equal(t, "", home.ParentID)
	assert.Equal(t, home.ID, intro.ParentID)
	assert.Equal(t, intro.ID, deep.ParentID)
	assert.Equal(t, "Deep", deep.Title)
	assert.Equal(t, home.ID, e.ledgerPage("guide/intro.html").Page.ParentRemoteID)
}

func TestApplyTwiceIsNoop(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<p><a href="intro.html">next</a></p><img src="img/a.png" alt="A">`)
	e.page("intro.html", "Intro", "<p>intro</p>")
	e.write("img/a.png", "PNG")
	m := tree("index.html", leaf("intro.html"))
	changes := []model.ChangeRecord{
		change(model.OpAdd, "index.html"),
		change(model.OpAdd, "intro.html"),
		change(model.OpAdd, "img/a.png"),
	}

	_, err := e.apply(m, changes...)
	require.NoError(t, err)
	mutations := e.wiki.Mutations()
	resources, err := e.store.Ledger().CountResources(e.ctx, project)
	require.NoError(t, err)

	stats, err := e.apply(m, append(changes, change(model.OpModify, "index.html"))...)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, mutations, e.wiki.Mutations())
	again, err := e.store.Ledger().CountResources(e.ctx, project)
	require.NoError(t, err)
	assert.Equal(t, resources, again)
}

func TestAttachmentsAreUploadedUnderTheirPage(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<img src="img/a.png" alt="A"><p><a href="files/spec.pdf">spec</a></p>`)
	util.WriteTree(t, e.dir, map[string]string{
		"img/a.png":      "PNG",
		"files/spec.pdf": "PDF",
	})

	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)

	home := e.remote("index.html")
	atts := e.wiki.Attachments(home.ID)
	require.Len(t, atts, 2)
	assert.Equal(t, "files_spec.pdf", atts[0].Name)
	assert.Equal(t, "img_a.png", atts[1].Name)
	assert.Equal(t, "image/png", atts[1].ContentType)
	assert.Contains(t, home.Body, `<ac:image ac:alt="A"><ri:attachment ri:filename="img_a.png"></ri:attachment></ac:image>`)
	assert.Contains(t, home.Body, `<ri:attachment ri:filename="files_spec.pdf"></ri:attachment>`)

	entry, found, err := e.store.Ledger().AttachmentFor(e.ctx, project, "img/a.png", home.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, checksum([]byte("PNG")), entry.Attachment.Checksum)
}

func TestLinksToLaterPagesAreRepublished(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<p>Read <a href="intro.html#setup">the intro</a>.</p>`)
	e.page("intro.html", "Intro", "<p>intro</p>")

	_, err := e.apply(tree("index.html", leaf("intro.html")),
		change(model.OpAdd, "index.html"),
		change(model.OpAdd, "intro.html"))
	require.NoError(t, err)

	body := e.remote("index.html").Body
	assert.Contains(t, body, `<ac:link ac:anchor="setup"><ri:page ri:content-title="Intro"></ri:page>`)
	assert.Contains(t, body, `<ac:plain-text-link-body><![CDATA[the intro]]></ac:plain-text-link-body>`)
}

func TestLinkToUnpublishedPageKeepsText(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<p>See <a href="orphan.html">orphan</a> page.</p>`)
	e.page("orphan.html", "Orphan", "<p>not in the outline</p>")

	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"), change(model.OpAdd, "orphan.html"))
	require.NoError(t, err)

	assert.Contains(t, e.remote("index.html").Body, "<p>See orphan page.</p>")
	_, found, err := e.store.Ledger().PageByPath(e.ctx, project, "orphan.html")
	require.NoError(t, err)
	assert.False(t, found, "pages outside the outline are not published")
}

func TestTitleCollisionAppliesPostfix(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<a href="b/x.html">b</a>`)
	e.page("a/x.html", "Same", "<p>a</p>")
	e.page("b/x.html", "Same", "<p>b</p>")

	_, err := e.apply(tree("index.html", leaf("a/x.html"), leaf("b/x.html")),
		change(model.OpAdd, "index.html"),
		change(model.OpAdd, "a/x.html"),
		change(model.OpAdd, "b/x.html"))
	require.NoError(t, err)

	_, ok := e.wiki.PageByTitle("Same")
	assert.True(t, ok)
	_, ok = e.wiki.PageByTitle("Same - b/x.html")
	assert.True(t, ok)

	a := e.ledgerPage("a/x.html").Page
	b := e.ledgerPage("b/x.html").Page
	assert.Equal(t, "", a.Postfix)
	assert.Equal(t, "Same", b.Title)
	assert.Equal(t, "b/x.html", b.Postfix)
	assert.Contains(t, e.remote("index.html").Body, `ri:content-title="Same - b/x.html"`)

	// the postfix sticks on later updates
	e.page("b/x.html", "Same", "<p>b changed</p>")
	_, err = e.apply(tree("index.html", leaf("a/x.html"), leaf("b/x.html")), change(model.OpModify, "b/x.html"))
	require.NoError(t, err)
	assert.Equal(t, "Same - b/x.html", e.remote("b/x.html").Title)
	assert.Equal(t, "b/x.html", e.ledgerPage("b/x.html").Page.Postfix)
}

func TestTitleCollisionRecurringIsFatal(t *testing.T) {
	e := newEnv(t, true)
	for _, title := range []string{"Same", "Same - x.html"} {
		_, err := e.wiki.CreatePage(e.ctx, pipeline.PageSpec{Title: title})
		require.NoError(t, err)
	}
	e.page("x.html", "Same", "<p>x</p>")

	_, err := e.apply(outline.Manifest{leaf("x.html")}, change(model.OpAdd, "x.html"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrFatalInconsistency), "got %v", err)

	_, found, err := e.store.Ledger().PageByPath(e.ctx, project, "x.html")
	require.NoError(t, err)
	assert.False(t, found, "the failed unit leaves no ledger rows")
}

func TestVersionStaleRetriesOnce(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>v1</p>")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)

	local := e.ledgerPage("index.html").Page
	require.NoError(t, e.wiki.Touch(local.RemoteID))

	e.page("index.html", "Home", "<p>v2</p>")
	stats, err := e.apply(tree("index.html"), change(model.OpModify, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	remote := e.remote("index.html")
	assert.Equal(t, "<p>v2</p>", remote.Body)
	assert.Equal(t, local.Version+2, remote.Version)
	assert.Equal(t, remote.Version, e.ledgerPage("index.html").Page.Version)
}

func TestVersionEqualIsFatal(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>v1</p>")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	before := e.ledgerPage("index.html").Page

	e.page("index.html", "Home", "<p>v2</p>")
	e.wiki.FailNext(apperr.New(apperr.ErrRemoteConflict, "rejected"))
	_, err = e.apply(tree("index.html"), change(model.OpModify, "index.html"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrFatalInconsistency), "got %v", err)
	assert.Equal(t, before, e.ledgerPage("index.html").Page)
}

func TestRemoteMissingRecreatesPage(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<p>v1</p><img src="a.png">`)
	e.write("a.png", "PNG")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	old := e.ledgerPage("index.html").Page.RemoteID
	e.wiki.Remove(old)

	e.page("index.html", "Home", `<p>v2</p><img src="a.png">`)
	_, err = e.apply(tree("index.html"), change(model.OpModify, "index.html"))
	require.NoError(t, err)

	recreated := e.remote("index.html")
	assert.NotEqual(t, old, recreated.ID)
	assert.Contains(t, recreated.Body, "v2")
	require.Len(t, e.wiki.Attachments(recreated.ID), 1)
	_, found, err := e.store.Ledger().AttachmentFor(e.ctx, project, "a.png", old)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteRemovesRemoteAndLedger(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	e.page("guide.html", "Guide", `<img src="a.png">`)
	e.write("a.png", "PNG")
	m := tree("index.html", leaf("guide.html"))
	_, err := e.apply(m, change(model.OpAdd, "index.html"), change(model.OpAdd, "guide.html"))
	require.NoError(t, err)
	guideID := e.ledgerPage("guide.html").Page.RemoteID
	require.Len(t, e.wiki.Attachments(guideID), 1)

	stats, err := e.apply(tree("index.html"),
		change(model.OpDelete, "guide.html"),
		change(model.OpDelete, "a.png"),
		change(model.OpDelete, "never-published.html"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted)

	_, ok := e.wiki.Page(guideID)
	assert.False(t, ok)
	assert.Equal(t, 0, e.wiki.AttachmentCount())
	n, err := e.store.Ledger().CountResources(e.ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteToleratesRemoteAlreadyGone(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	e.wiki.Remove(e.ledgerPage("index.html").Page.RemoteID)

	_, err = e.apply(nil, change(model.OpDelete, "index.html"))
	require.NoError(t, err)
	n, err := e.store.Ledger().CountResources(e.ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMoveAttachmentRenamesInPlace(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<img src="img/a.png">`)
	e.write("img/a.png", "PNG")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	homeID := e.ledgerPage("index.html").Page.RemoteID

	require.NoError(t, os.Rename(filepath.Join(e.dir, "img", "a.png"), filepath.Join(e.dir, "img", "b.png")))
	e.page("index.html", "Home", `<img src="img/b.png">`)
	stats, err := e.apply(tree("index.html"), move("img/a.png", "img/b.png"), change(model.OpModify, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Moved)

	atts := e.wiki.Attachments(homeID)
	require.Len(t, atts, 1)
	assert.Equal(t, "img_b.png", atts[0].Name)
	assert.Contains(t, e.remote("index.html").Body, `ri:filename="img_b.png"`)
}

func TestMovePage(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	e.page("old.html", "Page", "<p>page</p>")
	_, err := e.apply(tree("index.html", leaf("old.html")), change(model.OpAdd, "index.html"), change(model.OpAdd, "old.html"))
	require.NoError(t, err)
	id := e.ledgerPage("old.html").Page.RemoteID

	require.NoError(t, os.Rename(filepath.Join(e.dir, "old.html"), filepath.Join(e.dir, "new.html")))
	e.page("unknown.html", "Unknown", "<p>u</p>")
	m := tree("index.html", leaf("new.html"), leaf("unknown.html"))
	stats, err := e.apply(m, move("old.html", "new.html"), move("gone.html", "unknown.html"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Moved)
	assert.Equal(t, 1, stats.Created, "moving an unknown page publishes it")

	assert.Equal(t, id, e.ledgerPage("new.html").Page.RemoteID)
	e.remote("unknown.html")
}

func TestModifyAttachmentReuploads(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", `<img src="a.png">`)
	e.write("a.png", "v1")
	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	homeID := e.ledgerPage("index.html").Page.RemoteID

	stats, err := e.apply(tree("index.html"), change(model.OpModify, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Updated, "unchanged content is not uploaded")

	e.write("a.png", "v2")
	stats, err = e.apply(tree("index.html"), change(model.OpModify, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	atts := e.wiki.Attachments(homeID)
	require.Len(t, atts, 1)
	assert.Equal(t, []byte("v2"), atts[0].Data)
	entry, _, err := e.store.Ledger().AttachmentFor(e.ctx, project, "a.png", homeID)
	require.NoError(t, err)
	assert.Equal(t, checksum([]byte("v2")), entry.Attachment.Checksum)
}

func TestModifyOfUnpublishedPageAddsIt(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	stats, err := e.apply(tree("index.html"), change(model.OpModify, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	e.remote("index.html")
}

func TestMissingAttachmentStrictAndLenient(t *testing.T) {
	strict := newEnv(t, true)
	strict.page("index.html", "Home", `<p>x</p><img src="missing.png">`)
	_, err := strict.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	assert.True(t, apperr.Is(err, apperr.ErrUnresolvedReference), "got %v", err)

	lenient := newEnv(t, false)
	lenient.page("index.html", "Home", `<p>x</p><img src="missing.png"><a href="missing.pdf">manual</a>`)
	_, err = lenient.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)
	body := lenient.remote("index.html").Body
	assert.NotContains(t, body, "ac:image")
	assert.Contains(t, body, "manual")
	assert.NotContains(t, body, "ac:link")
}

func TestAttachmentNameClash(t *testing.T) {
	files := map[string]string{"a/b.png": "NESTED", "a_b.png": "FLAT"}
	body := `<p>x</p><img src="a/b.png" alt="nested"><img src="a_b.png" alt="flat">`

	strict := newEnv(t, true)
	strict.page("index.html", "Home", body)
	util.WriteTree(t, strict.dir, files)
	_, err := strict.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	assert.True(t, apperr.Is(err, apperr.ErrUnresolvedReference), "got %v", err)

	lenient := newEnv(t, false)
	lenient.page("index.html", "Home", body)
	util.WriteTree(t, lenient.dir, files)
	_, err = lenient.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	require.NoError(t, err)

	home := lenient.remote("index.html")
	atts := lenient.wiki.Attachments(home.ID)
	require.Len(t, atts, 1)
	assert.Equal(t, "a_b.png", atts[0].Name)
	assert.Equal(t, 1, strings.Count(home.Body, "<ac:image"))

	// later renders of the page keep working
	lenient.page("index.html", "Home", body+"<p>edited</p>")
	_, err = lenient.apply(tree("index.html"), change(model.OpModify, "index.html"))
	require.NoError(t, err)
	home = lenient.remote("index.html")
	assert.Contains(t, home.Body, "edited")
	assert.Len(t, lenient.wiki.Attachments(home.ID), 1)
}

func TestRemoteUnavailableIsNotRetried(t *testing.T) {
	e := newEnv(t, true)
	e.page("index.html", "Home", "<p>home</p>")
	e.wiki.FailNext(apperr.New(apperr.ErrRemoteUnavailable, "down"))

	_, err := e.apply(tree("index.html"), change(model.OpAdd, "index.html"))
	assert.True(t, apperr.Is(err, apperr.ErrRemoteUnavailable), "got %v", err)
	assert.Empty(t, e.wiki.Pages())
}
