package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/docsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	require.NoError(t, s.Close())

	// reopening is a no-op
	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	version, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
	_, err = Open(context.Background(), DriverSQLite, " ")
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	assert.Equal(t, []string{DriverPostgres, DriverSQLite}, Drivers())
}

func TestRebind(t *testing.T) {
	pg := dialects[DriverPostgres]
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)",
		pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))

	lite := dialects[DriverSQLite]
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestPageLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	res, err := l.InsertResource(ctx, "guide", model.ContentPage, "guide/intro.html")
	require.NoError(t, err)
	assert.NotZero(t, res.ID)

	require.NoError(t, l.InsertPage(ctx, model.PageRecord{
		RemoteID:   "100",
		ResourceID: res.ID,
		Title:      "Intro",
		Postfix:    "guide/intro.html",
		Version:    1,
		Checksum:   "abc",
	}))

	e, ok, err := l.PageByPath(ctx, "guide", "guide/intro.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100", e.Page.RemoteID)
	assert.Equal(t, "", e.Page.ParentRemoteID)
	assert.Equal(t, "guide/intro.html", e.Page.Postfix)
	assert.Equal(t, model.ContentPage, e.Resource.Type)
	assert.False(t, e.Page.CreatedAt.IsZero())

	e.Page.Version = 2
	e.Page.Postfix = ""
	e.Page.RemoteID = "101"
	require.NoError(t, l.UpdatePage(ctx, e.Page))

	byID, ok, err := l.PageByRemoteID(ctx, "101")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, byID.Page.Version)
	assert.Equal(t, "", byID.Page.Postfix)

	require.NoError(t, l.MoveResource(ctx, res.ID, "guide/start.html"))
	_, ok, err = l.PageByPath(ctx, "guide", "guide/intro.html")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = l.PageByPath(ctx, "guide", "guide/start.html")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.DeleteResource(ctx, res.ID))
	_, ok, err = l.PageByRemoteID(ctx, "101")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := l.CountResources(ctx, "guide")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResourcePathUniquePerProject(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	_, err := l.InsertResource(ctx, "a", model.ContentPage, "index.html")
	require.NoError(t, err)
	_, err = l.InsertResource(ctx, "a", model.ContentPage, "index.html")
	assert.Error(t, err)
	_, err = l.InsertResource(ctx, "b", model.ContentPage, "index.html")
	assert.NoError(t, err)
}

func TestAttachmentUniquePerParentAndName(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	res, err := l.InsertResource(ctx, "p", model.ContentAttachment, "img/a.png")
	require.NoError(t, err)
	require.NoError(t, l.InsertAttachment(ctx, model.AttachmentRecord{
		RemoteID: "att1", ParentPageRemoteID: "100", ResourceID: res.ID, Name: "img_a.png",
	}))
	err = l.InsertAttachment(ctx, model.AttachmentRecord{
		RemoteID: "att2", ParentPageRemoteID: "100", ResourceID: res.ID, Name: "img_a.png",
	})
	assert.Error(t, err, "duplicate (parent, name) must be rejected")

	// same file on another page shares the resource
	require.NoError(t, l.InsertAttachment(ctx, model.AttachmentRecord{
		RemoteID: "att3", ParentPageRemoteID: "200", ResourceID: res.ID, Name: "img_a.png",
	}))

	entries, err := l.AttachmentsByPath(ctx, "p", "img/a.png")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	e, ok, err := l.AttachmentFor(ctx, "p", "img/a.png", "200")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "att3", e.Attachment.RemoteID)

	named, ok, err := l.AttachmentNamed(ctx, "100", "img_a.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "img/a.png", named.Resource.Path)
	_, ok, err = l.AttachmentNamed(ctx, "100", "img_b.png")
	require.NoError(t, err)
	assert.False(t, ok)

	e.Attachment.Name = "img_b.png"
	e.Attachment.Checksum = "new"
	require.NoError(t, l.UpdateAttachment(ctx, "img_a.png", e.Attachment))
	e, ok, err = l.AttachmentFor(ctx, "p", "img/a.png", "200")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "img_b.png", e.Attachment.Name)

	require.NoError(t, l.DeleteAttachment(ctx, "100", "img_a.png"))
	entries, err = l.AttachmentsByPath(ctx, "p", "img/a.png")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPagesByPathsBatches(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	total := LookupBatchSize*2 + 7
	paths := make([]string, 0, total+3)
	for i := range total {
		p := fmt.Sprintf("docs/page-%03d.html", i)
		res, err := l.InsertResource(ctx, "big", model.ContentPage, p)
		require.NoError(t, err)
		require.NoError(t, l.InsertPage(ctx, model.PageRecord{
			RemoteID: fmt.Sprintf("r%d", i), ResourceID: res.ID, Title: p, Version: 1,
		}))
		paths = append(paths, p)
	}
	paths = append(paths, "missing-1.html", "missing-2.html", "missing-3.html")

	found, err := l.PagesByPaths(ctx, "big", paths)
	require.NoError(t, err)
	assert.Len(t, found, total)
	assert.Equal(t, "r150", found["docs/page-150.html"].Page.RemoteID)
	_, ok := found["missing-1.html"]
	assert.False(t, ok)

	empty, err := l.PagesByPaths(ctx, "big", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepointPage(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	parent, err := l.InsertResource(ctx, "p", model.ContentPage, "index.html")
	require.NoError(t, err)
	child, err := l.InsertResource(ctx, "p", model.ContentPage, "child.html")
	require.NoError(t, err)
	img, err := l.InsertResource(ctx, "p", model.ContentAttachment, "a.png")
	require.NoError(t, err)

	require.NoError(t, l.InsertPage(ctx, model.PageRecord{RemoteID: "1", ResourceID: parent.ID, Title: "Home", Version: 1}))
	require.NoError(t, l.InsertPage(ctx, model.PageRecord{RemoteID: "2", ParentRemoteID: "1", ResourceID: child.ID, Title: "Child", Version: 1}))
	require.NoError(t, l.InsertAttachment(ctx, model.AttachmentRecord{RemoteID: "a1", ParentPageRemoteID: "1", ResourceID: img.ID, Name: "a.png"}))

	require.NoError(t, l.RepointPage(ctx, "1", "9"))

	e, _, err := l.PageByPath(ctx, "p", "child.html")
	require.NoError(t, err)
	assert.Equal(t, "9", e.Page.ParentRemoteID)
	_, ok, err := l.AttachmentFor(ctx, "p", "a.png", "9")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.DeleteAttachmentsUnder(ctx, "9"))
	_, ok, err = l.AttachmentFor(ctx, "p", "a.png", "9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAllForProject(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	for _, project := range []string{"keep", "drop"} {
		page, err := l.InsertResource(ctx, project, model.ContentPage, "index.html")
		require.NoError(t, err)
		require.NoError(t, l.InsertPage(ctx, model.PageRecord{RemoteID: project + "-1", ResourceID: page.ID, Title: "Home", Version: 1}))
		img, err := l.InsertResource(ctx, project, model.ContentAttachment, "a.png")
		require.NoError(t, err)
		require.NoError(t, l.InsertAttachment(ctx, model.AttachmentRecord{RemoteID: project + "-a", ParentPageRemoteID: project + "-1", ResourceID: img.ID, Name: "a.png"}))
	}

	n, err := l.DeleteAllForProject(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pages, err := l.Pages(ctx, "drop")
	require.NoError(t, err)
	assert.Empty(t, pages)
	atts, err := l.Attachments(ctx, "drop")
	require.NoError(t, err)
	assert.Empty(t, atts)

	pages, err = l.Pages(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	atts, err = l.Attachments(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WithTx(ctx, func(l *Ledger) error {
		if _, err := l.InsertResource(ctx, "p", model.ContentPage, "index.html"); err != nil {
			return err
		}
		if err := l.SetCursor(ctx, "p", "v1"); err != nil {
			return err
		}
		return fmt.Errorf("remote publish failed")
	})
	require.Error(t, err)

	n, err := s.Ledger().CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Zero(t, n)
	p, err := s.Ledger().Project(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "", p.LastSyncVersion)

	require.NoError(t, s.WithTx(ctx, func(l *Ledger) error {
		_, err := l.InsertResource(ctx, "p", model.ContentPage, "index.html")
		return err
	}))
	n, err = s.Ledger().CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProjectState(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	p, err := l.Project(ctx, "guide")
	require.NoError(t, err)
	assert.True(t, p.ScheduleEnabled, "schedule defaults to enabled")
	assert.Empty(t, p.LastSyncVersion)
	assert.True(t, p.LastSyncTime.IsZero())

	require.NoError(t, l.SetCursor(ctx, "guide", "abc123"))
	require.NoError(t, l.SetScheduleEnabled(ctx, "guide", false))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.TouchSyncTime(ctx, "guide", at))

	p, err = l.Project(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.LastSyncVersion)
	assert.False(t, p.ScheduleEnabled)
	assert.True(t, at.Equal(p.LastSyncTime))

	all, err := l.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, l.DeleteProject(ctx, "guide"))
	all, err = l.Projects(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	l := openTestStore(t).Ledger()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var last model.SyncRun
	for i := range 3 {
		run, err := l.StartRun(ctx, "guide", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Len(t, run.ID, 36)
		run.FinishedAt = run.StartedAt.Add(10 * time.Second)
		run.Status = model.RunSucceeded
		run.Units = i
		require.NoError(t, l.FinishRun(ctx, run))
		last = run
	}

	runs, err := l.RecentRuns(ctx, "guide", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, last.ID, runs[0].ID)
	assert.Equal(t, 10*time.Second, runs[0].Duration())

	got, ok, err := l.Run(ctx, last.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, 2, got.Units)

	_, ok, err = l.Run(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
