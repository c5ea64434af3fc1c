package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/pipeline"
)

func TestCreatePageEnforcesUniqueTitles(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")

	p, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "Guide", Body: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, "Guide", p.Title)

	_, err = w.CreatePage(ctx, pipeline.PageSpec{Title: "Guide"})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteConflict))
	assert.Equal(t, 1, w.Mutations())
}

func TestCreatePageRequiresExistingParent(t *testing.T) {
	w := New("DOC")
	_, err := w.CreatePage(context.Background(), pipeline.PageSpec{Title: "Child", ParentID: "42"})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))
}

func TestUpdatePageOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	p, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "Guide"})
	require.NoError(t, err)

	updated, err := w.UpdatePage(ctx, p.ID, 1, pipeline.PageSpec{Title: "Guide", Body: "new"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = w.UpdatePage(ctx, p.ID, 1, pipeline.PageSpec{Title: "Guide"})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteConflict), "stale version must be rejected")

	_, err = w.UpdatePage(ctx, "999", 1, pipeline.PageSpec{Title: "Guide"})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))

	stored, ok := w.Page(p.ID)
	require.True(t, ok)
	assert.Equal(t, "new", stored.Body)
}

func TestUpdatePageRenameKeepsTitleIndex(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	a, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "A"})
	require.NoError(t, err)
	b, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "B"})
	require.NoError(t, err)

	_, err = w.UpdatePage(ctx, b.ID, 1, pipeline.PageSpec{Title: "A"})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteConflict))

	_, err = w.UpdatePage(ctx, a.ID, 1, pipeline.PageSpec{Title: "C"})
	require.NoError(t, err)

	_, ok := w.PageByTitle("A")
	assert.False(t, ok)
	got, err := w.GetPage(ctx, pipeline.PageQuery{Title: "C"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestDeletePageRemovesAttachments(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	p, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "A"})
	require.NoError(t, err)
	_, err = w.CreateAttachment(ctx, pipeline.AttachmentSpec{PageID: p.ID, Name: "img_a.png", Data: []byte("png")})
	require.NoError(t, err)

	require.NoError(t, w.DeletePage(ctx, p.ID))
	assert.Equal(t, 0, w.AttachmentCount())
	assert.Empty(t, w.Pages())

	err = w.DeletePage(ctx, p.ID)
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))
}

func TestAttachmentLifecycle(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	a, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "A"})
	require.NoError(t, err)
	b, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "B"})
	require.NoError(t, err)

	first, err := w.CreateAttachment(ctx, pipeline.AttachmentSpec{PageID: a.ID, Name: "x.png", Data: []byte("1")})
	require.NoError(t, err)
	second, err := w.CreateAttachment(ctx, pipeline.AttachmentSpec{PageID: a.ID, Name: "x.png", Data: []byte("2")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same name replaces in place")

	files := w.Attachments(a.ID)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("2"), files[0].Data)

	require.NoError(t, w.MoveAttachment(ctx, a.ID, "x.png", b.ID, "y.png"))
	assert.Empty(t, w.Attachments(a.ID))
	require.Len(t, w.Attachments(b.ID), 1)
	assert.Equal(t, "y.png", w.Attachments(b.ID)[0].Name)

	err = w.MoveAttachment(ctx, a.ID, "x.png", b.ID, "z.png")
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))

	require.NoError(t, w.DeleteAttachment(ctx, b.ID, "y.png"))
	err = w.DeleteAttachment(ctx, b.ID, "y.png")
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))
}

func TestFailNextAndOutOfBandEdits(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	p, err := w.CreatePage(ctx, pipeline.PageSpec{Title: "A"})
	require.NoError(t, err)

	w.FailNext(apperr.New(apperr.ErrRemoteUnavailable, "down"))
	_, err = w.GetPage(ctx, pipeline.PageQuery{ID: p.ID})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteUnavailable))
	_, err = w.GetPage(ctx, pipeline.PageQuery{ID: p.ID})
	require.NoError(t, err)

	before := w.Mutations()
	require.NoError(t, w.Touch(p.ID))
	got, err := w.GetPage(ctx, pipeline.PageQuery{ID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	w.Remove(p.ID)
	_, err = w.GetPage(ctx, pipeline.PageQuery{ID: p.ID})
	assert.True(t, apperr.Is(err, apperr.ErrRemoteNotFound))
	assert.Equal(t, before, w.Mutations())
}

func TestPagesOrderedByID(t *testing.T) {
	ctx := context.Background()
	w := New("DOC")
	for _, title := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		_, err := w.CreatePage(ctx, pipeline.PageSpec{Title: title})
		require.NoError(t, err)
	}
	pages := w.Pages()
	require.Len(t, pages, 11)
	assert.Equal(t, "a", pages[0].Title)
	assert.Equal(t, "k", pages[10].Title)
}
