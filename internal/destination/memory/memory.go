// Package memory implements an in-process wiki destination. It enforces
// the same rules a real wiki space does (unique titles, optimistic page
// versions) and counts every mutation, which makes it suitable for dry
// runs and for tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/pipeline"
)

// Page is a stored wiki page.
type Page struct {
	pipeline.RemotePage
	Body     string
	HomePage bool
}

// Attachment is a stored file.
type Attachment struct {
	pipeline.RemoteAttachment
	ContentType string
	Data        []byte
}

// Wiki is a single in-memory space. It is safe for concurrent use.
type Wiki struct {
	mu          sync.Mutex
	space       string
	seq         int
	pages       map[string]*Page
	titles      map[string]string
	attachments map[string]map[string]*Attachment
	mutations   int
	failures    []error
}

var _ pipeline.DestinationClient = (*Wiki)(nil)

// New creates an empty space.
func New(space string) *Wiki {
	return &Wiki{
		space:       space,
		pages:       make(map[string]*Page),
		titles:      make(map[string]string),
		attachments: make(map[string]map[string]*Attachment),
	}
}

// Space returns the space key.
func (w *Wiki) Space() string {
	return w.space
}

// Mutations returns the number of successful writes so far.
func (w *Wiki) Mutations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mutations
}

// FailNext makes the next client call fail with err.
func (w *Wiki) FailNext(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, err)
}

func (w *Wiki) injected() error {
	if len(w.failures) == 0 {
		return nil
	}
	err := w.failures[0]
	w.failures = w.failures[1:]
	return err
}

func (w *Wiki) nextID() string {
	w.seq++
	return strconv.Itoa(w.seq)
}

// CreatePage adds a page at version 1.
func (w *Wiki) CreatePage(_ context.Context, spec pipeline.PageSpec) (pipeline.RemotePage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return pipeline.RemotePage{}, err
	}
	if spec.Title == "" {
		return pipeline.RemotePage{}, apperr.New(apperr.ErrRemoteConflict, "page title is empty")
	}
	if id, ok := w.titles[spec.Title]; ok {
		return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteConflict,
			"a page titled %q already exists in space %s (id %s)", spec.Title, w.space, id)
	}
	if spec.ParentID != "" {
		if _, ok := w.pages[spec.ParentID]; !ok {
			return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteNotFound, "parent page %s not found", spec.ParentID)
		}
	}

	p := &Page{
		RemotePage: pipeline.RemotePage{
			ID:       w.nextID(),
			Title:    spec.Title,
			ParentID: spec.ParentID,
			Version:  1,
		},
		Body:     spec.Body,
		HomePage: spec.HomePage,
	}
	w.pages[p.ID] = p
	w.titles[p.Title] = p.ID
	w.mutations++
	return p.RemotePage, nil
}

// UpdatePage overwrites a page. The caller must present the page's
// current version; the stored version is then incremented.
func (w *Wiki) UpdatePage(_ context.Context, id string, version int, spec pipeline.PageSpec) (pipeline.RemotePage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return pipeline.RemotePage{}, err
	}
	p, ok := w.pages[id]
	if !ok {
		return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteNotFound, "page %s not found", id)
	}
	if p.Version != version {
		return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteConflict,
			"page %s is at version %d, not %d", id, p.Version, version)
	}
	if other, taken := w.titles[spec.Title]; taken && other != id {
		return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteConflict,
			"a page titled %q already exists in space %s (id %s)", spec.Title, w.space, other)
	}
	if spec.ParentID != "" {
		if _, ok := w.pages[spec.ParentID]; !ok {
			return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteNotFound, "parent page %s not found", spec.ParentID)
		}
	}

	delete(w.titles, p.Title)
	p.Title = spec.Title
	p.ParentID = spec.ParentID
	p.Body = spec.Body
	p.HomePage = spec.HomePage
	p.Version++
	w.titles[p.Title] = id
	w.mutations++
	return p.RemotePage, nil
}

// DeletePage removes a page and its attachments.
func (w *Wiki) DeletePage(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return err
	}
	p, ok := w.pages[id]
	if !ok {
		return apperr.Newf(apperr.ErrRemoteNotFound, "page %s not found", id)
	}
	delete(w.titles, p.Title)
	delete(w.pages, id)
	delete(w.attachments, id)
	w.mutations++
	return nil
}

// GetPage finds a page by id, or by title when the query has no id.
func (w *Wiki) GetPage(_ context.Context, q pipeline.PageQuery) (pipeline.RemotePage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return pipeline.RemotePage{}, err
	}
	id := q.ID
	if id == "" {
		var ok bool
		if id, ok = w.titles[q.Title]; !ok {
			return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteNotFound, "no page titled %q", q.Title)
		}
	}
	p, ok := w.pages[id]
	if !ok {
		return pipeline.RemotePage{}, apperr.Newf(apperr.ErrRemoteNotFound, "page %s not found", id)
	}
	return p.RemotePage, nil
}

// CreateAttachment stores a file on a page, replacing a file of the
// same name.
func (w *Wiki) CreateAttachment(_ context.Context, spec pipeline.AttachmentSpec) (pipeline.RemoteAttachment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return pipeline.RemoteAttachment{}, err
	}
	if _, ok := w.pages[spec.PageID]; !ok {
		return pipeline.RemoteAttachment{}, apperr.Newf(apperr.ErrRemoteNotFound, "page %s not found", spec.PageID)
	}
	files := w.attachments[spec.PageID]
	if files == nil {
		files = make(map[string]*Attachment)
		w.attachments[spec.PageID] = files
	}
	id := w.nextID()
	if existing, ok := files[spec.Name]; ok {
		id = existing.ID
	}
	a := &Attachment{
		RemoteAttachment: pipeline.RemoteAttachment{ID: id, PageID: spec.PageID, Name: spec.Name},
		ContentType:      spec.ContentType,
		Data:             slices.Clone(spec.Data),
	}
	files[spec.Name] = a
	w.mutations++
	return a.RemoteAttachment, nil
}

// MoveAttachment renames a file and optionally moves it to another page.
func (w *Wiki) MoveAttachment(_ context.Context, pageID, name, newPageID, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return err
	}
	a, ok := w.attachments[pageID][name]
	if !ok {
		return apperr.Newf(apperr.ErrRemoteNotFound, "attachment %s not found on page %s", name, pageID)
	}
	if _, ok := w.pages[newPageID]; !ok {
		return apperr.Newf(apperr.ErrRemoteNotFound, "page %s not found", newPageID)
	}
	if _, taken := w.attachments[newPageID][newName]; taken {
		return apperr.Newf(apperr.ErrRemoteConflict, "attachment %s already exists on page %s", newName, newPageID)
	}
	delete(w.attachments[pageID], name)
	if w.attachments[newPageID] == nil {
		w.attachments[newPageID] = make(map[string]*Attachment)
	}
	a.PageID = newPageID
	a.Name = newName
	w.attachments[newPageID][newName] = a
	w.mutations++
	return nil
}

// DeleteAttachment removes a file from a page.
func (w *Wiki) DeleteAttachment(_ context.Context, pageID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return err
	}
	if _, ok := w.attachments[pageID][name]; !ok {
		return apperr.Newf(apperr.ErrRemoteNotFound, "attachment %s not found on page %s", name, pageID)
	}
	delete(w.attachments[pageID], name)
	w.mutations++
	return nil
}

// Page returns a copy of a stored page.
func (w *Wiki) Page(id string) (Page, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[id]
	if !ok {
		return Page{}, false
	}
	return *p, true
}

// PageByTitle returns a copy of the page with the given title.
func (w *Wiki) PageByTitle(title string) (Page, bool) {
	w.mu.Lock()
	id, ok := w.titles[title]
	w.mu.Unlock()
	if !ok {
		return Page{}, false
	}
	return w.Page(id)
}

// Pages returns copies of all pages ordered by id.
func (w *Wiki) Pages() []Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := slices.SortedFunc(maps.Keys(w.pages), compareIDs)
	out := make([]Page, 0, len(ids))
	for _, id := range ids {
		out = append(out, *w.pages[id])
	}
	return out
}

// Attachments returns copies of a page's files ordered by name.
func (w *Wiki) Attachments(pageID string) []Attachment {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := w.attachments[pageID]
	out := make([]Attachment, 0, len(files))
	for _, name := range slices.Sorted(maps.Keys(files)) {
		out = append(out, *files[name])
	}
	return out
}

// AttachmentCount returns the number of files across all pages.
func (w *Wiki) AttachmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, files := range w.attachments {
		n += len(files)
	}
	return n
}

// Touch simulates an edit made by someone else: the page version moves
// forward without going through the client.
func (w *Wiki) Touch(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[id]
	if !ok {
		return fmt.Errorf("page %s not found", id)
	}
	p.Version++
	return nil
}

// Remove deletes a page without counting a mutation, simulating a page
// removed by hand in the wiki.
func (w *Wiki) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pages[id]; ok {
		delete(w.titles, p.Title)
		delete(w.pages, id)
		delete(w.attachments, id)
	}
}

func compareIDs(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai - bi
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
