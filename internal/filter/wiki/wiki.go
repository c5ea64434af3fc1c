// Package wiki is the inflate filter that publishes mirror changes to a
// wiki destination and records the remote identities in the ledger.
package wiki

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/outline"
	"github.com/klauern/docsync/internal/pipeline"
	"github.com/klauern/docsync/internal/store"
)

// Options configures a Filter.
type Options struct {
	Project     string
	Destination pipeline.DestinationClient
	// Strict fails on references to files that do not exist instead of
	// dropping them.
	Strict bool
}

// Filter is a pipeline.InflateFilter for wiki destinations.
type Filter struct {
	project string
	dest    pipeline.DestinationClient
	strict  bool
}

var _ pipeline.InflateFilter = (*Filter)(nil)

// New returns a filter publishing for one project.
func New(opts Options) (*Filter, error) {
	if opts.Project == "" {
		return nil, apperr.New(apperr.ErrInvalidConfig, "wiki inflate filter requires a project")
	}
	if opts.Destination == nil {
		return nil, apperr.New(apperr.ErrInvalidConfig, "wiki inflate filter requires a destination")
	}
	return &Filter{project: opts.Project, dest: opts.Destination, strict: opts.Strict}, nil
}

// AttachmentName is the remote file name of an attachment path.
func AttachmentName(p string) string {
	return strings.ReplaceAll(p, "/", "_")
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// applier carries the state of one Apply call.
type applier struct {
	f       *Filter
	ledger  *store.Ledger
	baseDir string
	outline *outline.Outline
	logger  *slog.Logger
	stats   pipeline.ApplyStats
	// tracked holds pages rendered with links to pages that did not exist yet.
	tracked map[string]bool
}

// Apply publishes changes, read from baseDir, in the order deletes,
// moves, adds, modifications. Pages are published only when o lists
// them, below the page of their outline parent.
func (f *Filter) Apply(ctx context.Context, ledger *store.Ledger, baseDir string, o *outline.Outline, changes []model.ChangeRecord) (pipeline.ApplyStats, error) {
	if o == nil {
		o, _ = outline.Resolve(nil, true)
	}
	a := &applier{
		f:       f,
		ledger:  ledger,
		baseDir: baseDir,
		outline: o,
		logger:  logging.WithContext(ctx).With(logging.Project(f.project)),
		tracked: make(map[string]bool),
	}

	cs := model.Group(changes)
	steps := []struct {
		name string
		run  func(context.Context, []model.ChangeRecord) error
		recs []model.ChangeRecord
	}{
		{"delete", a.applyDeletes, cs.Deleted},
		{"move", a.applyMoves, cs.Moved},
		{"add", a.applyAdds, cs.Added},
		{"modify", a.applyModifies, cs.Modified},
	}
	for _, step := range steps {
		if len(step.recs) == 0 {
			continue
		}
		a.logger.Info("applying changes", logging.Operation(step.name), logging.Count(len(step.recs)))
		if err := step.run(ctx, step.recs); err != nil {
			return a.stats, err
		}
	}
	if err := a.republishTracked(ctx); err != nil {
		return a.stats, err
	}
	return a.stats, nil
}

func (a *applier) read(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(a.baseDir, filepath.FromSlash(rel))) // #nosec G304 - confined to the mirror
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

func (a *applier) applyDeletes(ctx context.Context, recs []model.ChangeRecord) error {
	// attachments first, their parent pages may be deleted in the same batch
	for _, r := range recs {
		if r.ContentType == model.ContentAttachment {
			if err := a.deleteAttachment(ctx, r.Path); err != nil {
				return err
			}
		}
	}
	for _, r := range recs {
		if r.ContentType == model.ContentPage {
			if err := a.deletePage(ctx, r.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) deleteAttachment(ctx context.Context, p string) error {
	entries, err := a.ledger.AttachmentsByPath(ctx, a.f.project, p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		att := e.Attachment
		err := a.f.dest.DeleteAttachment(ctx, att.ParentPageRemoteID, att.Name)
		switch {
		case apperr.Is(err, apperr.ErrRemoteNotFound):
			a.logger.Warn("attachment already gone remotely", logging.Path(p), logging.RemoteID(att.ParentPageRemoteID))
		case err != nil:
			return err
		default:
			a.stats.Deleted++
		}
		if err := a.ledger.DeleteAttachment(ctx, att.ParentPageRemoteID, att.Name); err != nil {
			return err
		}
	}

	res, found, err := a.ledger.ResourceByPath(ctx, a.f.project, p)
	if err != nil || !found {
		return err
	}
	return a.ledger.DeleteResource(ctx, res.ID)
}

func (a *applier) deletePage(ctx context.Context, p string) error {
	e, found, err := a.ledger.PageByPath(ctx, a.f.project, p)
	if err != nil {
		return err
	}
	if !found {
		a.logger.Debug("deleted page was never published", logging.Path(p))
		return nil
	}

	a.logger.Info("deleting page", logging.Path(p), logging.RemoteID(e.Page.RemoteID))
	err = a.f.dest.DeletePage(ctx, e.Page.RemoteID)
	switch {
	case apperr.Is(err, apperr.ErrRemoteNotFound):
		a.logger.Warn("page already gone remotely", logging.Path(p), logging.RemoteID(e.Page.RemoteID))
	case err != nil:
		return err
	default:
		a.stats.Deleted++
	}
	if err := a.ledger.DeleteAttachmentsUnder(ctx, e.Page.RemoteID); err != nil {
		return err
	}
	return a.ledger.DeleteResource(ctx, e.Resource.ID)
}

func (a *applier) applyMoves(ctx context.Context, recs []model.ChangeRecord) error {
	var orphans []model.ChangeRecord
	for _, r := range recs {
		var (
			moved bool
			err   error
		)
		if r.ContentType == model.ContentPage {
			moved, err = a.movePage(ctx, r.Path, r.SecondPath)
		} else {
			moved, err = a.moveAttachment(ctx, r.Path, r.SecondPath)
		}
		if err != nil {
			return err
		}
		if !moved {
			orphans = append(orphans, model.ChangeRecord{Operation: model.OpAdd, ContentType: r.ContentType, Path: r.Target()})
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	a.logger.Debug("moves of unknown resources become adds", logging.Count(len(orphans)))
	return a.applyAdds(ctx, orphans)
}

func (a *applier) movePage(ctx context.Context, from, to string) (bool, error) {
	e, found, err := a.ledger.PageByPath(ctx, a.f.project, from)
	if err != nil || !found {
		return false, err
	}
	if err := a.ledger.MoveResource(ctx, e.Resource.ID, to); err != nil {
		return false, err
	}
	a.stats.Moved++
	return true, nil
}

func (a *applier) moveAttachment(ctx context.Context, from, to string) (bool, error) {
	res, found, err := a.ledger.ResourceByPath(ctx, a.f.project, from)
	if err != nil || !found {
		return false, err
	}
	entries, err := a.ledger.AttachmentsByPath(ctx, a.f.project, from)
	if err != nil {
		return false, err
	}

	newName := AttachmentName(to)
	for _, e := range entries {
		att := e.Attachment
		err := a.f.dest.MoveAttachment(ctx, att.ParentPageRemoteID, att.Name, att.ParentPageRemoteID, newName)
		if apperr.Is(err, apperr.ErrRemoteNotFound) {
			// re-uploaded the next time a page renders the reference
			a.logger.Warn("moved attachment is gone remotely", logging.Path(from), logging.RemoteID(att.ParentPageRemoteID))
			if err := a.ledger.DeleteAttachment(ctx, att.ParentPageRemoteID, att.Name); err != nil {
				return false, err
			}
			continue
		}
		if err != nil {
			return false, err
		}
		oldName := att.Name
		att.Name = newName
		if err := a.ledger.UpdateAttachment(ctx, oldName, att); err != nil {
			return false, err
		}
		a.stats.Moved++
	}
	return true, a.ledger.MoveResource(ctx, res.ID, to)
}

func (a *applier) applyAdds(ctx context.Context, recs []model.ChangeRecord) error {
	for _, r := range recs {
		if r.ContentType != model.ContentPage {
			// attachments are published through the pages referencing them
			a.stats.Skipped++
			continue
		}
		if _, _, err := a.ensurePage(ctx, r.Path); err != nil {
			return err
		}
	}
	return nil
}

// ensurePage returns the ledger entry of p, publishing p and, before it,
// every unpublished outline ancestor. Pages outside the outline are left
// alone and reported as not found.
func (a *applier) ensurePage(ctx context.Context, p string) (store.PageEntry, bool, error) {
	e, found, err := a.ledger.PageByPath(ctx, a.f.project, p)
	if err != nil || found {
		return e, found, err
	}
	if !a.outline.Contains(p) {
		a.logger.Debug("page is not in the outline, skipping", logging.Path(p))
		a.stats.Skipped++
		return e, false, nil
	}

	parentID := ""
	if parent, ok := a.outline.Parent(p); ok {
		pe, found, err := a.ensurePage(ctx, parent)
		if err != nil {
			return e, false, err
		}
		if found {
			parentID = pe.Page.RemoteID
		}
	}
	return a.createPage(ctx, p, parentID)
}

// createPage publishes a new page in two passes: the first creates it so
// attachments have somewhere to go, the second fills them in.
func (a *applier) createPage(ctx context.Context, p, parentID string) (store.PageEntry, bool, error) {
	var e store.PageEntry
	src, err := a.read(p)
	if err != nil {
		return e, false, err
	}
	sum := checksum(src)

	links := &pageLinks{a: a, path: p, track: true}
	doc, err := render(ctx, src, p, links)
	if err != nil {
		return e, false, err
	}
	d := &draft{
		Path:     p,
		ParentID: parentID,
		Title:    doc.Title,
		Postfix:  p,
		Body:     doc.Body,
		HomePage: doc.HomePage,
	}
	a.logger.Info("creating page", logging.Path(p), "title", doc.Title)
	if err := a.f.publishPage(ctx, d); err != nil {
		return e, false, err
	}
	a.stats.Created++

	res, found, err := a.ledger.ResourceByPath(ctx, a.f.project, p)
	if err != nil {
		return e, false, err
	}
	if !found {
		if res, err = a.ledger.InsertResource(ctx, a.f.project, model.ContentPage, p); err != nil {
			return e, false, err
		}
	}
	if err := a.ledger.InsertPage(ctx, d.record(res.ID, sum)); err != nil {
		return e, false, err
	}

	if links.deferred {
		links = &pageLinks{a: a, path: p, pageID: d.RemoteID, track: true}
		if doc, err = render(ctx, src, p, links); err != nil {
			return e, false, err
		}
		d.Body = doc.Body
		if err := a.f.publishPage(ctx, d); err != nil {
			return e, false, err
		}
		if err := a.ledger.UpdatePage(ctx, d.record(res.ID, sum)); err != nil {
			return e, false, err
		}
	}

	return store.PageEntry{Resource: res, Page: d.record(res.ID, sum)}, true, nil
}

// updatePage re-renders a published page and writes it over the remote one.
func (a *applier) updatePage(ctx context.Context, e store.PageEntry, src []byte, track bool) error {
	p := e.Resource.Path
	links := &pageLinks{a: a, path: p, pageID: e.Page.RemoteID, track: track}
	doc, err := render(ctx, src, p, links)
	if err != nil {
		return err
	}

	d := &draft{
		Path:     p,
		RemoteID: e.Page.RemoteID,
		ParentID: e.Page.ParentRemoteID,
		Version:  e.Page.Version,
		Title:    doc.Title,
		Postfix:  p,
		Body:     doc.Body,
		HomePage: doc.HomePage,
	}
	if e.Page.Postfix != "" {
		d.Postfix = e.Page.Postfix
		d.Applied = e.Page.Title == doc.Title
	}
	a.logger.Info("updating page", logging.Path(p), logging.RemoteID(e.Page.RemoteID))
	if err := a.f.publishPage(ctx, d); err != nil {
		return err
	}

	if d.RemoteID != e.Page.RemoteID {
		// the page was recreated; its attachments went with the old one
		a.logger.Warn("page was recreated remotely", logging.Path(p), logging.RemoteID(d.RemoteID))
		if err := a.ledger.DeleteAttachmentsUnder(ctx, e.Page.RemoteID); err != nil {
			return err
		}
		if err := a.ledger.RepointPage(ctx, e.Page.RemoteID, d.RemoteID); err != nil {
			return err
		}
		if err := a.ledger.UpdatePage(ctx, d.record(e.Resource.ID, e.Page.Checksum)); err != nil {
			return err
		}
		links = &pageLinks{a: a, path: p, pageID: d.RemoteID, track: track}
		if doc, err = render(ctx, src, p, links); err != nil {
			return err
		}
		d.Body = doc.Body
		if err := a.f.publishPage(ctx, d); err != nil {
			return err
		}
	}
	return a.ledger.UpdatePage(ctx, d.record(e.Resource.ID, checksum(src)))
}

func (a *applier) applyModifies(ctx context.Context, recs []model.ChangeRecord) error {
	var pages []string
	for _, r := range recs {
		if r.ContentType == model.ContentPage {
			pages = append(pages, r.Path)
			continue
		}
		if err := a.modifyAttachment(ctx, r.Path); err != nil {
			return err
		}
	}
	if len(pages) == 0 {
		return nil
	}

	known, err := a.ledger.PagesByPaths(ctx, a.f.project, pages)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if _, ok := known[p]; ok {
			continue
		}
		// modified before it was ever published, e.g. when syncing starts mid-history
		if _, _, err := a.ensurePage(ctx, p); err != nil {
			return err
		}
	}

	for _, p := range pages {
		e, ok := known[p]
		if !ok {
			continue
		}
		src, err := a.read(p)
		if err != nil {
			return err
		}
		if checksum(src) == e.Page.Checksum {
			a.stats.Skipped++
			continue
		}
		if err := a.updatePage(ctx, e, src, true); err != nil {
			return err
		}
		a.stats.Updated++
	}
	return nil
}

func (a *applier) modifyAttachment(ctx context.Context, p string) error {
	entries, err := a.ledger.AttachmentsByPath(ctx, a.f.project, p)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.stats.Skipped++
		return nil
	}
	data, err := a.read(p)
	if err != nil {
		return err
	}
	sum := checksum(data)

	for _, e := range entries {
		att := e.Attachment
		if att.Checksum == sum {
			a.stats.Skipped++
			continue
		}
		remote, err := a.f.dest.CreateAttachment(ctx, pipeline.AttachmentSpec{
			PageID:      att.ParentPageRemoteID,
			Name:        att.Name,
			ContentType: mime.TypeByExtension(path.Ext(p)),
			Data:        data,
		})
		if err != nil {
			return err
		}
		att.RemoteID, att.Checksum = remote.ID, sum
		if err := a.ledger.UpdateAttachment(ctx, att.Name, att); err != nil {
			return err
		}
		a.stats.Updated++
	}
	return nil
}

// republishTracked renders once more the pages whose links pointed at
// pages published later in the same apply. Links still unresolved are
// dropped.
func (a *applier) republishTracked(ctx context.Context) error {
	if len(a.tracked) == 0 {
		return nil
	}
	paths := make([]string, 0, len(a.tracked))
	for p := range a.tracked {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	a.tracked = make(map[string]bool)

	for _, p := range paths {
		e, found, err := a.ledger.PageByPath(ctx, a.f.project, p)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		src, err := a.read(p)
		if err != nil {
			return err
		}
		if err := a.updatePage(ctx, e, src, false); err != nil {
			return err
		}
		a.stats.Updated++
	}
	return nil
}

// attach returns the name target is attached under on page pageID,
// uploading it the first time.
func (a *applier) attach(ctx context.Context, page, target, pageID string) (string, bool, error) {
	e, found, err := a.ledger.AttachmentFor(ctx, a.f.project, target, pageID)
	if err != nil {
		return "", false, err
	}
	if found {
		return e.Attachment.Name, true, nil
	}

	data, err := os.ReadFile(filepath.Join(a.baseDir, filepath.FromSlash(target))) // #nosec G304 - confined to the mirror
	if errors.Is(err, fs.ErrNotExist) {
		if a.f.strict {
			return "", false, apperr.Newf(apperr.ErrUnresolvedReference, "%s: referenced file %s does not exist", page, target)
		}
		a.logger.Warn("dropping reference to missing file", logging.Path(page), "target", target)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read attachment %s: %w", target, err)
	}

	name := AttachmentName(target)
	taken, clash, err := a.ledger.AttachmentNamed(ctx, pageID, name)
	if err != nil {
		return "", false, err
	}
	if clash {
		// uploading would overwrite the other file's content
		if a.f.strict {
			return "", false, apperr.Newf(apperr.ErrUnresolvedReference,
				"%s: %s and %s are both attached as %s", page, taken.Resource.Path, target, name)
		}
		a.logger.Warn("dropping reference to file whose attachment name is taken",
			logging.Path(page), "target", target, "attached", taken.Resource.Path, "name", name)
		return "", false, nil
	}

	remote, err := a.f.dest.CreateAttachment(ctx, pipeline.AttachmentSpec{
		PageID:      pageID,
		Name:        name,
		ContentType: mime.TypeByExtension(path.Ext(target)),
		Data:        data,
	})
	if err != nil {
		return "", false, err
	}
	a.stats.Created++

	res, found, err := a.ledger.ResourceByPath(ctx, a.f.project, target)
	if err != nil {
		return "", false, err
	}
	if !found {
		if res, err = a.ledger.InsertResource(ctx, a.f.project, model.ContentAttachment, target); err != nil {
			return "", false, err
		}
	}
	err = a.ledger.InsertAttachment(ctx, model.AttachmentRecord{
		RemoteID:           remote.ID,
		ParentPageRemoteID: pageID,
		ResourceID:         res.ID,
		Name:               name,
		Checksum:           checksum(data),
	})
	if err != nil {
		return "", false, err
	}
	a.logger.Debug("attached file", logging.Path(target), logging.RemoteID(pageID))
	return name, true, nil
}

// pageLinks resolves the references of one page against the ledger.
type pageLinks struct {
	a    *applier
	path string
	// pageID is empty while the page does not exist remotely yet.
	pageID string
	track  bool
	// deferred is set when an attachment waited for the page to exist.
	deferred bool
}

func (l *pageLinks) pageTitle(ctx context.Context, target string) (string, bool, error) {
	e, found, err := l.a.ledger.PageByPath(ctx, l.a.f.project, target)
	if err != nil {
		return "", false, err
	}
	if found {
		return e.Page.RemoteTitle(), true, nil
	}
	if l.track {
		l.a.tracked[l.path] = true
	} else {
		l.a.logger.Warn("dropping link to unpublished page", logging.Path(l.path), "target", target)
	}
	return "", false, nil
}

func (l *pageLinks) attachment(ctx context.Context, target string) (string, bool, error) {
	if l.pageID == "" {
		l.deferred = true
		return "", false, nil
	}
	return l.a.attach(ctx, l.path, target, l.pageID)
}
