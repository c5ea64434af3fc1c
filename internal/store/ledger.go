package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauern/docsync/internal/model"
)

// PageEntry is a page record joined with its resource.
type PageEntry struct {
	Resource model.Resource
	Page     model.PageRecord
}

// AttachmentEntry is an attachment record joined with its resource.
type AttachmentEntry struct {
	Resource   model.Resource
	Attachment model.AttachmentRecord
}

const pageColumns = `r.id, r.res_type, r.path, r.project,
	p.remote_id, p.parent_remote_id, p.title, p.postfix, p.version, p.checksum, p.created_at`

const attachmentColumns = `r.id, r.res_type, r.path, r.project,
	a.remote_id, a.parent_page_remote_id, a.name, a.checksum, a.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(sc rowScanner, extra ...any) (model.Resource, error) {
	var (
		res     model.Resource
		resType string
	)
	dest := append([]any{&res.ID, &resType, &res.Path, &res.Project}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return res, err
	}
	ct, err := model.ParseContentType(resType)
	if err != nil {
		return res, err
	}
	res.Type = ct
	return res, nil
}

func scanPage(sc rowScanner) (PageEntry, error) {
	var (
		e         PageEntry
		parent    sql.NullString
		postfix   sql.NullString
		createdAt int64
	)
	res, err := scanResource(sc,
		&e.Page.RemoteID, &parent, &e.Page.Title, &postfix, &e.Page.Version, &e.Page.Checksum, &createdAt)
	if err != nil {
		return e, err
	}
	e.Resource = res
	e.Page.ResourceID = res.ID
	e.Page.ParentRemoteID = parent.String
	e.Page.Postfix = postfix.String
	e.Page.CreatedAt = time.UnixMilli(createdAt)
	return e, nil
}

func scanAttachment(sc rowScanner) (AttachmentEntry, error) {
	var (
		e         AttachmentEntry
		createdAt int64
	)
	res, err := scanResource(sc,
		&e.Attachment.RemoteID, &e.Attachment.ParentPageRemoteID, &e.Attachment.Name, &e.Attachment.Checksum, &createdAt)
	if err != nil {
		return e, err
	}
	e.Resource = res
	e.Attachment.ResourceID = res.ID
	e.Attachment.CreatedAt = time.UnixMilli(createdAt)
	return e, nil
}

// InsertResource records a new path for the project.
func (l *Ledger) InsertResource(ctx context.Context, project string, ct model.ContentType, path string) (model.Resource, error) {
	res := model.Resource{Type: ct, Path: path, Project: project}
	err := l.queryRow(ctx,
		`INSERT INTO resources (res_type, path, project) VALUES (?, ?, ?) RETURNING id`,
		string(ct), path, project).Scan(&res.ID)
	if err != nil {
		return res, fmt.Errorf("insert resource %s: %w", path, err)
	}
	return res, nil
}

// ResourceByPath looks up the resource for a project path.
func (l *Ledger) ResourceByPath(ctx context.Context, project, path string) (model.Resource, bool, error) {
	row := l.queryRow(ctx,
		`SELECT id, res_type, path, project FROM resources WHERE project = ? AND path = ?`,
		project, path)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("lookup resource %s: %w", path, err)
	}
	return res, true, nil
}

// MoveResource rewrites a resource's path in place.
func (l *Ledger) MoveResource(ctx context.Context, id int64, newPath string) error {
	if _, err := l.exec(ctx, `UPDATE resources SET path = ? WHERE id = ?`, newPath, id); err != nil {
		return fmt.Errorf("move resource %d: %w", id, err)
	}
	return nil
}

// DeleteResource removes a resource together with its page and attachment rows.
func (l *Ledger) DeleteResource(ctx context.Context, id int64) error {
	for _, q := range []string{
		`DELETE FROM attachments WHERE resource_id = ?`,
		`DELETE FROM pages WHERE resource_id = ?`,
		`DELETE FROM resources WHERE id = ?`,
	} {
		if _, err := l.exec(ctx, q, id); err != nil {
			return fmt.Errorf("delete resource %d: %w", id, err)
		}
	}
	return nil
}

// PageByPath returns the page published for a project path.
func (l *Ledger) PageByPath(ctx context.Context, project, path string) (PageEntry, bool, error) {
	row := l.queryRow(ctx, `SELECT `+pageColumns+`
		FROM resources r JOIN pages p ON p.resource_id = r.id
		WHERE r.project = ? AND r.path = ?`, project, path)
	e, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("lookup page %s: %w", path, err)
	}
	return e, true, nil
}

// PageByRemoteID returns the page with the given remote id.
func (l *Ledger) PageByRemoteID(ctx context.Context, remoteID string) (PageEntry, bool, error) {
	row := l.queryRow(ctx, `SELECT `+pageColumns+`
		FROM resources r JOIN pages p ON p.resource_id = r.id
		WHERE p.remote_id = ?`, remoteID)
	e, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("lookup page %s: %w", remoteID, err)
	}
	return e, true, nil
}

// PagesByPaths looks up many pages at once, LookupBatchSize paths per query.
// Paths without a page are absent from the result.
func (l *Ledger) PagesByPaths(ctx context.Context, project string, paths []string) (map[string]PageEntry, error) {
	found := make(map[string]PageEntry, len(paths))
	for start := 0; start < len(paths); start += LookupBatchSize {
		end := min(start+LookupBatchSize, len(paths))
		batch := paths[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, project)
		for _, p := range batch {
			args = append(args, p)
		}

		rows, err := l.query(ctx, `SELECT `+pageColumns+`
			FROM resources r JOIN pages p ON p.resource_id = r.id
			WHERE r.project = ? AND r.path IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup pages: %w", err)
		}
		for rows.Next() {
			e, err := scanPage(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan page: %w", err)
			}
			found[e.Resource.Path] = e
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("lookup pages: %w", err)
		}
	}
	return found, nil
}

// InsertPage records a freshly published page.
func (l *Ledger) InsertPage(ctx context.Context, p model.PageRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := l.exec(ctx, `INSERT INTO pages
		(remote_id, parent_remote_id, resource_id, title, postfix, version, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RemoteID, nullString(p.ParentRemoteID), p.ResourceID, p.Title, nullString(p.Postfix),
		p.Version, p.Checksum, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert page %s: %w", p.RemoteID, err)
	}
	return nil
}

// UpdatePage overwrites the page row belonging to p.ResourceID.
func (l *Ledger) UpdatePage(ctx context.Context, p model.PageRecord) error {
	_, err := l.exec(ctx, `UPDATE pages
		SET remote_id = ?, parent_remote_id = ?, title = ?, postfix = ?, version = ?, checksum = ?
		WHERE resource_id = ?`,
		p.RemoteID, nullString(p.ParentRemoteID), p.Title, nullString(p.Postfix),
		p.Version, p.Checksum, p.ResourceID)
	if err != nil {
		return fmt.Errorf("update page %s: %w", p.RemoteID, err)
	}
	return nil
}

// RepointPage replaces a page's remote id everywhere it is referenced,
// used when a page had to be recreated remotely.
func (l *Ledger) RepointPage(ctx context.Context, oldID, newID string) error {
	if oldID == "" || oldID == newID {
		return nil
	}
	for _, q := range []string{
		`UPDATE pages SET parent_remote_id = ? WHERE parent_remote_id = ?`,
		`UPDATE attachments SET parent_page_remote_id = ? WHERE parent_page_remote_id = ?`,
	} {
		if _, err := l.exec(ctx, q, newID, oldID); err != nil {
			return fmt.Errorf("repoint page %s: %w", oldID, err)
		}
	}
	return nil
}

// AttachmentFor returns the attachment of path published under a page.
func (l *Ledger) AttachmentFor(ctx context.Context, project, path, pageRemoteID string) (AttachmentEntry, bool, error) {
	row := l.queryRow(ctx, `SELECT `+attachmentColumns+`
		FROM resources r JOIN attachments a ON a.resource_id = r.id
		WHERE r.project = ? AND r.path = ? AND a.parent_page_remote_id = ?`,
		project, path, pageRemoteID)
	e, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("lookup attachment %s: %w", path, err)
	}
	return e, true, nil
}

// AttachmentNamed returns the attachment published as name under a page.
func (l *Ledger) AttachmentNamed(ctx context.Context, pageRemoteID, name string) (AttachmentEntry, bool, error) {
	row := l.queryRow(ctx, `SELECT `+attachmentColumns+`
		FROM resources r JOIN attachments a ON a.resource_id = r.id
		WHERE a.parent_page_remote_id = ? AND a.name = ?`,
		pageRemoteID, name)
	e, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("lookup attachment %s: %w", name, err)
	}
	return e, true, nil
}

// AttachmentsByPath returns every attachment published for a path,
// one per referencing page.
func (l *Ledger) AttachmentsByPath(ctx context.Context, project, path string) ([]AttachmentEntry, error) {
	rows, err := l.query(ctx, `SELECT `+attachmentColumns+`
		FROM resources r JOIN attachments a ON a.resource_id = r.id
		WHERE r.project = ? AND r.path = ?
		ORDER BY a.created_at, a.remote_id`, project, path)
	if err != nil {
		return nil, fmt.Errorf("lookup attachments %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AttachmentEntry
	for rows.Next() {
		e, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertAttachment records a freshly published attachment. The pair
// (parent page, name) is unique.
func (l *Ledger) InsertAttachment(ctx context.Context, a model.AttachmentRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := l.exec(ctx, `INSERT INTO attachments
		(remote_id, parent_page_remote_id, resource_id, name, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.RemoteID, a.ParentPageRemoteID, a.ResourceID, a.Name, a.Checksum, a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert attachment %s: %w", a.Name, err)
	}
	return nil
}

// UpdateAttachment rewrites the attachment identified by (parent, oldName).
func (l *Ledger) UpdateAttachment(ctx context.Context, oldName string, a model.AttachmentRecord) error {
	_, err := l.exec(ctx, `UPDATE attachments SET remote_id = ?, name = ?, checksum = ?
		WHERE parent_page_remote_id = ? AND name = ?`,
		a.RemoteID, a.Name, a.Checksum, a.ParentPageRemoteID, oldName)
	if err != nil {
		return fmt.Errorf("update attachment %s: %w", oldName, err)
	}
	return nil
}

// DeleteAttachment removes one attachment row.
func (l *Ledger) DeleteAttachment(ctx context.Context, pageRemoteID, name string) error {
	_, err := l.exec(ctx, `DELETE FROM attachments WHERE parent_page_remote_id = ? AND name = ?`,
		pageRemoteID, name)
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", name, err)
	}
	return nil
}

// DeleteAttachmentsUnder removes the attachment rows of a page, which go
// away remotely together with it.
func (l *Ledger) DeleteAttachmentsUnder(ctx context.Context, pageRemoteID string) error {
	if _, err := l.exec(ctx, `DELETE FROM attachments WHERE parent_page_remote_id = ?`, pageRemoteID); err != nil {
		return fmt.Errorf("delete attachments of %s: %w", pageRemoteID, err)
	}
	return nil
}

// Pages lists every page of a project ordered by path.
func (l *Ledger) Pages(ctx context.Context, project string) ([]PageEntry, error) {
	rows, err := l.query(ctx, `SELECT `+pageColumns+`
		FROM resources r JOIN pages p ON p.resource_id = r.id
		WHERE r.project = ? ORDER BY r.path`, project)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []PageEntry
	for rows.Next() {
		e, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Attachments lists every attachment of a project ordered by path.
func (l *Ledger) Attachments(ctx context.Context, project string) ([]AttachmentEntry, error) {
	rows, err := l.query(ctx, `SELECT `+attachmentColumns+`
		FROM resources r JOIN attachments a ON a.resource_id = r.id
		WHERE r.project = ? ORDER BY r.path, a.parent_page_remote_id`, project)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AttachmentEntry
	for rows.Next() {
		e, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountResources returns the number of resources recorded for a project.
func (l *Ledger) CountResources(ctx context.Context, project string) (int, error) {
	var n int
	if err := l.queryRow(ctx, `SELECT COUNT(*) FROM resources WHERE project = ?`, project).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}

// DeleteAllForProject drops every ledger row of a project and returns the
// number of resources removed.
func (l *Ledger) DeleteAllForProject(ctx context.Context, project string) (int, error) {
	n, err := l.CountResources(ctx, project)
	if err != nil {
		return 0, err
	}
	for _, q := range []string{
		`DELETE FROM attachments WHERE resource_id IN (SELECT id FROM resources WHERE project = ?)`,
		`DELETE FROM pages WHERE resource_id IN (SELECT id FROM resources WHERE project = ?)`,
		`DELETE FROM resources WHERE project = ?`,
	} {
		if _, err := l.exec(ctx, q, project); err != nil {
			return 0, fmt.Errorf("delete project %s: %w", project, err)
		}
	}
	return n, nil
}
