package model

import (
	"fmt"
	"path"
	"strings"
)

// Operation is the kind of change applied to a path.
type Operation string

const (
	OpAdd    Operation = "add"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
	OpMove   Operation = "move"
)

// IsValid returns true if the operation is recognized.
func (o Operation) IsValid() bool {
	switch o {
	case OpAdd, OpModify, OpDelete, OpMove:
		return true
	default:
		return false
	}
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// ContentType distinguishes wiki pages from binary attachments.
type ContentType string

const (
	ContentPage       ContentType = "page"
	ContentAttachment ContentType = "attachment"
)

// String returns the string representation of the content type.
func (c ContentType) String() string {
	return string(c)
}

// ParseContentType converts a stored type name back to a ContentType.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(strings.ToLower(s)) {
	case ContentPage:
		return ContentPage, nil
	case ContentAttachment:
		return ContentAttachment, nil
	default:
		return "", fmt.Errorf("unknown content type: %q", s)
	}
}

// ContentTypeOf derives the content type from a path's extension.
// Only .html documents become pages; everything else is an attachment.
func ContentTypeOf(p string) ContentType {
	if strings.EqualFold(path.Ext(p), ".html") {
		return ContentPage
	}
	return ContentAttachment
}

// ChangeRecord is one typed change extracted from a mirror diff.
// For OpMove, Path is the old location and SecondPath the new one.
type ChangeRecord struct {
	Operation   Operation
	ContentType ContentType
	Path        string
	SecondPath  string
}

// Target returns the path the change leaves behind: the new path for a
// move, the only path otherwise.
func (c ChangeRecord) Target() string {
	if c.Operation == OpMove && c.SecondPath != "" {
		return c.SecondPath
	}
	return c.Path
}

// String returns a compact human readable form, e.g. "move page a.html -> b.html".
func (c ChangeRecord) String() string {
	if c.SecondPath != "" {
		return fmt.Sprintf("%s %s %s -> %s", c.Operation, c.ContentType, c.Path, c.SecondPath)
	}
	return fmt.Sprintf("%s %s %s", c.Operation, c.ContentType, c.Path)
}

// ChangeSet groups change records by operation, preserving input order
// within each group.
type ChangeSet struct {
	Deleted  []ChangeRecord
	Moved    []ChangeRecord
	Added    []ChangeRecord
	Modified []ChangeRecord
}

// Group splits records into a ChangeSet.
func Group(records []ChangeRecord) ChangeSet {
	var cs ChangeSet
	for _, r := range records {
		switch r.Operation {
		case OpDelete:
			cs.Deleted = append(cs.Deleted, r)
		case OpMove:
			cs.Moved = append(cs.Moved, r)
		case OpAdd:
			cs.Added = append(cs.Added, r)
		case OpModify:
			cs.Modified = append(cs.Modified, r)
		}
	}
	return cs
}

// Len returns the total number of records in the set.
func (cs ChangeSet) Len() int {
	return len(cs.Deleted) + len(cs.Moved) + len(cs.Added) + len(cs.Modified)
}
