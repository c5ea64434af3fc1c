package model

import "time"

// Resource binds a project-relative path to the remote objects created for it.
type Resource struct {
	ID      int64
	Type    ContentType
	Path    string
	Project string
}

// PageRecord is the local view of one remote page.
type PageRecord struct {
	RemoteID       string
	ParentRemoteID string
	ResourceID     int64
	// Title is stored without the postfix.
	Title string
	// Postfix, when set, is appended as "Title - Postfix" remotely.
	Postfix   string
	Version   int
	Checksum  string
	CreatedAt time.Time
}

// RemoteTitle returns the title as it appears at the destination.
func (p PageRecord) RemoteTitle() string {
	return DecorateTitle(p.Title, p.Postfix)
}

// DecorateTitle joins a title and postfix the way colliding pages are named.
func DecorateTitle(title, postfix string) string {
	if postfix == "" {
		return title
	}
	return title + " - " + postfix
}

// AttachmentRecord is the local view of one remote attachment.
type AttachmentRecord struct {
	RemoteID           string
	ParentPageRemoteID string
	ResourceID         int64
	Name               string
	Checksum           string
	CreatedAt          time.Time
}
