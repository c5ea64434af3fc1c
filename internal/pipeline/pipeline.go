// Package pipeline defines the four collaborators a project's sync run is
// assembled from: where content comes from, how it is filtered into the
// mirror, how mirror changes become destination mutations, and the
// destination itself.
package pipeline

import (
	"context"
	"iter"
	"strings"

	"github.com/klauern/docsync/internal/build"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/outline"
	"github.com/klauern/docsync/internal/store"
)

// SourceClient reads a version-controlled source repository.
type SourceClient interface {
	// Open binds the client to a local clone at path, cloning if needed.
	Open(ctx context.Context, path string) error
	// Update fetches the latest upstream state.
	Update(ctx context.Context) error
	// CurrentVersion returns the head version.
	CurrentVersion(ctx context.Context) (string, error)
	// ChangeLog lists up to maxCount commits after since (all when
	// maxCount <= 0), newest first unless reverse is set.
	ChangeLog(ctx context.Context, since string, maxCount int, reverse bool) ([]model.Commit, error)
	// LazyChangeLog yields commits after since, oldest first. Each call
	// starts a fresh iteration.
	LazyChangeLog(ctx context.Context, since string) iter.Seq2[model.Commit, error]
	// Materialize writes the tree at version into targetDir, removing
	// untracked files when clean is set.
	Materialize(ctx context.Context, targetDir, version string, clean bool) error
}

// MergeRequest parameterizes ParseFilter.MergeStep.
type MergeRequest struct {
	TargetMirrorDir string
	WorkingDir      string
	SinceVersion    string
	Build           build.Func
	SkipHistory     bool
}

// ParseFilter turns source versions into normalized mirror content.
type ParseFilter interface {
	// MergeStep yields one summary per source version copied into the
	// mirror. The mirror holds that version's content when the summary
	// is yielded. A version that could not be processed is yielded with
	// its error and iteration continues if the consumer asks for more;
	// any other error ends the sequence.
	MergeStep(ctx context.Context, req MergeRequest) iter.Seq2[model.Commit, error]
}

// ApplyStats counts the destination mutations an apply performed.
type ApplyStats struct {
	Created int
	Updated int
	Deleted int
	Moved   int
	Skipped int
}

// Add accumulates other into s.
func (s *ApplyStats) Add(other ApplyStats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Moved += other.Moved
	s.Skipped += other.Skipped
}

// Total returns the number of mutations.
func (s ApplyStats) Total() int {
	return s.Created + s.Updated + s.Deleted + s.Moved
}

// InflateFilter applies a batch of mirror changes to the destination,
// deletes first, then adds, then modifications.
type InflateFilter interface {
	Apply(ctx context.Context, ledger *store.Ledger, baseDir string, o *outline.Outline, changes []model.ChangeRecord) (ApplyStats, error)
}

// PageSpec is the desired state of a page.
type PageSpec struct {
	Title    string
	Body     string
	ParentID string
	HomePage bool
}

// RemotePage is a page as the destination reports it.
type RemotePage struct {
	ID       string
	Title    string
	ParentID string
	Version  int
}

// PageQuery selects a page by id, or by title when ID is empty.
type PageQuery struct {
	ID    string
	Title string
}

// AttachmentSpec is a file to attach to a page.
type AttachmentSpec struct {
	PageID      string
	Name        string
	ContentType string
	Data        []byte
}

// RemoteAttachment is an attachment as the destination reports it.
type RemoteAttachment struct {
	ID     string
	PageID string
	Name   string
}

// DestinationClient mutates the wiki. Writes rejected by the destination
// fail with RemoteConflict, missing objects with RemoteNotFound, and
// transport problems with RemoteUnavailable.
type DestinationClient interface {
	CreatePage(ctx context.Context, spec PageSpec) (RemotePage, error)
	// UpdatePage writes spec over page id, which must currently be at version.
	UpdatePage(ctx context.Context, id string, version int, spec PageSpec) (RemotePage, error)
	DeletePage(ctx context.Context, id string) error
	GetPage(ctx context.Context, q PageQuery) (RemotePage, error)
	// CreateAttachment uploads a file, replacing any attachment of the
	// same name on the page.
	CreateAttachment(ctx context.Context, spec AttachmentSpec) (RemoteAttachment, error)
	MoveAttachment(ctx context.Context, pageID, name, newPageID, newName string) error
	DeleteAttachment(ctx context.Context, pageID, name string) error
}

// Pipeline is a project's wired set of collaborators.
type Pipeline struct {
	Source      SourceClient
	Parse       ParseFilter
	Inflate     InflateFilter
	Destination DestinationClient
}

// Validate reports ConfigurationIncomplete unless all four roles are set.
func (p Pipeline) Validate() error {
	var missing []string
	if p.Source == nil {
		missing = append(missing, "source")
	}
	if p.Parse == nil {
		missing = append(missing, "parse")
	}
	if p.Inflate == nil {
		missing = append(missing, "inflate")
	}
	if p.Destination == nil {
		missing = append(missing, "destination")
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.ErrConfigurationIncomplete, "pipeline is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
