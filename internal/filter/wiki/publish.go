package wiki

import (
	"context"
	"fmt"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/pipeline"
)

// cause is why a page write was retried.
type cause string

const (
	causeVersionStale   cause = "version stale"
	causeTitleCollision cause = "title collision"
	causeRemoteMissing  cause = "remote missing"
)

// draft is the desired state of one page plus what is known about its
// remote counterpart. publishPage updates it in place.
type draft struct {
	Path     string
	RemoteID string
	ParentID string
	Version  int
	// Title is the bare title; Postfix is appended when Applied.
	Title    string
	Postfix  string
	Applied  bool
	Body     string
	HomePage bool
}

func (d *draft) remoteTitle() string {
	if d.Applied {
		return model.DecorateTitle(d.Title, d.Postfix)
	}
	return d.Title
}

// record returns the ledger row for a published draft. The postfix is
// kept only while it is in use.
func (d *draft) record(resourceID int64, checksum string) model.PageRecord {
	rec := model.PageRecord{
		RemoteID:       d.RemoteID,
		ParentRemoteID: d.ParentID,
		ResourceID:     resourceID,
		Title:          d.Title,
		Version:        d.Version,
		Checksum:       checksum,
	}
	if d.Applied {
		rec.Postfix = d.Postfix
	}
	return rec
}

// publishPage writes d to the destination, creating the page when it has
// no remote id. Rejected writes are classified and retried at most once
// per cause; a cause that recurs is a FatalInconsistency.
func (f *Filter) publishPage(ctx context.Context, d *draft) error {
	logger := logging.WithContext(ctx).With(logging.Path(d.Path))
	retried := make(map[cause]bool)

	for {
		title := d.remoteTitle()
		spec := pipeline.PageSpec{Title: title, Body: d.Body, ParentID: d.ParentID, HomePage: d.HomePage}

		var (
			page pipeline.RemotePage
			err  error
		)
		if d.RemoteID == "" {
			logger.Debug("creating page", "title", title)
			page, err = f.dest.CreatePage(ctx, spec)
		} else {
			logger.Debug("updating page", logging.RemoteID(d.RemoteID), "title", title, "version", d.Version)
			page, err = f.dest.UpdatePage(ctx, d.RemoteID, d.Version, spec)
		}
		if err == nil {
			d.RemoteID, d.Version = page.ID, page.Version
			return nil
		}
		if !apperr.Is(err, apperr.ErrRemoteConflict) && !apperr.Is(err, apperr.ErrRemoteNotFound) {
			return err
		}

		c, err := f.classify(ctx, d, title, err)
		if err != nil {
			return err
		}
		if retried[c] {
			return apperr.Newf(apperr.ErrFatalInconsistency, "%s: %s recurred after a retry", d.Path, c)
		}
		retried[c] = true
		logger.Warn("page write rejected, retrying", "cause", string(c))
	}
}

// classify inspects the remote page after a rejected write and adjusts d
// for the retry.
func (f *Filter) classify(ctx context.Context, d *draft, title string, writeErr error) (cause, error) {
	remote, err := f.dest.GetPage(ctx, pipeline.PageQuery{ID: d.RemoteID, Title: title})
	found := err == nil
	if err != nil && !apperr.Is(err, apperr.ErrRemoteNotFound) {
		return "", err
	}

	switch {
	case d.RemoteID != "" && found:
		if remote.Version != d.Version {
			d.Version = remote.Version
			return causeVersionStale, nil
		}
		return "", apperr.Wrap(apperr.ErrFatalInconsistency,
			fmt.Sprintf("%s: page %s rejected at its current version %d", d.Path, d.RemoteID, d.Version), writeErr)
	case d.RemoteID != "":
		d.RemoteID, d.Version = "", 0
		return causeRemoteMissing, nil
	case found:
		if !d.Applied && d.Postfix != "" {
			d.Applied = true
			return causeTitleCollision, nil
		}
		return "", apperr.Wrap(apperr.ErrFatalInconsistency,
			fmt.Sprintf("%s: title %q is taken by page %s", d.Path, title, remote.ID), writeErr)
	default:
		return "", apperr.Wrap(apperr.ErrFatalInconsistency,
			fmt.Sprintf("%s: create of %q rejected", d.Path, title), writeErr)
	}
}
