// Package htmldocs is the parse filter for generated HTML documentation.
// Each source version is checked out, optionally built, and its HTML tree
// is reduced to sanitized pages plus an outline manifest in the mirror.
package htmldocs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauern/docsync/internal/build"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/pipeline"
)

// Options configures a Filter.
type Options struct {
	Source pipeline.SourceClient
	// DocsRoot is the directory holding index.html, relative to the
	// checkout. After a build it is usually the build output directory.
	DocsRoot string
	// Lang is passed to the build.
	Lang string
	// TriggerPattern selects the commits worth processing: at least one
	// changed path must match it at its start. Empty matches everything.
	TriggerPattern string
	// WorkingDir is where the build command runs, relative to the checkout.
	WorkingDir   string
	BuildCommand string
	IgnoreErrors bool
}

// Filter is a pipeline.ParseFilter for HTML documentation trees.
type Filter struct {
	opts    Options
	trigger *regexp.Regexp
}

var _ pipeline.ParseFilter = (*Filter)(nil)

// New validates opts and returns a filter.
func New(opts Options) (*Filter, error) {
	if opts.Source == nil {
		return nil, apperr.New(apperr.ErrInvalidConfig, "html parse filter requires a source")
	}
	f := &Filter{opts: opts}
	if p := strings.TrimSpace(opts.TriggerPattern); p != "" {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidConfig, "invalid trigger pattern", err)
		}
		f.trigger = re
	}
	return f, nil
}

// Triggered reports whether commit touches a path matching the trigger.
func (f *Filter) Triggered(commit model.Commit) bool {
	if f.trigger == nil {
		return true
	}
	for _, fc := range commit.ChangedFiles {
		if f.trigger.MatchString(fc.Path) || (fc.OldPath != "" && f.trigger.MatchString(fc.OldPath)) {
			return true
		}
	}
	return false
}

// MergeStep walks the source history after req.SinceVersion and copies
// each triggered version into the mirror. A version whose build fails or
// whose references cannot be resolved is yielded with its error.
func (f *Filter) MergeStep(ctx context.Context, req pipeline.MergeRequest) iter.Seq2[model.Commit, error] {
	return func(yield func(model.Commit, error) bool) {
		logger := logging.WithContext(ctx)
		if req.Build == nil {
			req.Build = build.Noop
		}

		if req.SkipHistory {
			commit, ok, err := f.head(ctx, req.SinceVersion)
			if err != nil {
				yield(model.Commit{}, err)
				return
			}
			if !ok {
				return
			}
			f.emit(ctx, req, commit, yield)
			return
		}

		for commit, err := range f.opts.Source.LazyChangeLog(ctx, req.SinceVersion) {
			if err != nil {
				yield(model.Commit{}, err)
				return
			}
			if !f.Triggered(commit) {
				logger.Debug("commit does not match trigger, skipping", logging.Version(commit.Version))
				continue
			}
			if !f.emit(ctx, req, commit, yield) {
				return
			}
		}
	}
}

// head returns the newest commit, or false when it is already synced.
func (f *Filter) head(ctx context.Context, since string) (model.Commit, bool, error) {
	version, err := f.opts.Source.CurrentVersion(ctx)
	if err != nil {
		return model.Commit{}, false, err
	}
	if version == since {
		return model.Commit{}, false, nil
	}
	commits, err := f.opts.Source.ChangeLog(ctx, "", 1, false)
	if err != nil {
		return model.Commit{}, false, err
	}
	if len(commits) == 0 {
		return model.Commit{}, false, nil
	}
	return commits[0], true, nil
}

// emit processes one commit and reports whether iteration should go on.
func (f *Filter) emit(ctx context.Context, req pipeline.MergeRequest, commit model.Commit, yield func(model.Commit, error) bool) bool {
	ok, err := f.step(ctx, req, commit)
	switch {
	case err == nil && !ok:
		return true
	case err == nil:
		return yield(commit, nil)
	case unitError(err):
		return yield(commit, err)
	default:
		yield(commit, err)
		return false
	}
}

// unitError reports whether err only concerns the version being processed.
func unitError(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.ErrBuildFailure, apperr.ErrBuildTimeout, apperr.ErrUnresolvedReference:
		return true
	}
	return false
}

// step fills the mirror with commit's documentation. It reports false
// when the version has no index page and was left out.
func (f *Filter) step(ctx context.Context, req pipeline.MergeRequest, commit model.Commit) (bool, error) {
	logger := logging.WithContext(ctx).With(logging.Version(commit.Version))
	checkout := filepath.Join(req.WorkingDir, "checkout")

	if err := f.opts.Source.Materialize(ctx, checkout, commit.Version, true); err != nil {
		return false, fmt.Errorf("materialize %s: %w", commit.Version, err)
	}

	if f.opts.BuildCommand != "" {
		timer := logging.StartTimer(logger, "build")
		err := req.Build(ctx, build.Request{
			CheckoutPath:  checkout,
			WorkingSubdir: f.opts.WorkingDir,
			Language:      f.opts.Lang,
			Command:       f.opts.BuildCommand,
		})
		timer.Stop()
		if err != nil {
			return false, err
		}
	}

	docs := filepath.Join(checkout, filepath.FromSlash(f.opts.DocsRoot))
	if _, err := os.Stat(filepath.Join(docs, IndexPage)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("no index page in documentation root, skipping version", logging.Path(f.opts.DocsRoot))
			return false, nil
		}
		return false, err
	}

	if err := clearDir(req.TargetMirrorDir); err != nil {
		return false, fmt.Errorf("clear mirror: %w", err)
	}
	if _, err := writeTree(docs, req.TargetMirrorDir, !f.opts.IgnoreErrors, logger); err != nil {
		return false, err
	}
	return true, nil
}
