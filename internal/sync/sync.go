package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauern/docsync/internal/build"
	"github.com/klauern/docsync/internal/change"
	"github.com/klauern/docsync/internal/config"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/lock"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/mirror"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/outline"
	"github.com/klauern/docsync/internal/pipeline"
	"github.com/klauern/docsync/internal/registry"
	"github.com/klauern/docsync/internal/store"
	"github.com/klauern/docsync/internal/util"
	"github.com/klauern/docsync/internal/validation"
)

// Directories under a project's working directory.
const (
	sourceDirName = "source"
	buildDirName  = "work"
)

// ProgressEventType identifies a progress event.
type ProgressEventType string

const (
	// ProgressEventStart is emitted once the pipeline is assembled.
	ProgressEventStart ProgressEventType = "start"
	// ProgressEventUnit is emitted after each unit, applied or not.
	ProgressEventUnit ProgressEventType = "unit"
	// ProgressEventComplete is emitted when the run has been recorded.
	ProgressEventComplete ProgressEventType = "complete"
)

// ProgressEvent reports run progress.
type ProgressEvent struct {
	Type    ProgressEventType
	Project string
	// Unit is set for unit events.
	Unit   model.Commit
	Result *UnitResult
	// Units is the number of units processed so far.
	Units int
}

// ProgressFunc receives progress events. It is called synchronously.
type ProgressFunc func(ProgressEvent)

// Options configures a Synchronizer.
type Options struct {
	// Config supplies projects and the lock and work directories.
	Config *config.Config

	// Store is the resource store.
	Store *store.Store

	// Registry assembles pipelines. Defaults to registry.Default().
	Registry *registry.Registry

	// Build runs documentation builds. Defaults to the configured runner.
	Build build.Func

	// Logger defaults to logging.Default().
	Logger *slog.Logger

	// Progress receives progress events when set.
	Progress ProgressFunc

	// Now defaults to time.Now.
	Now func() time.Time
}

// Synchronizer runs projects.
type Synchronizer struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	build    build.Func
	logger   *slog.Logger
	progress ProgressFunc
	now      func() time.Time
}

// New creates a Synchronizer.
func New(opts Options) (*Synchronizer, error) {
	if opts.Config == nil {
		return nil, apperr.New(apperr.ErrInvalidConfig, "sync requires a configuration")
	}
	if opts.Store == nil {
		return nil, apperr.New(apperr.ErrInvalidConfig, "sync requires a resource store")
	}
	s := &Synchronizer{
		cfg:      opts.Config,
		store:    opts.Store,
		registry: opts.Registry,
		build:    opts.Build,
		logger:   opts.Logger,
		progress: opts.Progress,
		now:      opts.Now,
	}
	if s.registry == nil {
		s.registry = registry.Default()
	}
	if s.build == nil {
		fn, err := registry.Builder(opts.Config.Build)
		if err != nil {
			return nil, err
		}
		s.build = fn
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Synchronizer) emit(ev ProgressEvent) {
	if s.progress != nil {
		s.progress(ev)
	}
}

// WorkDir returns the working directory of a project.
func (s *Synchronizer) WorkDir(projectID string) string {
	return util.ProjectWorkDir(s.cfg.WorkDir, projectID)
}

// Run synchronizes one project. The returned Result is non-nil whenever
// the run was recorded, including failed runs.
func (s *Synchronizer) Run(ctx context.Context, projectID string) (res *Result, err error) {
	p, ok := s.cfg.Project(projectID)
	if !ok {
		return nil, apperr.Newf(apperr.ErrInvalidConfig, "unknown project %q", projectID)
	}

	logger := s.logger.With(logging.Project(p.ID))
	if p.LogLevel > 0 {
		logger = logging.WithMinLevel(logger, logging.LevelFromVerbosity(p.LogLevel))
	}
	ctx = logging.NewContext(ctx, logger)

	lk, err := lock.Acquire(s.cfg.LockDir, p.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			logger.Error("failed to release project lock", logging.Err(rerr))
		}
	}()

	ledger := s.store.Ledger()
	state, err := ledger.Project(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	started := s.now()
	run, err := ledger.StartRun(ctx, p.ID, started)
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:        run.ID,
		Project:      p.ID,
		Status:       model.RunRunning,
		StartVersion: state.LastSyncVersion,
		Cursor:       state.LastSyncVersion,
		StartedAt:    started,
	}
	timer := logging.StartTimer(logger, "sync")
	logger.Info("sync started", logging.Version(state.LastSyncVersion))

	defer func() {
		s.finish(ctx, run, res, err)
		timer.Stop(logging.Count(len(res.Units)), "status", string(res.Status))
	}()

	err = s.run(ctx, p, res)
	return res, err
}

// run does the work between taking the lock and recording the outcome.
func (s *Synchronizer) run(ctx context.Context, p *config.ProjectConfig, res *Result) error {
	logger := logging.WithContext(ctx)

	if vr := validation.Project(*p); vr.HasErrors() {
		return apperr.Wrap(apperr.ErrInvalidConfig, "invalid project configuration", vr.Error())
	}
	pl, err := s.registry.Build(*p)
	if err != nil {
		return err
	}
	if err := pl.Validate(); err != nil {
		if !apperr.Is(err, apperr.ErrConfigurationIncomplete) {
			return err
		}
		logger.Warn("pipeline incomplete, disabling schedule", logging.Err(err))
		if err := s.store.Ledger().SetScheduleEnabled(ctx, p.ID, false); err != nil {
			return err
		}
		res.Status = model.RunIncomplete
		return nil
	}

	workDir := s.WorkDir(p.ID)
	if err := pl.Source.Open(ctx, filepath.Join(workDir, sourceDirName)); err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if err := pl.Source.Update(ctx); err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	head, err := pl.Source.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read source head: %w", err)
	}
	m, err := mirror.Open(ctx, workDir)
	if err != nil {
		return err
	}

	s.emit(ProgressEvent{Type: ProgressEventStart, Project: p.ID})

	u := unitRunner{
		s:      s,
		pl:     pl,
		mirror: m,
		p:      p,
		strict: !p.IgnoreErrors,
	}
	req := pipeline.MergeRequest{
		TargetMirrorDir: m.WorkTree(),
		WorkingDir:      filepath.Join(workDir, buildDirName),
		SinceVersion:    res.Cursor,
		Build:           s.build,
		SkipHistory:     p.SkipHistory,
	}

	for unit, unitErr := range pl.Parse.MergeStep(ctx, req) {
		if err := ctx.Err(); err != nil {
			return err
		}

		ur := UnitResult{Unit: unit}
		if unitErr == nil {
			unitErr = u.apply(ctx, &ur)
		}

		if unitErr != nil {
			ur.Err = unitErr
			if u.strict || !apperr.Recoverable(unitErr) {
				res.Units = append(res.Units, ur)
				s.emit(ProgressEvent{Type: ProgressEventUnit, Project: p.ID, Unit: unit, Result: &ur, Units: len(res.Units)})
				return fmt.Errorf("unit %s: %w", unit.ShortVersion(), unitErr)
			}
			ur.Skipped = true
			if !res.CursorHeld {
				logger.Warn("holding cursor after failed unit", logging.Version(res.Cursor))
			}
			res.CursorHeld = true
			logger.Warn("skipping unit", logging.Version(unit.Version), logging.Err(unitErr))
		} else {
			// The unit's diff ran against the last mirror commit, so it
			// also carried whatever earlier skipped units left staged.
			if res.CursorHeld {
				logger.Info("releasing held cursor", logging.Version(unit.Version))
			}
			res.CursorHeld = false
			res.Cursor = unit.Version
			logger.Info("unit applied", logging.Version(unit.Version),
				logging.Count(ur.Changes), "mutations", ur.Stats.Total())
		}

		res.Units = append(res.Units, ur)
		s.emit(ProgressEvent{Type: ProgressEventUnit, Project: p.ID, Unit: unit, Result: &ur, Units: len(res.Units)})
	}

	if !res.CursorHeld && head != "" && head != res.Cursor {
		if err := s.store.Ledger().SetCursor(ctx, p.ID, head); err != nil {
			return err
		}
		res.Cursor = head
	}
	return nil
}

// finish records the outcome of a run. It runs even when ctx has been
// canceled.
func (s *Synchronizer) finish(ctx context.Context, run model.SyncRun, res *Result, runErr error) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx)

	res.FinishedAt = s.now()
	switch {
	case runErr != nil:
		res.Status = model.RunFailed
	case res.Status == model.RunRunning:
		res.Status = model.RunSucceeded
	}

	run.FinishedAt = res.FinishedAt
	run.Status = res.Status
	run.Units = len(res.Units)
	if runErr != nil {
		run.Error = runErr.Error()
		logger.Error("sync failed", logging.Err(runErr))
	} else if skipped := len(res.Skipped()); skipped > 0 {
		run.Error = fmt.Sprintf("%d unit(s) skipped", skipped)
	}

	ledger := s.store.Ledger()
	if err := ledger.FinishRun(ctx, run); err != nil {
		logger.Error("failed to record run", logging.Err(err))
	}
	if err := ledger.TouchSyncTime(ctx, res.Project, res.FinishedAt); err != nil {
		logger.Error("failed to record sync time", logging.Err(err))
	}

	s.emit(ProgressEvent{Type: ProgressEventComplete, Project: res.Project, Units: len(res.Units)})
}

// unitRunner applies single units of one run.
type unitRunner struct {
	s      *Synchronizer
	pl     pipeline.Pipeline
	mirror *mirror.Mirror
	p      *config.ProjectConfig
	strict bool
}

// apply diffs the mirror and publishes the changes. The resource store
// transaction covers the ledger writes, the cursor, and the mirror
// commit, which happens last so that a failed commit rolls everything
// back. Mirror HEAD and the cursor therefore always name the same unit.
func (u unitRunner) apply(ctx context.Context, ur *UnitResult) error {
	if err := u.mirror.StageAll(ctx); err != nil {
		return err
	}
	diff, err := u.mirror.DiffStaged(ctx)
	if err != nil {
		return err
	}
	records, err := change.Extract(diff)
	if err != nil {
		return err
	}
	ur.Changes = len(records)

	var o *outline.Outline
	if len(records) > 0 {
		if o, err = u.loadOutline(); err != nil {
			return err
		}
	}

	sig := mirror.Signature{
		Author:  ur.Unit.Author,
		Email:   ur.Unit.Email,
		Date:    ur.Unit.Date,
		Message: ur.Unit.Message,
	}
	return u.s.store.WithTx(ctx, func(l *store.Ledger) error {
		if len(records) > 0 {
			stats, err := u.pl.Inflate.Apply(ctx, l, u.mirror.WorkTree(), o, records)
			ur.Stats = stats
			if err != nil {
				return err
			}
		}
		if err := l.SetCursor(ctx, u.p.ID, ur.Unit.Version); err != nil {
			return err
		}
		return u.mirror.Commit(ctx, sig)
	})
}

// loadOutline reads the manifest the parse filter left in the mirror. A
// missing manifest is an empty outline.
func (u unitRunner) loadOutline() (*outline.Outline, error) {
	o, err := outline.Load(u.mirror.ManifestPath(change.ManifestName), u.strict)
	if errors.Is(err, fs.ErrNotExist) {
		return outline.Resolve(nil, u.strict)
	}
	return o, err
}

// Purge removes everything docsync knows about a project: its ledger
// rows, its stored state and its working directories. It returns the
// number of resources removed.
func (s *Synchronizer) Purge(ctx context.Context, projectID string) (int, error) {
	lk, err := lock.Acquire(s.cfg.LockDir, projectID)
	if err != nil {
		return 0, err
	}
	defer func() { _ = lk.Release() }()

	var removed int
	err = s.store.WithTx(ctx, func(l *store.Ledger) error {
		n, err := l.DeleteAllForProject(ctx, projectID)
		if err != nil {
			return err
		}
		removed = n
		return l.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return 0, err
	}

	if err := os.RemoveAll(s.WorkDir(projectID)); err != nil {
		return removed, fmt.Errorf("remove working directory: %w", err)
	}
	logging.WithContext(ctx).Info("project purged", logging.Project(projectID), logging.Count(removed))
	return removed, nil
}
