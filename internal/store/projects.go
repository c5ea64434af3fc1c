package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/docsync/internal/model"
)

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Project returns the stored state of a project, creating it with the
// schedule enabled on first access.
func (l *Ledger) Project(ctx context.Context, id string) (model.Project, error) {
	if _, err := l.exec(ctx,
		`INSERT INTO projects (id, updated_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		id, time.Now().UnixMilli()); err != nil {
		return model.Project{}, fmt.Errorf("ensure project %s: %w", id, err)
	}

	var (
		p                   model.Project
		lastSync, updatedAt int64
		enabled             int
	)
	err := l.queryRow(ctx, `SELECT id, last_sync_version, last_sync_time, schedule_enabled, updated_at
		FROM projects WHERE id = ?`, id).Scan(&p.ID, &p.LastSyncVersion, &lastSync, &enabled, &updatedAt)
	if err != nil {
		return p, fmt.Errorf("load project %s: %w", id, err)
	}
	p.LastSyncTime = fromUnixMilli(lastSync)
	p.UpdatedAt = fromUnixMilli(updatedAt)
	p.ScheduleEnabled = enabled != 0
	return p, nil
}

// Projects lists every project that has stored state.
func (l *Ledger) Projects(ctx context.Context) ([]model.Project, error) {
	rows, err := l.query(ctx, `SELECT id, last_sync_version, last_sync_time, schedule_enabled, updated_at
		FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []model.Project
	for rows.Next() {
		var (
			p                   model.Project
			lastSync, updatedAt int64
			enabled             int
		)
		if err := rows.Scan(&p.ID, &p.LastSyncVersion, &lastSync, &enabled, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.LastSyncTime = fromUnixMilli(lastSync)
		p.UpdatedAt = fromUnixMilli(updatedAt)
		p.ScheduleEnabled = enabled != 0
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetCursor advances a project's last synchronized source version.
func (l *Ledger) SetCursor(ctx context.Context, id, version string) error {
	if _, err := l.Project(ctx, id); err != nil {
		return err
	}
	_, err := l.exec(ctx, `UPDATE projects SET last_sync_version = ?, updated_at = ? WHERE id = ?`,
		version, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set cursor for %s: %w", id, err)
	}
	return nil
}

// TouchSyncTime records when a project last attempted a run.
func (l *Ledger) TouchSyncTime(ctx context.Context, id string, at time.Time) error {
	if _, err := l.Project(ctx, id); err != nil {
		return err
	}
	_, err := l.exec(ctx, `UPDATE projects SET last_sync_time = ?, updated_at = ? WHERE id = ?`,
		unixMilli(at), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set sync time for %s: %w", id, err)
	}
	return nil
}

// SetScheduleEnabled turns scheduled runs for a project on or off.
func (l *Ledger) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	if _, err := l.Project(ctx, id); err != nil {
		return err
	}
	v := 0
	if enabled {
		v = 1
	}
	_, err := l.exec(ctx, `UPDATE projects SET schedule_enabled = ?, updated_at = ? WHERE id = ?`,
		v, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set schedule for %s: %w", id, err)
	}
	return nil
}

// DeleteProject removes a project's state and run history.
func (l *Ledger) DeleteProject(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM sync_runs WHERE project = ?`,
		`DELETE FROM projects WHERE id = ?`,
	} {
		if _, err := l.exec(ctx, q, id); err != nil {
			return fmt.Errorf("delete project %s: %w", id, err)
		}
	}
	return nil
}

// StartRun records a new running sync run and returns it.
func (l *Ledger) StartRun(ctx context.Context, project string, at time.Time) (model.SyncRun, error) {
	run := model.SyncRun{
		ID:        uuid.NewString(),
		Project:   project,
		StartedAt: at,
		Status:    model.RunRunning,
	}
	_, err := l.exec(ctx, `INSERT INTO sync_runs (id, project, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID, run.Project, unixMilli(run.StartedAt), string(run.Status))
	if err != nil {
		return run, fmt.Errorf("record run start: %w", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run.
func (l *Ledger) FinishRun(ctx context.Context, run model.SyncRun) error {
	_, err := l.exec(ctx, `UPDATE sync_runs SET finished_at = ?, status = ?, units = ?, error = ? WHERE id = ?`,
		unixMilli(run.FinishedAt), string(run.Status), run.Units, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Run returns a single run by id.
func (l *Ledger) Run(ctx context.Context, id string) (model.SyncRun, bool, error) {
	row := l.queryRow(ctx, `SELECT id, project, started_at, finished_at, status, units, error
		FROM sync_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run, false, nil
	}
	if err != nil {
		return run, false, fmt.Errorf("load run %s: %w", id, err)
	}
	return run, true, nil
}

// RecentRuns returns up to limit runs of a project, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, project string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.query(ctx, `SELECT id, project, started_at, finished_at, status, units, error
		FROM sync_runs WHERE project = ? ORDER BY started_at DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(sc rowScanner) (model.SyncRun, error) {
	var (
		run               model.SyncRun
		started, finished int64
		status            string
	)
	if err := sc.Scan(&run.ID, &run.Project, &started, &finished, &status, &run.Units, &run.Error); err != nil {
		return run, err
	}
	run.StartedAt = fromUnixMilli(started)
	run.FinishedAt = fromUnixMilli(finished)
	run.Status = model.RunStatus(status)
	return run, nil
}
