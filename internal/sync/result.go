package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/pipeline"
)

// Status is the outcome of a run.
type Status = model.RunStatus

// UnitResult is the outcome of one unit of work.
type UnitResult struct {
	// Unit is the source version the parse filter produced.
	Unit model.Commit

	// Changes is the number of change records extracted for the unit.
	Changes int

	// Stats counts the destination mutations the unit performed.
	Stats pipeline.ApplyStats

	// Skipped is set when the unit failed and the run went on without it.
	Skipped bool

	// Err is the failure of a skipped unit, or of the unit that aborted
	// the run.
	Err error
}

// Success returns true if the unit was applied.
func (u UnitResult) Success() bool {
	return u.Err == nil
}

// Result contains the complete outcome of a sync run.
type Result struct {
	// RunID identifies the recorded run.
	RunID string

	// Project is the project id.
	Project string

	// Status is the terminal state of the run.
	Status Status

	// StartVersion is the cursor before the run.
	StartVersion string

	// Cursor is the cursor after the run.
	Cursor string

	// CursorHeld is set when the run ended on skipped units, leaving the
	// cursor at the last applied one.
	CursorHeld bool

	// Units contains the result for each processed unit.
	Units []UnitResult

	StartedAt  time.Time
	FinishedAt time.Time
}

// Totals sums the mutation counts of every applied unit.
func (r *Result) Totals() pipeline.ApplyStats {
	var total pipeline.ApplyStats
	for _, u := range r.Units {
		total.Add(u.Stats)
	}
	return total
}

// Created returns the number of pages and attachments created.
func (r *Result) Created() int { return r.Totals().Created }

// Updated returns the number of pages and attachments updated.
func (r *Result) Updated() int { return r.Totals().Updated }

// Deleted returns the number of pages and attachments deleted.
func (r *Result) Deleted() int { return r.Totals().Deleted }

// Moved returns the number of pages and attachments moved.
func (r *Result) Moved() int { return r.Totals().Moved }

// Skipped returns units that failed and were skipped.
func (r *Result) Skipped() []UnitResult {
	var skipped []UnitResult
	for _, u := range r.Units {
		if u.Skipped {
			skipped = append(skipped, u)
		}
	}
	return skipped
}

// Success returns true if the run finished without error.
func (r *Result) Success() bool {
	return r.Status == model.RunSucceeded
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Synced %s: %s\n", r.Project, r.Status))

	switch {
	case r.Status == model.RunIncomplete:
		sb.WriteString("  Pipeline is incomplete; scheduling disabled\n")
	case r.StartVersion == r.Cursor:
		sb.WriteString(fmt.Sprintf("  Version:   %s (unchanged)\n", shortVersion(r.Cursor)))
	default:
		sb.WriteString(fmt.Sprintf("  Version:   %s -> %s\n", shortVersion(r.StartVersion), shortVersion(r.Cursor)))
	}

	totals := r.Totals()
	sb.WriteString(fmt.Sprintf("  Units:     %d\n", len(r.Units)))
	sb.WriteString(fmt.Sprintf("  Created:   %d\n", totals.Created))
	sb.WriteString(fmt.Sprintf("  Updated:   %d\n", totals.Updated))
	sb.WriteString(fmt.Sprintf("  Moved:     %d\n", totals.Moved))
	sb.WriteString(fmt.Sprintf("  Deleted:   %d\n", totals.Deleted))
	sb.WriteString(fmt.Sprintf("  Unchanged: %d\n", totals.Skipped))

	if skipped := r.Skipped(); len(skipped) > 0 {
		sb.WriteString("\nSkipped units:\n")
		for _, u := range skipped {
			sb.WriteString(fmt.Sprintf("  - %s: %v\n", u.Unit.ShortVersion(), u.Err))
		}
		if r.CursorHeld {
			sb.WriteString("  Cursor held; the next run retries the skipped units\n")
		}
	}

	return sb.String()
}

func shortVersion(v string) string {
	if v == "" {
		return "(none)"
	}
	return model.Commit{Version: v}.ShortVersion()
}
