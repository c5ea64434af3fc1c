// Package sync runs a project's documentation pipeline end to end.
//
// A run takes the project's lock, updates the source, and asks the parse
// filter for units of work: one per source version, each leaving that
// version's normalized content in the local mirror. Every unit is diffed
// against the mirror's last commit and the resulting changes are applied
// to the destination inside one resource store transaction, which also
// records the mirror commit and advances the project's cursor.
//
// # Failure handling
//
// A project with ignore_errors unset aborts the run on the first failed
// unit. With ignore_errors set, units failing with a recoverable error
// (remote unavailable, build failure or timeout, unresolved reference)
// are skipped. A skipped unit leaves its content staged in the mirror,
// so the next applied unit publishes it along with its own changes and
// moves the cursor past both. When the run ends on skipped units the
// cursor stays at the last applied one and the next run starts over
// from there. Fatal inconsistencies and malformed diffs always abort.
//
// # Progress Reporting
//
// Progress can be tracked by providing a ProgressFunc in Options:
//
//	s, _ := sync.New(sync.Options{
//	    Config: cfg,
//	    Store:  st,
//	    Progress: func(event sync.ProgressEvent) {
//	        fmt.Printf("%s %s\n", event.Type, event.Unit.ShortVersion())
//	    },
//	})
//
// Events are emitted when the run starts, after each unit, and when the
// run completes.
package sync
