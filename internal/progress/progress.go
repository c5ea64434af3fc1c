// Package progress shows sync progress on the terminal.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/klauern/docsync/internal/logging"
	syncpkg "github.com/klauern/docsync/internal/sync"
	"github.com/klauern/docsync/internal/ui"
)

// Bar wraps progressbar with docsync's color and logging settings. A
// disabled bar logs at debug level instead of drawing.
type Bar struct {
	bar     *progressbar.ProgressBar
	enabled bool
	desc    string
}

// Options configures the progress bar behavior.
type Options struct {
	// Max is the number of steps. Values below one draw a spinner, since
	// the number of units is only known once the run is over.
	Max int64
	// Description is the prefix text shown before the bar.
	Description string
	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer
	// Force draws the bar even when Writer is not a terminal.
	Force bool
}

// New creates a progress bar.
// The bar is only shown if:
//   - Colors are enabled (respects NO_COLOR and --no-color)
//   - Output is a terminal, or Force is set
//   - Debug logging is off
func New(opts Options) *Bar {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	b := &Bar{
		enabled: shouldShowProgress(opts.Writer, opts.Force),
		desc:    opts.Description,
	}

	if !b.enabled {
		logging.Debug(fmt.Sprintf("%s started", opts.Description))
		return b
	}

	max := opts.Max
	if max < 1 {
		max = -1
	}
	b.bar = progressbar.NewOptions64(
		max,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(opts.Writer, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(ui.IsColorEnabled()),
	)
	return b
}

// Enabled reports whether the bar draws.
func (b *Bar) Enabled() bool {
	return b.enabled
}

// Add increments the bar by n steps.
func (b *Bar) Add(n int) error {
	if !b.enabled {
		return nil
	}
	return b.bar.Add(n)
}

// Describe updates the bar description.
func (b *Bar) Describe(desc string) {
	b.desc = desc
	if !b.enabled {
		return
	}
	b.bar.Describe(desc)
}

// Finish completes the bar.
func (b *Bar) Finish() error {
	if !b.enabled {
		logging.Debug(fmt.Sprintf("%s completed", b.desc))
		return nil
	}
	return b.bar.Finish()
}

// Clear removes the bar from the terminal.
func (b *Bar) Clear() error {
	if !b.enabled {
		return nil
	}
	return b.bar.Clear()
}

// Reporter returns a sync progress callback that advances b once per unit
// and finishes it when the run completes.
func Reporter(b *Bar) syncpkg.ProgressFunc {
	return func(ev syncpkg.ProgressEvent) {
		switch ev.Type {
		case syncpkg.ProgressEventStart:
			b.Describe(fmt.Sprintf("Syncing %s", ev.Project))
		case syncpkg.ProgressEventUnit:
			b.Describe(fmt.Sprintf("Syncing %s @ %s", ev.Project, ev.Unit.ShortVersion()))
			_ = b.Add(1)
		case syncpkg.ProgressEventComplete:
			_ = b.Finish()
		}
	}
}

func shouldShowProgress(w io.Writer, force bool) bool {
	if !ui.IsColorEnabled() {
		return false
	}

	if !force {
		f, ok := w.(*os.File)
		if !ok || !ui.IsTerminal(f) {
			return false
		}
	}

	// Progress redraws would interleave with debug output.
	if logging.Default().Enabled(context.Background(), logging.LevelDebug) {
		return false
	}
	return true
}
