package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/progress"
	"github.com/klauern/docsync/internal/scheduler"
	syncpkg "github.com/klauern/docsync/internal/sync"
	"github.com/klauern/docsync/internal/ui"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Publish new commits of a project to its destination",
		UsageText: "docsync sync [options] <project>",
		Description: `Run a project's pipeline once: update the source, build every new
   version that touches the documentation, and apply the changes.

   Examples:
     docsync sync manual
     docsync sync --all`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sync every configured project in turn",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var ids []string
			if cmd.Bool("all") {
				if cmd.Args().Len() > 0 {
					return errors.New("sync --all takes no project argument")
				}
				ids = e.cfg.ProjectIDs()
			} else {
				p, err := e.project(cmd)
				if err != nil {
					return err
				}
				ids = []string{p.ID}
			}

			var failed []string
			for _, id := range ids {
				if err := e.syncOne(ctx, id); err != nil {
					if len(ids) == 1 {
						return err
					}
					fmt.Println(ui.StatusError(fmt.Sprintf("%s: %v", id, err)))
					failed = append(failed, id)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("sync failed for: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func (e *env) syncOne(ctx context.Context, id string) error {
	bar := progress.New(progress.Options{Description: "Syncing " + id, Writer: os.Stderr})
	s, err := syncpkg.New(syncpkg.Options{
		Config:   e.cfg,
		Store:    e.store,
		Progress: progress.Reporter(bar),
	})
	if err != nil {
		return err
	}

	res, runErr := s.Run(ctx, id)
	if bar.Enabled() {
		_ = bar.Clear()
	}
	if res != nil {
		printResult(res)
	}
	if runErr != nil {
		return fmt.Errorf("sync %s: %w", id, runErr)
	}
	return nil
}

func printResult(res *syncpkg.Result) {
	lines := strings.Split(strings.TrimRight(res.Summary(), "\n"), "\n")
	if len(lines) == 0 {
		return
	}
	fmt.Printf("%s %s\n", ui.Bold("Synced "+res.Project+":"), ui.RunStatus(res.Status))
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "  - "):
			fmt.Println(ui.Warning(line))
		case strings.Contains(line, "Cursor held"), strings.Contains(line, "Pipeline is incomplete"):
			fmt.Println(ui.Warning(line))
		default:
			fmt.Println(line)
		}
	}
	if res.Duration() > 0 {
		fmt.Println(ui.Dim(fmt.Sprintf("  Took %s", res.Duration().Round(time.Millisecond))))
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run scheduled projects until interrupted",
		Description: `Run every project whose schedule is enabled at start + n*interval.
   Projects paused with "docsync schedule disable" are skipped until
   resumed. Stops on SIGINT or SIGTERM after in-flight runs finish.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			jobs := scheduler.Jobs(e.cfg)
			if len(jobs) == 0 {
				return errors.New("no project has schedule.enabled set with a positive interval")
			}

			s, err := syncpkg.New(syncpkg.Options{Config: e.cfg, Store: e.store})
			if err != nil {
				return err
			}
			sched := scheduler.New(scheduler.Options{
				Runner: s,
				Jobs:   jobs,
				Enabled: func(ctx context.Context, id string) (bool, error) {
					p, err := e.store.Ledger().Project(ctx, id)
					if err != nil {
						return false, err
					}
					return p.ScheduleEnabled, nil
				},
				Logger: logging.Default(),
			})

			fmt.Println(ui.StatusPending(fmt.Sprintf("Serving %d scheduled project(s); press Ctrl-C to stop", len(jobs))))
			sched.Start(ctx)
			<-ctx.Done()
			sched.Stop()
			fmt.Println(ui.StatusSuccess("Stopped"))
			return nil
		},
	}
}
