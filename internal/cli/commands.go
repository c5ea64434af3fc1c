package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/klauern/docsync/internal/config"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/ui"
	"github.com/klauern/docsync/internal/validation"
)

const redacted = "********"

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Display the effective configuration",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "validate",
				Usage: "Validate the configuration and report problems",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			path := cmd.String("config")
			if path == "" {
				path = config.FilePath()
			}
			fmt.Printf("Configuration file: %s\n\n", path)

			if cmd.Bool("validate") {
				res := validation.Config(cfg)
				fmt.Println(res.Summary())
				if res.HasErrors() {
					return res.Error()
				}
				return nil
			}

			out, err := yaml.Marshal(redactSecrets(cfg))
			if err != nil {
				return fmt.Errorf("marshal configuration: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// redactSecrets returns a copy of cfg safe to print.
func redactSecrets(cfg *config.Config) *config.Config {
	out := *cfg
	out.Projects = make([]config.ProjectConfig, len(cfg.Projects))
	for i, p := range cfg.Projects {
		if p.Source.Password != "" {
			p.Source.Password = redacted
		}
		if p.Destination.Password != "" {
			p.Destination.Password = redacted
		}
		if p.Destination.Token != "" {
			p.Destination.Token = redacted
		}
		out.Projects[i] = p
	}
	return &out
}

func projectsCommand() *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "List configured projects",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Projects) == 0 {
				fmt.Println("No projects configured.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tDESTINATION\tSCHEDULE")
			for _, p := range cfg.Projects {
				schedule := "-"
				if p.Schedule.Enabled {
					schedule = "every " + p.Schedule.Interval.String()
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.DisplayName(), orDash(p.Source.URL), destinationLabel(p.Destination), schedule)
			}
			return tw.Flush()
		},
	}
}

func destinationLabel(d config.DestinationConfig) string {
	switch {
	case d.Type == "":
		return "-"
	case d.Space != "":
		return d.Type + ":" + d.Space
	default:
		return d.Type
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show sync state of projects",
		UsageText: "docsync status [project]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 10,
				Usage: "Number of recent runs to show for a single project",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if cmd.Args().Len() > 0 {
				p, err := e.project(cmd)
				if err != nil {
					return err
				}
				return e.printProjectStatus(ctx, p, int(cmd.Int("limit")))
			}
			return e.printOverview(ctx)
		},
	}
}

func (e *env) storedProjects(ctx context.Context) (map[string]model.Project, error) {
	projects, err := e.store.Ledger().Projects(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Project, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}
	return byID, nil
}

func (e *env) printOverview(ctx context.Context) error {
	stored, err := e.storedProjects(ctx)
	if err != nil {
		return err
	}
	if len(e.cfg.Projects) == 0 {
		fmt.Println("No projects configured.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROJECT\tCURSOR\tLAST SYNC\tSCHEDULE\tLAST RUN")
	for _, p := range e.cfg.Projects {
		state := stored[p.ID]
		last := "-"
		runs, err := e.store.Ledger().RecentRuns(ctx, p.ID, 1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			last = ui.RunStatus(runs[0].Status)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, shortVersion(state.LastSyncVersion), formatTime(state.LastSyncTime),
			scheduleLabel(p, state, stored), last)
	}
	return tw.Flush()
}

func (e *env) printProjectStatus(ctx context.Context, p *config.ProjectConfig, limit int) error {
	stored, err := e.storedProjects(ctx)
	if err != nil {
		return err
	}
	state := stored[p.ID]

	fmt.Printf("%s %s\n", ui.Bold(p.DisplayName()), ui.Dim("("+p.ID+")"))
	fmt.Printf("  Cursor:    %s\n", shortVersion(state.LastSyncVersion))
	fmt.Printf("  Last sync: %s\n", formatTime(state.LastSyncTime))
	fmt.Printf("  Schedule:  %s\n", scheduleLabel(*p, state, stored))

	n, err := e.store.Ledger().CountResources(ctx, p.ID)
	if err != nil {
		return err
	}
	fmt.Printf("  Resources: %d\n", n)

	runs, err := e.store.Ledger().RecentRuns(ctx, p.ID, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("\nNo runs recorded.")
		return nil
	}

	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tSTATUS\tUNITS\tDURATION\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			formatTime(r.StartedAt), r.Status, r.Units,
			r.Duration().Round(time.Millisecond), orDash(r.Error))
	}
	return tw.Flush()
}

func scheduleLabel(p config.ProjectConfig, state model.Project, stored map[string]model.Project) string {
	if !p.Schedule.Enabled {
		return "off"
	}
	if _, seen := stored[p.ID]; seen && !state.ScheduleEnabled {
		return "paused"
	}
	return "every " + p.Schedule.Interval.String()
}

func shortVersion(v string) string {
	if v == "" {
		return "(none)"
	}
	return model.Commit{Version: v}.ShortVersion()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func scheduleCommand() *cli.Command {
	toggle := func(enabled bool) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.project(cmd)
			if err != nil {
				return err
			}
			l := e.store.Ledger()
			if _, err := l.Project(ctx, p.ID); err != nil {
				return err
			}
			if err := l.SetScheduleEnabled(ctx, p.ID, enabled); err != nil {
				return err
			}

			if enabled {
				fmt.Println(ui.StatusSuccess(fmt.Sprintf("Scheduling enabled for %s", p.ID)))
				if !p.Schedule.Enabled {
					fmt.Println(ui.StatusWarning("schedule.enabled is off in the configuration; serve will not run it"))
				}
			} else {
				fmt.Println(ui.StatusSkipped(fmt.Sprintf("Scheduling disabled for %s", p.ID)))
			}
			return nil
		}
	}

	return &cli.Command{
		Name:  "schedule",
		Usage: "Enable or disable scheduled runs of a project",
		Commands: []*cli.Command{
			{
				Name:      "enable",
				Usage:     "Resume scheduled runs",
				UsageText: "docsync schedule enable <project>",
				Action:    toggle(true),
			},
			{
				Name:      "disable",
				Usage:     "Pause scheduled runs",
				UsageText: "docsync schedule disable <project>",
				Action:    toggle(false),
			},
		},
	}
}
