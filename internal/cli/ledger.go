package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/klauern/docsync/internal/export"
	"github.com/klauern/docsync/internal/model"
	syncpkg "github.com/klauern/docsync/internal/sync"
	"github.com/klauern/docsync/internal/ui"
)

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:      "ledger",
		Usage:     "Show the pages and attachments recorded for a project",
		UsageText: "docsync ledger [options] <project>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format: " + export.FormatNames(),
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only show one content type: page or attachment",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := export.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			opts := export.DefaultOptions()
			opts.Format = format
			if t := cmd.String("type"); t != "" {
				ct, err := model.ParseContentType(t)
				if err != nil {
					return err
				}
				opts.Type = ct
			}

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.project(cmd)
			if err != nil {
				return err
			}
			snap, err := export.Collect(ctx, e.store.Ledger(), p.ID)
			if err != nil {
				return err
			}
			return export.New(opts).Export(snap, os.Stdout)
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "Forget everything recorded for a project",
		UsageText: "docsync purge [options] <project>",
		Description: `Delete the project's ledger rows, run history, cursor, and local
   mirror. Remote pages are left alone; the next sync republishes the
   project from scratch.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Do not ask for confirmation",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.project(cmd)
			if err != nil {
				return err
			}

			if !cmd.Bool("yes") {
				ok, err := confirm(os.Stdin, fmt.Sprintf("Purge all recorded state of %s?", p.ID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println(ui.StatusSkipped("Purge cancelled"))
					return nil
				}
			}

			s, err := syncpkg.New(syncpkg.Options{Config: e.cfg, Store: e.store})
			if err != nil {
				return err
			}
			n, err := s.Purge(ctx, p.ID)
			if err != nil {
				return err
			}
			fmt.Println(ui.StatusSuccess(fmt.Sprintf("Purged %s: %d resource(s) forgotten", p.ID, n)))
			return nil
		},
	}
}

// confirm asks a yes/no question on stdout and reads the answer from r.
// Anything but y or yes is a no.
func confirm(r io.Reader, question string) (bool, error) {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
