package cli

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/klauern/docsync/internal/store"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Display version and build information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "short",
				Usage: "Print only the version number",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Bool("short") {
				fmt.Println(Version)
				return nil
			}
			fmt.Printf("docsync version %s\n", Version)
			fmt.Printf("  commit:  %s\n", Commit)
			fmt.Printf("  built:   %s\n", BuildDate)
			fmt.Printf("  go:      %s\n", runtime.Version())
			fmt.Printf("  drivers: %s\n", strings.Join(store.Drivers(), ", "))
			return nil
		},
	}
}
