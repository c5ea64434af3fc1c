// Package cli provides the command-line interface for docsync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/klauern/docsync/internal/config"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/store"
	"github.com/klauern/docsync/internal/ui"
)

var (
	// Version is the current version of the application.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the date and time of the build.
	BuildDate = "unknown"
)

// Run executes the CLI application with the given context and arguments.
func Run(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:    "docsync",
		Usage:   "Publish documentation from git repositories to a wiki",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file (default: $DOCSYNC_HOME/config.yaml)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output (info level logging)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug output (debug level logging, implies verbose)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
			&cli.BoolFlag{
				Name:  "color",
				Usage: "Force colored output even when stdout is not a terminal",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "Write logs as JSON",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			configureColors(cmd)
			return ctx, configureLogging(cmd, nil)
		},
		Commands: []*cli.Command{
			versionCommand(),
			configCommand(),
			projectsCommand(),
			syncCommand(),
			serveCommand(),
			statusCommand(),
			scheduleCommand(),
			ledgerCommand(),
			purgeCommand(),
		},
	}
	return app.Run(ctx, args)
}

// configureColors sets up color output based on CLI flags.
func configureColors(cmd *cli.Command) {
	switch {
	case cmd.Bool("no-color"):
		ui.DisableColors()
	case cmd.Bool("color"):
		ui.EnableColors()
	}
}

// configureLogging sets the default logger from the CLI flags. When no
// verbosity flag is given, the log section of cfg (if any) decides.
func configureLogging(cmd *cli.Command, cfg *config.Config) error {
	opts := logging.DefaultOptions()
	opts.Level = logging.LevelWarn
	opts.JSON = cmd.Bool("json-logs")

	switch {
	case cmd.Bool("debug"):
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case cmd.Bool("verbose"):
		opts.Level = slog.LevelInfo
	case cfg != nil && cfg.Log.Level != "":
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
		opts.Level = level
	}
	if cfg != nil && strings.EqualFold(cfg.Log.Format, "json") {
		opts.JSON = true
	}

	logger := logging.New(opts)
	logging.SetDefault(logger)

	logging.Debug("logging configured", slog.String("level", opts.Level.String()))
	return nil
}

// loadConfig reads the file named by --config, or the default one.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := configureLogging(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is what most commands need: configuration and an open store.
type env struct {
	cfg   *config.Config
	store *store.Store
}

func openEnv(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open resource store: %w", err)
	}
	return &env{cfg: cfg, store: st}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		logging.Warn("failed to close resource store", logging.Err(err))
	}
}

// project resolves the single project argument of cmd.
func (e *env) project(cmd *cli.Command) (*config.ProjectConfig, error) {
	if cmd.Args().Len() != 1 {
		return nil, fmt.Errorf("%s requires exactly 1 argument: <project>", cmd.Name)
	}
	id := cmd.Args().First()
	p, ok := e.cfg.Project(id)
	if !ok {
		return nil, fmt.Errorf("unknown project %q (configured: %s)", id, strings.Join(e.cfg.ProjectIDs(), ", "))
	}
	return p, nil
}
