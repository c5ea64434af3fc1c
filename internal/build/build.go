// Package build runs the documentation build for a checked out source
// version. Builds are opaque commands bounded by a wall-clock timeout.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
)

// Runner names.
const (
	RunnerNone   = "none"
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// DefaultTimeout bounds a single build.
const DefaultTimeout = time.Hour

// outputTail is how much build output is kept for error messages.
const outputTail = 4096

// Request describes one build.
type Request struct {
	// CheckoutPath is the materialized source tree.
	CheckoutPath string
	// WorkingSubdir is where the command runs, relative to CheckoutPath.
	WorkingSubdir string
	// Language is passed to the command as DOCS_LANG.
	Language string
	// Command is a shell command line.
	Command string
}

// Func builds a checkout. It returns BuildTimeout or BuildFailure errors.
type Func func(ctx context.Context, req Request) error

// Options configures New.
type Options struct {
	Runner  string
	Image   string
	Timeout time.Duration
}

// New returns the build function for the configured runner.
func New(opts Options) (Func, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(opts.Runner)) {
	case "", RunnerNone:
		return Noop, nil
	case RunnerLocal:
		return Local(opts.Timeout), nil
	case RunnerDocker:
		if opts.Image == "" {
			return nil, apperr.New(apperr.ErrInvalidConfig, "docker build runner requires an image")
		}
		return Docker(opts.Image, opts.Timeout), nil
	default:
		return nil, apperr.Newf(apperr.ErrInvalidConfig, "unknown build runner %q", opts.Runner)
	}
}

// Noop accepts the checkout as already built.
func Noop(_ context.Context, _ Request) error {
	return nil
}

// Local runs the command with sh in the working directory.
func Local(timeout time.Duration) Func {
	return func(ctx context.Context, req Request) error {
		if strings.TrimSpace(req.Command) == "" {
			return nil
		}
		return run(ctx, timeout, command{
			name: "sh",
			args: []string{"-c", req.Command},
			dir:  filepath.Join(req.CheckoutPath, req.WorkingSubdir),
			env:  []string{"DOCS_LANG=" + req.Language},
		})
	}
}

// dockerBin is the docker client binary.
var dockerBin = "docker"

// killTimeout bounds the docker kill issued when a container build times out.
const killTimeout = 30 * time.Second

// Docker runs the command in a throwaway container with the checkout
// mounted at /src and networking disabled. The container is named so a
// timed out build can be killed; stopping the client alone leaves the
// container running.
func Docker(image string, timeout time.Duration) Func {
	return func(ctx context.Context, req Request) error {
		if strings.TrimSpace(req.Command) == "" {
			return nil
		}
		name := "docsync-build-" + uuid.NewString()
		workdir := filepath.ToSlash(filepath.Join("/src", req.WorkingSubdir))
		return run(ctx, timeout, command{
			name: dockerBin,
			args: []string{
				"run", "--rm", "--name", name, "--network", "none",
				"-v", req.CheckoutPath + ":/src",
				"-w", workdir,
				"-e", "DOCS_LANG=" + req.Language,
				image, "sh", "-c", req.Command,
			},
			stop: func() { killContainer(name) },
		})
	}
}

func killContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	// #nosec G204 - container name is generated here
	if out, err := exec.CommandContext(ctx, dockerBin, "kill", name).CombinedOutput(); err != nil {
		logging.Warn("docker kill failed", "container", name, logging.Err(err), "output", tail(string(out)))
	}
}

// command is one build process.
type command struct {
	name string
	args []string
	dir  string
	env  []string
	// stop runs before the process group is killed on timeout or
	// cancellation.
	stop func()
}

func run(ctx context.Context, timeout time.Duration, c command) error {
	logger := logging.WithContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 - build command comes from project configuration
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	// The build runs in its own process group so that everything it
	// spawned dies with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if c.stop != nil {
			c.stop()
		}
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = 10 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	timer := logging.StartTimer(logger, "build")
	err := cmd.Run()
	timer.Stop(logging.Operation(c.name))

	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.ErrBuildTimeout, fmt.Sprintf("build exceeded %s", timeout), err)
	}
	return apperr.Wrap(apperr.ErrBuildFailure, "build failed: "+tail(out.String()), err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
