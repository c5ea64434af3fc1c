// Package e2e provides testing infrastructure for end-to-end CLI tests:
// a harness that runs docsync commands in an isolated DOCSYNC_HOME,
// fixtures for source repositories and configuration, and assertions.
package e2e

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/klauern/docsync/internal/cli"
	"github.com/klauern/docsync/internal/util"
)

// Result contains the outcome of running a CLI command.
type Result struct {
	// Stdout contains the captured standard output.
	Stdout string
	// Err is the error returned by the CLI command, if any.
	Err error
	// ExitCode is the inferred exit code (0 for success, 1 for error).
	ExitCode int
}

// Success returns true if the command completed without error.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Harness runs CLI commands against an isolated home directory.
type Harness struct {
	t       *testing.T
	homeDir string
}

// NewHarness creates a harness whose DOCSYNC_HOME is a fresh temp dir,
// so the default config file, database, locks, and work dirs all live
// under it.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	homeDir := t.TempDir()
	t.Setenv(util.HomeEnv, homeDir)
	t.Setenv("NO_COLOR", "1")

	return &Harness{t: t, homeDir: homeDir}
}

// HomeDir returns the isolated home directory for this harness.
func (h *Harness) HomeDir() string {
	return h.homeDir
}

// Run executes a CLI command and captures its output.
func (h *Harness) Run(args ...string) *Result {
	h.t.Helper()
	return h.run(nil, args)
}

// RunWithStdin executes a CLI command with stdin fed from input.
func (h *Harness) RunWithStdin(input string, args ...string) *Result {
	h.t.Helper()
	return h.run(&input, args)
}

func (h *Harness) run(stdin *string, args []string) *Result {
	h.t.Helper()

	args = append([]string{"docsync", "--no-color"}, args...)

	if stdin != nil {
		oldStdin := os.Stdin
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			h.t.Fatalf("failed to create stdin pipe: %v", err)
		}
		go func() {
			defer func() { _ = stdinW.Close() }()
			_, _ = stdinW.WriteString(*stdin)
		}()
		os.Stdin = stdinR
		defer func() {
			os.Stdin = oldStdin
			_ = stdinR.Close()
		}()
	}

	oldStdout := os.Stdout
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		h.t.Fatalf("failed to create stdout pipe: %v", err)
	}
	os.Stdout = stdoutW

	// Drain concurrently; output larger than the pipe buffer would block.
	var stdoutBuf bytes.Buffer
	var copyErr error
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, copyErr = io.Copy(&stdoutBuf, stdoutR)
	}()

	cmdErr := cli.Run(context.Background(), args)

	if err := stdoutW.Close(); err != nil {
		h.t.Fatalf("failed to close stdout pipe writer: %v", err)
	}
	os.Stdout = oldStdout

	<-copyDone
	if copyErr != nil {
		h.t.Fatalf("failed to read captured stdout: %v", copyErr)
	}

	exitCode := 0
	if cmdErr != nil {
		exitCode = 1
	}
	return &Result{
		Stdout:   stdoutBuf.String(),
		Err:      cmdErr,
		ExitCode: exitCode,
	}
}
