package e2e

import (
	"os"
	"strings"
	"testing"

	apperr "github.com/klauern/docsync/internal/errors"
)

// AssertSuccess stops the test unless the command succeeded.
func AssertSuccess(t testing.TB, r *Result) {
	t.Helper()
	if !r.Success() {
		t.Fatalf("command failed: %v\nstdout:\n%s", r.Err, r.Stdout)
	}
}

// AssertError stops the test unless the command failed.
func AssertError(t testing.TB, r *Result) {
	t.Helper()
	if r.Success() {
		t.Fatalf("command succeeded, want failure\nstdout:\n%s", r.Stdout)
	}
}

// AssertErrorContains checks that the command failed with substr in its error.
func AssertErrorContains(t testing.TB, r *Result, substr string) {
	t.Helper()
	AssertError(t, r)
	if !strings.Contains(r.Err.Error(), substr) {
		t.Errorf("error %q does not contain %q", r.Err, substr)
	}
}

// AssertErrorCode checks that the command failed with a docsync error of
// the given code somewhere in its chain.
func AssertErrorCode(t testing.TB, r *Result, code apperr.ErrorCode) {
	t.Helper()
	AssertError(t, r)
	if got := apperr.CodeOf(r.Err); got != code {
		t.Errorf("error code = %q, want %q (error: %v)", got, code, r.Err)
	}
}

// AssertOutputContains checks stdout for every substring.
func AssertOutputContains(t testing.TB, r *Result, substrs ...string) {
	t.Helper()
	for _, s := range substrs {
		if !strings.Contains(r.Stdout, s) {
			t.Errorf("stdout does not contain %q\nstdout:\n%s", s, r.Stdout)
		}
	}
}

// AssertOutputNotContains checks that stdout lacks substr.
func AssertOutputNotContains(t testing.TB, r *Result, substr string) {
	t.Helper()
	if strings.Contains(r.Stdout, substr) {
		t.Errorf("stdout contains %q\nstdout:\n%s", substr, r.Stdout)
	}
}

// AssertFileExists checks that path exists.
func AssertFileExists(t testing.TB, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected %s to exist: %v", path, err)
	}
}

// AssertFileNotExists checks that path does not exist.
func AssertFileNotExists(t testing.TB, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected %s to be gone", path)
	}
}

// AssertFileContains checks that the file at path contains every substring.
func AssertFileContains(t testing.TB, path string, substrs ...string) {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // G304 - test paths
	if err != nil {
		t.Errorf("read %s: %v", path, err)
		return
	}
	for _, s := range substrs {
		if !strings.Contains(string(data), s) {
			t.Errorf("%s does not contain %q", path, s)
		}
	}
}
