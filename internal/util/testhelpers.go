//nolint:revive // var-naming - package name is meaningful
package util

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
)

// RequireBinary skips the test when name is not on PATH.
func RequireBinary(t testing.TB, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s binary not available", name)
	}
}

// RequireGit skips tests that shell out to git.
func RequireGit(t testing.TB) {
	t.Helper()
	RequireBinary(t, "git")
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// WriteTree writes a documentation tree under root. Keys are
// slash-separated paths relative to root.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(p)), files[p])
	}
}

// GoldenFile compares got with testdata/<name>.golden, rewriting the file
// instead when golden updates are on.
func GoldenFile(t testing.TB, testdataDir, name, got string) {
	t.Helper()
	goldenPath := filepath.Join(testdataDir, name+".golden")

	if UpdateGolden() {
		WriteFile(t, goldenPath, got)
		return
	}

	// #nosec G304 - goldenPath is built from the test's own testdata directory
	want, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Fatalf("failed to read golden file %s: %v\nRun with -update to create it", goldenPath, err)
	}
	if got != string(want) {
		t.Errorf("%s does not match %s\n--- got ---\n%s\n--- want ---\n%s", name, goldenPath, got, want)
	}
}

var updateGoldenFlag bool

// SetUpdateGolden turns golden rewrites on or off. Packages wire it to an
// -update flag in TestMain.
func SetUpdateGolden(update bool) {
	updateGoldenFlag = update
}

// UpdateGolden reports whether golden files are being rewritten.
func UpdateGolden() bool {
	return updateGoldenFlag
}
