package ui

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauern/docsync/internal/model"
)

func TestStatusFunctions(t *testing.T) {
	DisableColors()
	defer EnableColors()

	tests := []struct {
		name  string
		fn    func(string) string
		input string
		want  string
	}{
		{"StatusSuccess empty", StatusSuccess, "", SymbolSuccess},
		{"StatusSuccess with msg", StatusSuccess, "done", SymbolSuccess + " done"},
		{"StatusError with msg", StatusError, "failed", SymbolError + " failed"},
		{"StatusWarning with msg", StatusWarning, "caution", SymbolWarning + " caution"},
		{"StatusSkipped empty", StatusSkipped, "", SymbolSkipped},
		{"StatusPending with msg", StatusPending, "queued", SymbolPending + " queued"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunStatus(t *testing.T) {
	DisableColors()
	defer EnableColors()

	tests := map[model.RunStatus]string{
		model.RunSucceeded:  SymbolSuccess + " succeeded",
		model.RunFailed:     SymbolError + " failed",
		model.RunIncomplete: SymbolWarning + " incomplete",
		model.RunRunning:    SymbolPending + " running",
		"":                  SymbolSkipped,
	}
	for status, want := range tests {
		if got := RunStatus(status); got != want {
			t.Errorf("RunStatus(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestColorToggle(t *testing.T) {
	initial := IsColorEnabled()

	DisableColors()
	if IsColorEnabled() {
		t.Error("expected colors to be disabled")
	}

	EnableColors()
	if !IsColorEnabled() {
		t.Error("expected colors to be enabled")
	}

	if !initial {
		DisableColors()
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil file is not a terminal")
	}

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if IsTerminal(f) {
		t.Error("regular file reported as terminal")
	}
}
