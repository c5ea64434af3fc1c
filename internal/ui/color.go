// Package ui provides terminal output helpers for docsync.
package ui

import (
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/klauern/docsync/internal/model"
)

// Color function types for styled output.
var (
	// Success is used for successful operations (green).
	Success = color.New(color.FgGreen).SprintFunc()
	// Error is used for errors and failures (red).
	Error = color.New(color.FgRed).SprintFunc()
	// Warning is used for warnings and cautions (yellow).
	Warning = color.New(color.FgYellow).SprintFunc()
	// Info is used for informational messages (cyan).
	Info = color.New(color.FgCyan).SprintFunc()
	// Bold is used for emphasis.
	Bold = color.New(color.Bold).SprintFunc()
	// Dim is used for secondary information (faint).
	Dim = color.New(color.Faint).SprintFunc()
	// Header is used for table headers (bold cyan).
	Header = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Status symbols.
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolSkipped = "-"
	SymbolPending = "○"
)

func withSymbol(paint func(...any) string, symbol, msg string) string {
	if msg == "" {
		return paint(symbol)
	}
	return paint(symbol) + " " + msg
}

// StatusSuccess returns a green checkmark with optional message.
func StatusSuccess(msg string) string { return withSymbol(Success, SymbolSuccess, msg) }

// StatusError returns a red X with optional message.
func StatusError(msg string) string { return withSymbol(Error, SymbolError, msg) }

// StatusWarning returns a yellow warning with optional message.
func StatusWarning(msg string) string { return withSymbol(Warning, SymbolWarning, msg) }

// StatusSkipped returns a dimmed skip symbol with optional message.
func StatusSkipped(msg string) string { return withSymbol(Dim, SymbolSkipped, msg) }

// StatusPending returns a cyan circle with optional message.
func StatusPending(msg string) string { return withSymbol(Info, SymbolPending, msg) }

// RunStatus renders a run state with its symbol and color.
func RunStatus(s model.RunStatus) string {
	switch s {
	case model.RunSucceeded:
		return StatusSuccess(string(s))
	case model.RunFailed:
		return StatusError(string(s))
	case model.RunIncomplete:
		return StatusWarning(string(s))
	case model.RunRunning:
		return StatusPending(string(s))
	default:
		return StatusSkipped(string(s))
	}
}

// DisableColors disables all color output.
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output.
func EnableColors() {
	color.NoColor = false
}

// IsColorEnabled returns whether colors are currently enabled.
func IsColorEnabled() bool {
	return !color.NoColor
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
