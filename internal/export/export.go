// Package export renders a project's resource ledger for humans and tools.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/store"
)

// Format represents the output format of an export.
type Format string

const (
	// FormatTable renders aligned columns.
	FormatTable Format = "table"
	// FormatJSON exports the ledger as JSON.
	FormatJSON Format = "json"
	// FormatYAML exports the ledger as YAML.
	FormatYAML Format = "yaml"
	// FormatMarkdown exports the ledger as a Markdown document.
	FormatMarkdown Format = "markdown"
)

// IsValid returns true if the format is recognized.
func (f Format) IsValid() bool {
	switch f {
	case FormatTable, FormatJSON, FormatYAML, FormatMarkdown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// AllFormats returns all supported export formats.
func AllFormats() []Format {
	return []Format{FormatTable, FormatJSON, FormatYAML, FormatMarkdown}
}

// FormatNames lists the supported formats, comma separated.
func FormatNames() string {
	names := make([]string, 0, len(AllFormats()))
	for _, f := range AllFormats() {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}

// ParseFormat parses a string into a Format.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	if !format.IsValid() {
		return "", fmt.Errorf("unsupported format %q (valid: %s)", s, FormatNames())
	}
	return format, nil
}

// Snapshot is everything recorded for one project.
type Snapshot struct {
	Project     model.Project
	Pages       []store.PageEntry
	Attachments []store.AttachmentEntry
}

// Collect reads a project's snapshot from the ledger.
func Collect(ctx context.Context, l *store.Ledger, project string) (Snapshot, error) {
	snap := Snapshot{}
	var err error
	if snap.Project, err = l.Project(ctx, project); err != nil {
		return snap, err
	}
	if snap.Pages, err = l.Pages(ctx, project); err != nil {
		return snap, err
	}
	if snap.Attachments, err = l.Attachments(ctx, project); err != nil {
		return snap, err
	}
	return snap, nil
}

// Options configures export behavior.
type Options struct {
	// Format specifies the output format.
	Format Format
	// Pretty enables indentation for JSON.
	Pretty bool
	// Type limits the export to pages or attachments. Empty means both.
	Type model.ContentType
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{
		Format: FormatTable,
		Pretty: true,
	}
}

// Exporter writes snapshots in the configured format.
type Exporter struct {
	opts Options
}

// New creates a new Exporter with the given options.
func New(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

type exportEntry struct {
	Type     string `json:"type" yaml:"type"`
	Path     string `json:"path" yaml:"path"`
	RemoteID string `json:"remote_id" yaml:"remote_id"`
	Parent   string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Title    string `json:"title" yaml:"title"`
	Version  int    `json:"version,omitempty" yaml:"version,omitempty"`
	Checksum string `json:"checksum" yaml:"checksum"`
	Created  string `json:"created_at" yaml:"created_at"`
}

type exportLedger struct {
	Project  string        `json:"project" yaml:"project"`
	Cursor   string        `json:"cursor" yaml:"cursor"`
	LastSync string        `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Schedule bool          `json:"schedule_enabled" yaml:"schedule_enabled"`
	Entries  []exportEntry `json:"entries" yaml:"entries"`
}

// Export writes the snapshot to w.
func (e *Exporter) Export(snap Snapshot, w io.Writer) error {
	timer := logging.StartTimer(logging.Default(), "export")

	doc := e.document(snap)
	logging.Debug("starting export",
		slog.String("format", string(e.opts.Format)),
		logging.Project(snap.Project.ID),
		logging.Count(len(doc.Entries)),
	)

	var err error
	switch e.opts.Format {
	case FormatTable, "":
		err = e.exportTable(doc, w)
	case FormatJSON:
		err = e.exportJSON(doc, w)
	case FormatYAML:
		err = e.exportYAML(doc, w)
	case FormatMarkdown:
		err = e.exportMarkdown(doc, w)
	default:
		err = fmt.Errorf("unsupported format: %s", e.opts.Format)
	}
	if err != nil {
		logging.Error("export failed", slog.String("format", string(e.opts.Format)), logging.Err(err))
		return err
	}

	timer.Stop(logging.Count(len(doc.Entries)))
	return nil
}

func (e *Exporter) document(snap Snapshot) exportLedger {
	doc := exportLedger{
		Project:  snap.Project.ID,
		Cursor:   snap.Project.LastSyncVersion,
		Schedule: snap.Project.ScheduleEnabled,
		Entries:  []exportEntry{},
	}
	if !snap.Project.LastSyncTime.IsZero() {
		doc.LastSync = formatTime(snap.Project.LastSyncTime)
	}

	if e.opts.Type == "" || e.opts.Type == model.ContentPage {
		for _, p := range snap.Pages {
			doc.Entries = append(doc.Entries, exportEntry{
				Type:     string(model.ContentPage),
				Path:     p.Resource.Path,
				RemoteID: p.Page.RemoteID,
				Parent:   p.Page.ParentRemoteID,
				Title:    p.Page.RemoteTitle(),
				Version:  p.Page.Version,
				Checksum: p.Page.Checksum,
				Created:  formatTime(p.Page.CreatedAt),
			})
		}
	}
	if e.opts.Type == "" || e.opts.Type == model.ContentAttachment {
		for _, a := range snap.Attachments {
			doc.Entries = append(doc.Entries, exportEntry{
				Type:     string(model.ContentAttachment),
				Path:     a.Resource.Path,
				RemoteID: a.Attachment.RemoteID,
				Parent:   a.Attachment.ParentPageRemoteID,
				Title:    a.Attachment.Name,
				Checksum: a.Attachment.Checksum,
				Created:  formatTime(a.Attachment.CreatedAt),
			})
		}
	}
	return doc
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (e *Exporter) exportTable(doc exportLedger, w io.Writer) error {
	cursor := doc.Cursor
	if cursor == "" {
		cursor = "(none)"
	}
	if _, err := fmt.Fprintf(w, "Project: %s\nCursor:  %s\n\n", doc.Project, cursor); err != nil {
		return err
	}
	if len(doc.Entries) == 0 {
		_, err := fmt.Fprintln(w, "No resources recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TYPE\tPATH\tREMOTE ID\tTITLE\tVERSION")
	for _, en := range doc.Entries {
		version := "-"
		if en.Version > 0 {
			version = fmt.Sprint(en.Version)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", en.Type, en.Path, en.RemoteID, en.Title, version)
	}
	return tw.Flush()
}

func (e *Exporter) exportJSON(doc exportLedger, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(doc)
}

func (e *Exporter) exportYAML(doc exportLedger, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		_ = encoder.Close()
		return err
	}
	return encoder.Close()
}

func (e *Exporter) exportMarkdown(doc exportLedger, w io.Writer) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Ledger: %s\n\n", doc.Project))
	sb.WriteString("| Property | Value |\n")
	sb.WriteString("|----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Cursor | `%s` |\n", doc.Cursor))
	if doc.LastSync != "" {
		sb.WriteString(fmt.Sprintf("| Last sync | %s |\n", doc.LastSync))
	}
	sb.WriteString(fmt.Sprintf("| Scheduled | %t |\n\n", doc.Schedule))

	sb.WriteString(fmt.Sprintf("Total: %d resource(s)\n", len(doc.Entries)))
	if len(doc.Entries) > 0 {
		sb.WriteString("\n| Type | Path | Remote ID | Title |\n")
		sb.WriteString("|------|------|-----------|-------|\n")
		for _, en := range doc.Entries {
			sb.WriteString(fmt.Sprintf("| %s | `%s` | %s | %s |\n", en.Type, en.Path, en.RemoteID, en.Title))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
