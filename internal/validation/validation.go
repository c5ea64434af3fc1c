// Package validation checks project configuration before it is used to
// assemble a pipeline.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/klauern/docsync/internal/config"
)

// Error represents a validation failure with context.
type Error struct {
	// Field is the name of the field or component that failed validation
	Field string
	// Message describes the validation failure
	Message string
	// Err is the underlying error (if any)
	Err error
}

// Error returns a formatted validation error message.
func (ve *Error) Error() string {
	if ve.Err != nil {
		return fmt.Sprintf("validation failed for %q: %s: %v", ve.Field, ve.Message, ve.Err)
	}
	return fmt.Sprintf("validation failed for %q: %s", ve.Field, ve.Message)
}

// Unwrap returns the underlying error for errors.Is/As.
func (ve *Error) Unwrap() error {
	return ve.Err
}

// Errors collects multiple validation errors.
type Errors []error

// Error returns a formatted error message for all validation failures.
func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors:\n- %s", len(ve), errors.Join(ve...))
}

// Result contains the outcome of a validation check.
type Result struct {
	// Valid indicates whether all validations passed
	Valid bool
	// Warnings contains non-fatal validation issues
	Warnings []string
	// Errors contains validation failures that prevent the operation
	Errors []error
}

// AddError adds an error to the validation result.
func (r *Result) AddError(err error) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// AddWarning adds a warning to the validation result.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns the combined validation error message.
func (r *Result) Error() error {
	if !r.HasErrors() {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return Errors(r.Errors)
}

// Summary returns a human-readable summary of the validation result.
func (r *Result) Summary() string {
	if r.Valid && len(r.Warnings) == 0 {
		return "All validations passed"
	}
	var msg string
	if r.Valid {
		msg = "Validation passed with warnings"
	} else {
		msg = "Validation failed"
	}
	if len(r.Warnings) > 0 {
		msg += fmt.Sprintf(" (%d warning(s))", len(r.Warnings))
	}
	return msg
}

// Known collaborator types. The empty string marks a role that has not
// been configured yet.
var (
	sourceTypes      = []string{"", "git"}
	parseTypes       = []string{"", "html"}
	inflateTypes     = []string{"", "wiki"}
	destinationTypes = []string{"", "confluence", "memory"}
	buildRunners     = []string{"", "none", "local", "docker"}
	databaseDrivers  = []string{"sqlite", "postgres"}
)

// projectID restricts ids to names usable as lock and directory names.
var projectID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// scpLike matches git's user@host:path remote syntax.
var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:.+$`)

// Project validates a single project configuration.
func Project(p config.ProjectConfig) *Result {
	result := &Result{Valid: true}
	field := func(name string) string {
		if p.ID == "" {
			return name
		}
		return p.ID + "." + name
	}

	switch {
	case p.ID == "":
		result.AddError(&Error{Field: "id", Message: "is required"})
	case !projectID.MatchString(p.ID):
		result.AddError(&Error{Field: "id", Message: fmt.Sprintf("%q may only contain letters, digits, '.', '_' and '-'", p.ID)})
	}

	if p.LogLevel < 0 || p.LogLevel > 3 {
		result.AddError(&Error{Field: field("log_level"), Message: fmt.Sprintf("%d is outside 0..3", p.LogLevel)})
	}
	if p.Schedule.Enabled && p.Schedule.Interval <= 0 {
		result.AddError(&Error{Field: field("schedule.interval"), Message: "must be positive when the schedule is enabled"})
	}

	checkType(result, field("source.type"), p.Source.Type, sourceTypes)
	checkType(result, field("parse.type"), p.Parse.Type, parseTypes)
	checkType(result, field("inflate.type"), p.Inflate.Type, inflateTypes)
	checkType(result, field("destination.type"), p.Destination.Type, destinationTypes)

	if p.Source.Type != "" {
		if err := sourceURL(p.Source.URL); err != nil {
			result.AddError(&Error{Field: field("source.url"), Message: "is not a usable repository location", Err: err})
		}
	}

	if p.Parse.TriggerPattern != "" {
		if _, err := regexp.Compile(p.Parse.TriggerPattern); err != nil {
			result.AddError(&Error{Field: field("parse.trigger_pattern"), Message: "does not compile", Err: err})
		}
	}
	if strings.HasPrefix(p.Parse.DocsRoot, "/") || strings.Contains(p.Parse.DocsRoot, "..") {
		result.AddError(&Error{Field: field("parse.docs_root"), Message: "must be a relative path inside the checkout"})
	}

	switch p.Destination.Type {
	case "confluence":
		if err := httpURL(p.Destination.URL); err != nil {
			result.AddError(&Error{Field: field("destination.url"), Message: "is not an http(s) URL", Err: err})
		}
		if p.Destination.Space == "" {
			result.AddError(&Error{Field: field("destination.space"), Message: "is required"})
		}
		if p.Destination.Username == "" && p.Destination.Token == "" {
			result.AddWarning(field("destination") + ": no credentials configured")
		}
	case "memory":
		result.AddWarning(field("destination") + ": memory destination discards everything it publishes")
	}

	if p.Schedule.Enabled && !complete(p) {
		result.AddWarning(field("schedule") + ": enabled on an incomplete pipeline; the first run will disable it")
	}

	return result
}

// Config validates global settings and every project. Project ids must
// be unique.
func Config(cfg *config.Config) *Result {
	result := &Result{Valid: true}

	checkType(result, "database.driver", cfg.Database.Driver, databaseDrivers)
	if cfg.Database.DSN == "" {
		result.AddError(&Error{Field: "database.dsn", Message: "is required"})
	}
	checkType(result, "build.runner", cfg.Build.Runner, buildRunners)
	if cfg.Build.Runner == "docker" && cfg.Build.Image == "" {
		result.AddError(&Error{Field: "build.image", Message: "is required by the docker runner"})
	}
	if cfg.Build.Timeout < 0 {
		result.AddError(&Error{Field: "build.timeout", Message: "must not be negative"})
	}

	seen := make(map[string]bool, len(cfg.Projects))
	for _, p := range cfg.Projects {
		if p.ID != "" && seen[p.ID] {
			result.AddError(&Error{Field: p.ID, Message: "duplicate project id"})
		}
		seen[p.ID] = true

		pr := Project(p)
		for _, err := range pr.Errors {
			result.AddError(err)
		}
		result.Warnings = append(result.Warnings, pr.Warnings...)
	}
	return result
}

func checkType(result *Result, field, value string, known []string) {
	for _, k := range known {
		if strings.EqualFold(value, k) {
			return
		}
	}
	result.AddError(&Error{Field: field, Message: fmt.Sprintf("unknown type %q", value)})
}

func complete(p config.ProjectConfig) bool {
	return p.Source.Type != "" && p.Parse.Type != "" && p.Inflate.Type != "" && p.Destination.Type != ""
}

// sourceURL accepts URLs, scp-style remotes and local paths.
func sourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty")
	}
	if scpLike.MatchString(raw) {
		return nil
	}
	_, err := url.Parse(raw)
	return err
}

func httpURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
