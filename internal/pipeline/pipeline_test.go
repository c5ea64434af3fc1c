package pipeline

import (
	"testing"

	apperr "github.com/klauern/docsync/internal/errors"
)

type stubSource struct{ SourceClient }
type stubParse struct{ ParseFilter }
type stubInflate struct{ InflateFilter }
type stubDestination struct{ DestinationClient }

func TestValidate(t *testing.T) {
	full := Pipeline{
		Source:      stubSource{},
		Parse:       stubParse{},
		Inflate:     stubInflate{},
		Destination: stubDestination{},
	}
	if err := full.Validate(); err != nil {
		t.Fatalf("complete pipeline should validate: %v", err)
	}

	tests := map[string]struct {
		mutate  func(*Pipeline)
		missing string
	}{
		"no source":      {mutate: func(p *Pipeline) { p.Source = nil }, missing: "source"},
		"no parse":       {mutate: func(p *Pipeline) { p.Parse = nil }, missing: "parse"},
		"no inflate":     {mutate: func(p *Pipeline) { p.Inflate = nil }, missing: "inflate"},
		"no destination": {mutate: func(p *Pipeline) { p.Destination = nil }, missing: "destination"},
		"empty":          {mutate: func(p *Pipeline) { *p = Pipeline{} }, missing: "source, parse, inflate, destination"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p := full
			tt.mutate(&p)
			err := p.Validate()
			if !apperr.Is(err, apperr.ErrConfigurationIncomplete) {
				t.Fatalf("expected ConfigurationIncomplete, got %v", err)
			}
			want := "pipeline is missing: " + tt.missing
			if got := err.(*apperr.AppError).Message; got != want {
				t.Errorf("message = %q, want %q", got, want)
			}
		})
	}
}

func TestApplyStats(t *testing.T) {
	var s ApplyStats
	s.Add(ApplyStats{Created: 2, Updated: 1})
	s.Add(ApplyStats{Deleted: 1, Moved: 1, Skipped: 4})
	if s.Total() != 5 {
		t.Errorf("Total() = %d, want 5", s.Total())
	}
	if s.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", s.Skipped)
	}
}
