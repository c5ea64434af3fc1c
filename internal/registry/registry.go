// Package registry assembles a project's pipeline from its configuration.
// Each role is looked up by its configured type name; an empty type leaves
// the role unset so the orchestrator can report the pipeline incomplete.
package registry

import (
	"strings"
	"sync"

	"github.com/klauern/docsync/internal/build"
	"github.com/klauern/docsync/internal/config"
	"github.com/klauern/docsync/internal/destination/confluence"
	"github.com/klauern/docsync/internal/destination/memory"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/filter/htmldocs"
	"github.com/klauern/docsync/internal/filter/wiki"
	"github.com/klauern/docsync/internal/pipeline"
	"github.com/klauern/docsync/internal/source/gitsource"
)

// Factories build one pipeline role for a project. Parse and inflate
// factories receive the already built source and destination.
type (
	SourceFactory      func(p config.ProjectConfig) (pipeline.SourceClient, error)
	ParseFactory       func(p config.ProjectConfig, src pipeline.SourceClient) (pipeline.ParseFilter, error)
	InflateFactory     func(p config.ProjectConfig, dest pipeline.DestinationClient) (pipeline.InflateFilter, error)
	DestinationFactory func(p config.ProjectConfig) (pipeline.DestinationClient, error)
)

// Registry maps type names to factories.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]SourceFactory
	parsers      map[string]ParseFactory
	inflaters    map[string]InflateFactory
	destinations map[string]DestinationFactory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sources:      map[string]SourceFactory{},
		parsers:      map[string]ParseFactory{},
		inflaters:    map[string]InflateFactory{},
		destinations: map[string]DestinationFactory{},
	}
}

// Default returns a registry with the built-in collaborators: the git
// source, the html parse filter, the wiki inflate filter, and the
// confluence and memory destinations.
func Default() *Registry {
	r := New()
	r.RegisterSource("git", gitSource)
	r.RegisterParse("html", htmlParse)
	r.RegisterInflate("wiki", wikiInflate)
	r.RegisterDestination("confluence", confluenceDestination)
	r.RegisterDestination("memory", memoryDestinations())
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterSource adds or replaces a source factory.
func (r *Registry) RegisterSource(name string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[normalize(name)] = f
}

// RegisterParse adds or replaces a parse filter factory.
func (r *Registry) RegisterParse(name string, f ParseFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[normalize(name)] = f
}

// RegisterInflate adds or replaces an inflate filter factory.
func (r *Registry) RegisterInflate(name string, f InflateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflaters[normalize(name)] = f
}

// RegisterDestination adds or replaces a destination factory.
func (r *Registry) RegisterDestination(name string, f DestinationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[normalize(name)] = f
}

// Build assembles the pipeline for p. Roles whose type is empty stay nil,
// as do filters whose upstream role is missing. An unknown type is
// InvalidConfig.
func (r *Registry) Build(p config.ProjectConfig) (pipeline.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pl pipeline.Pipeline

	if name := normalize(p.Source.Type); name != "" {
		f, ok := r.sources[name]
		if !ok {
			return pl, apperr.Newf(apperr.ErrInvalidConfig, "%s: unknown source type %q", p.ID, p.Source.Type)
		}
		src, err := f(p)
		if err != nil {
			return pl, err
		}
		pl.Source = src
	}

	if name := normalize(p.Destination.Type); name != "" {
		f, ok := r.destinations[name]
		if !ok {
			return pl, apperr.Newf(apperr.ErrInvalidConfig, "%s: unknown destination type %q", p.ID, p.Destination.Type)
		}
		dest, err := f(p)
		if err != nil {
			return pl, err
		}
		pl.Destination = dest
	}

	if name := normalize(p.Parse.Type); name != "" {
		f, ok := r.parsers[name]
		if !ok {
			return pl, apperr.Newf(apperr.ErrInvalidConfig, "%s: unknown parse type %q", p.ID, p.Parse.Type)
		}
		if pl.Source != nil {
			parse, err := f(p, pl.Source)
			if err != nil {
				return pl, err
			}
			pl.Parse = parse
		}
	}

	if name := normalize(p.Inflate.Type); name != "" {
		f, ok := r.inflaters[name]
		if !ok {
			return pl, apperr.Newf(apperr.ErrInvalidConfig, "%s: unknown inflate type %q", p.ID, p.Inflate.Type)
		}
		if pl.Destination != nil {
			inflate, err := f(p, pl.Destination)
			if err != nil {
				return pl, err
			}
			pl.Inflate = inflate
		}
	}

	return pl, nil
}

// Builder returns the build function for the global build settings.
func Builder(cfg config.BuildConfig) (build.Func, error) {
	return build.New(build.Options{Runner: cfg.Runner, Image: cfg.Image, Timeout: cfg.Timeout})
}

func gitSource(p config.ProjectConfig) (pipeline.SourceClient, error) {
	return gitsource.New(gitsource.Options{
		URL:      p.Source.URL,
		Branch:   p.Source.Branch,
		Username: p.Source.Username,
		Password: p.Source.Password,
	})
}

func htmlParse(p config.ProjectConfig, src pipeline.SourceClient) (pipeline.ParseFilter, error) {
	return htmldocs.New(htmldocs.Options{
		Source:         src,
		DocsRoot:       p.Parse.DocsRoot,
		Lang:           p.Parse.Lang,
		TriggerPattern: p.Parse.TriggerPattern,
		WorkingDir:     p.Parse.WorkingDir,
		BuildCommand:   p.Parse.BuildCommand,
		IgnoreErrors:   p.IgnoreErrors,
	})
}

func wikiInflate(p config.ProjectConfig, dest pipeline.DestinationClient) (pipeline.InflateFilter, error) {
	return wiki.New(wiki.Options{Project: p.ID, Destination: dest, Strict: p.Inflate.Strict})
}

func confluenceDestination(p config.ProjectConfig) (pipeline.DestinationClient, error) {
	d := p.Destination
	return confluence.New(confluence.Options{
		URL:             d.URL,
		Space:           d.Space,
		Username:        d.Username,
		Password:        d.Password,
		Token:           d.Token,
		ParentPageTitle: d.ParentPageTitle,
		Timeout:         d.Timeout,
		MaxRetries:      d.MaxRetries,
	})
}

// memoryDestinations keeps one in-process wiki per project so that
// repeated runs in the same process see what earlier runs published.
func memoryDestinations() DestinationFactory {
	var (
		mu    sync.Mutex
		wikis = map[string]*memory.Wiki{}
	)
	return func(p config.ProjectConfig) (pipeline.DestinationClient, error) {
		mu.Lock()
		defer mu.Unlock()
		w, ok := wikis[p.ID]
		if !ok {
			w = memory.New(p.Destination.Space)
			wikis[p.ID] = w
		}
		return w, nil
	}
}
