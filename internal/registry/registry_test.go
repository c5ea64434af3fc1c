package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/docsync/internal/config"
	"github.com/klauern/docsync/internal/destination/confluence"
	"github.com/klauern/docsync/internal/destination/memory"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/filter/htmldocs"
	"github.com/klauern/docsync/internal/filter/wiki"
	"github.com/klauern/docsync/internal/pipeline"
	"github.com/klauern/docsync/internal/source/gitsource"
)

func fullProject() config.ProjectConfig {
	return config.ProjectConfig{
		ID:      "manual",
		Source:  config.SourceConfig{Type: "git", URL: "https://git.example.com/manual.git"},
		Parse:   config.ParseConfig{Type: "html", TriggerPattern: "docs/"},
		Inflate: config.InflateConfig{Type: "wiki", Strict: true},
		Destination: config.DestinationConfig{
			Type:  "confluence",
			URL:   "https://wiki.example.com",
			Space: "DOC",
		},
	}
}

func TestBuildFullPipeline(t *testing.T) {
	pl, err := Default().Build(fullProject())
	require.NoError(t, err)
	require.NoError(t, pl.Validate())

	assert.IsType(t, &gitsource.Client{}, pl.Source)
	assert.IsType(t, &htmldocs.Filter{}, pl.Parse)
	assert.IsType(t, &wiki.Filter{}, pl.Inflate)
	assert.IsType(t, &confluence.Client{}, pl.Destination)
}

func TestBuildLeavesUnconfiguredRolesNil(t *testing.T) {
	p := fullProject()
	p.Source.Type = ""
	p.Inflate.Type = ""

	pl, err := Default().Build(p)
	require.NoError(t, err)
	assert.Nil(t, pl.Source)
	assert.Nil(t, pl.Parse, "parse needs a source")
	assert.Nil(t, pl.Inflate)
	assert.NotNil(t, pl.Destination)

	err = pl.Validate()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfigurationIncomplete))
	assert.Contains(t, err.Error(), "source, parse, inflate")
}

func TestBuildUnknownType(t *testing.T) {
	tests := map[string]func(*config.ProjectConfig){
		"source":      func(p *config.ProjectConfig) { p.Source.Type = "svn" },
		"parse":       func(p *config.ProjectConfig) { p.Parse.Type = "markdown" },
		"inflate":     func(p *config.ProjectConfig) { p.Inflate.Type = "blog" },
		"destination": func(p *config.ProjectConfig) { p.Destination.Type = "notion" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := fullProject()
			mutate(&p)
			_, err := Default().Build(p)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))
			assert.Contains(t, err.Error(), "unknown "+name+" type")
		})
	}
}

func TestBuildFactoryErrorsPropagate(t *testing.T) {
	p := fullProject()
	p.Parse.TriggerPattern = "docs/("
	_, err := Default().Build(p)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))

	p = fullProject()
	p.Destination.Space = ""
	_, err = Default().Build(p)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))
}

func TestMemoryDestinationIsSharedPerProject(t *testing.T) {
	r := Default()
	p := fullProject()
	p.Destination = config.DestinationConfig{Type: "Memory", Space: "DOC"}

	first, err := r.Build(p)
	require.NoError(t, err)
	second, err := r.Build(p)
	require.NoError(t, err)
	require.IsType(t, &memory.Wiki{}, first.Destination)
	assert.Same(t, first.Destination, second.Destination)

	other := p
	other.ID = "api"
	third, err := r.Build(other)
	require.NoError(t, err)
	assert.NotSame(t, first.Destination, third.Destination)
}

func TestRegisterOverrides(t *testing.T) {
	r := Default()
	w := memory.New("TEST")
	r.RegisterDestination("confluence", func(config.ProjectConfig) (pipeline.DestinationClient, error) {
		return w, nil
	})

	pl, err := r.Build(fullProject())
	require.NoError(t, err)
	assert.Same(t, w, pl.Destination)
}

func TestBuilder(t *testing.T) {
	fn, err := Builder(config.BuildConfig{Runner: "none"})
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = Builder(config.BuildConfig{Runner: "docker", Timeout: time.Minute})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrInvalidConfig))
}
