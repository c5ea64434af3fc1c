package wiki

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticLinks resolves every page and attachment it knows about.
type staticLinks struct {
	pages       map[string]string
	attachments map[string]string
}

func (s staticLinks) pageTitle(_ context.Context, target string) (string, bool, error) {
	title, ok := s.pages[target]
	return title, ok, nil
}

func (s staticLinks) attachment(_ context.Context, target string) (string, bool, error) {
	name, ok := s.attachments[target]
	return name, ok, nil
}

func renderBody(t *testing.T, body string, links staticLinks) string {
	t.Helper()
	doc, err := render(context.Background(), []byte("<html><body>"+body+"</body></html>"), "guide/page.html", links)
	require.NoError(t, err)
	return doc.Body
}

func TestRenderTitleAndHomePage(t *testing.T) {
	doc, err := render(context.Background(),
		[]byte(`<html><head><title> Getting  Started </title><meta name="homepage" content="true"></head><body><p>x</p></body></html>`),
		"index.html", staticLinks{})
	require.NoError(t, err)
	assert.Equal(t, "Getting Started", doc.Title)
	assert.True(t, doc.HomePage)
	assert.Equal(t, "<p>x</p>", doc.Body)

	doc, err = render(context.Background(), []byte("<p>x</p>"), "guide/release_notes-2.html", staticLinks{})
	require.NoError(t, err)
	assert.Equal(t, "Release Notes 2", doc.Title)
	assert.False(t, doc.HomePage)
}

func TestRenderCodeBlock(t *testing.T) {
	out := renderBody(t, `<pre data-lang="go">if a &lt; b { return "]]>" }</pre>`, staticLinks{})
	assert.Equal(t,
		`<ac:structured-macro ac:name="code"><ac:parameter ac:name="language">go</ac:parameter>`+
			`<ac:plain-text-body><![CDATA[if a < b { return "]]]]><![CDATA[>" }]]></ac:plain-text-body></ac:structured-macro>`,
		out)

	out = renderBody(t, `<pre>plain</pre>`, staticLinks{})
	assert.Equal(t, `<ac:structured-macro ac:name="code"><ac:plain-text-body><![CDATA[plain]]></ac:plain-text-body></ac:structured-macro>`, out)
}

func TestRenderDefinitionList(t *testing.T) {
	out := renderBody(t, `<dl><dt><strong>term</strong></dt><dd>meaning</dd><dt>other</dt><dd>more</dd></dl>`, staticLinks{})
	assert.Equal(t, `<ul><li><p><strong>term</strong></p><p>meaning</p></li><li><p>other</p><p>more</p></li></ul>`, out)
}

func TestRenderImages(t *testing.T) {
	links := staticLinks{attachments: map[string]string{"guide/img/a.png": "guide_img_a.png"}}
	out := renderBody(t, `<img src="img/a.png" alt="diagram"><img src="https://example.com/b.png"><img src="img/missing.png">`, links)
	assert.Equal(t,
		`<ac:image ac:alt="diagram"><ri:attachment ri:filename="guide_img_a.png"></ri:attachment></ac:image>`+
			`<ac:image><ri:url ri:value="https://example.com/b.png"></ri:url></ac:image>`,
		out)
}

func TestRenderLinks(t *testing.T) {
	links := staticLinks{
		pages:       map[string]string{"api.html": "API - api.html"},
		attachments: map[string]string{"guide/manual.pdf": "guide_manual.pdf"},
	}
	tests := map[string]struct {
		in   string
		want string
	}{
		"page link": {
			in:   `<a href="../api.html">the api</a>`,
			want: `<ac:link><ri:page ri:content-title="API - api.html"></ri:page><ac:plain-text-link-body><![CDATA[the api]]></ac:plain-text-link-body></ac:link>`,
		},
		"anchor and title": {
			in:   `<a href="../api.html#calls" title="Calls"><em>calls</em></a>`,
			want: `<ac:link ac:anchor="calls" ac:title="Calls"><ri:page ri:content-title="API - api.html"></ri:page><ac:link-body><em>calls</em></ac:link-body></ac:link>`,
		},
		"attachment link": {
			in:   `<a href="manual.pdf">manual</a>`,
			want: `<ac:link><ri:attachment ri:filename="guide_manual.pdf"></ri:attachment><ac:plain-text-link-body><![CDATA[manual]]></ac:plain-text-link-body></ac:link>`,
		},
		"same page anchor": {
			in:   `<a href="page.html#top">top</a>`,
			want: `<ac:link ac:anchor="top"><ac:plain-text-link-body><![CDATA[top]]></ac:plain-text-link-body></ac:link>`,
		},
		"external kept": {
			in:   `<a href="https://example.com/">site</a>`,
			want: `<a href="https://example.com/">site</a>`,
		},
		"local anchor kept": {
			in:   `<a href="#sec">sec</a>`,
			want: `<a href="#sec">sec</a>`,
		},
		"unknown page keeps text": {
			in:   `<a href="other.html">other</a>`,
			want: `other`,
		},
		"escaping root keeps text": {
			in:   `<a href="../../x.html">x</a>`,
			want: `x`,
		},
		"empty link removed": {
			in:   `<a href="../api.html"> </a>`,
			want: ``,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderBody(t, tt.in, links))
		})
	}
}
