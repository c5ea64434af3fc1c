package wiki

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/klauern/docsync/internal/markup"
	"github.com/klauern/docsync/internal/model"
)

// linker resolves the local references of a page while it is rendered.
// A false result drops the reference.
type linker interface {
	// pageTitle returns the remote title of the page published for target.
	pageTitle(ctx context.Context, target string) (string, bool, error)
	// attachment returns the file name target is attached under.
	attachment(ctx context.Context, target string) (string, bool, error)
}

// document is a mirror page rendered to wiki storage format.
type document struct {
	Title    string
	HomePage bool
	Body     string
}

var titleCaser = cases.Title(language.English)

// render converts the sanitized page at docPath into storage format.
func render(ctx context.Context, src []byte, docPath string, l linker) (document, error) {
	doc, err := markup.Parse(bytes.NewReader(src))
	if err != nil {
		return document{}, fmt.Errorf("parse %s: %w", docPath, err)
	}

	d := document{Title: markup.Title(doc), HomePage: isHomePage(doc)}
	if d.Title == "" {
		d.Title = titleFromPath(docPath)
	}

	body := markup.Body(doc)
	if body == nil {
		body = doc
	}
	if err := renderImages(ctx, body, docPath, l); err != nil {
		return document{}, err
	}
	if err := renderLinks(ctx, body, docPath, l); err != nil {
		return document{}, err
	}
	renderDefinitionLists(body)
	renderCode(body)

	if d.Body, err = markup.RenderChildren(body); err != nil {
		return document{}, fmt.Errorf("render %s: %w", docPath, err)
	}
	d.Body = strings.TrimSpace(d.Body)
	return d, nil
}

func isHomePage(doc *html.Node) bool {
	meta := markup.Find(doc, func(n *html.Node) bool {
		return n.Data == "meta" && markup.AttrOr(n, "name", "") == "homepage"
	})
	if meta == nil {
		return false
	}
	v := markup.AttrOr(meta, "content", markup.AttrOr(meta, "value", ""))
	return strings.EqualFold(v, "true")
}

// titleFromPath names a page without a <title> after its file.
func titleFromPath(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	words := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	return titleCaser.String(strings.Join(words, " "))
}

func renderImages(ctx context.Context, body *html.Node, docPath string, l linker) error {
	for _, img := range markup.FindAll(body, markup.ByTag("img")) {
		src := strings.TrimSpace(markup.AttrOr(img, "src", ""))
		if src == "" {
			markup.Remove(img)
			continue
		}

		image := markup.Element("ac:image")
		if alt, ok := markup.Attr(img, "alt"); ok {
			markup.SetAttr(image, "ac:alt", alt)
		}
		if markup.IsExternal(src) {
			image.AppendChild(markup.Element("ri:url", html.Attribute{Key: "ri:value", Val: src}))
			markup.Replace(img, image)
			continue
		}

		target, ok := markup.ResolveHref(docPath, src)
		if !ok {
			markup.Remove(img)
			continue
		}
		name, ok, err := l.attachment(ctx, target)
		if err != nil {
			return err
		}
		if !ok {
			markup.Remove(img)
			continue
		}
		image.AppendChild(markup.Element("ri:attachment", html.Attribute{Key: "ri:filename", Val: name}))
		markup.Replace(img, image)
	}
	return nil
}

func renderLinks(ctx context.Context, body *html.Node, docPath string, l linker) error {
	for _, a := range markup.FindAll(body, markup.ByTag("a")) {
		href := strings.TrimSpace(markup.AttrOr(a, "href", ""))
		if href == "" || strings.HasPrefix(href, "#") || markup.IsExternal(href) {
			continue
		}
		target, ok := markup.ResolveHref(docPath, href)
		if !ok {
			dropLink(a)
			continue
		}

		link := markup.Element("ac:link")
		if frag := markup.Fragment(href); frag != "" {
			markup.SetAttr(link, "ac:anchor", frag)
		}

		switch {
		case target == docPath:
			// anchor into the page itself
		case model.ContentTypeOf(target) == model.ContentPage:
			title, found, err := l.pageTitle(ctx, target)
			if err != nil {
				return err
			}
			if !found {
				dropLink(a)
				continue
			}
			link.AppendChild(markup.Element("ri:page", html.Attribute{Key: "ri:content-title", Val: title}))
		default:
			name, found, err := l.attachment(ctx, target)
			if err != nil {
				return err
			}
			if !found {
				dropLink(a)
				continue
			}
			link.AppendChild(markup.Element("ri:attachment", html.Attribute{Key: "ri:filename", Val: name}))
		}

		if !linkBody(a, link) {
			markup.Remove(a)
			continue
		}
		if title, ok := markup.Attr(a, "title"); ok {
			markup.SetAttr(link, "ac:title", title)
		}
		markup.Replace(a, link)
	}
	return nil
}

// linkBody moves a's content into link. It reports false for empty links.
func linkBody(a, link *html.Node) bool {
	hasElements := false
	for c := a.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			hasElements = true
			break
		}
	}
	if hasElements {
		body := markup.Element("ac:link-body")
		for a.FirstChild != nil {
			c := a.FirstChild
			a.RemoveChild(c)
			body.AppendChild(c)
		}
		link.AppendChild(body)
		return true
	}

	text := markup.Text(a)
	if strings.TrimSpace(text) == "" {
		return false
	}
	body := markup.Element("ac:plain-text-link-body")
	body.AppendChild(cdata(text))
	link.AppendChild(body)
	return true
}

// dropLink replaces a with its text.
func dropLink(a *html.Node) {
	text := markup.Text(a)
	if text == "" {
		markup.Remove(a)
		return
	}
	markup.Replace(a, markup.TextNode(text))
}

// renderDefinitionLists turns each dt/dd pair into a list item of two
// paragraphs.
func renderDefinitionLists(body *html.Node) {
	for _, dl := range markup.FindAll(body, markup.ByTag("dl")) {
		ul := markup.Element("ul")
		var li *html.Node
		for c := dl.FirstChild; c != nil; {
			next := c.NextSibling
			if markup.IsElement(c, "dt") || markup.IsElement(c, "dd") {
				if li == nil || markup.IsElement(c, "dt") {
					li = markup.Element("li")
					ul.AppendChild(li)
				}
				dl.RemoveChild(c)
				c.Data, c.DataAtom = "p", atom.P
				li.AppendChild(c)
			}
			c = next
		}
		markup.Replace(dl, ul)
	}
}

func renderCode(body *html.Node) {
	for _, pre := range markup.FindAll(body, markup.ByTag("pre")) {
		macro := markup.Element("ac:structured-macro", html.Attribute{Key: "ac:name", Val: "code"})
		if lang := markup.AttrOr(pre, "data-lang", ""); lang != "" {
			param := markup.Element("ac:parameter", html.Attribute{Key: "ac:name", Val: "language"})
			param.AppendChild(markup.TextNode(lang))
			macro.AppendChild(param)
		}
		text := markup.Element("ac:plain-text-body")
		text.AppendChild(cdata(markup.Text(pre)))
		macro.AppendChild(text)
		markup.Replace(pre, macro)
	}
}

// cdata wraps s in a CDATA section, splitting any terminator it contains.
func cdata(s string) *html.Node {
	s = strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
	return &html.Node{Type: html.RawNode, Data: "<![CDATA[" + s + "]]>"}
}
