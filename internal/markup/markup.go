// Package markup holds small helpers over golang.org/x/net/html trees
// shared by the HTML parse filter and the wiki renderer.
package markup

import (
	"bytes"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// Attr returns the value of attribute key, if present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the value of attribute key or def.
func AttrOr(n *html.Node, key, def string) string {
	if v, ok := Attr(n, key); ok {
		return v
	}
	return def
}

// SetAttr sets or replaces attribute key.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// Classes returns the element's class list.
func Classes(n *html.Node) []string {
	return strings.Fields(AttrOr(n, "class", ""))
}

// HasClass reports whether the element carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, have := range Classes(n) {
		if have == c {
			return true
		}
	}
	return false
}

// IsElement reports whether n is an element named tag.
func IsElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// Find returns the first element in document order, n included, that
// matches.
func Find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every matching element in document order. Matches are
// collected before returning, so callers may restructure the tree while
// iterating the result.
func FindAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// ByTag matches elements named tag.
func ByTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

// Text concatenates the text nodes under n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Remove detaches n from its parent.
func Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Unwrap replaces n with its children.
func Unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}

// Replace puts repl where n was.
func Replace(n, repl *html.Node) {
	if n.Parent == nil {
		return
	}
	n.Parent.InsertBefore(repl, n)
	n.Parent.RemoveChild(n)
}

// Element creates a detached element. Names that are not standard HTML
// (such as namespaced storage-format tags) keep a zero atom.
func Element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag)), Attr: attrs}
}

// TextNode creates a detached text node.
func TextNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Body returns the document's body element, or nil.
func Body(doc *html.Node) *html.Node {
	return Find(doc, ByTag("body"))
}

// Title returns the trimmed text of the document's <title>.
func Title(doc *html.Node) string {
	if t := Find(doc, ByTag("title")); t != nil {
		return strings.Join(strings.Fields(Text(t)), " ")
	}
	return ""
}

// Render serializes n.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderChildren serializes n's children without n itself.
func RenderChildren(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// IsExternal reports whether href points outside the documentation
// tree: absolute URLs, protocol-relative URLs and mailto links.
func IsExternal(href string) bool {
	if strings.HasPrefix(href, "//") {
		return true
	}
	scheme, _, ok := strings.Cut(href, ":")
	if !ok || strings.ContainsAny(scheme, "/?#") {
		return false
	}
	return scheme != ""
}

// StripRef removes the query and fragment from href.
func StripRef(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}

// Fragment returns the part of href after '#'.
func Fragment(href string) string {
	if _, frag, ok := strings.Cut(href, "#"); ok {
		return frag
	}
	return ""
}

// ResolveHref resolves a local href against the document at docPath,
// both relative to the tree root. The result is slash separated and
// cleaned; ok is false when the href is external, empty once stripped,
// or escapes the root.
func ResolveHref(docPath, href string) (string, bool) {
	if IsExternal(href) {
		return "", false
	}
	ref := strings.TrimSpace(StripRef(href))
	if ref == "" {
		return "", false
	}
	var joined string
	if strings.HasPrefix(ref, "/") {
		joined = path.Clean(strings.TrimPrefix(ref, "/"))
	} else {
		joined = path.Clean(path.Join(path.Dir(docPath), ref))
	}
	if joined == "." || joined == ".." || strings.HasPrefix(joined, "../") {
		return "", false
	}
	return joined, true
}
