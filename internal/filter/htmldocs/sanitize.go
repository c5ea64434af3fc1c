package htmldocs

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/klauern/docsync/internal/markup"
)

// allowedTags survive sanitization; everything else is either unwrapped
// (unwrapTags) or dropped together with its content.
var allowedTags = map[string]bool{
	"html": true, "head": true, "meta": true, "title": true, "body": true,
	"div": true, "p": true, "span": true, "a": true, "img": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true, "caption": true,
	"tr": true, "th": true, "td": true,
	"blockquote": true, "pre": true, "code": true, "sub": true, "sup": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"em": true, "strong": true, "b": true, "i": true, "u": true,
	"small": true, "big": true, "br": true, "hr": true,
}

var unwrapTags = map[string]bool{
	"tt": true, "section": true, "article": true, "main": true, "font": true,
	"abbr": true, "cite": true, "kbd": true, "samp": true, "var": true,
	"figure": true, "figcaption": true,
}

// chromeClasses mark navigation and sidebars generated around the content.
var chromeClasses = []string{"related", "sphinxsidebar", "sphinxsidebarwrapper", "footer", "headerlink"}

var tagAttrs = map[string][]string{
	"a":   {"href", "target", "title"},
	"img": {"src", "alt", "width", "height", "title"},
	"td":  {"rowspan", "colspan"},
	"th":  {"rowspan", "colspan"},
	"pre": {"data-lang"},
	"ol":  {"start"},
}

// refFunc rewrites a local reference found in a page. It returns the
// href to keep.
type refFunc func(href string) (string, error)

// sanitize reduces a page to the allowed subset in place. Code blocks
// rendered by a highlighter become <pre data-lang>, page chrome is
// removed, and every local href or image source goes through ref.
func sanitize(doc *html.Node, ref refFunc) error {
	for _, div := range markup.FindAll(doc, isHighlight) {
		markup.Replace(div, codeBlock(div))
	}
	for _, n := range markup.FindAll(doc, isChrome) {
		markup.Remove(n)
	}
	return clean(doc, ref)
}

func isHighlight(n *html.Node) bool {
	return n.Data == "div" && highlightLang(n) != ""
}

func highlightLang(n *html.Node) string {
	for _, c := range markup.Classes(n) {
		if lang, ok := strings.CutPrefix(c, "highlight-"); ok && lang != "" {
			return lang
		}
	}
	return ""
}

func codeBlock(div *html.Node) *html.Node {
	source := div
	if inner := markup.Find(div, markup.ByTag("pre")); inner != nil {
		source = inner
	}
	pre := markup.Element("pre", html.Attribute{Key: "data-lang", Val: highlightLang(div)})
	pre.AppendChild(markup.TextNode(markup.Text(source)))
	return pre
}

func isChrome(n *html.Node) bool {
	if n.Data == "nav" {
		return true
	}
	for _, c := range chromeClasses {
		if markup.HasClass(n, c) {
			return true
		}
	}
	return false
}

func clean(n *html.Node, ref refFunc) error {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode:
			n.RemoveChild(c)
		case html.ElementNode:
			if err := cleanElement(c, ref); err != nil {
				return err
			}
		}
		c = next
	}
	return nil
}

func cleanElement(n *html.Node, ref refFunc) error {
	tag := n.Data
	if !allowedTags[tag] {
		if !unwrapTags[tag] {
			markup.Remove(n)
			return nil
		}
		if err := clean(n, ref); err != nil {
			return err
		}
		markup.Unwrap(n)
		return nil
	}

	switch tag {
	case "span":
		if err := clean(n, ref); err != nil {
			return err
		}
		markup.Unwrap(n)
		return nil
	case "meta":
		if !isHomepageMeta(n) {
			markup.Remove(n)
			return nil
		}
		n.Attr = []html.Attribute{{Key: "name", Val: "homepage"}, {Key: "content", Val: "true"}}
		return nil
	case "img":
		if _, ok := markup.Attr(n, "src"); !ok {
			markup.Remove(n)
			return nil
		}
	case "pre":
		// code is kept verbatim
		n.Attr = keepAttrs(n, tag)
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.CommentNode {
				n.RemoveChild(c)
			}
			c = next
		}
		text := markup.Text(n)
		for n.FirstChild != nil {
			n.RemoveChild(n.FirstChild)
		}
		n.AppendChild(markup.TextNode(text))
		return nil
	}

	n.Attr = keepAttrs(n, tag)
	switch tag {
	case "a":
		href := markup.AttrOr(n, "href", "#")
		rewritten, err := ref(href)
		if err != nil {
			return err
		}
		markup.SetAttr(n, "href", rewritten)
	case "img":
		src := markup.AttrOr(n, "src", "")
		rewritten, err := ref(src)
		if err != nil {
			return err
		}
		if rewritten == "#" {
			markup.Remove(n)
			return nil
		}
		markup.SetAttr(n, "src", rewritten)
	}
	return clean(n, ref)
}

func keepAttrs(n *html.Node, tag string) []html.Attribute {
	var kept []html.Attribute
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		if a.Key == "id" || a.Key == "style" {
			kept = append(kept, a)
			continue
		}
		for _, allowed := range tagAttrs[tag] {
			if a.Key == allowed {
				kept = append(kept, a)
				break
			}
		}
	}
	return kept
}

func isHomepageMeta(n *html.Node) bool {
	if markup.AttrOr(n, "name", "") != "homepage" {
		return false
	}
	v := markup.AttrOr(n, "content", markup.AttrOr(n, "value", ""))
	return strings.EqualFold(v, "true")
}
