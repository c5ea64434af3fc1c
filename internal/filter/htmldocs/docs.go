package htmldocs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/klauern/docsync/internal/change"
	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/markup"
	"github.com/klauern/docsync/internal/model"
	"github.com/klauern/docsync/internal/outline"
)

// IndexPage is the entry point of a documentation tree. Its navigation
// menus define the outline.
const IndexPage = "index.html"

var externalSchemes = map[string]bool{"http": true, "https": true, "ftp": true, "mailto": true}

// docWriter copies a documentation tree into the mirror, starting from
// the index page and following every local reference.
type docWriter struct {
	srcRoot string
	outRoot string
	strict  bool
	logger  *slog.Logger
	written map[string]bool
}

func newDocWriter(srcRoot, outRoot string, strict bool, logger *slog.Logger) *docWriter {
	return &docWriter{
		srcRoot: srcRoot,
		outRoot: outRoot,
		strict:  strict,
		logger:  logger,
		written: make(map[string]bool),
	}
}

// writeTree filters the tree under srcRoot into outRoot and writes the
// manifest. It reports false when the tree has no index page.
func writeTree(srcRoot, outRoot string, strict bool, logger *slog.Logger) (bool, error) {
	data, err := os.ReadFile(filepath.Join(srcRoot, IndexPage))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read index page: %w", err)
	}
	doc, err := markup.Parse(strings.NewReader(string(data)))
	if err != nil {
		return false, fmt.Errorf("parse index page: %w", err)
	}

	d := newDocWriter(srcRoot, outRoot, strict, logger)
	if err := d.emit(IndexPage); err != nil {
		return false, err
	}

	seen := map[string]bool{IndexPage: true}
	var children []outline.Node
	for _, menu := range navigation(doc) {
		nodes, err := d.menuNodes(menu, seen)
		if err != nil {
			return false, err
		}
		children = append(children, nodes...)
	}
	if len(children) == 0 {
		logger.Warn("index page has no navigation menu, publishing it alone")
	}

	manifest := outline.Manifest{{Path: IndexPage, Children: children}}
	out, err := json.MarshalIndent(manifest, "", " ")
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outRoot, change.ManifestName), append(out, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}
	return true, nil
}

// emit copies one file, sanitizing pages on the way.
func (d *docWriter) emit(rel string) error {
	if d.written[rel] {
		return nil
	}
	d.written[rel] = true

	src := filepath.Join(d.srcRoot, filepath.FromSlash(rel))
	dst := filepath.Join(d.outRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if model.ContentTypeOf(rel) == model.ContentPage {
		return d.emitPage(rel, src, dst)
	}
	return copyFile(src, dst)
}

func (d *docWriter) emitPage(rel, src, dst string) error {
	f, err := os.Open(src) // #nosec G304 - path is confined to the checkout
	if err != nil {
		return fmt.Errorf("open page %s: %w", rel, err)
	}
	doc, err := markup.Parse(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("parse page %s: %w", rel, err)
	}

	err = sanitize(doc, func(href string) (string, error) {
		return d.reference(rel, href)
	})
	if err != nil {
		return err
	}
	out, err := markup.Render(doc)
	if err != nil {
		return fmt.Errorf("render page %s: %w", rel, err)
	}
	return os.WriteFile(dst, []byte(out), 0o644)
}

// reference handles an href found in page: local targets are copied,
// external ones kept, and unresolvable ones reported or replaced by "#".
func (d *docWriter) reference(page, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return href, nil
	}
	if markup.IsExternal(href) {
		scheme, _, _ := strings.Cut(href, ":")
		if strings.HasPrefix(href, "//") || externalSchemes[strings.ToLower(scheme)] {
			return href, nil
		}
		return d.unresolved(page, href, "uses an unsupported scheme")
	}
	target, ok := markup.ResolveHref(page, href)
	if !ok {
		if markup.StripRef(href) == "" {
			return href, nil
		}
		return d.unresolved(page, href, "points outside the documentation root")
	}
	info, err := os.Stat(filepath.Join(d.srcRoot, filepath.FromSlash(target)))
	if err != nil || info.IsDir() {
		return d.unresolved(page, href, "does not exist")
	}
	if err := d.emit(target); err != nil {
		return "", err
	}
	return href, nil
}

func (d *docWriter) unresolved(page, href, reason string) (string, error) {
	if d.strict {
		return "", apperr.Newf(apperr.ErrUnresolvedReference, "%s: reference %q %s", page, href, reason)
	}
	d.logger.Warn("dropping unresolved reference", logging.Path(page), "href", href, "reason", reason)
	return "#", nil
}

// menuNodes turns a navigation list into manifest nodes. Entries pointing
// at a page already in the outline (typically anchors into it) become
// placeholders so their children stay in place.
func (d *docWriter) menuNodes(ul *html.Node, seen map[string]bool) ([]outline.Node, error) {
	var nodes []outline.Node
	for li := ul.FirstChild; li != nil; li = li.NextSibling {
		if !markup.IsElement(li, "li") {
			continue
		}
		var node outline.Node
		if a := menuLink(li); a != nil {
			target, err := d.menuTarget(markup.AttrOr(a, "href", ""))
			if err != nil {
				return nil, err
			}
			if target != "" && !seen[target] {
				seen[target] = true
				node.Path = target
			}
		}
		if sub := childMenu(li); sub != nil {
			children, err := d.menuNodes(sub, seen)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		if node.Path == "" && len(node.Children) == 0 {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// menuTarget resolves a menu href relative to the index page and copies
// the page it names. It returns "" for entries to leave out.
func (d *docWriter) menuTarget(href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || markup.IsExternal(href) {
		return "", nil
	}
	if _, err := d.reference(IndexPage, href); err != nil {
		return "", err
	}
	target, ok := markup.ResolveHref(IndexPage, href)
	if !ok || !d.written[target] {
		return "", nil
	}
	return target, nil
}

func menuLink(li *html.Node) *html.Node {
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data == "ul" || c.Data == "ol" {
			continue
		}
		if a := markup.Find(c, markup.ByTag("a")); a != nil {
			return a
		}
	}
	return nil
}

func childMenu(li *html.Node) *html.Node {
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if ul := markup.Find(c, markup.ByTag("ul")); ul != nil {
			return ul
		}
	}
	return nil
}

// navigation finds the menus of an index page: the first local link list
// inside each toctree wrapper and each innermost section.
func navigation(doc *html.Node) []*html.Node {
	var menus []*html.Node
	found := make(map[*html.Node]bool)
	for _, container := range markup.FindAll(doc, isNavContainer) {
		ul := markup.Find(container, isMenu)
		if ul == nil || found[ul] {
			continue
		}
		found[ul] = true
		menus = append(menus, ul)
	}
	return menus
}

func isNavContainer(n *html.Node) bool {
	if markup.HasClass(n, "toctree-wrapper") {
		return true
	}
	if !isSection(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && markup.Find(c, isSection) != nil {
			return false
		}
	}
	return true
}

func isSection(n *html.Node) bool {
	return n.Data == "section" || markup.HasClass(n, "section")
}

// isMenu matches lists holding at least one local link.
func isMenu(n *html.Node) bool {
	if n.Data != "ul" {
		return false
	}
	for _, a := range markup.FindAll(n, markup.ByTag("a")) {
		href := markup.AttrOr(a, "href", "")
		if href != "" && !strings.Contains(href, "//") && !strings.HasPrefix(href, "#") {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - path is confined to the checkout
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// clearDir removes everything inside dir, keeping dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
