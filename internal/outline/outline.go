// Package outline derives parent/child relationships between pages from
// the navigation manifest written alongside the mirrored content.
package outline

import (
	"fmt"
	"os"
	"path"
	"strings"

	apperr "github.com/klauern/docsync/internal/errors"
)

// Issue records a manifest problem tolerated in lenient mode.
type Issue struct {
	Type    string // "recurring"
	Path    string
	Message string
}

// Outline maps every page path to its ancestor chain, root first.
type Outline struct {
	ancestors map[string][]string
	order     []string
	// Warnings lists the problems skipped in lenient mode.
	Warnings []Issue
}

// Resolve walks the manifest depth first. Each path keeps the chain of its
// first occurrence; a recurring path fails with MalformedManifest when
// strict is set and is skipped otherwise.
func Resolve(m Manifest, strict bool) (*Outline, error) {
	o := &Outline{ancestors: make(map[string][]string)}

	var walk func(nodes []Node, stack []string) error
	walk = func(nodes []Node, stack []string) error {
		for _, n := range nodes {
			p := CleanPath(n.Path)
			next := stack

			switch chain, seen := o.ancestors[p]; {
			case p == "":
				// placeholder entries keep their children under the current parent
			case seen:
				if strict {
					return apperr.Newf(apperr.ErrMalformedManifest, "path %q appears more than once", p)
				}
				o.Warnings = append(o.Warnings, Issue{
					Type:    "recurring",
					Path:    p,
					Message: fmt.Sprintf("path %q appears more than once, keeping first occurrence", p),
				})
				next = appendChain(chain, p)
			default:
				chain := append([]string(nil), stack...)
				o.ancestors[p] = chain
				o.order = append(o.order, p)
				next = appendChain(chain, p)
			}

			if err := walk(n.Children, next); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(m, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// Load reads and resolves a manifest file.
func Load(file string, strict bool) (*Outline, error) {
	f, err := os.Open(file) // #nosec G304 - manifest lives in the mirror work tree
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, err
	}
	return Resolve(m, strict)
}

// Ancestors returns a copy of p's ancestor chain, root first.
func (o *Outline) Ancestors(p string) ([]string, bool) {
	if o == nil {
		return nil, false
	}
	chain, ok := o.ancestors[CleanPath(p)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out, true
}

// Parent returns p's immediate parent. Roots have no parent.
func (o *Outline) Parent(p string) (string, bool) {
	chain, ok := o.Ancestors(p)
	if !ok || len(chain) == 0 {
		return "", false
	}
	return chain[len(chain)-1], true
}

// Contains reports whether p appears in the outline.
func (o *Outline) Contains(p string) bool {
	if o == nil {
		return false
	}
	_, ok := o.ancestors[CleanPath(p)]
	return ok
}

// Paths returns all paths in traversal order, so parents precede children.
func (o *Outline) Paths() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.order...)
}

// Len returns the number of distinct paths.
func (o *Outline) Len() int {
	if o == nil {
		return 0
	}
	return len(o.order)
}

// CleanPath strips fragment and query from an href and normalizes it.
// Anchor-only and empty hrefs clean to "".
func CleanPath(href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	cleaned := path.Clean(href)
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/")
}

func appendChain(chain []string, p string) []string {
	next := make([]string, 0, len(chain)+1)
	next = append(next, chain...)
	return append(next, p)
}
