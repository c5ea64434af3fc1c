package outline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	apperr "github.com/klauern/docsync/internal/errors"
)

// Node is one entry of the navigation manifest.
type Node struct {
	Path     string
	Children []Node
}

// Manifest is the ordered navigation forest stored as
// [{"index.html": [{"a.html": null}, {"b.html": [...]}]}].
type Manifest []Node

// ParseManifest decodes a manifest, keeping sibling order as written.
func ParseManifest(r io.Reader) (Manifest, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrMalformedManifest, "read manifest", err)
	}
	if tok != json.Delim('[') {
		return nil, apperr.Newf(apperr.ErrMalformedManifest, "manifest must be a list, got %v", tok)
	}

	nodes, err := decodeList(dec)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrMalformedManifest, "decode manifest", err)
	}
	return Manifest(nodes), nil
}

// decodeList reads {path: children} objects up to and including the closing ']'.
func decodeList(dec *json.Decoder) ([]Node, error) {
	var nodes []Node
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("expected object, got %v", tok)
		}

		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("expected path key, got %v", keyTok)
			}

			valTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			node := Node{Path: key}
			switch v := valTok.(type) {
			case nil:
			case json.Delim:
				if v != '[' {
					return nil, fmt.Errorf("children of %q must be a list", key)
				}
				if node.Children, err = decodeList(dec); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("children of %q must be a list or null, got %v", key, v)
			}
			nodes = append(nodes, node)
		}

		if _, err := dec.Token(); err != nil { // '}'
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil { // ']'
		return nil, err
	}
	return nodes, nil
}

// MarshalJSON encodes the manifest in its on-disk form.
func (m Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeList(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeList(buf *bytes.Buffer, nodes []Node) error {
	buf.WriteByte('[')
	for i, n := range nodes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.Path)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		buf.Write(key)
		buf.WriteByte(':')
		if n.Children == nil {
			buf.WriteString("null")
		} else if err := encodeList(buf, n.Children); err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return nil
}
