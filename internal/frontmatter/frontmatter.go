// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package frontmatter splits markdown files into a YAML header and a body,
// and reassembles them. Unknown header fields round-trip verbatim: they are
// kept as raw yaml.Node pairs and re-emitted on serialization, so external
// tools can stash their own metadata in post files without AgBlogger
// destroying it.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Header is the parsed front-matter block of a post.
type Header struct {
	// CreatedAt and ModifiedAt hold timestamp strings exactly as found in
	// the file. Callers canonicalize them before writing.
	CreatedAt  string
	ModifiedAt string

	// Author of the post; the site default is substituted on write when
	// empty.
	Author string

	// Labels are label ids with any leading '#' stripped, deduplicated,
	// in file order.
	Labels []string

	// Draft marks the post as hidden from public listings.
	Draft bool

	// extra holds the unrecognized key/value node pairs, in file order.
	extra []*yaml.Node
}

// IsZero reports whether the header carries no fields at all.
func (h *Header) IsZero() bool {
	return h.CreatedAt == "" && h.ModifiedAt == "" && h.Author == "" &&
		len(h.Labels) == 0 && !h.Draft && len(h.extra) == 0
}

// ExtraKeys returns the unrecognized field names, in file order.
func (h *Header) ExtraKeys() []string {
	keys := make([]string, 0, len(h.extra)/2)
	for i := 0; i+1 < len(h.extra); i += 2 {
		keys = append(keys, h.extra[i].Value)
	}
	return keys
}

// SetExtraString adds or replaces an unrecognized field as a plain string.
func (h *Header) SetExtraString(key, value string) {
	for i := 0; i+1 < len(h.extra); i += 2 {
		if h.extra[i].Value == key {
			h.extra[i+1] = strScalar(value)
			return
		}
	}
	h.extra = append(h.extra, strScalar(key), strScalar(value))
}

// Split divides a markdown file into its front-matter header and body.
// A file without a leading "---" line, or with YAML that fails to parse,
// yields an empty header and the whole file as body. This never fails:
// malformed front matter is content, not an error.
func Split(data []byte) (*Header, string) {
	text := string(data)

	rest, ok := strings.CutPrefix(text, delimiter+"\n")
	if !ok {
		if rest, ok = strings.CutPrefix(text, delimiter+"\r\n"); !ok {
			return &Header{}, text
		}
	}

	raw, body, ok := cutClosingDelimiter(rest)
	if !ok {
		return &Header{}, text
	}

	header, err := parseHeader([]byte(raw))
	if err != nil {
		return &Header{}, text
	}
	return header, body
}

// cutClosingDelimiter finds the closing "---" line and returns the YAML text
// before it and the body after it.
func cutClosingDelimiter(s string) (header, body string, ok bool) {
	for idx := 0; idx <= len(s); {
		lineEnd := strings.IndexByte(s[idx:], '\n')
		var line string
		if lineEnd < 0 {
			line = s[idx:]
			lineEnd = len(s) - idx
		} else {
			line = s[idx : idx+lineEnd]
		}
		if strings.TrimRight(line, "\r") == delimiter {
			body = ""
			if idx+lineEnd+1 <= len(s) {
				body = s[idx+lineEnd+1:]
			}
			return s[:idx], body, true
		}
		if idx+lineEnd >= len(s) {
			break
		}
		idx += lineEnd + 1
	}
	return "", "", false
}

// parseHeader decodes the YAML mapping, pulling out recognized fields and
// keeping everything else as raw nodes.
func parseHeader(raw []byte) (*Header, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	h := &Header{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return h, nil // empty block between delimiters
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("front matter is not a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "created_at":
			h.CreatedAt = value.Value
		case "modified_at":
			h.ModifiedAt = value.Value
		case "author":
			h.Author = value.Value
		case "draft":
			var draft bool
			if err := value.Decode(&draft); err != nil {
				return nil, fmt.Errorf("draft field: %w", err)
			}
			h.Draft = draft
		case "labels":
			labels, err := decodeLabels(value)
			if err != nil {
				return nil, err
			}
			h.Labels = labels
		default:
			h.extra = append(h.extra, key, value)
		}
	}
	return h, nil
}

// decodeLabels accepts a YAML list of "#id" or bare id entries (or a single
// scalar) and returns deduplicated ids without the '#'.
func decodeLabels(node *yaml.Node) ([]string, error) {
	var entries []string
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&entries); err != nil {
			return nil, fmt.Errorf("labels field: %w", err)
		}
	case yaml.ScalarNode:
		if node.Value != "" {
			entries = []string{node.Value}
		}
	default:
		return nil, fmt.Errorf("labels field: unsupported YAML shape")
	}

	seen := make(map[string]struct{}, len(entries))
	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		id := strings.TrimPrefix(strings.TrimSpace(entry), "#")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		labels = append(labels, id)
	}
	return labels, nil
}

// Join serializes the header and body back into file bytes. Recognized
// fields come first in a stable order, then the preserved unknown fields.
// A zero header yields the bare body with no front-matter block.
func Join(h *Header, body string) ([]byte, error) {
	if h == nil || h.IsZero() {
		return []byte(body), nil
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	appendPair := func(key string, value *yaml.Node) {
		root.Content = append(root.Content, strScalar(key), value)
	}

	if h.CreatedAt != "" {
		appendPair("created_at", strScalar(h.CreatedAt))
	}
	if h.ModifiedAt != "" {
		appendPair("modified_at", strScalar(h.ModifiedAt))
	}
	if h.Author != "" {
		appendPair("author", strScalar(h.Author))
	}
	if len(h.Labels) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, id := range h.Labels {
			seq.Content = append(seq.Content, strScalar("#"+id))
		}
		appendPair("labels", seq)
	}
	if h.Draft {
		appendPair("draft", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"})
	}
	root.Content = append(root.Content, h.extra...)

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	buf.WriteString(delimiter + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

func strScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
