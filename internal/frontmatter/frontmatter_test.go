// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package frontmatter

import (
	"strings"
	"testing"
)

func TestSplitRecognizedFields(t *testing.T) {
	data := []byte(`---
created_at: 2024-03-05 08:15:30.000000+0000
author: alice
labels:
  - "#tech"
  - swe
  - "#tech"
draft: true
---
# Hello

Body text.
`)

	h, body := Split(data)

	if h.CreatedAt != "2024-03-05 08:15:30.000000+0000" {
		t.Errorf("CreatedAt = %q", h.CreatedAt)
	}
	if h.Author != "alice" {
		t.Errorf("Author = %q", h.Author)
	}
	if !h.Draft {
		t.Error("Draft = false, want true")
	}
	if len(h.Labels) != 2 || h.Labels[0] != "tech" || h.Labels[1] != "swe" {
		t.Errorf("Labels = %v, want [tech swe]", h.Labels)
	}
	if !strings.HasPrefix(body, "# Hello") {
		t.Errorf("body = %q", body)
	}
}

func TestSplitNoFrontMatter(t *testing.T) {
	data := []byte("# Just a post\n\nNo header here.\n")
	h, body := Split(data)

	if !h.IsZero() {
		t.Errorf("header not zero: %+v", h)
	}
	if body != string(data) {
		t.Errorf("body = %q, want whole file", body)
	}
}

func TestSplitMalformedYAMLIsBody(t *testing.T) {
	data := []byte("---\n: : : not yaml [\n---\nbody\n")
	h, body := Split(data)

	if !h.IsZero() {
		t.Errorf("header not zero: %+v", h)
	}
	if body != string(data) {
		t.Errorf("body = %q, want whole file", body)
	}
}

func TestSplitUnclosedDelimiter(t *testing.T) {
	data := []byte("---\ntitle: dangling\n")
	h, body := Split(data)

	if !h.IsZero() || body != string(data) {
		t.Errorf("unclosed block must be treated as body, got header=%+v body=%q", h, body)
	}
}

func TestUnknownFieldsRoundTrip(t *testing.T) {
	data := []byte(`---
author: bob
series: distributed-systems
custom_weight: 17
---
body
`)

	h, body := Split(data)
	if got := h.ExtraKeys(); len(got) != 2 || got[0] != "series" || got[1] != "custom_weight" {
		t.Fatalf("ExtraKeys = %v", got)
	}

	out, err := Join(h, body)
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}

	h2, body2 := Split(out)
	if body2 != body {
		t.Errorf("body changed across round trip: %q", body2)
	}
	if got := h2.ExtraKeys(); len(got) != 2 || got[0] != "series" || got[1] != "custom_weight" {
		t.Errorf("extra fields lost across round trip: %v", got)
	}
	if !strings.Contains(string(out), "series: distributed-systems") {
		t.Errorf("serialized output missing unknown field:\n%s", out)
	}
}

func TestJoinZeroHeaderOmitsBlock(t *testing.T) {
	out, err := Join(&Header{}, "plain body\n")
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if string(out) != "plain body\n" {
		t.Errorf("Join = %q", out)
	}
}

func TestJoinLabelsGetHashPrefix(t *testing.T) {
	h := &Header{Author: "alice", Labels: []string{"tech", "swe"}}
	out, err := Join(h, "")
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if !strings.Contains(string(out), "#tech") {
		t.Errorf("labels not serialized with # prefix:\n%s", out)
	}
}
