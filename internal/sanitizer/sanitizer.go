// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package sanitizer is the allowlist-based post-render HTML filter. Every
// rendered HTML string passes through Sanitize before it leaves the
// renderer: unknown tags are dropped (their text content kept), unknown
// attributes are discarded, URL attributes are scheme-checked, script
// bearing constructs are stripped, and iframes survive only for the YouTube
// embed forms with a forced attribute set.
package sanitizer

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Config tunes the few negotiable rules.
type Config struct {
	// AllowDataImages permits data:image/ URLs in img src attributes.
	AllowDataImages bool
}

// Sanitizer filters rendered HTML. Safe for concurrent use.
type Sanitizer struct {
	cfg Config
}

// New creates a Sanitizer.
func New(cfg Config) *Sanitizer {
	return &Sanitizer{cfg: cfg}
}

// allowedTags maps tag name to its allowed attributes. The class and id
// attributes are allowed globally (chroma highlighting and heading anchors
// depend on them).
var allowedTags = map[string]map[string]bool{
	"p": nil, "br": nil, "hr": nil,
	"h1": nil, "h2": nil, "h3": nil, "h4": nil, "h5": nil, "h6": nil,
	"blockquote": nil, "pre": nil, "div": nil,
	"ul": nil, "ol": {"start": true}, "li": nil,
	"table": nil, "thead": nil, "tbody": nil, "tr": nil,
	"th": {"align": true, "colspan": true, "rowspan": true},
	"td": {"align": true, "colspan": true, "rowspan": true},
	"figure": nil, "figcaption": nil,
	"details": {"open": true}, "summary": nil,
	"a":    {"href": true, "title": true, "rel": true},
	"em":   nil, "strong": nil, "del": nil, "s": nil,
	"code": nil, "span": nil, "sup": nil, "sub": nil, "mark": nil, "kbd": nil,
	"img": {"src": true, "data-src": true, "alt": true, "title": true, "width": true, "height": true, "loading": true},
	"input": {"type": true, "checked": true, "disabled": true}, // GFM task lists
}

// voidTags never receive a closing tag and are not tracked on the stack.
var voidTags = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true,
}

// urlAttrs are the attributes subject to scheme checks.
var urlAttrs = map[string]bool{"href": true, "src": true, "data-src": true}

// allowedSchemes for URL attributes. Empty scheme (relative, fragment, or
// scheme-relative) is also accepted.
var allowedSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// stripContentTags have both their tags and their text content removed.
var stripContentTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "object": true,
	"embed": true, "title": true, "textarea": true,
}

// youtubeEmbed matches the only iframe sources allowed through.
var youtubeEmbed = regexp.MustCompile(
	`^https://(?:www\.youtube\.com/(?:embed|shorts)|www\.youtube-nocookie\.com/embed)/[A-Za-z0-9_-]{11}$`)

// forcedIframe is the fixed attribute set every surviving iframe carries.
// User-supplied iframe attributes are discarded wholesale.
const forcedIframe = ` allowfullscreen loading="lazy" referrerpolicy="no-referrer" sandbox="allow-scripts allow-same-origin allow-popups"`

// Sanitize filters an HTML fragment. The output contains only allowlisted
// tags and attributes, with well-formed nesting: a stack of open elements
// guarantees every emitted start tag is eventually closed even when the
// input is truncated or interleaved.
func (s *Sanitizer) Sanitize(input string) string {
	var out strings.Builder
	out.Grow(len(input))

	z := html.NewTokenizer(strings.NewReader(input))
	var stack []string // open emitted elements
	skipUntil := ""    // non-empty: discarding content until this close tag
	skipDepth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		if skipUntil != "" {
			switch tt {
			case html.StartTagToken:
				if tok.Data == skipUntil {
					skipDepth++
				}
			case html.EndTagToken:
				if tok.Data == skipUntil {
					if skipDepth == 0 {
						skipUntil = ""
					} else {
						skipDepth--
					}
				}
			}
			continue
		}

		switch tt {
		case html.TextToken:
			out.WriteString(html.EscapeString(tok.Data))

		case html.StartTagToken, html.SelfClosingTagToken:
			name := tok.Data
			if name == "iframe" {
				if src, ok := allowedIframeSrc(tok.Attr); ok {
					out.WriteString(`<iframe src="` + html.EscapeString(src) + `"` + forcedIframe + `></iframe>`)
				}
				if tt == html.StartTagToken {
					skipUntil = "iframe"
					skipDepth = 0
				}
				continue
			}
			if stripContentTags[name] {
				if tt == html.StartTagToken {
					skipUntil = name
					skipDepth = 0
				}
				continue
			}
			attrs, ok := allowedTags[name]
			if !ok {
				continue // drop tag, keep children
			}
			s.writeTag(&out, name, tok.Attr, attrs)
			if !voidTags[name] && tt == html.StartTagToken {
				stack = append(stack, name)
			}

		case html.EndTagToken:
			name := tok.Data
			if _, ok := allowedTags[name]; !ok || voidTags[name] {
				continue
			}
			// Close intermediates so nesting stays well-formed when
			// children were removed or the input interleaves tags.
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == name {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue // unmatched close tag
			}
			for i := len(stack) - 1; i >= idx; i-- {
				out.WriteString("</" + stack[i] + ">")
			}
			stack = stack[:idx]

		case html.CommentToken, html.DoctypeToken:
			// dropped
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString("</" + stack[i] + ">")
	}
	return out.String()
}

// writeTag emits a start tag with only the allowed, checked attributes.
func (s *Sanitizer) writeTag(out *strings.Builder, name string, attrs []html.Attribute, perTag map[string]bool) {
	out.WriteString("<" + name)
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue // event handlers never pass
		}
		if key != "class" && key != "id" && !perTag[key] {
			continue
		}
		val := a.Val
		if urlAttrs[key] {
			checked, ok := s.checkURL(val, name == "img")
			if !ok {
				continue
			}
			val = checked
		}
		out.WriteString(" " + key + `="` + html.EscapeString(val) + `"`)
	}
	out.WriteString(">")
}

// checkURL validates a URL attribute value. Allowed: http, https, mailto,
// relative and scheme-relative forms, fragments, and (for images, when
// configured) data:image/ URLs.
func (s *Sanitizer) checkURL(raw string, isImage bool) (string, bool) {
	val := strings.TrimSpace(raw)
	if val == "" {
		return "", false
	}

	lower := strings.ToLower(val)
	if strings.HasPrefix(lower, "data:") {
		if s.cfg.AllowDataImages && isImage && strings.HasPrefix(lower, "data:image/") {
			return val, true
		}
		return "", false
	}

	u, err := url.Parse(val)
	if err != nil {
		return "", false
	}
	if u.Scheme == "" {
		return val, true // relative path, fragment, or scheme-relative
	}
	if allowedSchemes[strings.ToLower(u.Scheme)] {
		return val, true
	}
	return "", false
}

// allowedIframeSrc extracts and validates the src of an iframe token.
func allowedIframeSrc(attrs []html.Attribute) (string, bool) {
	for _, a := range attrs {
		if strings.ToLower(a.Key) != "src" {
			continue
		}
		src := strings.TrimSpace(a.Val)
		if youtubeEmbed.MatchString(src) {
			return src, true
		}
		return "", false
	}
	return "", false
}
