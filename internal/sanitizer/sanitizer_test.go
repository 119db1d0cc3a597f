// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package sanitizer

import (
	"strings"
	"testing"
)

func TestSanitizeStripsScriptConstructs(t *testing.T) {
	s := New(Config{})

	tests := []struct {
		name  string
		input string
		deny  []string
		allow []string
	}{
		{
			name:  "script tag and content removed",
			input: `<p>hi</p><script>alert(1)</script><p>bye</p>`,
			deny:  []string{"<script", "alert"},
			allow: []string{"<p>hi</p>", "<p>bye</p>"},
		},
		{
			name:  "event handlers removed",
			input: `<a href="https://example.com" onclick="evil()">x</a>`,
			deny:  []string{"onclick"},
			allow: []string{`href="https://example.com"`},
		},
		{
			name:  "style attribute dropped",
			input: `<div style="width:expression(alert(1))">x</div>`,
			deny:  []string{"style"},
			allow: []string{"<div>x</div>"},
		},
		{
			name:  "javascript scheme rejected",
			input: `<a href="javascript:alert(1)">x</a>`,
			deny:  []string{"javascript"},
			allow: []string{"<a>x</a>"},
		},
		{
			name:  "vbscript scheme rejected",
			input: `<a href="vbscript:msgbox">x</a>`,
			deny:  []string{"vbscript"},
		},
		{
			name:  "data url rejected by default",
			input: `<img src="data:image/png;base64,AAAA">`,
			deny:  []string{"data:"},
		},
		{
			name:  "case tricks rejected",
			input: `<a href="JaVaScRiPt:alert(1)">x</a>`,
			deny:  []string{"alert", "JaVaScRiPt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			for _, d := range tt.deny {
				if strings.Contains(got, d) {
					t.Errorf("output contains %q: %s", d, got)
				}
			}
			for _, a := range tt.allow {
				if !strings.Contains(got, a) {
					t.Errorf("output missing %q: %s", a, got)
				}
			}
		})
	}
}

func TestSanitizeKeepsAllowedMarkup(t *testing.T) {
	s := New(Config{})

	input := `<h2 id="intro">Intro</h2><p>text <em>em</em> <code class="language-go">x := 1</code></p>` +
		`<table><thead><tr><th align="left">a</th></tr></thead><tbody><tr><td>1</td></tr></tbody></table>` +
		`<img src="/images/a.png" alt="a">`
	got := s.Sanitize(input)

	for _, want := range []string{`id="intro"`, "<em>em</em>", `class="language-go"`, `th align="left"`, `src="/images/a.png"`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %s", want, got)
		}
	}
}

func TestSanitizeIframePolicy(t *testing.T) {
	s := New(Config{})

	t.Run("youtube embed survives with forced attrs", func(t *testing.T) {
		got := s.Sanitize(`<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ" width="9999" onload="evil()"></iframe>`)
		for _, want := range []string{
			`src="https://www.youtube.com/embed/dQw4w9WgXcQ"`,
			"allowfullscreen",
			`loading="lazy"`,
			`referrerpolicy="no-referrer"`,
			`sandbox="allow-scripts allow-same-origin allow-popups"`,
		} {
			if !strings.Contains(got, want) {
				t.Errorf("missing %q in %s", want, got)
			}
		}
		for _, deny := range []string{"onload", "9999"} {
			if strings.Contains(got, deny) {
				t.Errorf("user attribute survived: %q in %s", deny, got)
			}
		}
	})

	t.Run("nocookie embed survives", func(t *testing.T) {
		got := s.Sanitize(`<iframe src="https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ"></iframe>`)
		if !strings.Contains(got, "youtube-nocookie.com/embed/dQw4w9WgXcQ") {
			t.Errorf("nocookie embed rejected: %s", got)
		}
	})

	t.Run("shorts survives", func(t *testing.T) {
		got := s.Sanitize(`<iframe src="https://www.youtube.com/shorts/dQw4w9WgXcQ"></iframe>`)
		if !strings.Contains(got, "shorts/dQw4w9WgXcQ") {
			t.Errorf("shorts rejected: %s", got)
		}
	})

	t.Run("other iframes removed entirely", func(t *testing.T) {
		for _, src := range []string{
			"https://evil.example/embed/dQw4w9WgXcQ",
			"https://www.youtube.com/embed/short",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			"http://www.youtube.com/embed/dQw4w9WgXcQ",
		} {
			got := s.Sanitize(`<iframe src="` + src + `">fallback</iframe>`)
			if strings.Contains(got, "iframe") {
				t.Errorf("iframe with src %q survived: %s", src, got)
			}
		}
	})
}

func TestSanitizeDataImagesConfigurable(t *testing.T) {
	s := New(Config{AllowDataImages: true})
	got := s.Sanitize(`<img src="data:image/png;base64,AAAA">`)
	if !strings.Contains(got, "data:image/png") {
		t.Errorf("configured data image rejected: %s", got)
	}
	got = s.Sanitize(`<a href="data:text/html;base64,AAAA">x</a>`)
	if strings.Contains(got, "data:") {
		t.Errorf("non-image data URL survived: %s", got)
	}
}

func TestSanitizeClosesDanglingTags(t *testing.T) {
	s := New(Config{})
	got := s.Sanitize(`<div><p>unclosed <em>nested`)
	for _, want := range []string{"</em>", "</p>", "</div>"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing close tag %q in %s", want, got)
		}
	}
}

func TestSanitizeUnknownTagKeepsText(t *testing.T) {
	s := New(Config{})
	got := s.Sanitize(`<article><p>kept</p></article>`)
	if strings.Contains(got, "article") {
		t.Errorf("unknown tag survived: %s", got)
	}
	if !strings.Contains(got, "<p>kept</p>") {
		t.Errorf("children of unknown tag lost: %s", got)
	}
}
