// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package render

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agblogger/agblogger/internal/sanitizer"
)

func TestEngineConvert(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "gfm table",
			input: "| a | b |\n|---|---|\n| 1 | 2 |\n",
			want:  []string{"<table>", "<td>1</td>"},
		},
		{
			name:  "fenced code gets chroma classes",
			input: "```go\nx := 1\n```\n",
			want:  []string{"<pre", "class"},
		},
		{
			name:  "task list",
			input: "- [x] done\n- [ ] todo\n",
			want:  []string{`type="checkbox"`, "checked"},
		},
		{
			name:  "strikethrough",
			input: "~~gone~~\n",
			want:  []string{"<del>gone</del>"},
		},
		{
			name:  "heading anchors",
			input: "## My Section\n",
			want:  []string{`id="my-section"`},
		},
		{
			name:  "block math passes through",
			input: "$$\\frac{1}{2}$$\n",
			want:  []string{`\frac{1}{2}`},
		},
		{
			name:  "emoji shortcode",
			input: "ship it :rocket:\n",
			want:  []string{"🚀"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Convert([]byte(tt.input))
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(out), want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func newEngineServer(t *testing.T) *httptest.Server {
	t.Helper()
	e := NewEngine()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/render", func(w http.ResponseWriter, req *http.Request) {
		src, _ := io.ReadAll(req.Body)
		html, err := e.Convert(src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Write(html)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()
	opts.BaseURL = baseURL
	c, err := NewClient(opts, sanitizer.New(sanitizer.Config{}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRenderSanitizes(t *testing.T) {
	srv := newEngineServer(t)
	c := newTestClient(t, srv.URL, Options{})

	out, err := c.Render(context.Background(), "# Hi\n\n<script>alert(1)</script>evil\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, ">Hi</h1>") {
		t.Errorf("heading lost: %q", out)
	}
	if strings.Contains(out, "script") || strings.Contains(out, "alert") {
		t.Errorf("script survived sanitizer: %q", out)
	}
	if !strings.Contains(out, "evil") {
		t.Errorf("text content lost: %q", out)
	}
}

func TestClientInputLimit(t *testing.T) {
	srv := newEngineServer(t)
	c := newTestClient(t, srv.URL, Options{MaxInput: 16})

	if _, err := c.Render(context.Background(), strings.Repeat("x", 64)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversize input = %v, want ErrTooLarge", err)
	}
}

func TestClientUnavailableEngine(t *testing.T) {
	srv := newEngineServer(t)
	srv.Close() // connection refused from here on
	c := newTestClient(t, srv.URL, Options{Timeout: time.Second})

	if _, err := c.Render(context.Background(), "# x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("dead engine = %v, want ErrUnavailable", err)
	}
}

func TestClientEngineFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/render", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusUnprocessableEntity)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, Options{})
	if _, err := c.Render(context.Background(), "# x"); !errors.Is(err, ErrFailed) {
		t.Errorf("engine failure = %v, want ErrFailed", err)
	}
}

func TestClientRecoversAfterOutage(t *testing.T) {
	e := NewEngine()
	healthy := false
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/render", func(w http.ResponseWriter, req *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		src, _ := io.ReadAll(req.Body)
		html, _ := e.Convert(src)
		w.Write(html)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, Options{Timeout: time.Second})

	if _, err := c.Render(context.Background(), "# x"); err == nil {
		t.Fatal("render succeeded against sick engine")
	}
	healthy = true
	out, err := c.Render(context.Background(), "# x")
	if err != nil {
		t.Fatalf("render after recovery: %v", err)
	}
	if !strings.Contains(out, ">x</h1>") {
		t.Errorf("output = %q", out)
	}
}
