// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package render turns markdown into sanitized HTML. The conversion itself
// runs in a separate engine process (cmd/agblogger-md) so a pathological
// document can be killed without taking the server down; Client supervises
// that process. Engine is the conversion pipeline both sides share.
package render

import (
	"bytes"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/gohugoio/hugo-goldmark-extensions/passthrough"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Engine is the goldmark pipeline: GFM, footnotes, emoji shortcodes, chroma
// syntax highlighting with CSS classes, and math passthrough for client-side
// KaTeX. Raw HTML is let through here; the sanitizer downstream owns safety.
type Engine struct {
	md goldmark.Markdown
}

// NewEngine builds the conversion pipeline.
func NewEngine() *Engine {
	return &Engine{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				extension.Typographer,
				emoji.Emoji,
				highlighting.NewHighlighting(
					highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
				),
				passthrough.New(passthrough.Config{
					InlineDelimiters: []passthrough.Delimiters{{Open: "$", Close: "$"}, {Open: `\(`, Close: `\)`}},
					BlockDelimiters:  []passthrough.Delimiters{{Open: "$$", Close: "$$"}, {Open: `\[`, Close: `\]`}},
				}),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		),
	}
}

// Convert renders markdown to HTML. The output is NOT sanitized.
func (e *Engine) Convert(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render: convert: %w", err)
	}
	return buf.Bytes(), nil
}
