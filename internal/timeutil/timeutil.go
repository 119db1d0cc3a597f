// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package timeutil normalizes the lax timestamps found in post front matter
// to the canonical form used everywhere else in AgBlogger:
//
//	YYYY-MM-DD HH:MM:SS.ffffff±HHMM
//
// Microsecond precision, explicit UTC offset. Parse is total over the
// documented accepts set; Format always emits the canonical layout, so
// Parse(Format(t)) is the identity for offset-aware instants.
package timeutil

import (
	"errors"
	"strings"
	"time"

	"github.com/agblogger/agblogger/internal/logging"
)

// CanonicalLayout is the strict output layout. The .000000 verb prints
// exactly six fractional digits.
const CanonicalLayout = "2006-01-02 15:04:05.000000-0700"

// ErrBadFormat is returned when the input matches none of the accepted
// datetime shapes.
var ErrBadFormat = errors.New("unparseable datetime")

// acceptLayouts are the lax input shapes, most specific first. The .9 verbs
// make the fraction optional, and the Z verbs accept both "Z" and numeric
// offsets.
var acceptLayouts = []string{
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04Z0700",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15Z0700",
	"2006-01-02 15Z07:00",
}

// naiveLayouts are the offset-free shapes, interpreted in the site timezone.
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02 15",
	"2006-01-02",
}

// Normalizer parses lax timestamps, resolving offset-free values against the
// site's configured timezone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer builds a Normalizer for the given IANA timezone name.
// An empty or invalid name falls back to UTC with a logged warning.
func NewNormalizer(tz string) *Normalizer {
	if tz == "" {
		return &Normalizer{loc: time.UTC}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logging.Warn().Str("timezone", tz).Err(err).Msg("Invalid site timezone, falling back to UTC")
		return &Normalizer{loc: time.UTC}
	}
	return &Normalizer{loc: loc}
}

// Location returns the site timezone this normalizer resolves naive
// timestamps against.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Parse converts a lax timestamp string to an offset-aware instant.
// Accepted: ISO 8601 with either "T" or " " as the date/time separator, any
// prefix subset of the time fields, optional fractional seconds, optional
// offset (or "Z"). Missing time fields default to zero; a missing offset
// means site-local. Returns ErrBadFormat for anything else.
func (n *Normalizer) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return time.Time{}, ErrBadFormat
	}

	// Normalize the ISO "T" separator so one layout set covers both forms.
	if len(s) > 10 && (s[10] == 'T' || s[10] == 't') {
		s = s[:10] + " " + s[11:]
	}

	for _, layout := range acceptLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrBadFormat
}

// Format renders an instant in the canonical layout.
func Format(t time.Time) string {
	return t.Format(CanonicalLayout)
}

// Canonicalize parses a lax timestamp and re-emits it canonically.
func (n *Normalizer) Canonicalize(s string) (string, error) {
	t, err := n.Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}
