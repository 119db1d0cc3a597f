// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package tomlcfg reads and writes the two TOML files that live inside the
// content directory: index.toml (site metadata and the ordered page list)
// and labels.toml (explicit label definitions). Parse failures degrade to
// defaults with a logged warning because the content directory may be edited
// by hand; write failures propagate because they mean lost state.
package tomlcfg

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/agblogger/agblogger/internal/fsutil"
	"github.com/agblogger/agblogger/internal/logging"
)

// TimelinePageID is the special page id denoting the built-in post timeline.
const TimelinePageID = "timeline"

var pageIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Site holds the [site] table of index.toml.
type Site struct {
	Title         string `toml:"title"`
	Description   string `toml:"description,omitempty"`
	DefaultAuthor string `toml:"default_author,omitempty"`
	Timezone      string `toml:"timezone,omitempty"`
}

// Page is one [[pages]] entry of index.toml. Order in the file is the
// display order.
type Page struct {
	ID    string `toml:"id"`
	Title string `toml:"title"`
	File  string `toml:"file,omitempty"`
}

// Index is the decoded index.toml.
type Index struct {
	Site  Site   `toml:"site"`
	Pages []Page `toml:"pages"`
}

// DefaultIndex returns the configuration used when index.toml is missing or
// unreadable.
func DefaultIndex() *Index {
	return &Index{
		Site:  Site{Title: "AgBlogger"},
		Pages: []Page{{ID: TimelinePageID, Title: "Timeline"}},
	}
}

// LabelDef is one [labels.<id>] entry of labels.toml. Both the singular
// `parent` and plural `parents` spellings are accepted.
type LabelDef struct {
	Names   []string `toml:"names,omitempty"`
	Parent  string   `toml:"parent,omitempty"`
	Parents []string `toml:"parents,omitempty"`
}

// ParentIDs merges the parent/parents spellings into one deduplicated list.
func (d LabelDef) ParentIDs() []string {
	seen := make(map[string]struct{}, len(d.Parents)+1)
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(d.Parent)
	for _, id := range d.Parents {
		add(id)
	}
	return out
}

// LabelsFile is the decoded labels.toml.
type LabelsFile struct {
	Labels map[string]LabelDef `toml:"labels"`
}

// LoadIndex reads index.toml. A missing or malformed file returns the
// defaults with a logged warning; only I/O-level surprises are errors for
// the caller. Pages with invalid ids are dropped with a warning.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultIndex(), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var idx Index
	if err := toml.Unmarshal(data, &idx); err != nil {
		logging.Warn().Str("path", path).Err(err).Msg("Malformed index.toml, using defaults")
		return DefaultIndex(), nil
	}
	if idx.Site.Title == "" {
		idx.Site.Title = "AgBlogger"
	}

	valid := idx.Pages[:0]
	for _, p := range idx.Pages {
		if !pageIDPattern.MatchString(p.ID) {
			logging.Warn().Str("page_id", p.ID).Msg("Dropping page with invalid id")
			continue
		}
		valid = append(valid, p)
	}
	idx.Pages = valid
	return &idx, nil
}

// SaveIndex writes index.toml atomically.
func SaveIndex(path string, idx *Index) error {
	return saveTOML(path, idx)
}

// LoadLabels reads labels.toml. Missing or malformed files yield an empty
// definition set with a logged warning.
func LoadLabels(path string) (*LabelsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LabelsFile{Labels: map[string]LabelDef{}}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lf LabelsFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		logging.Warn().Str("path", path).Err(err).Msg("Malformed labels.toml, using empty label set")
		return &LabelsFile{Labels: map[string]LabelDef{}}, nil
	}
	if lf.Labels == nil {
		lf.Labels = map[string]LabelDef{}
	}
	return &lf, nil
}

// SaveLabels writes labels.toml atomically. The TOML encoder emits label
// tables in sorted key order, which keeps diffs stable under git.
func SaveLabels(path string, lf *LabelsFile) error {
	return saveTOML(path, lf)
}

func saveTOML(path string, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
