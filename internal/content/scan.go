// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package content

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
)

// postsPattern matches markdown posts at any depth.
const postsPattern = "posts/**/*.md"

// ScanPosts walks posts/**.md and parses every file. Individual file
// failures (unreadable, over size, NUL bytes) are logged and skipped;
// permission errors skip the affected subtree. The scan itself only fails on
// a broken root.
func (s *Store) ScanPosts(ctx context.Context) ([]*PostFile, error) {
	var posts []*PostFile

	err := filepath.WalkDir(s.root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				logging.Warn().Str("path", absPath).Msg("Permission denied, skipping subtree")
				return fs.SkipDir
			}
			return walkErr
		}

		rel, err := s.Rel(absPath)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if isDotSegment(d.Name()) && rel != "." {
				return fs.SkipDir
			}
			return nil
		}
		if isDotSegment(d.Name()) {
			return nil
		}

		match, err := doublestar.Match(postsPattern, rel)
		if err != nil || !match {
			return nil
		}

		post, ok := s.scanOne(rel, absPath)
		if ok {
			posts = append(posts, post)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// scanOne reads and parses a single post, reporting failures as skips.
func (s *Store) scanOne(rel, abs string) (*PostFile, bool) {
	data, err := os.ReadFile(abs)
	if err != nil {
		logging.Warn().Str("path", rel).Err(err).Msg("Skipping unreadable post")
		return nil, false
	}
	if err := s.CheckMarkdown(data); err != nil {
		logging.Warn().Str("path", rel).Err(err).Msg("Skipping post failing guardrails")
		return nil, false
	}
	post, err := parsePostFile(rel, data, s.normalizer)
	if err != nil {
		logging.Warn().Str("path", rel).Err(err).Msg("Skipping unparseable post")
		return nil, false
	}
	return post, true
}

// ScanAll produces a manifest over every file under the content root,
// excluding dot-files and dot-directories (which keeps .git and local state
// files off the sync surface).
func (s *Store) ScanAll(ctx context.Context) ([]models.ManifestEntry, error) {
	var entries []models.ManifestEntry

	err := filepath.WalkDir(s.root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				logging.Warn().Str("path", absPath).Msg("Permission denied, skipping subtree")
				return fs.SkipDir
			}
			return walkErr
		}

		rel, err := s.Rel(absPath)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if isDotSegment(d.Name()) && rel != "." {
				return fs.SkipDir
			}
			return nil
		}
		if isDotSegment(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logging.Warn().Str("path", rel).Err(err).Msg("Skipping unstatable file")
			return nil
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			logging.Warn().Str("path", rel).Err(err).Msg("Skipping unreadable file")
			return nil
		}

		entries = append(entries, models.ManifestEntry{
			FilePath:    rel,
			ContentHash: HashBytes(data),
			FileSize:    info.Size(),
			FileMtime:   info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func isDotSegment(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
