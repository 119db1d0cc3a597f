// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package content is the filesystem source of truth. It scans, reads,
// writes, and deletes markdown posts and assets under the content root, and
// guards every externally supplied path with resolve-and-contain checks.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agblogger/agblogger/internal/frontmatter"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/timeutil"
)

// DefaultMaxPostSize is the markdown size guardrail (10 MiB).
const DefaultMaxPostSize = 10 << 20

var (
	// ErrUnsafePath is returned when a path escapes the content root via
	// traversal, absolute form, or symlink.
	ErrUnsafePath = errors.New("path escapes content directory")

	// ErrNotFound is returned when the referenced file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrTooLarge is returned when a markdown file exceeds the size limit.
	ErrTooLarge = errors.New("post exceeds maximum size")

	// ErrBinaryContent is returned when markdown content contains NUL bytes.
	ErrBinaryContent = errors.New("post contains NUL bytes")
)

// Store exposes the content directory.
type Store struct {
	root          string // absolute path of the content dir
	rootResolved  string // root with symlinks resolved, for containment checks
	normalizer    *timeutil.Normalizer
	defaultAuthor string
	maxPostSize   int64
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultAuthor sets the author substituted on write when the front
// matter names none.
func WithDefaultAuthor(author string) Option {
	return func(s *Store) { s.defaultAuthor = author }
}

// WithMaxPostSize overrides the markdown size guardrail.
func WithMaxPostSize(limit int64) Option {
	return func(s *Store) { s.maxPostSize = limit }
}

// NewStore opens the content directory, creating it (and posts/) if absent.
func NewStore(root string, normalizer *timeutil.Normalizer, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "posts"), 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve content dir: %w", err)
	}

	s := &Store{
		root:         abs,
		rootResolved: resolved,
		normalizer:   normalizer,
		maxPostSize:  DefaultMaxPostSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute content directory.
func (s *Store) Root() string { return s.root }

// Normalizer returns the datetime normalizer the store canonicalizes with.
func (s *Store) Normalizer() *timeutil.Normalizer { return s.normalizer }

// MaxPostSize returns the configured markdown size limit.
func (s *Store) MaxPostSize() int64 { return s.maxPostSize }

// ResolveSafe canonicalizes a user-supplied relative path and asserts the
// result stays inside the content root, following symlinks on the existing
// prefix. Returns the absolute path or ErrUnsafePath.
func (s *Store) ResolveSafe(userPath string) (string, error) {
	if userPath == "" || strings.ContainsRune(userPath, 0) {
		return "", ErrUnsafePath
	}
	if filepath.IsAbs(userPath) || strings.HasPrefix(userPath, "/") || strings.HasPrefix(userPath, "\\") {
		return "", ErrUnsafePath
	}

	clean := filepath.Clean(filepath.FromSlash(userPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}

	abs := filepath.Join(s.root, clean)

	// Resolve symlinks on the deepest existing ancestor so a symlink planted
	// inside the tree cannot redirect writes outside it.
	resolved, err := resolveExistingPrefix(abs)
	if err != nil {
		return "", ErrUnsafePath
	}
	if resolved != s.rootResolved && !strings.HasPrefix(resolved, s.rootResolved+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return abs, nil
}

// resolveExistingPrefix walks up from path to the deepest existing ancestor,
// resolves its symlinks, and re-joins the non-existing remainder.
func resolveExistingPrefix(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

// Rel converts an absolute path under the root back to the slash-separated
// relative form used in manifests and the cache.
func (s *Store) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ReadPost reads and parses a single markdown post by relative path.
func (s *Store) ReadPost(relPath string) (*PostFile, error) {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read post: %w", err)
	}
	return parsePostFile(filepath.ToSlash(relPathClean(relPath)), data, s.normalizer)
}

// WritePost serializes the header and body and writes the file atomically.
// Timestamps are canonicalized and the author defaulted before writing.
// Enforces the size and NUL guardrails.
func (s *Store) WritePost(relPath string, header *frontmatter.Header, body string) (*PostFile, error) {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return nil, err
	}

	s.normalizeHeader(header)
	data, err := frontmatter.Join(header, body)
	if err != nil {
		return nil, fmt.Errorf("serialize post: %w", err)
	}
	if err := s.CheckMarkdown(data); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create post directory: %w", err)
	}
	if err := fsutilWrite(abs, data); err != nil {
		return nil, err
	}
	return parsePostFile(filepath.ToSlash(relPathClean(relPath)), data, s.normalizer)
}

// normalizeHeader canonicalizes the timestamps and fills the default author.
func (s *Store) normalizeHeader(h *frontmatter.Header) {
	if h == nil {
		return
	}
	now := timeutil.Format(timeNow().In(s.normalizer.Location()))
	if h.CreatedAt == "" {
		h.CreatedAt = now
	} else if canon, err := s.normalizer.Canonicalize(h.CreatedAt); err == nil {
		h.CreatedAt = canon
	}
	if h.ModifiedAt == "" {
		h.ModifiedAt = now
	} else if canon, err := s.normalizer.Canonicalize(h.ModifiedAt); err == nil {
		h.ModifiedAt = canon
	}
	if h.Author == "" {
		h.Author = s.defaultAuthor
	}
}

// CheckMarkdown applies the size and NUL guardrails to markdown bytes.
func (s *Store) CheckMarkdown(data []byte) error {
	if int64(len(data)) > s.maxPostSize {
		return ErrTooLarge
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return ErrBinaryContent
	}
	return nil
}

// DeletePost removes a post file and, when the post follows the colocated
// asset pattern (posts/foo.md alongside posts/foo/), its asset directory.
func (s *Store) DeletePost(relPath string) error {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete post: %w", err)
	}

	assetDir := strings.TrimSuffix(abs, filepath.Ext(abs))
	if info, err := os.Stat(assetDir); err == nil && info.IsDir() {
		if err := os.RemoveAll(assetDir); err != nil {
			logging.Warn().Str("dir", assetDir).Err(err).Msg("Failed to remove colocated asset directory")
		}
	}
	return nil
}

// ReadFile reads an arbitrary content file (sync download surface).
func (s *Store) ReadFile(relPath string) ([]byte, error) {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// WriteFile writes an arbitrary content file atomically (sync upload
// surface). Markdown guardrails apply to .md files only; binary assets pass
// through.
func (s *Store) WriteFile(relPath string, data []byte) error {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return err
	}
	if strings.HasSuffix(strings.ToLower(relPath), ".md") {
		if err := s.CheckMarkdown(data); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return fsutilWrite(abs, data)
}

// DeleteFile removes an arbitrary content file. Missing files are not an
// error: deletion is idempotent on the sync surface.
func (s *Store) DeleteFile(relPath string) error {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Exists reports whether the relative path exists inside the root.
func (s *Store) Exists(relPath string) bool {
	abs, err := s.ResolveSafe(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

func relPathClean(p string) string {
	return filepath.Clean(filepath.FromSlash(p))
}
