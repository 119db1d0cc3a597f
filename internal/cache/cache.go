// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package cache materializes the content directory into the query tables.
// Files are the source of truth; everything here can be discarded and
// rebuilt. Incremental updates after a single write and a full rebuild must
// converge to the same rows.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/labels"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
)

// ExcerptLength is the target excerpt size in runes, cut at a word boundary.
const ExcerptLength = 300

// Renderer turns markdown into sanitized HTML. Render failures are tolerated
// here: the cache stores an empty rendered_html and the API renders on
// demand later.
type Renderer interface {
	Render(ctx context.Context, markdown string) (string, error)
}

// Service keeps the cache tables in step with the content directory.
type Service struct {
	db       *database.DB
	store    *content.Store
	labels   *labels.Service
	renderer Renderer
}

// NewService creates a cache Service. renderer may be nil; rendered HTML is
// then always deferred.
func NewService(db *database.DB, store *content.Store, lbl *labels.Service, renderer Renderer) *Service {
	return &Service{db: db, store: store, labels: lbl, renderer: renderer}
}

// Rebuild drops every derived row and repopulates from disk: explicit label
// definitions first, then a full post scan.
func (s *Service) Rebuild(ctx context.Context) error {
	if err := s.db.ClearDerived(ctx); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	if err := s.labels.Reconcile(ctx); err != nil {
		return fmt.Errorf("rebuild labels: %w", err)
	}

	posts, err := s.store.ScanPosts(ctx)
	if err != nil {
		return fmt.Errorf("rebuild scan: %w", err)
	}
	for _, pf := range posts {
		if err := s.upsertScanned(ctx, pf); err != nil {
			return err
		}
	}
	logging.Info().Int("posts", len(posts)).Msg("Cache rebuilt")
	return nil
}

// UpsertPost refreshes the cache rows for one file after it was written.
// Implicit labels the rewrite stopped referencing are pruned so the
// incremental path converges with a full rebuild.
func (s *Service) UpsertPost(ctx context.Context, relPath string) error {
	pf, err := s.store.ReadPost(relPath)
	if err != nil {
		return err
	}
	if err := s.upsertScanned(ctx, pf); err != nil {
		return err
	}
	return s.db.PruneImplicitLabels(ctx)
}

// DeletePost removes the cache rows for one file after it was deleted.
func (s *Service) DeletePost(ctx context.Context, relPath string) error {
	if err := s.db.DeletePostByPath(ctx, relPath); err != nil {
		return err
	}
	return s.db.PruneImplicitLabels(ctx)
}

func (s *Service) upsertScanned(ctx context.Context, pf *content.PostFile) error {
	ids := make([]string, 0, len(pf.Labels()))
	seen := make(map[string]bool)
	for _, raw := range pf.Labels() {
		id := labels.NormalizeID(raw)
		if seen[id] || !labels.ValidID(id) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	rendered := ""
	if s.renderer != nil {
		html, err := s.renderer.Render(ctx, pf.Body)
		if err != nil {
			logging.Warn().Str("path", pf.Path).Err(err).Msg("Deferring render for cached post")
		} else {
			rendered = html
		}
	}

	p := &models.Post{
		FilePath:     pf.Path,
		Title:        pf.Title,
		Author:       pf.Header.Author,
		CreatedAt:    pf.CreatedAt,
		ModifiedAt:   pf.ModifiedAt,
		IsDraft:      pf.Header.Draft,
		Labels:       ids,
		ContentHash:  pf.Hash,
		Excerpt:      Excerpt(pf.Body, ExcerptLength),
		RenderedHTML: rendered,
	}
	if err := s.db.UpsertPost(ctx, p, pf.Body); err != nil {
		return fmt.Errorf("cache post %s: %w", pf.Path, err)
	}
	return nil
}

var (
	fencedBlock   = regexp.MustCompile("(?s)```.*?```")
	inlineCode    = regexp.MustCompile("`[^`\n]*`")
	imageMarkup   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkMarkup    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingMarkup = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	htmlTag       = regexp.MustCompile(`<[^>]+>`)
	emphasisRunes = strings.NewReplacer("**", "", "__", "", "*", "", "_", "", "~~", "", ">", "")
	spaceRuns     = regexp.MustCompile(`\s+`)
)

// Excerpt strips markdown structure from body and returns the leading text,
// cut at a word boundary near limit runes.
func Excerpt(body string, limit int) string {
	text := fencedBlock.ReplaceAllString(body, " ")
	text = imageMarkup.ReplaceAllString(text, " ")
	text = linkMarkup.ReplaceAllString(text, "$1")
	text = inlineCode.ReplaceAllString(text, " ")
	text = headingMarkup.ReplaceAllString(text, "")
	text = htmlTag.ReplaceAllString(text, " ")
	text = emphasisRunes.Replace(text)
	text = strings.TrimSpace(spaceRuns.ReplaceAllString(text, " "))

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && runes[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
