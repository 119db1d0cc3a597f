// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/frontmatter"
	"github.com/agblogger/agblogger/internal/labels"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// postResponse is a cached post plus its rendered HTML, which is excluded
// from the model's own serialization.
type postResponse struct {
	*models.Post
	HTML string `json:"html,omitempty"`
}

// postPath extracts and unescapes the wildcard post path. Suffix is "raw",
// "edit", or "" for the rendered view; the split is unambiguous because post
// paths always end in .md.
func postPath(r *http.Request) (path, suffix string, err error) {
	raw := chi.URLParam(r, "*")
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", "", err
	}
	for _, s := range []string{"raw", "edit"} {
		if strings.HasSuffix(p, "/"+s) && strings.HasSuffix(strings.TrimSuffix(p, "/"+s), ".md") {
			return strings.TrimSuffix(p, "/"+s), s, nil
		}
	}
	return p, "", nil
}

func isPostPath(p string) bool {
	return strings.HasPrefix(p, "posts/") && strings.HasSuffix(p, ".md")
}

func isAdmin(r *http.Request) bool {
	u := UserFromContext(r.Context())
	return u != nil && u.IsAdmin
}

// wantsDrafts reads the draft-inclusion flag under either spelling.
func wantsDrafts(q url.Values) bool {
	return q.Get("draft") == "true" || q.Get("drafts") == "true"
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	f := database.PostFilter{
		Author: q.Get("author"),
		Query:  q.Get("q"),
		SortBy: q.Get("sort"),
		Order:  q.Get("order"),
		Limit:  defaultPageSize,
	}
	if wantsDrafts(q) && isAdmin(r) {
		f.IncludeDrafts = true
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			rw.BadRequest("invalid limit")
			return
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			rw.BadRequest("invalid offset")
			return
		}
		f.Offset = n
	}

	var err error
	if f.From, err = parseDateBound(q.Get("from"), false); err != nil {
		rw.BadRequest("invalid from date")
		return
	}
	if f.To, err = parseDateBound(q.Get("to"), true); err != nil {
		rw.BadRequest("invalid to date")
		return
	}

	// A label filter covers the label's whole descendant subgraph. Both the
	// singular and plural parameter names are accepted.
	for _, raw := range slices.Concat(q["label"], q["labels"]) {
		for _, one := range strings.Split(raw, ",") {
			id := labels.NormalizeID(one)
			if id == "" {
				continue
			}
			expanded, err := s.labels.Expand(r.Context(), id)
			if err != nil {
				rw.StorageError(err)
				return
			}
			f.LabelIDs = append(f.LabelIDs, expanded...)
		}
	}

	posts, total, err := s.db.ListPosts(r.Context(), f)
	if err != nil {
		rw.StorageError(err)
		return
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	rw.SuccessWithPagination(posts, &PaginationMeta{
		Total:   total,
		Count:   len(posts),
		Offset:  f.Offset,
		Limit:   f.Limit,
		HasMore: f.Offset+len(posts) < total,
	})
}

// parseDateBound accepts a calendar date or a full timestamp and converts it
// to the storage form. A bare date used as an upper bound covers its whole
// day.
func parseDateBound(v string, upper bool) (string, error) {
	if v == "" {
		return "", nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if upper {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	path, suffix, err := postPath(r)
	if err != nil || !isPostPath(path) {
		rw.NotFound("post not found")
		return
	}

	switch suffix {
	case "raw":
		s.servePostRaw(rw, w, r, path)
	case "edit":
		s.servePostEdit(rw, w, r, path)
	default:
		s.servePostRendered(rw, r, path)
	}
}

func (s *Server) servePostRendered(rw *ResponseWriter, r *http.Request, path string) {
	p, err := s.db.GetPostByPath(r.Context(), path)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("post not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	if p.IsDraft && !isAdmin(r) {
		rw.NotFound("post not found")
		return
	}

	html := p.RenderedHTML
	if html == "" {
		// Cache rows written while the engine was down carry no HTML;
		// render on demand and tolerate failure.
		if pf, err := s.store.ReadPost(path); err == nil {
			if out, rerr := s.renderer.Render(r.Context(), pf.Body); rerr == nil {
				html = out
			} else {
				logging.Ctx(r.Context()).Warn().Str("path", path).Err(rerr).Msg("On-demand render failed")
			}
		}
	}
	rw.Success(postResponse{Post: p, HTML: html})
}

func (s *Server) servePostRaw(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, path string) {
	pf, err := s.store.ReadPost(path)
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrUnsafePath) {
		rw.NotFound("post not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	if pf.Header.Draft && !isAdmin(r) {
		rw.NotFound("post not found")
		return
	}

	data, err := s.store.ReadFile(path)
	if err != nil {
		rw.StorageError(err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

func (s *Server) servePostEdit(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, path string) {
	if !isAdmin(r) {
		rw.NotFound("post not found")
		return
	}
	pf, err := s.store.ReadPost(path)
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrUnsafePath) {
		rw.NotFound("post not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(map[string]any{
		"file_path":   pf.Path,
		"title":       pf.Title,
		"author":      pf.Header.Author,
		"labels":      pf.Header.Labels,
		"draft":       pf.Header.Draft,
		"created_at":  pf.Header.CreatedAt,
		"modified_at": pf.Header.ModifiedAt,
		"body":        pf.Body,
	})
}

type postWriteRequest struct {
	FilePath  string   `json:"file_path"`
	Author    string   `json:"author"`
	Labels    []string `json:"labels"`
	Draft     *bool    `json:"draft"`
	CreatedAt string   `json:"created_at"`
	Body      string   `json:"body"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req postWriteRequest
	if !decodeJSON(rw, r, &req, s.store.MaxPostSize()+maxJSONBody) {
		return
	}
	if !isPostPath(req.FilePath) {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "file_path must be a markdown file under posts/")
		return
	}
	if s.store.Exists(req.FilePath) {
		rw.Conflict("post already exists")
		return
	}

	header := &frontmatter.Header{
		Author:    req.Author,
		Labels:    req.Labels,
		CreatedAt: req.CreatedAt,
	}
	if req.Draft != nil {
		header.Draft = *req.Draft
	}
	s.writePost(rw, r, req.FilePath, header, req.Body, http.StatusCreated)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	path, suffix, err := postPath(r)
	if err != nil || suffix != "" || !isPostPath(path) {
		rw.NotFound("post not found")
		return
	}

	existing, err := s.store.ReadPost(path)
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrUnsafePath) {
		rw.NotFound("post not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}

	var req postWriteRequest
	if !decodeJSON(rw, r, &req, s.store.MaxPostSize()+maxJSONBody) {
		return
	}

	// Edits start from the file's own header so unspecified fields and
	// unrecognized front-matter keys survive the rewrite.
	header := existing.Header
	if req.Author != "" {
		header.Author = req.Author
	}
	if req.Labels != nil {
		header.Labels = req.Labels
	}
	if req.Draft != nil {
		header.Draft = *req.Draft
	}
	if req.CreatedAt != "" {
		header.CreatedAt = req.CreatedAt
	}
	header.ModifiedAt = "" // normalized to now on write
	s.writePost(rw, r, path, header, req.Body, http.StatusOK)
}

func (s *Server) writePost(rw *ResponseWriter, r *http.Request, path string, header *frontmatter.Header, body string, status int) {
	if _, err := s.store.WritePost(path, header, body); err != nil {
		writeServiceError(rw, err)
		return
	}
	s.engine.CommitContent(r.Context(), "Edit "+path)
	if err := s.cache.UpsertPost(r.Context(), path); err != nil {
		rw.StorageError(err)
		return
	}
	p, err := s.db.GetPostByPath(r.Context(), path)
	if err != nil {
		rw.StorageError(err)
		return
	}
	if status == http.StatusCreated {
		rw.Created(postResponse{Post: p})
		return
	}
	rw.Success(postResponse{Post: p})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	path, suffix, err := postPath(r)
	if err != nil || suffix != "" || !isPostPath(path) {
		rw.NotFound("post not found")
		return
	}
	if err := s.store.DeletePost(path); err != nil {
		writeServiceError(rw, err)
		return
	}
	s.engine.CommitContent(r.Context(), "Delete "+path)
	if err := s.cache.DeletePost(r.Context(), path); err != nil {
		rw.StorageError(err)
		return
	}
	rw.NoContent()
}
