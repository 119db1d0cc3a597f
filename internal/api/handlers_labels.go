// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/labels"
	"github.com/agblogger/agblogger/internal/models"
)

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	all, err := s.labels.List(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	if all == nil {
		all = []*models.Label{}
	}
	rw.Success(all)
}

// handleLabelGraph returns the whole DAG as nodes plus child-to-parent
// edges, the shape a client needs to draw it.
func (s *Server) handleLabelGraph(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	nodes, err := s.labels.List(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	adjacency, err := s.db.ParentEdges(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}

	type edge struct {
		Child  string `json:"child"`
		Parent string `json:"parent"`
	}
	edges := []edge{}
	for child, parents := range adjacency {
		for _, p := range parents {
			edges = append(edges, edge{Child: child, Parent: p})
		}
	}
	if nodes == nil {
		nodes = []*models.Label{}
	}
	rw.Success(map[string]any{"nodes": nodes, "edges": edges})
}

func (s *Server) handleGetLabel(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	l, err := s.labels.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, labels.ErrNotFound) {
		rw.NotFound("label not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(l)
}

func (s *Server) handleLabelPosts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := labels.NormalizeID(chi.URLParam(r, "id"))
	if _, err := s.labels.Get(r.Context(), id); err != nil {
		if errors.Is(err, labels.ErrNotFound) {
			rw.NotFound("label not found")
			return
		}
		rw.StorageError(err)
		return
	}

	expanded, err := s.labels.Expand(r.Context(), id)
	if err != nil {
		rw.StorageError(err)
		return
	}
	f := database.PostFilter{
		LabelIDs:      expanded,
		IncludeDrafts: isAdmin(r) && wantsDrafts(r.URL.Query()),
		Limit:         defaultPageSize,
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
		Limit:   f.Limit,
		HasMore: len(posts) < total,
	})
}

type labelWriteRequest struct {
	ID      string   `json:"id"`
	Names   []string `json:"names"`
	Parents []string `json:"parents"`
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req labelWriteRequest
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	s.upsertLabel(rw, r, req, http.StatusCreated)
}

func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req labelWriteRequest
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	s.upsertLabel(rw, r, req, http.StatusOK)
}

func (s *Server) upsertLabel(rw *ResponseWriter, r *http.Request, req labelWriteRequest, status int) {
	l, err := s.labels.Upsert(r.Context(), req.ID, req.Names, req.Parents)
	if err != nil {
		if errors.Is(err, labels.ErrBadID) {
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
			return
		}
		var cycle *labels.CycleError
		if errors.As(err, &cycle) {
			rw.ErrorWithDetails(http.StatusConflict, ErrCodeConflict, cycle.Error(),
				map[string]string{"child": cycle.Child, "parent": cycle.Parent})
			return
		}
		rw.StorageError(err)
		return
	}
	s.engine.CommitContent(r.Context(), "Edit labels.toml")
	if status == http.StatusCreated {
		rw.Created(l)
		return
	}
	rw.Success(l)
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	err := s.labels.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, labels.ErrNotFound) {
		rw.NotFound("label not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	s.engine.CommitContent(r.Context(), "Edit labels.toml")
	rw.NoContent()
}
