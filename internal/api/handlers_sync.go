// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/models"
	"github.com/agblogger/agblogger/internal/syncengine"
)

func (s *Server) handleSyncInit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		Manifest       []models.ManifestEntry `json:"manifest"`
		LastSyncCommit string                 `json:"last_sync_commit"`
	}
	if !decodeJSON(rw, r, &req, 64<<20) {
		return
	}

	plan, err := s.engine.Init(r.Context(), req.Manifest, req.LastSyncCommit)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(plan)
}

func (s *Server) handleSyncUpload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		FilePath string `json:"file_path"`
		Content  []byte `json:"content"`
	}
	if !decodeJSON(rw, r, &req, s.store.MaxPostSize()*2+maxJSONBody) {
		return
	}
	if req.FilePath == "" {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "file_path is required")
		return
	}

	if err := s.engine.Upload(r.Context(), req.FilePath, req.Content); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

func (s *Server) handleSyncDownload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	path, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		rw.BadRequest("malformed path")
		return
	}

	data, err := s.engine.Download(r.Context(), path)
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrUnsafePath) {
		rw.NotFound("file not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleSyncCommit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req syncengine.CommitRequest
	if !decodeJSON(rw, r, &req, 64<<20) {
		return
	}

	start := time.Now()
	res, err := s.engine.Commit(r.Context(), req)
	if err != nil {
		metrics.SyncCommitsTotal.WithLabelValues("error").Inc()
		writeServiceError(rw, err)
		return
	}
	metrics.SyncCommitsTotal.WithLabelValues(res.Status).Inc()
	metrics.SyncCommitDuration.Observe(time.Since(start).Seconds())
	for _, f := range res.Files {
		if f.Status == syncengine.FileConflict {
			metrics.SyncConflictsTotal.Inc()
		}
	}
	rw.Success(res)
}
