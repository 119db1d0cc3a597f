// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/models"
	"github.com/agblogger/agblogger/internal/outbound"
)

func (s *Server) handleSocialPlatforms(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(s.social.Platforms())
}

func (s *Server) handleListSocialAccounts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	accounts, err := s.social.ListAccounts(r.Context(), user.ID)
	if err != nil {
		rw.StorageError(err)
		return
	}
	if accounts == nil {
		accounts = []*models.SocialAccount{}
	}
	rw.Success(accounts)
}

func (s *Server) handleLinkSocialAccount(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	var req struct {
		Platform    string          `json:"platform"`
		AccountName string          `json:"account_name"`
		Credentials json.RawMessage `json:"credentials"`
	}
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	if req.Platform == "" || len(req.Credentials) == 0 {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "platform and credentials are required")
		return
	}

	account, err := s.social.LinkAccount(r.Context(), user.ID, req.Platform, req.AccountName, req.Credentials)
	if err != nil {
		switch {
		case errors.Is(err, outbound.ErrUnknownPlatform):
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "unknown platform")
		case errors.Is(err, outbound.ErrInvalidCredentials):
			rw.Error(http.StatusUnprocessableEntity, ErrCodeValidationFailed, "platform rejected the credentials")
		case errors.Is(err, outbound.ErrServiceUnavailable):
			rw.Error(http.StatusBadGateway, ErrCodeExternalServiceFail, "platform unreachable")
		default:
			rw.StorageError(err)
		}
		return
	}
	rw.Created(account)
}

func (s *Server) handleUnlinkSocialAccount(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid account id")
		return
	}
	if err := s.social.UnlinkAccount(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, outbound.ErrAccountNotFound) {
			rw.NotFound("account not found")
			return
		}
		rw.StorageError(err)
		return
	}
	rw.NoContent()
}

func (s *Server) handleCrossPost(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid account id")
		return
	}
	var req struct {
		FilePath string `json:"file_path"`
	}
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}

	account, err := s.db.GetSocialAccountByID(r.Context(), user.ID, id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("account not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}

	post, err := s.db.GetPostByPath(r.Context(), req.FilePath)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("post not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	if post.IsDraft {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "drafts cannot be cross-posted")
		return
	}

	if err := s.social.CrossPost(r.Context(), user.ID, id, post); err != nil {
		metrics.CrossPostsTotal.WithLabelValues(account.Platform, "failed").Inc()
		switch {
		case errors.Is(err, outbound.ErrAccountNotFound):
			rw.NotFound("account not found")
		case errors.Is(err, outbound.ErrServiceUnavailable):
			rw.Error(http.StatusBadGateway, ErrCodeExternalServiceFail, "platform unreachable")
		case errors.Is(err, outbound.ErrUnknownPlatform):
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "unknown platform")
		default:
			rw.Error(http.StatusBadGateway, ErrCodeExternalServiceFail, "cross-post delivery failed")
		}
		return
	}
	metrics.CrossPostsTotal.WithLabelValues(account.Platform, "ok").Inc()
	rw.Success(map[string]string{"status": "delivered"})
}
