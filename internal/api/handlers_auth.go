// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agblogger/agblogger/internal/auth"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/models"
)

// sessionResponse is the login/refresh payload. The refresh token is also
// set as an HttpOnly cookie; API clients that cannot hold cookies read it
// from the body instead.
type sessionResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	CSRFToken    string       `json:"csrf_token"`
	ExpiresIn    int          `json:"expires_in"`
}

func (s *Server) setSessionCookies(w http.ResponseWriter, sess *auth.Session) {
	secure := s.cfg.IsProduction()
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    sess.AccessToken,
		Path:     "/",
		MaxAge:   int(auth.AccessTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    sess.RefreshToken,
		Path:     "/api/auth",
		MaxAge:   int(auth.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	// Readable by scripts: the double-submit check needs the client to echo
	// this value in the CSRF header.
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    sess.CSRFToken,
		Path:     "/",
		MaxAge:   int(auth.RefreshTokenTTL / time.Second),
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{AccessCookie, "/"},
		{RefreshCookie, "/api/auth"},
		{CSRFCookie, "/"},
	} {
		http.SetCookie(w, &http.Cookie{Name: c.name, Path: c.path, MaxAge: -1, HttpOnly: c.name != CSRFCookie})
	}
}

func sessionBody(sess *auth.Session) sessionResponse {
	return sessionResponse{
		User:         sess.User,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		CSRFToken:    sess.CSRFToken,
		ExpiresIn:    int(auth.AccessTokenTTL / time.Second),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	if req.Username == "" || req.Password == "" {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "username and password are required")
		return
	}

	sess, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		var rl *auth.RateLimitError
		switch {
		case errors.As(err, &rl):
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			rw.RateLimited(rl.RetryAfter)
		case errors.Is(err, auth.ErrInvalidCredentials):
			metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
			rw.Unauthorized("invalid username or password")
		default:
			rw.InternalError(err)
		}
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	s.setSessionCookies(w, sess)
	rw.Success(sessionBody(sess))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// Body is optional; browser clients rely on the refresh cookie.
	decodeJSONOptional(r, &req)
	token := req.RefreshToken
	if token == "" {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		rw.Unauthorized("refresh token required")
		return
	}

	sess, err := s.auth.Refresh(r.Context(), token)
	if err != nil {
		var rl *auth.RateLimitError
		switch {
		case errors.As(err, &rl):
			rw.RateLimited(rl.RetryAfter)
		case errors.Is(err, auth.ErrInvalidToken):
			s.clearSessionCookies(w)
			rw.Unauthorized("invalid refresh token")
		default:
			rw.InternalError(err)
		}
		return
	}

	s.setSessionCookies(w, sess)
	rw.Success(sessionBody(sess))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	decodeJSONOptional(r, &req)
	token := req.RefreshToken
	if token == "" {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			token = c.Value
		}
	}
	if token != "" {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			rw.StorageError(err)
			return
		}
	}
	s.clearSessionCookies(w)
	rw.Success(map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		InviteCode string `json:"invite_code"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
	}
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "username, email, and password are required")
		return
	}

	user, err := s.auth.Register(r.Context(), req.InviteCode, req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRegistrationClosed):
			rw.Forbidden("registration is closed")
		case errors.Is(err, auth.ErrInviteInvalid):
			rw.BadRequest("invalid, expired, or already used invite code")
		case errors.Is(err, database.ErrDuplicate):
			rw.Conflict("username or email already taken")
		default:
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
		}
		return
	}
	rw.Created(user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(UserFromContext(r.Context()))
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	invites, err := s.db.ListInvites(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(invites)
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	code, invite, err := s.auth.CreateInvite(r.Context(), user.ID)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Created(map[string]any{"code": code, "invite": invite})
}

func (s *Server) handleDeleteInvite(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid invite id")
		return
	}
	if err := s.db.DeleteInvite(r.Context(), id); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.NoContent()
}

func (s *Server) handleListPATs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	tokens, err := s.db.ListPATs(r.Context(), user.ID)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(tokens)
}

func (s *Server) handleCreatePAT(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	var req struct {
		Label     string     `json:"label"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !decodeJSON(rw, r, &req, maxJSONBody) {
		return
	}
	if req.Label == "" {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "label is required")
		return
	}

	token, pat, err := s.auth.CreatePAT(r.Context(), user.ID, req.Label, req.ExpiresAt)
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Created(map[string]any{"token": token, "pat": pat})
}

func (s *Server) handleRevokePAT(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user := UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid token id")
		return
	}
	if err := s.db.RevokePAT(r.Context(), user.ID, id); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.NoContent()
}
