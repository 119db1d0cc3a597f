// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agblogger/agblogger/internal/auth"
	"github.com/agblogger/agblogger/internal/cache"
	"github.com/agblogger/agblogger/internal/config"
	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/labels"
	"github.com/agblogger/agblogger/internal/outbound"
	"github.com/agblogger/agblogger/internal/syncengine"
)

// maxJSONBody bounds ordinary JSON request bodies. The post and sync
// endpoints get a larger bound derived from the markdown size limit because
// their payloads carry file content.
const maxJSONBody = 1 << 20

// Renderer is the markdown rendering dependency of the API layer.
type Renderer interface {
	Render(ctx context.Context, markdown string) (string, error)
	Healthy(ctx context.Context) bool
}

// Server wires the HTTP surface to the underlying services.
type Server struct {
	cfg      *config.Config
	db       *database.DB
	auth     *auth.Service
	store    *content.Store
	labels   *labels.Service
	cache    *cache.Service
	engine   *syncengine.Engine
	renderer Renderer
	social   *outbound.Service
}

// NewServer creates a Server over the given services.
func NewServer(cfg *config.Config, db *database.DB, store *content.Store,
	lbl *labels.Service, cacheSvc *cache.Service, engine *syncengine.Engine,
	renderer Renderer, authSvc *auth.Service, social *outbound.Service) *Server {
	return &Server{
		cfg:      cfg,
		db:       db,
		auth:     authSvc,
		store:    store,
		labels:   lbl,
		cache:    cacheSvc,
		engine:   engine,
		renderer: renderer,
		social:   social,
	}
}

// Router builds the route tree with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(TrustedHosts(s.cfg.Server.TrustedHosts))
	r.Use(CORS(s.cfg.Server.CORSOrigins))
	r.Use(Metrics)
	r.Use(s.Authenticate)
	r.Use(CSRF)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(LoginRateLimit())
				r.Post("/login", s.handleLogin)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/register", s.handleRegister)
			})
			r.Post("/logout", s.handleLogout)
			r.With(RequireAuth).Get("/me", s.handleMe)
		})

		r.Get("/posts", s.handleListPosts)
		r.With(RequireAdmin).Post("/posts", s.handleCreatePost)
		r.Get("/posts/*", s.handleGetPost)
		r.With(RequireAdmin).Put("/posts/*", s.handleUpdatePost)
		r.With(RequireAdmin).Delete("/posts/*", s.handleDeletePost)

		r.Get("/labels", s.handleListLabels)
		r.Get("/labels/graph", s.handleLabelGraph)
		r.With(RequireAdmin).Post("/labels", s.handleCreateLabel)
		r.Get("/labels/{id}", s.handleGetLabel)
		r.Get("/labels/{id}/posts", s.handleLabelPosts)
		r.With(RequireAdmin).Put("/labels/{id}", s.handleUpdateLabel)
		r.With(RequireAdmin).Delete("/labels/{id}", s.handleDeleteLabel)

		r.Route("/sync", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/init", s.handleSyncInit)
			r.Post("/upload", s.handleSyncUpload)
			r.Get("/download/*", s.handleSyncDownload)
			r.Post("/commit", s.handleSyncCommit)
		})

		r.With(RequireAuth).Post("/render/preview", s.handleRenderPreview)

		r.Route("/social", func(r chi.Router) {
			r.Use(RequireAuth)
			r.Get("/", s.handleListSocialAccounts)
			r.Get("/platforms", s.handleSocialPlatforms)
			r.Post("/", s.handleLinkSocialAccount)
			r.Delete("/{id}", s.handleUnlinkSocialAccount)
			r.Post("/{id}/crosspost", s.handleCrossPost)
		})

		r.Route("/invites", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", s.handleListInvites)
			r.Post("/", s.handleCreateInvite)
			r.Delete("/{id}", s.handleDeleteInvite)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Use(RequireAuth)
			r.Get("/", s.handleListPATs)
			r.Post("/", s.handleCreatePAT)
			r.Delete("/{id}", s.handleRevokePAT)
		})

		r.With(RequireAdmin).Post("/admin/rebuild", s.handleRebuild)
	})

	return r
}

// decodeJSONOptional reads a JSON body into dst, tolerating an empty or
// absent body. Used where the payload merely supplements cookies.
func decodeJSONOptional(r *http.Request, dst any) {
	body := http.MaxBytesReader(nil, r.Body, maxJSONBody)
	defer io.Copy(io.Discard, body)
	_ = json.NewDecoder(body).Decode(dst)
}

// decodeJSON reads a bounded JSON body into dst, writing a 400 on failure.
func decodeJSON(rw *ResponseWriter, r *http.Request, dst any, limit int64) bool {
	body := http.MaxBytesReader(nil, r.Body, limit)
	defer io.Copy(io.Discard, body)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		rw.BadRequest("malformed JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]any{
		"status": "ok",
		"render": s.renderer.Healthy(r.Context()),
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := s.engine.RebuildCache(r.Context()); err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// writeServiceError maps common storage-layer sentinels before falling back
// to a 500.
func writeServiceError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, content.ErrNotFound):
		rw.NotFound("not found")
	case errors.Is(err, database.ErrDuplicate):
		rw.Conflict("already exists")
	case errors.Is(err, content.ErrUnsafePath):
		rw.BadRequest("path escapes content directory")
	case errors.Is(err, content.ErrTooLarge):
		rw.BadRequest("post exceeds maximum size")
	case errors.Is(err, content.ErrBinaryContent):
		rw.BadRequest("post contains NUL bytes")
	default:
		rw.StorageError(err)
	}
}
