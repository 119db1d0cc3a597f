// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// agblogger is the publishing server: it serves the HTTP API over the
// content directory, the SQLite cache, and the git-backed sync engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/agblogger/agblogger/internal/api"
	"github.com/agblogger/agblogger/internal/auth"
	"github.com/agblogger/agblogger/internal/cache"
	"github.com/agblogger/agblogger/internal/config"
	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/gitver"
	"github.com/agblogger/agblogger/internal/labels"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/outbound"
	"github.com/agblogger/agblogger/internal/render"
	"github.com/agblogger/agblogger/internal/sanitizer"
	"github.com/agblogger/agblogger/internal/syncengine"
	"github.com/agblogger/agblogger/internal/timeutil"
)

const shutdownTimeout = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "agblogger",
		Short:         "Markdown-first publishing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the cache database from the content directory and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rebuild(cmd.Context())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the wired service graph.
type app struct {
	cfg      *config.Config
	db       *database.DB
	store    *content.Store
	labels   *labels.Service
	cache    *cache.Service
	engine   *syncengine.Engine
	renderer *render.Client
	auth     *auth.Service
	social   *outbound.Service
	lock     *flock.Flock
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	// One process owns the database and content tree at a time.
	lock := flock.New(cfg.Database.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another agblogger instance holds " + lock.Path())
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	normalizer := timeutil.NewNormalizer(cfg.Content.Timezone)
	store, err := content.NewStore(cfg.Content.Dir, normalizer,
		content.WithMaxPostSize(cfg.Content.MaxPostSize),
		content.WithDefaultAuthor(cfg.Security.AdminUsername))
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	repo, err := gitver.Open(store.Root())
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}
	if err := repo.InitIfAbsent(ctx); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	san := sanitizer.New(sanitizer.Config{})
	renderer, err := render.NewClient(render.Options{
		BinPath:  cfg.Render.BinPath,
		BaseURL:  cfg.Render.EngineURL,
		PoolSize: cfg.Render.PoolSize,
		Timeout:  cfg.Render.Timeout,
		MaxInput: int(cfg.Render.MaxInput),
	}, san)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	labelsSvc := labels.NewService(db, filepath.Join(store.Root(), "labels.toml"))
	cacheSvc := cache.NewService(db, store, labelsSvc, renderer)
	engine := syncengine.New(db, store, repo, cacheSvc)

	authSvc := auth.NewService(db, auth.Config{
		Secret:           []byte(cfg.Security.SecretKey),
		RegistrationOpen: cfg.Security.RegistrationOpen,
		MaxLoginFailures: cfg.Security.LoginRateLimit,
	})
	if err := authSvc.EnsureBootstrapAdmin(ctx, cfg.Security.AdminUsername, cfg.Security.AdminPassword); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	sealer, err := outbound.NewSealer([]byte(cfg.Security.SecretKey))
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}
	safeClient := outbound.New(outbound.Options{
		Timeout:           cfg.Outbound.Timeout,
		RequestsPerSecond: cfg.Outbound.RequestsPerSecond,
		Burst:             cfg.Outbound.Burst,
		AllowPrivate:      !cfg.IsProduction(),
	})
	registry := outbound.NewRegistry()
	registry.Register(outbound.NewWebhookPoster(safeClient))
	social := outbound.NewService(db, sealer, registry, cfg.Server.SiteURL)

	return &app{
		cfg:      cfg,
		db:       db,
		store:    store,
		labels:   labelsSvc,
		cache:    cacheSvc,
		engine:   engine,
		renderer: renderer,
		auth:     authSvc,
		social:   social,
		lock:     lock,
	}, nil
}

func (a *app) close() {
	a.renderer.Close()
	a.db.Close()
	a.lock.Unlock()
}

func serve(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Cold start: the cache is derived state, rebuild it from disk before
	// answering queries.
	if err := a.engine.RebuildCache(ctx); err != nil {
		metrics.CacheRebuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("initial cache rebuild: %w", err)
	}
	metrics.CacheRebuildsTotal.WithLabelValues("ok").Inc()

	srv := api.NewServer(a.cfg, a.db, a.store, a.labels, a.cache, a.engine,
		a.renderer, a.auth, a.social)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.Timeout,
		WriteTimeout:      a.cfg.Server.Timeout,
		IdleTimeout:       2 * a.cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", httpSrv.Addr).
			Str("environment", a.cfg.Server.Environment).
			Msg("Server listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func rebuild(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	if err := a.engine.RebuildCache(ctx); err != nil {
		metrics.CacheRebuildsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.CacheRebuildsTotal.WithLabelValues("ok").Inc()
	logging.Info().Dur("took", time.Since(start)).Msg("Cache rebuilt")
	return nil
}
