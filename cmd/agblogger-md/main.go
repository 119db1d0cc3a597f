// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// agblogger-md is the markdown rendering engine. The main server spawns it
// and talks HTTP over loopback; it prints its listen address as the first
// stdout line so the supervisor can bind to port 0.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/render"
)

const maxRequestBody = 10 << 20

func main() {
	addr := flag.String("addr", "127.0.0.1:8947", "listen address (port 0 picks a free port)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "json", Output: os.Stderr})

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logging.Error().Err(err).Str("addr", *addr).Msg("Listen failed")
		os.Exit(1)
	}
	// The supervisor reads this line to learn the bound port.
	fmt.Println(ln.Addr().String())

	engine := render.NewEngine()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/render", func(w http.ResponseWriter, req *http.Request) {
		src, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		html, err := engine.Convert(src)
		if err != nil {
			logging.Error().Err(err).Msg("Conversion failed")
			http.Error(w, "conversion failed", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(html)
	})

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logging.Error().Err(err).Msg("Server stopped")
		os.Exit(1)
	}
}
