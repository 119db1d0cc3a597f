// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/render"
)

func (s *Server) handleRenderPreview(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req struct {
		Markdown string `json:"markdown"`
	}
	if !decodeJSON(rw, r, &req, s.store.MaxPostSize()+maxJSONBody) {
		return
	}

	start := time.Now()
	html, err := s.renderer.Render(r.Context(), req.Markdown)
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, render.ErrTooLarge):
			metrics.RenderRequestsTotal.WithLabelValues("failed").Inc()
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeValidationFailed, "markdown exceeds maximum size")
		case errors.Is(err, render.ErrFailed):
			metrics.RenderRequestsTotal.WithLabelValues("failed").Inc()
			rw.Error(http.StatusUnprocessableEntity, ErrCodeRenderFailed, "render engine rejected the input")
		case errors.Is(err, context.DeadlineExceeded):
			metrics.RenderRequestsTotal.WithLabelValues("timeout").Inc()
			rw.Error(http.StatusGatewayTimeout, ErrCodeRenderTimeout, "render timed out")
		default:
			metrics.RenderRequestsTotal.WithLabelValues("unavailable").Inc()
			rw.Error(http.StatusBadGateway, ErrCodeRenderUnavailable, "render engine unavailable")
		}
		return
	}
	metrics.RenderRequestsTotal.WithLabelValues("ok").Inc()
	rw.Success(map[string]string{"html": html})
}
