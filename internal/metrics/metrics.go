// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package metrics registers the Prometheus instrumentation for the server:
// HTTP traffic, render pool health, sync commits, and cache rebuilds.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agblogger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agblogger_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Render pool metrics.
	RenderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_render_requests_total",
			Help: "Total render requests by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "timeout", "unavailable"
	)

	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agblogger_render_duration_seconds",
			Help:    "Render request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sync metrics.
	SyncCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_sync_commits_total",
			Help: "Total sync commits by status",
		},
		[]string{"status"}, // "ok", "warning", "error"
	)

	SyncConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agblogger_sync_conflicts_total",
			Help: "Total conflicting files resolved during sync commits",
		},
	)

	SyncCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agblogger_sync_commit_duration_seconds",
			Help:    "Sync commit duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Cache metrics.
	CacheRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_cache_rebuilds_total",
			Help: "Total cache rebuilds by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	CachePosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agblogger_cache_posts",
			Help: "Number of posts currently materialized in the cache",
		},
	)

	// Auth metrics.
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_login_attempts_total",
			Help: "Total login attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "rate_limited"
	)

	// Cross-posting metrics.
	CrossPostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agblogger_cross_posts_total",
			Help: "Total cross-post deliveries by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)
)

// ObserveHTTPRequest records one completed request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
