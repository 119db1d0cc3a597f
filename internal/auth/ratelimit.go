// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package auth

import (
	"math"
	"sync"
	"time"
)

// FailureLimiter is a sliding-window rate limiter over recorded failures,
// keyed by (identity, surface) strings such as "login:alice". It is a
// single-instance, in-process structure; distributed deployments need a
// shared backend instead.
type FailureLimiter struct {
	window      time.Duration
	maxFailures int
	now         func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewFailureLimiter allows maxFailures-1 failed attempts per window; the
// maxFailures-th attempt is blocked until the oldest failure leaves the
// window.
func NewFailureLimiter(maxFailures int, window time.Duration) *FailureLimiter {
	return &FailureLimiter{
		window:      window,
		maxFailures: maxFailures,
		now:         time.Now,
		entries:     make(map[string][]time.Time),
	}
}

// Allow reports whether key may attempt now. When blocked it returns the
// whole seconds to wait: ceil(oldest + window - now).
func (l *FailureLimiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.prune(key)
	if len(times) == 0 || len(times) < l.maxFailures-1 {
		return true, 0
	}
	retry := times[0].Add(l.window).Sub(l.now())
	return false, int(math.Ceil(retry.Seconds()))
}

// RecordFailure notes one failed attempt for key.
func (l *FailureLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = append(l.prune(key), l.now())
}

// Reset clears a key after a successful attempt.
func (l *FailureLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// prune drops failures older than the window and removes the key entirely
// when its deque empties, bounding memory. Callers hold l.mu.
func (l *FailureLimiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	times := l.entries[key]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]
	if len(times) == 0 {
		delete(l.entries, key)
		return nil
	}
	l.entries[key] = times
	return times
}
