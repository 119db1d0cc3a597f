// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/agblogger/agblogger/internal/auth"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/metrics"
	"github.com/agblogger/agblogger/internal/models"
)

type ctxKey string

const (
	userCtxKey       ctxKey = "user"
	cookieAuthCtxKey ctxKey = "cookie_auth"
)

// Session cookie names. The CSRF cookie is deliberately readable by scripts;
// double-submit requires the client to echo it in a header.
const (
	AccessCookie  = "agb_access"
	RefreshCookie = "agb_refresh"
	CSRFCookie    = "agb_csrf"
	CSRFHeader    = "X-CSRF-Token"
)

// RequestID attaches a request ID to the context and response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// SecurityHeaders adds the standard hardening headers to API responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// TrustedHosts rejects requests whose Host header is not on the allow list.
// An empty list (development) allows everything.
func TrustedHosts(hosts []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) > 0 {
				host := strings.ToLower(r.Host)
				if h, _, err := net.SplitHostPort(r.Host); err == nil {
					host = strings.ToLower(h)
				}
				if !allowed[host] {
					NewResponseWriter(w, r).BadRequest("untrusted host")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records Prometheus counters and latency per route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPActiveRequests.Inc()
		defer metrics.HTTPActiveRequests.Dec()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// CORS builds the cross-origin middleware from the configured origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", CSRFHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// LoginRateLimit is the per-IP limiter in front of the auth endpoints. The
// per-identity failure limiter inside the auth service is the second layer.
func LoginRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).RateLimited(60)
		}),
	)
}

// Authenticate resolves the request's user from a bearer token (personal
// access token or JWT) or the access cookie and stashes it in the context.
// Anonymous requests pass through; role gates decide what needs a user.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var user *models.User
		fromCookie := false

		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if strings.HasPrefix(token, auth.PATPrefix) {
				if u, err := s.auth.VerifyPAT(ctx, token); err == nil {
					user = u
				}
			} else {
				user = s.auth.UserFromAccessToken(ctx, token)
			}
		} else if c, err := r.Cookie(AccessCookie); err == nil {
			user = s.auth.UserFromAccessToken(ctx, c.Value)
			fromCookie = user != nil
		}

		if user != nil {
			ctx = context.WithValue(ctx, userCtxKey, user)
			ctx = context.WithValue(ctx, cookieAuthCtxKey, fromCookie)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRF enforces the double-submit check for unsafe methods authenticated by
// cookie. Header token and cookie token must match in constant time. Bearer
// requests carry no ambient credential and are exempt.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if viaCookie, _ := r.Context().Value(cookieAuthCtxKey).(bool); viaCookie {
			cookie, err := r.Cookie(CSRFCookie)
			header := r.Header.Get(CSRFHeader)
			if err != nil || header == "" ||
				subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				NewResponseWriter(w, r).Forbidden("missing or mismatched CSRF token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userCtxKey).(*models.User)
	return u
}

// RequireAuth gates a route group on any authenticated user.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			NewResponseWriter(w, r).Unauthorized("authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates a route group on the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			NewResponseWriter(w, r).Unauthorized("authentication required")
			return
		}
		if !user.IsAdmin {
			logging.Ctx(r.Context()).Warn().
				Str("username", user.Username).
				Str("path", r.URL.Path).
				Msg("Access denied: admin role required")
			NewResponseWriter(w, r).Forbidden("admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
