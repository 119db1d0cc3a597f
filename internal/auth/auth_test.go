// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/models"
)

func newTestService(t *testing.T, open bool) (*Service, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, Config{
		Secret:           []byte("test-secret-test-secret-test-1234"),
		RegistrationOpen: open,
	}), db
}

func createTestUser(t *testing.T, db *database.DB, username, password string) *models.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &models.User{Username: username, Email: username + "@example.com", PasswordHash: hash}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestLoginAndRefresh(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", "correct horse battery staple")

	session, err := svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.User.ID != user.ID {
		t.Fatalf("session user = %d, want %d", session.User.ID, user.ID)
	}
	if session.AccessToken == "" || session.RefreshToken == "" || session.CSRFToken == "" {
		t.Fatal("session is missing tokens")
	}
	if got := svc.UserFromAccessToken(ctx, session.AccessToken); got == nil || got.ID != user.ID {
		t.Fatalf("access token did not resolve to user %d", user.ID)
	}

	next, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatal("refresh did not rotate the token")
	}
	if next.CSRFToken == session.CSRFToken {
		t.Fatal("refresh did not rotate the CSRF token")
	}

	// Replaying the consumed token must fail.
	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replayed refresh: got %v, want ErrInvalidToken", err)
	}
	// The rotated token still works.
	if _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated refresh: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	createTestUser(t, db, "alice", "correct horse battery staple")

	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRateLimit(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	createTestUser(t, db, "alice", "correct horse battery staple")

	// One below the limit still reaches credential checking; the next
	// attempt is blocked outright.
	for i := 0; i < defaultLoginFailures-1; i++ {
		if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i, err)
		}
	}

	_, err := svc.Login(ctx, "alice", "correct horse battery staple")
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("blocked login: got %v, want RateLimitError", err)
	}
	if rl.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %d, want > 0", rl.RetryAfter)
	}

	// A different username is not affected.
	createTestUser(t, db, "bob", "another decent passphrase")
	if _, err := svc.Login(ctx, "bob", "another decent passphrase"); err != nil {
		t.Fatalf("unrelated login blocked: %v", err)
	}
}

func TestLoginSweepsExpiredRefreshTokens(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", "correct horse battery staple")

	if err := db.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken("stale"),
		ExpiresAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create stale token: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "correct horse battery staple"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Login already swept the expired row, so a manual prune finds nothing.
	n, err := db.PruneExpiredRefreshTokens(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("login left %d expired tokens behind", n)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	createTestUser(t, db, "alice", "correct horse battery staple")

	session, err := svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after logout: got %v, want ErrInvalidToken", err)
	}
}

func TestRegisterWithInvite(t *testing.T) {
	svc, db := newTestService(t, true)
	ctx := context.Background()
	admin := createTestUser(t, db, "admin", "correct horse battery staple")

	code, _, err := svc.CreateInvite(ctx, admin.ID)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	user, err := svc.Register(ctx, code, "carol", "carol@example.com", "an unguessable phrase 42")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.IsAdmin {
		t.Fatal("invited user must not be admin")
	}

	// The invite is single use.
	if _, err := svc.Register(ctx, code, "dave", "dave@example.com", "an unguessable phrase 43"); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("reused invite: got %v, want ErrInviteInvalid", err)
	}
}

func TestRegisterRejections(t *testing.T) {
	svc, db := newTestService(t, true)
	ctx := context.Background()
	admin := createTestUser(t, db, "admin", "correct horse battery staple")

	if _, err := svc.Register(ctx, "no-such-code", "x", "x@example.com", "an unguessable phrase 42"); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("bad invite: got %v, want ErrInviteInvalid", err)
	}

	code, _, err := svc.CreateInvite(ctx, admin.ID)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := svc.Register(ctx, code, "carol", "carol@example.com", "carol"); err == nil {
		t.Fatal("weak password accepted")
	}
	// A rejected password does not consume the invite.
	if _, err := svc.Register(ctx, code, "carol", "carol@example.com", "an unguessable phrase 42"); err != nil {
		t.Fatalf("register after weak attempt: %v", err)
	}

	closed, cdb := newTestService(t, false)
	closedAdmin := createTestUser(t, cdb, "admin", "correct horse battery staple")
	closedCode, _, err := closed.CreateInvite(ctx, closedAdmin.ID)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := closed.Register(ctx, closedCode, "eve", "eve@example.com", "an unguessable phrase 42"); !errors.Is(err, ErrRegistrationClosed) {
		t.Fatalf("closed registration: got %v, want ErrRegistrationClosed", err)
	}
}

func TestPATVerify(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", "correct horse battery staple")

	token, pat, err := svc.CreatePAT(ctx, user.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("create pat: %v", err)
	}
	if !strings.HasPrefix(token, PATPrefix) {
		t.Fatalf("token %q lacks prefix %q", token, PATPrefix)
	}

	got, err := svc.VerifyPAT(ctx, token)
	if err != nil {
		t.Fatalf("verify pat: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("verify returned user %d, want %d", got.ID, user.ID)
	}
	stored, err := db.GetPATByHash(ctx, pat.TokenHash)
	if err != nil {
		t.Fatalf("get pat: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Fatal("last_used_at not recorded")
	}

	if err := db.RevokePAT(ctx, user.ID, pat.ID); err != nil {
		t.Fatalf("revoke pat: %v", err)
	}
	if _, err := svc.VerifyPAT(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked pat: got %v, want ErrInvalidToken", err)
	}

	past := time.Now().Add(-time.Hour)
	expired, _, err := svc.CreatePAT(ctx, user.ID, "stale", &past)
	if err != nil {
		t.Fatalf("create expired pat: %v", err)
	}
	if _, err := svc.VerifyPAT(ctx, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired pat: got %v, want ErrInvalidToken", err)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	svc, db := newTestService(t, false)
	ctx := context.Background()

	if err := svc.EnsureBootstrapAdmin(ctx, "admin", "correct horse battery staple"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, err := db.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if !admin.IsAdmin {
		t.Fatal("bootstrap account is not admin")
	}

	// Second call is a no-op once any account exists.
	if err := svc.EnsureBootstrapAdmin(ctx, "other", "correct horse battery staple"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if _, err := db.GetUserByUsername(ctx, "other"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("second bootstrap created an account: %v", err)
	}
}

func TestVerifyAccessTokenRejectsGarbage(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret-test-secret-test-1234"))
	other := NewTokenSigner([]byte("a completely different secret!!!"))

	valid, err := signer.SignAccessToken(7)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wrongKey, err := other.SignAccessToken(7)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"truncated", valid[:len(valid)/2]},
		{"wrong key", wrongKey},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiI3In0."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if id, ok := signer.VerifyAccessToken(tc.token); ok || id != 0 {
				t.Fatalf("VerifyAccessToken(%q) = (%d, %v), want (0, false)", tc.token, id, ok)
			}
		})
	}

	if id, ok := signer.VerifyAccessToken(valid); !ok || id != 7 {
		t.Fatalf("valid token = (%d, %v), want (7, true)", id, ok)
	}
}

func TestVerifyAccessTokenExpiry(t *testing.T) {
	signer := NewTokenSigner([]byte("test-secret-test-secret-test-1234"))
	base := time.Now()
	signer.now = func() time.Time { return base }

	token, err := signer.SignAccessToken(3)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	signer.now = func() time.Time { return base.Add(AccessTokenTTL - time.Minute) }
	if _, ok := signer.VerifyAccessToken(token); !ok {
		t.Fatal("token rejected before expiry")
	}

	signer.now = func() time.Time { return base.Add(AccessTokenTTL + time.Minute) }
	if _, ok := signer.VerifyAccessToken(token); ok {
		t.Fatal("token accepted after expiry")
	}
}

func TestFailureLimiterWindow(t *testing.T) {
	base := time.Now()
	now := base
	l := NewFailureLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	// max_failures-1 attempts may proceed; the third is blocked.
	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("k"); !ok {
			t.Fatalf("attempt %d blocked early", i)
		}
		l.RecordFailure("k")
		now = now.Add(time.Second)
	}

	ok, retry := l.Allow("k")
	if ok {
		t.Fatal("third attempt allowed inside window")
	}
	// Oldest failure at base, window one minute, now base+2s: 58s remain.
	if retry != 58 {
		t.Fatalf("retry = %d, want 58", retry)
	}

	// Once the oldest failure ages out, one slot opens.
	now = base.Add(61 * time.Second)
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("attempt blocked after oldest failure expired")
	}

	l.Reset("k")
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("attempt blocked after reset")
	}
}

func TestPasswordStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		inputs   []string
		wantErr  bool
	}{
		{"too short", "abc", nil, true},
		{"common", "password1", nil, true},
		{"derived from username", "carolcarol1", []string{"carol"}, true},
		{"strong", "correct horse battery staple", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPasswordStrength(tc.password, tc.inputs...)
			if (err != nil) != tc.wantErr {
				t.Fatalf("CheckPasswordStrength(%q) = %v, wantErr %v", tc.password, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if VerifyPassword("not-a-bcrypt-hash", "anything") {
		t.Fatal("malformed hash verified")
	}
}
